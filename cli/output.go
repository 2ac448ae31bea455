package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sorryhyun/DiPeO-sub018/core"
)

// writeRunOutput formats and prints a run's endpoint envelope.
func writeRunOutput(cmd *cobra.Command, format string, env *core.Envelope) error {
	out := cmd.OutOrStdout()

	switch format {
	case "json":
		payload := map[string]any{"content_type": "", "body": nil}
		if env != nil {
			payload["content_type"] = env.ContentType
			payload["body"] = env.Body
		}
		data, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return exitError(exitRuntime, "marshaling output: %v", err)
		}
		fmt.Fprintln(out, string(data))
	default:
		fmt.Fprint(out, formatPretty(env))
	}
	return nil
}

func formatPretty(env *core.Envelope) string {
	var sb strings.Builder
	sb.WriteString("=== Output ===\n")
	if env == nil {
		sb.WriteString("  (no endpoint output)\n")
		return sb.String()
	}

	if obj, ok := env.AsObject(); ok {
		for k, v := range obj {
			sb.WriteString(fmt.Sprintf("  %s: %v\n", k, v))
		}
	} else if text, ok := env.AsText(); ok {
		sb.WriteString(fmt.Sprintf("  %s\n", text))
	} else {
		sb.WriteString(fmt.Sprintf("  %v\n", env.Body))
	}

	if path := env.ProvenancePath(); path != "" {
		sb.WriteString(fmt.Sprintf("\n=== Provenance ===\n  %s\n", path))
	}
	return sb.String()
}
