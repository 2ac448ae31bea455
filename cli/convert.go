package cli

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// NewConvertCmd creates the "convert" subcommand, translating a compiled
// diagram between its JSON and YAML serializations.
func NewConvertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert <file>",
		Short: "Convert a compiled diagram between JSON and YAML",
		Args:  cobra.ExactArgs(1),
		RunE:  runConvert,
	}

	cmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	cmd.Flags().String("to", "", "Target format: json | yaml (default: inferred from --output's extension)")

	return cmd
}

func runConvert(cmd *cobra.Command, args []string) error {
	filePath := args[0]

	d, err := loadDiagram(filePath)
	if err != nil {
		var verr *diagramValidationError
		if errors.As(err, &verr) {
			printDiagnostics(cmd.ErrOrStderr(), verr.diags)
			return exitError(exitValidation, "diagram validation failed")
		}
		return err
	}

	outputPath, _ := cmd.Flags().GetString("output")
	to, _ := cmd.Flags().GetString("to")
	if to == "" {
		to = formatFromExtension(outputPath)
	}
	if to == "" {
		to = "json"
	}

	var data []byte
	switch strings.ToLower(to) {
	case "json":
		data, err = json.MarshalIndent(d, "", "  ")
	case "yaml", "yml":
		data, err = yaml.Marshal(jsonRoundTrip(d))
	default:
		return exitError(exitValidation, "unknown target format %q (use json or yaml)", to)
	}
	if err != nil {
		return exitError(exitRuntime, "encoding diagram: %v", err)
	}

	if outputPath == "" {
		_, err = cmd.OutOrStdout().Write(append(data, '\n'))
		return err
	}
	return os.WriteFile(outputPath, data, 0o644)
}

func formatFromExtension(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".json":
		return "json"
	default:
		return ""
	}
}

// jsonRoundTrip re-encodes v through JSON into a generic map so yaml.Marshal
// emits the diagram's JSON field names (snake_case) rather than Go's default
// lowercased-field-name YAML keys.
func jsonRoundTrip(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return v
	}
	return generic
}
