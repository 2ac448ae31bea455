package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sorryhyun/DiPeO-sub018/engine"
	"github.com/sorryhyun/DiPeO-sub018/eventbus"
	"github.com/sorryhyun/DiPeO-sub018/observability"
	"github.com/sorryhyun/DiPeO-sub018/snapshotstore"
)

// NewRunCmd creates the "run" subcommand.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <diagram>",
		Short: "Execute a compiled diagram",
		Args:  cobra.ExactArgs(1),
		RunE:  runRun,
	}

	cmd.Flags().StringP("input", "i", "", "Input variables as inline JSON object")
	cmd.Flags().StringP("input-file", "f", "", "Input variables from a JSON or YAML file")
	cmd.Flags().String("format", "pretty", "Output format: json | pretty")
	cmd.Flags().Duration("timeout", 5*time.Minute, "Execution timeout")
	cmd.Flags().StringArray("provider-key", nil, "Set a provider API key (repeatable, e.g. --provider-key openai=sk-...)")
	cmd.Flags().String("key-prefix", "DIPEO_KEY_", "Environment variable prefix api_keys resolution falls back to")
	cmd.Flags().Bool("trace", false, "Emit OpenTelemetry spans for this run")
	cmd.Flags().Bool("metrics", false, "Record OpenTelemetry metrics for this run")
	cmd.Flags().String("snapshot-dir", ".dipeo/snapshots", "Directory completed run state is snapshotted to")
	cmd.Flags().String("event-store", "", "Path to a SQLite database events are additionally persisted to (disabled if empty)")

	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
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

	vars, err := runInputVariables(cmd)
	if err != nil {
		return err
	}

	providerKeys, _ := cmd.Flags().GetStringArray("provider-key")
	applyProviderKeyFlags(providerKeys)

	bus := eventbus.NewMemBus(eventbus.Config{})
	defer bus.Close()

	eventStorePath, _ := cmd.Flags().GetString("event-store")
	if eventStorePath != "" {
		store, err := eventbus.NewSQLiteStore(eventStorePath)
		if err != nil {
			return exitError(exitRuntime, "opening event store: %v", err)
		}
		defer store.Close()
		bus.WithStore(store)
	}

	done, err := wireObservability(cmd, bus)
	if err != nil {
		return err
	}
	defer done()

	keyPrefix, _ := cmd.Flags().GetString("key-prefix")
	handlerReg := newHandlerRegistry()
	svc := newServiceRegistry(runtimeOptions{
		BaseDir:   filepath.Dir(filePath),
		KeyPrefix: keyPrefix,
		Stdin:     cmd.InOrStdin(),
		Stderr:    cmd.ErrOrStderr(),
	}, handlerReg, bus)

	eng := engine.New(handlerReg, svc, bus)

	snapshotDir, _ := cmd.Flags().GetString("snapshot-dir")
	if snapshotDir != "" {
		if !filepath.IsAbs(snapshotDir) {
			snapshotDir = filepath.Join(filepath.Dir(filePath), snapshotDir)
		}
		snapshots, err := snapshotstore.New(snapshotDir)
		if err != nil {
			return exitError(exitRuntime, "opening snapshot store: %v", err)
		}
		eng.Snapshots = snapshots
	}

	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	_, env, runErr := eng.Run(ctx, d, engine.RunOptions{Variables: vars})
	if runErr != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return exitError(exitCancelled, "run cancelled")
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return exitError(exitRuntime, "run timed out after %s", timeout)
		}
		return exitError(exitRuntime, "run failed: %v", runErr)
	}

	format, _ := cmd.Flags().GetString("format")
	return writeRunOutput(cmd, format, env)
}

// applyProviderKeyFlags sets DIPEO_KEY_<PROVIDER> environment variables from
// repeated --provider-key name=value flags, overriding any pre-existing
// environment value for the run's duration.
func applyProviderKeyFlags(flags []string) {
	for _, kv := range flags {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		_ = os.Setenv("DIPEO_KEY_"+strings.ToUpper(parts[0]), parts[1])
	}
}

func runInputVariables(cmd *cobra.Command) (map[string]any, error) {
	inputStr, _ := cmd.Flags().GetString("input")
	inputFile, _ := cmd.Flags().GetString("input-file")

	if inputStr != "" && inputFile != "" {
		return nil, exitError(exitValidation, "cannot specify both --input and --input-file")
	}
	if inputStr == "" && inputFile == "" {
		return map[string]any{}, nil
	}

	var data []byte
	if inputStr != "" {
		data = []byte(inputStr)
	} else {
		var err error
		data, err = os.ReadFile(inputFile) // #nosec G304 -- path from user CLI flag
		if err != nil {
			return nil, exitError(exitValidation, "reading input file: %v", err)
		}
		data, err = yamlToJSONIfNeeded(data, inputFile)
		if err != nil {
			return nil, exitError(exitValidation, "parsing input file: %v", err)
		}
	}

	var vars map[string]any
	if err := json.Unmarshal(data, &vars); err != nil {
		return nil, exitError(exitValidation, "parsing input JSON: %v", err)
	}
	return vars, nil
}
