package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sorryhyun/DiPeO-sub018/diagram"
)

// loadDiagram reads a compiled diagram from disk, accepting either JSON or
// YAML by file extension, and runs its structural validation. Diagram
// authoring/compilation from a visual-editor format is out of scope here;
// this loader only deserializes the already-compiled form.
func loadDiagram(filePath string) (*diagram.CompiledDiagram, error) {
	data, err := os.ReadFile(filePath) // #nosec G304 -- path from user CLI argument
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, exitError(exitValidation, "file not found: %s", filePath)
		}
		return nil, exitError(exitValidation, "reading file: %v", err)
	}

	jsonData, err := yamlToJSONIfNeeded(data, filePath)
	if err != nil {
		return nil, exitError(exitValidation, "parsing %s: %v", filePath, err)
	}

	var d diagram.CompiledDiagram
	if err := json.Unmarshal(jsonData, &d); err != nil {
		return nil, exitError(exitValidation, "decoding diagram: %v", err)
	}

	if diags := d.Validate(); diagram.HasErrors(diags) {
		return nil, &diagramValidationError{diags: diags}
	}

	return &d, nil
}

// diagramValidationError carries the full diagnostic list so callers can
// print it before translating to an ExitError.
type diagramValidationError struct {
	diags []diagram.Diagnostic
}

func (e *diagramValidationError) Error() string {
	return fmt.Sprintf("diagram has %d validation error(s)", len(e.diags))
}

// yamlToJSONIfNeeded converts YAML data to JSON if the file path indicates a
// YAML file; JSON files pass through unchanged.
func yamlToJSONIfNeeded(data []byte, path string) ([]byte, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		var raw any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		return json.Marshal(raw)
	}
	return data, nil
}

func printDiagnostics(w interface{ Write([]byte) (int, error) }, diags []diagram.Diagnostic) {
	for _, d := range diags {
		sev := strings.ToUpper(d.Severity)
		if d.Path != "" {
			fmt.Fprintf(w, "%s [%s]: %s (at %s)\n", sev, d.Code, d.Message, d.Path)
		} else {
			fmt.Fprintf(w, "%s [%s]: %s\n", sev, d.Code, d.Message)
		}
	}
}
