package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/sorryhyun/DiPeO-sub018/services"
)

// shellIntegration runs a hook's command through the system shell. No
// sandboxing is applied here; hardening a shell-executing hook is left to
// the diagram author and the host environment.
type shellIntegration struct{}

func newShellIntegration() services.IntegrationPort { return shellIntegration{} }

func (shellIntegration) Invoke(ctx context.Context, _ string, args map[string]any) (map[string]any, error) {
	command, _ := args["command"].(string)
	if command == "" {
		return nil, fmt.Errorf("shell: missing \"command\" argument")
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	result := map[string]any{
		"stdout":    stdout.String(),
		"stderr":    stderr.String(),
		"exit_code": cmd.ProcessState.ExitCode(),
	}
	if runErr != nil && cmd.ProcessState == nil {
		return nil, fmt.Errorf("shell: %w", runErr)
	}
	return result, nil
}

// pythonIntegration runs a hook's script via the python3 interpreter,
// passing args as a JSON document on stdin.
type pythonIntegration struct{}

func newPythonIntegration() services.IntegrationPort { return pythonIntegration{} }

func (pythonIntegration) Invoke(ctx context.Context, _ string, args map[string]any) (map[string]any, error) {
	script, _ := args["script"].(string)
	if script == "" {
		return nil, fmt.Errorf("python: missing \"script\" argument")
	}

	payload, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("python: marshaling args: %w", err)
	}

	cmd := exec.CommandContext(ctx, "python3", script)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("python: %w: %s", err, stderr.String())
	}

	var result map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return map[string]any{"stdout": stdout.String()}, nil
	}
	return result, nil
}

// webhookIntegration posts a hook's payload to a configured HTTP endpoint.
type webhookIntegration struct {
	client *http.Client
}

func newWebhookIntegration() services.IntegrationPort {
	return &webhookIntegration{client: &http.Client{Timeout: 30 * time.Second}}
}

func (w *webhookIntegration) Invoke(ctx context.Context, _ string, args map[string]any) (map[string]any, error) {
	url, _ := args["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("webhook: missing \"url\" argument")
	}
	method, _ := args["method"].(string)
	if method == "" {
		method = http.MethodPost
	}

	var body *bytes.Reader
	if payload, ok := args["body"]; ok {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("webhook: marshaling body: %w", err)
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), url, body)
	if err != nil {
		return nil, fmt.Errorf("webhook: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook: request failed: %w", err)
	}
	defer resp.Body.Close()

	var respBody bytes.Buffer
	if _, err := respBody.ReadFrom(resp.Body); err != nil {
		return nil, fmt.Errorf("webhook: reading response: %w", err)
	}

	result := map[string]any{"status_code": resp.StatusCode, "body": respBody.String()}
	if resp.StatusCode >= 400 {
		return result, fmt.Errorf("webhook: %s returned status %d", url, resp.StatusCode)
	}
	return result, nil
}

var (
	_ services.IntegrationPort = shellIntegration{}
	_ services.IntegrationPort = pythonIntegration{}
	_ services.IntegrationPort = (*webhookIntegration)(nil)
)
