package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/sorryhyun/DiPeO-sub018/services"
)

// stdinInteractive binds a user_response node's prompt to the process's
// stdin/stdout, the CLI transport's interactive_prompt_required binding.
type stdinInteractive struct {
	in  io.Reader
	out io.Writer
}

func newStdinInteractive(in io.Reader, out io.Writer) services.InteractivePort {
	return &stdinInteractive{in: in, out: out}
}

func (s *stdinInteractive) Prompt(ctx context.Context, p services.InteractivePrompt) (string, error) {
	fmt.Fprintf(s.out, "%s\n> ", p.Prompt)

	promptCtx := ctx
	var cancel context.CancelFunc
	if p.Timeout > 0 {
		promptCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	answers := make(chan string, 1)
	errs := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(s.in)
		if scanner.Scan() {
			answers <- scanner.Text()
			return
		}
		if err := scanner.Err(); err != nil {
			errs <- err
			return
		}
		errs <- io.EOF
	}()

	select {
	case answer := <-answers:
		return answer, nil
	case err := <-errs:
		return "", fmt.Errorf("reading interactive response for node %q: %w", p.NodeID, err)
	case <-promptCtx.Done():
		return "", fmt.Errorf("interactive prompt for node %q timed out: %w", p.NodeID, promptCtx.Err())
	}
}

var _ services.InteractivePort = (*stdinInteractive)(nil)
