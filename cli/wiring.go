package cli

import (
	"io"
	"os"

	"github.com/sorryhyun/DiPeO-sub018/eventbus"
	"github.com/sorryhyun/DiPeO-sub018/handlers"
	"github.com/sorryhyun/DiPeO-sub018/handlerregistry"
	"github.com/sorryhyun/DiPeO-sub018/memory"
	"github.com/sorryhyun/DiPeO-sub018/services"
)

// newHandlerRegistry registers all node kinds the engine knows how to run.
func newHandlerRegistry() *handlerregistry.Registry {
	r := handlerregistry.New()
	r.Register(handlers.NewStartHandler())
	r.Register(handlers.NewEndpointHandler())
	r.Register(handlers.NewConditionHandler())
	r.Register(handlers.NewPersonJobHandler())
	r.Register(handlers.NewPersonBatchJobHandler())
	r.Register(handlers.NewCodeJobHandler())
	r.Register(handlers.NewAPIJobHandler())
	r.Register(handlers.NewDBHandler())
	r.Register(handlers.NewTemplateJobHandler())
	r.Register(handlers.NewJSONSchemaValidatorHandler())
	r.Register(handlers.NewTypescriptASTHandler())
	r.Register(handlers.NewSubDiagramHandler())
	r.Register(handlers.NewHookHandler())
	r.Register(handlers.NewUserResponseHandler())
	return r
}

// runtimeOptions configures the concrete service wiring for a CLI-driven run.
type runtimeOptions struct {
	BaseDir          string
	KeyPrefix        string
	ProviderBaseURLs map[string]string
	Stdin            io.Reader
	Stderr           io.Writer
}

// newServiceRegistry wires every services.Registry port to a concrete,
// process-local implementation suitable for a single CLI invocation: real
// LLM providers via iris, a base-path-rooted filesystem, environment-backed
// API keys, in-memory conversation history, text/template rendering, and
// stdin-bound interactive prompts.
func newServiceRegistry(opts runtimeOptions, handlerReg *handlerregistry.Registry, bus eventbus.Bus) *services.Registry {
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	svc := services.NewRegistry()
	svc.Register("llm", newIrisLLM(opts.ProviderBaseURLs))
	svc.Register("filesystem", newFilesystem(opts.BaseDir))
	svc.Register("api_keys", newEnvAPIKeys(opts.KeyPrefix))
	svc.Register("conversation", memory.New())
	svc.Register("templates", newTemplates())
	svc.Register("interactive", newStdinInteractive(opts.Stdin, opts.Stderr))
	svc.Register("shell", newShellIntegration())
	svc.Register("python", newPythonIntegration())
	svc.Register("webhook", newWebhookIntegration())
	svc.Register("sub_diagram", newFileSubDiagram(opts.BaseDir, handlerReg, svc, bus))
	return svc
}
