// Package services implements the Service Registry: a single
// typed lookup object injected into every handler, exposing the external
// collaborators (LLM, filesystem, API keys, conversation memory, sub-diagram
// loader, templating, integrations) as narrow port interfaces.
package services

import (
	"context"
	"fmt"
	"time"
)

// LLMPort abstracts a single provider/model backend.
type LLMPort interface {
	Complete(ctx context.Context, req LLMRequest) (LLMResult, error)
}

// LLMRequest is transport-agnostic and provider-agnostic.
type LLMRequest struct {
	Provider string
	Model    string
	APIKey   string
	Messages []LLMMessage
	Options  map[string]any
}

// LLMMessage is a single chat message.
type LLMMessage struct {
	Role    string
	Content string
}

// LLMResult carries completion text plus token usage.
type LLMResult struct {
	Text  string
	Usage TokenUsage
}

// TokenUsage mirrors core.TokenUsage without importing core, keeping this
// package's dependency surface minimal (handlers convert at the boundary).
type TokenUsage struct {
	Input  int
	Output int
	Cached int
}

// FilesystemPort is rooted at a configured base path; implementations must
// reject path traversal outside that root.
type FilesystemPort interface {
	Read(ctx context.Context, path string) ([]byte, error)
	Write(ctx context.Context, path string, data []byte) error
	Exists(ctx context.Context, path string) (bool, error)
	List(ctx context.Context, dir string) ([]string, error)
	Mkdir(ctx context.Context, path string) error
}

// APIKeyNotFound is returned by APIKeyPort.Get when the ID is unknown.
type APIKeyNotFound struct{ ID string }

func (e *APIKeyNotFound) Error() string { return fmt.Sprintf("api key %q not found", e.ID) }

// APIKeyPort resolves opaque credential references to secret values
//.
type APIKeyPort interface {
	Get(ctx context.Context, id string) (string, error)
}

// ConversationMessage is an append-only log entry.
type ConversationMessage struct {
	Role         string
	Content      string
	SourceNodeID string
	Meta         map[string]any
}

// SelectionCriteria controls conversation memory selection.
type SelectionCriteria struct {
	AtMost             int
	Keywords           []string
	ExcludeTaskPreview bool
}

// ConversationPort is the append/select contract for per-person memory
//.
type ConversationPort interface {
	Append(ctx context.Context, personID string, msg ConversationMessage) error
	Select(ctx context.Context, personID string, criteria SelectionCriteria) ([]ConversationMessage, error)
	All(ctx context.Context, personID string) ([]ConversationMessage, error)
}

// SubDiagramHandle is an opaque compiled sub-diagram, re-entrant into the
// engine as a child run. Declared as `any` here to avoid an import cycle
// between services and the engine/diagram packages; callers type-assert to
// *diagram.CompiledDiagram.
type SubDiagramHandle any

// SubDiagramResult is the child run's final state, narrowed to what a parent
// node needs: the chosen endpoint envelope and aggregated token usage.
type SubDiagramResult struct {
	EndpointBody any
	TokenUsage   TokenUsage
	Status       string
	Error        string
}

// SubDiagramPort loads and runs nested diagrams.
type SubDiagramPort interface {
	Load(ctx context.Context, nameOrPath string, format string) (SubDiagramHandle, error)
	Run(ctx context.Context, compiled SubDiagramHandle, inputs map[string]any) (SubDiagramResult, error)
}

// TemplatePort renders templates deterministically with no I/O
//.
type TemplatePort interface {
	Render(ctx context.Context, source string, variables map[string]any) (string, error)
}

// IntegrationPort is a catch-all for provider-specific integrations (Notion,
// webhook, etc.) left with a minimal verb-call shape: each integration
// defines its own argument/result convention.
type IntegrationPort interface {
	Invoke(ctx context.Context, action string, args map[string]any) (map[string]any, error)
}

// InteractivePrompt is the payload of a user_response node's activation,
// mirroring the interactive_prompt_required event.
type InteractivePrompt struct {
	NodeID  string
	Prompt  string
	Timeout time.Duration
}

// InteractivePort bridges a user_response node to the run request's
// interactive_handler: Prompt suspends until the caller supplies a
// response or the prompt's timeout elapses.
type InteractivePort interface {
	Prompt(ctx context.Context, p InteractivePrompt) (string, error)
}

// ConfigurationError is returned when a required service is missing at
// node activation, failing activation before the handler runs.
type ConfigurationError struct {
	Service string
	NodeID  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: node %q requires service %q, which is not registered", e.NodeID, e.Service)
}

// Registry is the typed lookup object injected into every handler.
// Services are registered by name; handlers declare required service names
// via handlerregistry.Handler.RequiredServices and the engine resolves them
// through Require before activation.
type Registry struct {
	named map[string]any
}

// NewRegistry creates an empty service registry.
func NewRegistry() *Registry {
	return &Registry{named: make(map[string]any)}
}

// Register binds a service implementation under a name (e.g. "llm",
// "filesystem", "api_keys", "conversation", "sub_diagram", "templates", or an
// integration-specific name like "notion", "webhook").
func (r *Registry) Register(name string, svc any) {
	r.named[name] = svc
}

// Get looks up a raw service by name.
func (r *Registry) Get(name string) (any, bool) {
	v, ok := r.named[name]
	return v, ok
}

// Require resolves every name in `names`, returning a ConfigurationError for
// the first missing service. Used by the engine before calling a handler
// whose RequiredServices() lists these names.
func (r *Registry) Require(nodeID string, names []string) error {
	for _, name := range names {
		if _, ok := r.named[name]; !ok {
			return &ConfigurationError{Service: name, NodeID: nodeID}
		}
	}
	return nil
}

// LLM returns the registered LLMPort, or false if absent/mistyped.
func (r *Registry) LLM() (LLMPort, bool) {
	v, ok := r.named["llm"]
	if !ok {
		return nil, false
	}
	p, ok := v.(LLMPort)
	return p, ok
}

// Filesystem returns the registered FilesystemPort, or false if absent/mistyped.
func (r *Registry) Filesystem() (FilesystemPort, bool) {
	v, ok := r.named["filesystem"]
	if !ok {
		return nil, false
	}
	p, ok := v.(FilesystemPort)
	return p, ok
}

// APIKeys returns the registered APIKeyPort, or false if absent/mistyped.
func (r *Registry) APIKeys() (APIKeyPort, bool) {
	v, ok := r.named["api_keys"]
	if !ok {
		return nil, false
	}
	p, ok := v.(APIKeyPort)
	return p, ok
}

// Conversation returns the registered ConversationPort, or false if absent/mistyped.
func (r *Registry) Conversation() (ConversationPort, bool) {
	v, ok := r.named["conversation"]
	if !ok {
		return nil, false
	}
	p, ok := v.(ConversationPort)
	return p, ok
}

// SubDiagram returns the registered SubDiagramPort, or false if absent/mistyped.
func (r *Registry) SubDiagram() (SubDiagramPort, bool) {
	v, ok := r.named["sub_diagram"]
	if !ok {
		return nil, false
	}
	p, ok := v.(SubDiagramPort)
	return p, ok
}

// Templates returns the registered TemplatePort, or false if absent/mistyped.
func (r *Registry) Templates() (TemplatePort, bool) {
	v, ok := r.named["templates"]
	if !ok {
		return nil, false
	}
	p, ok := v.(TemplatePort)
	return p, ok
}

// Interactive returns the registered InteractivePort, or false if absent/mistyped.
func (r *Registry) Interactive() (InteractivePort, bool) {
	v, ok := r.named["interactive"]
	if !ok {
		return nil, false
	}
	p, ok := v.(InteractivePort)
	return p, ok
}

// Integration returns a named integration port (e.g. "notion", "webhook").
func (r *Registry) Integration(name string) (IntegrationPort, bool) {
	v, ok := r.named[name]
	if !ok {
		return nil, false
	}
	p, ok := v.(IntegrationPort)
	return p, ok
}
