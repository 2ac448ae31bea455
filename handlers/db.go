package handlers

import (
	"context"
	"fmt"

	"github.com/sorryhyun/DiPeO-sub018/core"
	"github.com/sorryhyun/DiPeO-sub018/handlerregistry"
	"github.com/sorryhyun/DiPeO-sub018/services"
)

// DBHandler performs a filesystem-backed read/write/list/exists/mkdir
// operation; DiPeO treats "db" as file-rooted structured storage rather
// than a SQL engine, consistent with the filesystem service port's
// read/write/exists/list/mkdir contract.
type DBHandler struct{}

func NewDBHandler() *DBHandler { return &DBHandler{} }

func (*DBHandler) Kind() string               { return "db" }
func (*DBHandler) RequiredServices() []string { return []string{"filesystem"} }

var dbOperations = map[string]bool{"read": true, "write": true, "exists": true, "list": true, "mkdir": true}

func (*DBHandler) ValidateProps(props map[string]any) error {
	op, err := requireStringProp(props, "operation", "db")
	if err != nil {
		return err
	}
	if !dbOperations[op] {
		return fmt.Errorf("db: unknown operation %q", op)
	}
	if op != "list" {
		if _, err := requireStringProp(props, "path", "db"); err != nil {
			return err
		}
	}
	return nil
}

func (*DBHandler) Execute(ctx context.Context, actx handlerregistry.ActivationContext, props map[string]any, inputs map[string]*core.Envelope, svc *services.Registry) (*core.Envelope, error) {
	fs, ok := svc.Filesystem()
	if !ok {
		return nil, &services.ConfigurationError{Service: "filesystem", NodeID: actx.NodeID}
	}

	path := stringProp(props, "path")
	switch stringProp(props, "operation") {
	case "read":
		data, err := fs.Read(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("db %s: read %q: %w", actx.NodeID, path, err)
		}
		return core.NewTextEnvelope(string(data)), nil

	case "write":
		in, ok := inputs["default"]
		if !ok {
			return nil, fmt.Errorf("db %s: write requires a \"default\" input", actx.NodeID)
		}
		data, ok := in.AsText()
		if !ok {
			data = fmt.Sprintf("%v", in.Body)
		}
		if err := fs.Write(ctx, path, []byte(data)); err != nil {
			return nil, fmt.Errorf("db %s: write %q: %w", actx.NodeID, path, err)
		}
		return core.NewObjectEnvelope(map[string]any{"written": true, "path": path}), nil

	case "exists":
		ok, err := fs.Exists(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("db %s: exists %q: %w", actx.NodeID, path, err)
		}
		return core.NewObjectEnvelope(map[string]any{"exists": ok}), nil

	case "list":
		entries, err := fs.List(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("db %s: list %q: %w", actx.NodeID, path, err)
		}
		list := make([]any, len(entries))
		for i, e := range entries {
			list[i] = e
		}
		return core.NewObjectEnvelope(list), nil

	case "mkdir":
		if err := fs.Mkdir(ctx, path); err != nil {
			return nil, fmt.Errorf("db %s: mkdir %q: %w", actx.NodeID, path, err)
		}
		return core.NewObjectEnvelope(map[string]any{"created": path}), nil
	}

	return nil, fmt.Errorf("db %s: unreachable operation", actx.NodeID)
}

var _ handlerregistry.Handler = (*DBHandler)(nil)
