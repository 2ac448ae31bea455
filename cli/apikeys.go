package cli

import (
	"context"
	"os"
	"strings"

	"github.com/sorryhyun/DiPeO-sub018/services"
)

// envAPIKeys resolves an api_key_ref by upper-casing it and looking it up as
// an environment variable, optionally under a fixed prefix (e.g.
// "DIPEO_KEY_OPENAI" for ref "openai" with prefix "DIPEO_KEY_").
type envAPIKeys struct {
	prefix string
}

func newEnvAPIKeys(prefix string) services.APIKeyPort {
	return envAPIKeys{prefix: prefix}
}

func (e envAPIKeys) Get(_ context.Context, id string) (string, error) {
	name := e.prefix + strings.ToUpper(id)
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v, nil
	}
	return "", &services.APIKeyNotFound{ID: id}
}

var _ services.APIKeyPort = (envAPIKeys{})
