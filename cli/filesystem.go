package cli

import (
	"context"

	"github.com/spf13/afero"

	"github.com/sorryhyun/DiPeO-sub018/services"
)

// aferoFilesystem implements services.FilesystemPort over an afero
// base-path filesystem, which rejects any path that escapes baseDir.
type aferoFilesystem struct {
	fs afero.Fs
}

// newFilesystem roots a FilesystemPort at baseDir.
func newFilesystem(baseDir string) services.FilesystemPort {
	return &aferoFilesystem{fs: afero.NewBasePathFs(afero.NewOsFs(), baseDir)}
}

func (a *aferoFilesystem) Read(_ context.Context, path string) ([]byte, error) {
	return afero.ReadFile(a.fs, path)
}

func (a *aferoFilesystem) Write(_ context.Context, path string, data []byte) error {
	return afero.WriteFile(a.fs, path, data, 0o644)
}

func (a *aferoFilesystem) Exists(_ context.Context, path string) (bool, error) {
	return afero.Exists(a.fs, path)
}

func (a *aferoFilesystem) List(_ context.Context, dir string) ([]string, error) {
	entries, err := afero.ReadDir(a.fs, dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names, nil
}

func (a *aferoFilesystem) Mkdir(_ context.Context, path string) error {
	return a.fs.MkdirAll(path, 0o755)
}

var _ services.FilesystemPort = (*aferoFilesystem)(nil)
