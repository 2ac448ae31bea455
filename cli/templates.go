package cli

import (
	"bytes"
	"context"
	"text/template"

	"github.com/sorryhyun/DiPeO-sub018/services"
)

// textTemplates renders template_job sources with Go's text/template,
// matching the templating the engine's prompt-rendering handlers already use.
type textTemplates struct{}

func newTemplates() services.TemplatePort { return textTemplates{} }

func (textTemplates) Render(_ context.Context, source string, variables map[string]any) (string, error) {
	tmpl, err := template.New("template_job").Parse(source)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, variables); err != nil {
		return "", err
	}
	return buf.String(), nil
}

var _ services.TemplatePort = textTemplates{}
