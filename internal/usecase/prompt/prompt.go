// Package prompt renders the final instruction text sent to the generative
// backend. Templates are parsed once at construction; rendering is pure
// substitution with no business logic.
package prompt

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/kailas-cloud/raglet/internal/domain"
)

// DefaultSystemTemplate instructs the model to answer strictly from the
// provided context.
const DefaultSystemTemplate = `You are a helpful assistant. Answer the question using only the provided context. If the context does not contain the answer, say that you do not know.`

// DefaultUserTemplate renders the context block, optional prior turns, and
// the question.
const DefaultUserTemplate = `Context:
{{.Context}}
{{- if .History}}

Previous conversation:
{{- range .History}}
Q: {{.Question}}
A: {{.Answer}}
{{- end}}
{{- end}}

Question: {{.Question}}`

// vars is the data passed to the user template.
type vars struct {
	Context  string
	Question string
	History  []domain.Turn
}

// Builder renders prompts from fixed templates.
type Builder struct {
	system string
	user   *template.Template
}

// New parses the templates. Empty strings select the defaults.
func New(systemTemplate, userTemplate string) (*Builder, error) {
	if systemTemplate == "" {
		systemTemplate = DefaultSystemTemplate
	}
	if userTemplate == "" {
		userTemplate = DefaultUserTemplate
	}

	t, err := template.New("user").Parse(userTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse user template: %w", err)
	}
	return &Builder{system: systemTemplate, user: t}, nil
}

// System returns the rendered system instruction.
func (b *Builder) System() string {
	return b.system
}

// Build renders the user prompt from the assembled context, the question,
// and any prior conversation turns.
func (b *Builder) Build(contextText, question string, history []domain.Turn) (string, error) {
	var buf strings.Builder
	err := b.user.Execute(&buf, vars{
		Context:  contextText,
		Question: question,
		History:  history,
	})
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return buf.String(), nil
}
