package orchestrator

import (
	"context"
	"strings"

	"github.com/relayforge/relayforge/pkg/domain"
)

// StepInput carries everything a Generator needs to render one command:
// the resolved target URL, the resolved body, and the bearer credential
// harvested from an earlier authentication step (empty until then; the
// "Bearer " prefix is already applied).
type StepInput struct {
	Session   *domain.Session
	Step      domain.WorkflowStep
	URL       string
	Body      string
	AuthToken string
}

// Generator renders the command text for a single step. Implementations
// may call out to a model; the returned text is treated as untrusted and
// goes through the full validation pipeline regardless.
type Generator interface {
	Command(ctx context.Context, in StepInput) (string, error)
}

// TemplateGenerator deterministically renders curl invocations from the
// step's action. It is the default when no model-backed generator is
// wired in.
type TemplateGenerator struct{}

// Command renders a curl invocation for the step.
func (TemplateGenerator) Command(_ context.Context, in StepInput) (string, error) {
	method := strings.ToUpper(strings.TrimSpace(in.Step.Action.Method))
	if method == "" {
		method = "GET"
	}

	var b strings.Builder
	b.WriteString("curl -X ")
	b.WriteString(method)
	b.WriteString(" ")
	b.WriteString(quoteArg(in.URL))

	if in.AuthToken != "" {
		b.WriteString(" -H ")
		b.WriteString(quoteArg("Authorization: " + in.AuthToken))
	}
	if in.Body != "" {
		b.WriteString(" -H ")
		b.WriteString(quoteArg("Content-Type: application/json"))
		b.WriteString(" -d ")
		b.WriteString(quoteArg(in.Body))
	}
	return b.String(), nil
}

// quoteArg single-quotes a token for the quoting-aware tokenizer,
// escaping embedded single quotes.
func quoteArg(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
