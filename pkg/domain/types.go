package domain

import (
	"fmt"
	"regexp"
	"time"
)

// RunStatus tracks the lifecycle of a workflow run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Terminal reports whether the status is a terminal state.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// PurposeAuth marks a step's action as the authentication endpoint of the
// target API. The orchestrator harvests a bearer token from its response.
const PurposeAuth = "authentication"

// Session binds a registered target API to an identity. The credential is
// stored encrypted and is only decrypted for the lifetime of a single
// outbound call.
type Session struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	BaseURL    string           `json:"base_url"`
	APISpec    string           `json:"api_spec,omitempty"`
	Credential *EncryptedSecret `json:"credential,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}

// EncryptedSecret is the four-field envelope produced by pkg/secrets.
// All fields are base64 and all are required; a partial envelope is
// treated as corruption.
type EncryptedSecret struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
	AuthTag    string `json:"authTag"`
	Salt       string `json:"salt"`
}

// Action describes the single API call a workflow step performs.
type Action struct {
	Endpoint string `json:"endpoint"`
	Method   string `json:"method"`
	Purpose  string `json:"purpose,omitempty"`
	Body     string `json:"body,omitempty"`
	Params   string `json:"params,omitempty"`
}

// WorkflowStep is one unit of a workflow: a call plus optional extraction
// rules whose captured values later steps may reference as {placeholders}.
type WorkflowStep struct {
	StepNumber    int      `json:"step_number"`
	Description   string   `json:"description"`
	Action        Action   `json:"action"`
	ExtractFields []string `json:"extract_fields,omitempty"`
	Notes         string   `json:"notes,omitempty"`
}

// WorkflowPlan is an ordered, named sequence of dependent API calls.
type WorkflowPlan struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Steps       []WorkflowStep `json:"steps"`
	TotalSteps  int            `json:"total_steps"`
}

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// Placeholders returns the template variable names referenced by the action.
func (a Action) Placeholders() []string {
	seen := map[string]struct{}{}
	var names []string
	for _, field := range []string{a.Endpoint, a.Body, a.Params} {
		for _, m := range placeholderRe.FindAllStringSubmatch(field, -1) {
			if _, ok := seen[m[1]]; !ok {
				seen[m[1]] = struct{}{}
				names = append(names, m[1])
			}
		}
	}
	return names
}

// Validate checks the structural invariants of a plan: step numbers are
// unique, contiguous from 1 and strictly increasing, and a step only
// references values captured by strictly earlier steps.
func (p *WorkflowPlan) Validate() error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("%w: plan has no steps", ErrInvalidPlan)
	}
	if p.TotalSteps != 0 && p.TotalSteps != len(p.Steps) {
		return fmt.Errorf("%w: total_steps %d does not match %d steps", ErrInvalidPlan, p.TotalSteps, len(p.Steps))
	}
	captured := map[string]struct{}{
		// Always provided by the orchestrator: auth_token once an auth
		// step has run, credential from the session's sealed secret.
		"auth_token": {},
		"credential": {},
	}
	for i, step := range p.Steps {
		if step.StepNumber != i+1 {
			return fmt.Errorf("%w: step %d has number %d, want %d", ErrInvalidPlan, i, step.StepNumber, i+1)
		}
		for _, name := range step.Action.Placeholders() {
			if _, ok := captured[name]; !ok {
				return fmt.Errorf("%w: step %d references {%s} before any earlier step captures it", ErrInvalidPlan, step.StepNumber, name)
			}
		}
		for _, expr := range step.ExtractFields {
			if name := CaptureName(expr); name != "" {
				captured[name] = struct{}{}
			}
		}
	}
	return nil
}

// CaptureName derives the variable name under which an extraction
// expression's value is stored: the final identifier segment.
// "[name=John].id" and "data.user.id" both capture as "id".
func CaptureName(expr string) string {
	last := ""
	seg := ""
	depth := 0
	for _, r := range expr {
		switch {
		case r == '[':
			depth++
			seg = ""
		case r == ']':
			depth--
			seg = ""
		case r == '.' && depth == 0:
			if seg != "" {
				last = seg
			}
			seg = ""
		default:
			if depth == 0 {
				seg += string(r)
			}
		}
	}
	if seg != "" {
		last = seg
	}
	return last
}

// Response is the body of an outbound call: either a structured JSON value
// or the raw text when the body did not parse.
type Response struct {
	Structured bool   `json:"structured"`
	Value      any    `json:"value,omitempty"`
	Raw        string `json:"raw,omitempty"`
}

// StructuredResponse wraps a parsed JSON value.
func StructuredResponse(v any) Response {
	return Response{Structured: true, Value: v}
}

// RawResponse wraps an unparsable body as-is.
func RawResponse(s string) Response {
	return Response{Raw: s}
}

// ExecutionResult is the normalized outcome of one external call. It is
// produced once and never mutated; execution failures are represented here
// rather than as errors so orchestration logic can branch on them.
type ExecutionResult struct {
	Success  bool     `json:"success"`
	Stdout   string   `json:"stdout"`
	Stderr   string   `json:"stderr"`
	ExitCode int      `json:"exitCode"`
	Response Response `json:"response"`
	HTTPCode int      `json:"httpCode"`
	Error    string   `json:"error,omitempty"`
}

// StepOutcome records how a single step of a run went.
type StepOutcome struct {
	StepNumber int               `json:"step_number"`
	Status     string            `json:"status"`
	Result     ExecutionResult   `json:"result"`
	Extracted  map[string]string `json:"extracted,omitempty"`
	FinishedAt time.Time         `json:"finished_at"`
}

// ExecutionRecord is the append-only account of one workflow run. It owns
// its step outcomes exclusively and is immutable once Status is terminal.
type ExecutionRecord struct {
	RunID      string        `json:"run_id"`
	WorkflowID string        `json:"workflow_id"`
	SessionID  string        `json:"session_id"`
	Status     RunStatus     `json:"status"`
	Steps      []StepOutcome `json:"steps"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at,omitempty"`
}
