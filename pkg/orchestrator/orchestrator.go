// Package orchestrator drives multi-step workflow runs: it resolves each
// step's placeholders from values captured earlier, re-validates the
// target URL, renders and sanitizes the command, executes it, and records
// every outcome in an append-only run record. A failed step halts the run.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/relayforge/relayforge/pkg/command"
	"github.com/relayforge/relayforge/pkg/domain"
	"github.com/relayforge/relayforge/pkg/executor"
	"github.com/relayforge/relayforge/pkg/extract"
	"github.com/relayforge/relayforge/pkg/secrets"
	"github.com/relayforge/relayforge/pkg/storage"
	"github.com/relayforge/relayforge/pkg/telemetry"
	"github.com/relayforge/relayforge/pkg/urlguard"
)

const (
	stepCompleted = "completed"
	stepFailed    = "failed"
)

// authTokenPaths are tried in order when an authentication step declares
// no extraction rules of its own.
var authTokenPaths = []string{"token", "access_token", "data.token", "data.access_token"}

// Orchestrator executes workflow plans against registered sessions.
type Orchestrator struct {
	sessions  storage.SessionStore
	workflows storage.WorkflowStore
	runs      storage.RunStore
	guard     *urlguard.Guard
	builder   *command.Builder
	exec      *executor.Executor
	gen       Generator
	cipher    *secrets.Cipher
	logger    *slog.Logger
}

// Options collects the orchestrator's collaborators. Generator defaults
// to TemplateGenerator; Cipher may be nil when sessions carry no sealed
// credentials.
type Options struct {
	Sessions  storage.SessionStore
	Workflows storage.WorkflowStore
	Runs      storage.RunStore
	Guard     *urlguard.Guard
	Builder   *command.Builder
	Executor  *executor.Executor
	Generator Generator
	Cipher    *secrets.Cipher
	Logger    *slog.Logger
}

// New wires an Orchestrator from its collaborators.
func New(opts Options) *Orchestrator {
	if opts.Generator == nil {
		opts.Generator = TemplateGenerator{}
	}
	if opts.Guard == nil {
		opts.Guard = urlguard.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Orchestrator{
		sessions:  opts.Sessions,
		workflows: opts.Workflows,
		runs:      opts.Runs,
		guard:     opts.Guard,
		builder:   opts.Builder,
		exec:      opts.Executor,
		gen:       opts.Generator,
		cipher:    opts.Cipher,
		logger:    opts.Logger,
	}
}

// Execute runs the workflow against the session and returns the final
// record. Setup failures (unknown ids, invalid plan) return an error;
// step failures do not — they are captured in the record, which ends in
// a failed status.
func (o *Orchestrator) Execute(ctx context.Context, workflowID, sessionID string) (*domain.ExecutionRecord, error) {
	plan, err := o.workflows.GetPlan(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	sess, err := o.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	rec := &domain.ExecutionRecord{
		RunID:      uuid.NewString(),
		WorkflowID: workflowID,
		SessionID:  sessionID,
		Status:     domain.RunPending,
		StartedAt:  time.Now(),
	}
	if err := o.runs.CreateRecord(ctx, rec); err != nil {
		return nil, err
	}
	if err := o.runs.SetStatus(ctx, rec.RunID, domain.RunRunning); err != nil {
		return nil, err
	}

	o.logger.Info("Workflow run started",
		"run_id", rec.RunID,
		"workflow_id", workflowID,
		"session_id", sessionID,
		"steps", len(plan.Steps),
	)

	vars := map[string]string{}
	for _, step := range plan.Steps {
		select {
		case <-ctx.Done():
			return o.finish(rec.RunID, domain.RunFailed)
		default:
		}

		outcome, extracted := o.runStep(ctx, rec, sess, step, vars)
		if appendErr := o.runs.AppendStep(ctx, rec.RunID, outcome); appendErr != nil {
			return nil, appendErr
		}

		if outcome.Status != stepCompleted {
			o.logger.Warn("Workflow step failed, halting run",
				"run_id", rec.RunID,
				"step", step.StepNumber,
				"error", outcome.Result.Error,
			)
			return o.finish(rec.RunID, domain.RunFailed)
		}
		for k, v := range extracted {
			vars[k] = v
		}
	}

	return o.finish(rec.RunID, domain.RunCompleted)
}

// GetRecord returns the record for a run id.
func (o *Orchestrator) GetRecord(ctx context.Context, runID string) (*domain.ExecutionRecord, error) {
	return o.runs.GetRecord(ctx, runID)
}

func (o *Orchestrator) finish(runID string, status domain.RunStatus) (*domain.ExecutionRecord, error) {
	// Finalization must land even when the request context is gone.
	ctx := context.Background()
	if err := o.runs.SetStatus(ctx, runID, status); err != nil {
		return nil, err
	}
	return o.runs.GetRecord(ctx, runID)
}

// runStep performs one step end to end. It never returns an error: every
// failure mode lands in the outcome so the run record stays complete.
func (o *Orchestrator) runStep(ctx context.Context, rec *domain.ExecutionRecord, sess *domain.Session, step domain.WorkflowStep, vars map[string]string) (domain.StepOutcome, map[string]string) {
	start := time.Now()

	ctx, span := otel.Tracer("relayforge.orchestrator").Start(ctx, "workflow.step",
		trace.WithAttributes(
			attribute.String("workflow.id", rec.WorkflowID),
			attribute.String("run.id", rec.RunID),
			attribute.Int("step.number", step.StepNumber),
		))
	defer span.End()

	stepVars := vars
	if referencesCredential(step.Action) {
		if sess.Credential == nil || o.cipher == nil {
			err := fmt.Errorf("%w: step references {credential} but the session has no stored credential", domain.ErrInvalidPlan)
			return failedOutcome(step.StepNumber, start, err), nil
		}
		// The plaintext credential exists only in this step-local copy.
		plaintext, err := o.cipher.Open(sess.Credential)
		if err != nil {
			return failedOutcome(step.StepNumber, start, err), nil
		}
		stepVars = make(map[string]string, len(vars)+1)
		for k, v := range vars {
			stepVars[k] = v
		}
		stepVars["credential"] = plaintext
	}

	action, err := resolveAction(step.Action, stepVars)
	if err != nil {
		return failedOutcome(step.StepNumber, start, err), nil
	}

	target := joinURL(sess.BaseURL, action.Endpoint, action.Params)
	// Captured values may have steered the target anywhere, so the guard
	// runs again on every resolved URL, not just at session registration.
	if err := o.guard.Validate(target); err != nil {
		telemetry.RecordSecurityEvent(span, true, "url")
		return failedOutcome(step.StepNumber, start, err), nil
	}

	text, err := o.gen.Command(ctx, StepInput{
		Session:   sess,
		Step:      step,
		URL:       target,
		Body:      action.Body,
		AuthToken: vars["auth_token"],
	})
	if err != nil {
		return failedOutcome(step.StepNumber, start, err), nil
	}

	args, err := o.builder.Build(text)
	if err != nil {
		telemetry.RecordSecurityEvent(span, true, "command")
		return failedOutcome(step.StepNumber, start, err), nil
	}

	res := o.exec.Run(ctx, args)

	extracted := map[string]string{}
	if res.Success && res.Response.Structured {
		for _, expr := range step.ExtractFields {
			val, ok := extract.Value(res.Response.Value, expr)
			if !ok {
				continue
			}
			if name := domain.CaptureName(expr); name != "" {
				extracted[name] = formatValue(val)
			}
		}
		if step.Action.Purpose == domain.PurposeAuth {
			if tok, ok := harvestToken(res.Response.Value, step.ExtractFields); ok {
				extracted["auth_token"] = tok
			}
		}
	}

	status := stepCompleted
	if !res.Success {
		status = stepFailed
	}

	telemetry.RecordStepMetrics(ctx, telemetry.StepMetrics{
		WorkflowID: rec.WorkflowID,
		RunID:      rec.RunID,
		StepNumber: step.StepNumber,
		Method:     step.Action.Method,
		Success:    res.Success,
		HTTPCode:   res.HTTPCode,
		Duration:   time.Since(start),
	})

	return domain.StepOutcome{
		StepNumber: step.StepNumber,
		Status:     status,
		Result:     res,
		Extracted:  extracted,
		FinishedAt: time.Now(),
	}, extracted
}

// referencesCredential reports whether any templated field of the action
// uses the {credential} placeholder. Decryption happens only for such
// steps, whatever their purpose.
func referencesCredential(a domain.Action) bool {
	for _, name := range a.Placeholders() {
		if name == "credential" {
			return true
		}
	}
	return false
}

// harvestToken locates a bearer credential in an auth response: declared
// extraction paths first, then the well-known fallbacks.
func harvestToken(v any, exprs []string) (string, bool) {
	for _, expr := range exprs {
		if tok, ok := extract.BearerToken(v, expr); ok {
			return tok, true
		}
	}
	for _, path := range authTokenPaths {
		if tok, ok := extract.BearerToken(v, path); ok {
			return tok, true
		}
	}
	return "", false
}

func failedOutcome(stepNumber int, start time.Time, err error) domain.StepOutcome {
	return domain.StepOutcome{
		StepNumber: stepNumber,
		Status:     stepFailed,
		Result:     domain.ExecutionResult{Success: false, ExitCode: -1, Error: err.Error()},
		FinishedAt: time.Now(),
	}
}

// resolveAction substitutes captured values into the action's templated
// fields. Plan validation guarantees referenced names were captured, but
// a capture that produced nothing at runtime still surfaces here.
func resolveAction(a domain.Action, vars map[string]string) (domain.Action, error) {
	for _, name := range a.Placeholders() {
		val, ok := vars[name]
		if !ok {
			return domain.Action{}, fmt.Errorf("%w: placeholder {%s} has no captured value", domain.ErrInvalidPlan, name)
		}
		token := "{" + name + "}"
		a.Endpoint = strings.ReplaceAll(a.Endpoint, token, val)
		a.Body = strings.ReplaceAll(a.Body, token, val)
		a.Params = strings.ReplaceAll(a.Params, token, val)
	}
	return a, nil
}

func joinURL(base, endpoint, params string) string {
	base = strings.TrimRight(base, "/")
	if endpoint != "" && !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	u := base + endpoint
	if params != "" {
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		u += sep + strings.TrimPrefix(params, "?")
	}
	return u
}

// formatValue renders a captured JSON leaf for placeholder substitution.
// Numbers print without a trailing ".0" so "/users/{id}" stays clean.
func formatValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(raw)
	}
}
