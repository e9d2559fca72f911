package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflowPlanValidate(t *testing.T) {
	tests := []struct {
		name    string
		plan    WorkflowPlan
		wantErr bool
	}{
		{
			name: "valid two step plan with forward reference",
			plan: WorkflowPlan{
				Name: "delete-user",
				Steps: []WorkflowStep{
					{StepNumber: 1, Action: Action{Endpoint: "/users", Method: "GET"}, ExtractFields: []string{"[name=John].id"}},
					{StepNumber: 2, Action: Action{Endpoint: "/users/{id}", Method: "DELETE"}},
				},
			},
		},
		{
			name: "empty plan",
			plan: WorkflowPlan{Name: "noop"},
			wantErr: true,
		},
		{
			name: "non contiguous step numbers",
			plan: WorkflowPlan{
				Steps: []WorkflowStep{
					{StepNumber: 1, Action: Action{Endpoint: "/a", Method: "GET"}},
					{StepNumber: 3, Action: Action{Endpoint: "/b", Method: "GET"}},
				},
			},
			wantErr: true,
		},
		{
			name: "placeholder references later step",
			plan: WorkflowPlan{
				Steps: []WorkflowStep{
					{StepNumber: 1, Action: Action{Endpoint: "/users/{id}", Method: "GET"}},
					{StepNumber: 2, Action: Action{Endpoint: "/ids", Method: "GET"}, ExtractFields: []string{"id"}},
				},
			},
			wantErr: true,
		},
		{
			name: "total steps mismatch",
			plan: WorkflowPlan{
				TotalSteps: 5,
				Steps: []WorkflowStep{
					{StepNumber: 1, Action: Action{Endpoint: "/a", Method: "GET"}},
				},
			},
			wantErr: true,
		},
		{
			name: "auth_token placeholder is always available",
			plan: WorkflowPlan{
				Steps: []WorkflowStep{
					{StepNumber: 1, Action: Action{Endpoint: "/private", Method: "GET", Params: "-H 'Authorization: {auth_token}'"}},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.plan.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidPlan))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCaptureName(t *testing.T) {
	tests := []struct {
		expr string
		want string
	}{
		{"data.token", "token"},
		{"[name=John].id", "id"},
		{"data.users.[role=admin].email", "email"},
		{"token", "token"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CaptureName(tt.expr), "expr %q", tt.expr)
	}
}

func TestActionPlaceholders(t *testing.T) {
	a := Action{
		Endpoint: "/users/{id}/posts/{post_id}",
		Body:     `{"author":"{id}"}`,
		Params:   "-H 'X-Req: {req}'",
	}
	assert.Equal(t, []string{"id", "post_id", "req"}, a.Placeholders())
}

func TestRunStatusTerminal(t *testing.T) {
	assert.False(t, RunPending.Terminal())
	assert.False(t, RunRunning.Terminal())
	assert.True(t, RunCompleted.Terminal())
	assert.True(t, RunFailed.Terminal())
}
