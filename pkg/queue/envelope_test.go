package queue

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEnvelope() *Envelope {
	return &Envelope{
		JobID:          "job-1",
		ExecutionID:    "exec-1",
		ReportID:       "report-1",
		TaskType:       TaskTypeExecute,
		Priority:       PriorityMedium,
		TimeoutSeconds: DefaultTimeoutSeconds,
		RetryPolicy: RetryPolicy{
			MaxAttempts:     DefaultMaxAttempts,
			BackoffStrategy: DefaultBackoffStrategy,
			MaxBackoffHours: DefaultMaxBackoffHours,
		},
		SQLDefinition: "SELECT 1",
	}
}

func TestEnvelopeValidate_AcceptsCompleteEnvelope(t *testing.T) {
	envelope := validEnvelope()
	envelope.NotificationEmails = []string{"ops@example.com"}
	envelope.Bindings = []any{1, "emea"}

	require.NoError(t, envelope.Validate())
}

// The compute engine declares bindings as a positional array and passes
// them straight to the driver, so the marshalled envelope must decode
// into that shape.
func TestEnvelope_BindingsMarshalAsPositionalArray(t *testing.T) {
	envelope := validEnvelope()
	envelope.Bindings = []any{100, "dept-42"}

	data, err := json.Marshal(envelope)
	require.NoError(t, err)

	var engineJob struct {
		SQLDefinition string `json:"sql_definition"`
		Bindings      []any  `json:"bindings"`
	}

	require.NoError(t, json.Unmarshal(data, &engineJob))
	assert.Equal(t, "SELECT 1", engineJob.SQLDefinition)
	assert.Equal(t, []any{float64(100), "dept-42"}, engineJob.Bindings)
}

func TestEnvelopeValidate_RejectsContractViolations(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Envelope)
	}{
		{name: "empty job id", mutate: func(e *Envelope) { e.JobID = "" }},
		{name: "empty execution id", mutate: func(e *Envelope) { e.ExecutionID = "" }},
		{name: "unknown task type", mutate: func(e *Envelope) { e.TaskType = "compile" }},
		{name: "unknown priority", mutate: func(e *Envelope) { e.Priority = "urgent" }},
		{name: "zero timeout", mutate: func(e *Envelope) { e.TimeoutSeconds = 0 }},
		{name: "zero max attempts", mutate: func(e *Envelope) { e.RetryPolicy.MaxAttempts = 0 }},
		{name: "unknown backoff strategy", mutate: func(e *Envelope) { e.RetryPolicy.BackoffStrategy = "fibonacci" }},
		{name: "empty sql definition", mutate: func(e *Envelope) { e.SQLDefinition = "" }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			envelope := validEnvelope()
			tc.mutate(envelope)

			assert.ErrorIs(t, envelope.Validate(), ErrInvalidEnvelope)
		})
	}
}
