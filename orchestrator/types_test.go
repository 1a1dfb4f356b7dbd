package orchestrator

import (
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestMergeDefaults_AbsentFieldsUseDefaults(t *testing.T) {
	p := MergeDefaults(validTrigger())

	assert.Equal(t, DefaultParameters(), p)
	assert.Equal(t, DefaultSubject, p.Subject)
	assert.Equal(t, DefaultBodyText, p.BodyText)
	assert.Equal(t, int32(100), p.MaxResults)
	assert.True(t, p.Criteria().IsEmpty())
}

func TestMergeDefaults_PresentValuesWin(t *testing.T) {
	trig := validTrigger()
	trig.Subject = aws.String("")
	trig.BodyText = aws.String("See attached.")
	trig.SeverityFilter = []string{"CRITICAL", "HIGH"}
	trig.WorkflowStatusFilter = []string{"NEW"}
	trig.MaxResults = aws.Int32(50)

	p := MergeDefaults(trig)

	assert.Equal(t, "", p.Subject)
	assert.Equal(t, "See attached.", p.BodyText)
	assert.Equal(t, []string{"CRITICAL", "HIGH"}, p.SeverityFilter)
	assert.Equal(t, []string{"NEW"}, p.WorkflowStatusFilter)
	assert.Nil(t, p.ComplianceStatusFilter)
	assert.Equal(t, int32(50), p.MaxResults)
}

func TestTrigger_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Trigger)
		wantErr string
	}{
		{"valid", func(*Trigger) {}, ""},
		{"missing bucket", func(tr *Trigger) { tr.Bucket = " " }, "bucket"},
		{"missing sender", func(tr *Trigger) { tr.SenderEmail = "" }, "sender_email"},
		{"no recipients", func(tr *Trigger) { tr.RecipientEmails = nil }, "recipient_emails"},
		{"blank recipients", func(tr *Trigger) { tr.RecipientEmails = []string{"", " "} }, "recipient_emails"},
		{"negative max results", func(tr *Trigger) { tr.MaxResults = aws.Int32(-1) }, "max_results"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trig := validTrigger()
			tt.mutate(&trig)
			err := trig.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestTrigger_DecodeAbsentVersusEmpty(t *testing.T) {
	var fromJSON Trigger
	require.NoError(t, json.Unmarshal([]byte(`{
		"bucket": "b",
		"sender_email": "s@example.com",
		"recipient_emails": ["r@example.com"],
		"subject": "",
		"body_text": null
	}`), &fromJSON))

	p := MergeDefaults(fromJSON)
	assert.Equal(t, "", p.Subject)
	assert.Equal(t, DefaultBodyText, p.BodyText)

	var fromYAML Trigger
	require.NoError(t, yaml.Unmarshal([]byte(`
bucket: b
sender_email: s@example.com
recipient_emails: [r@example.com]
severity_filter: [CRITICAL]
max_results: 10
`), &fromYAML))

	p = MergeDefaults(fromYAML)
	assert.Equal(t, DefaultSubject, p.Subject)
	assert.Equal(t, []string{"CRITICAL"}, p.SeverityFilter)
	assert.Equal(t, int32(10), p.MaxResults)
}

func TestStateTerminal(t *testing.T) {
	assert.True(t, StateDone.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateCheckForCursor.Terminal())
}
