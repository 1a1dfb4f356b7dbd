package orchestrator

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yairfalse/hubexport/internal/batch"
	"github.com/yairfalse/hubexport/internal/delivery"
	"github.com/yairfalse/hubexport/internal/fetcher"
	"github.com/yairfalse/hubexport/internal/filter"
)

var (
	// ErrValidation marks a trigger that can never succeed. It is not retried.
	ErrValidation = errors.New("invalid trigger")
	// ErrRunTimeout is returned when a run exceeds its wall-clock budget.
	ErrRunTimeout = errors.New("run timed out")
)

const (
	DefaultSubject  = "AWS Security Hub Findings"
	DefaultBodyText = "Please find the attached CSV file containing the filtered AWS Security Hub findings."
)

// Trigger is the payload that starts an export. Nil fields fall back to defaults.
type Trigger struct {
	Bucket          string   `json:"bucket" yaml:"bucket" toml:"bucket"`
	SenderEmail     string   `json:"sender_email" yaml:"sender_email" toml:"sender_email"`
	RecipientEmails []string `json:"recipient_emails" yaml:"recipient_emails" toml:"recipient_emails"`

	Subject  *string `json:"subject,omitempty" yaml:"subject,omitempty" toml:"subject,omitempty"`
	BodyText *string `json:"body_text,omitempty" yaml:"body_text,omitempty" toml:"body_text,omitempty"`

	ComplianceStatusFilter []string `json:"compliance_status_filter,omitempty" yaml:"compliance_status_filter,omitempty" toml:"compliance_status_filter,omitempty"`
	SecurityStandardFilter []string `json:"security_standard_filter,omitempty" yaml:"security_standard_filter,omitempty" toml:"security_standard_filter,omitempty"`
	SeverityFilter         []string `json:"severity_filter,omitempty" yaml:"severity_filter,omitempty" toml:"severity_filter,omitempty"`
	WorkflowStatusFilter   []string `json:"workflow_status_filter,omitempty" yaml:"workflow_status_filter,omitempty" toml:"workflow_status_filter,omitempty"`

	MaxResults *int32 `json:"max_results,omitempty" yaml:"max_results,omitempty" toml:"max_results,omitempty"`
}

// Validate checks the fields without which no run can deliver.
func (t Trigger) Validate() error {
	var missing []string
	if strings.TrimSpace(t.Bucket) == "" {
		missing = append(missing, "bucket")
	}
	if strings.TrimSpace(t.SenderEmail) == "" {
		missing = append(missing, "sender_email")
	}
	if len(nonEmpty(t.RecipientEmails)) == 0 {
		missing = append(missing, "recipient_emails")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrValidation, strings.Join(missing, ", "))
	}
	if t.MaxResults != nil && *t.MaxResults < 0 {
		return fmt.Errorf("%w: max_results must not be negative (got %d)", ErrValidation, *t.MaxResults)
	}
	return nil
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Parameters are the merged run settings.
type Parameters struct {
	Subject                string   `json:"subject"`
	BodyText               string   `json:"body_text"`
	ComplianceStatusFilter []string `json:"compliance_status_filter"`
	SecurityStandardFilter []string `json:"security_standard_filter"`
	SeverityFilter         []string `json:"severity_filter"`
	WorkflowStatusFilter   []string `json:"workflow_status_filter"`
	MaxResults             int32    `json:"max_results"`
}

// DefaultParameters returns the settings used when a trigger omits a value.
// Empty filters match everything.
func DefaultParameters() Parameters {
	return Parameters{
		Subject:    DefaultSubject,
		BodyText:   DefaultBodyText,
		MaxResults: fetcher.DefaultMaxResults,
	}
}

// MergeDefaults layers the trigger's values over DefaultParameters.
func MergeDefaults(t Trigger) Parameters {
	return t.applyTo(DefaultParameters())
}

// applyTo overrides p with every value present in the trigger.
func (t Trigger) applyTo(p Parameters) Parameters {
	if t.Subject != nil {
		p.Subject = *t.Subject
	}
	if t.BodyText != nil {
		p.BodyText = *t.BodyText
	}
	if t.ComplianceStatusFilter != nil {
		p.ComplianceStatusFilter = t.ComplianceStatusFilter
	}
	if t.SecurityStandardFilter != nil {
		p.SecurityStandardFilter = t.SecurityStandardFilter
	}
	if t.SeverityFilter != nil {
		p.SeverityFilter = t.SeverityFilter
	}
	if t.WorkflowStatusFilter != nil {
		p.WorkflowStatusFilter = t.WorkflowStatusFilter
	}
	if t.MaxResults != nil {
		p.MaxResults = *t.MaxResults
	}
	return p
}

// Criteria builds the filter for these parameters.
func (p Parameters) Criteria() *filter.Criteria {
	return filter.New(p.ComplianceStatusFilter, p.SecurityStandardFilter, p.SeverityFilter, p.WorkflowStatusFilter)
}

// State is a step of the export state machine.
type State string

const (
	StateInitializeDefaults   State = "InitializeDefaults"
	StateSetMissingParameters State = "SetMissingParameters"
	StateFetchWithoutCursor   State = "FetchWithoutCursor"
	StateCheckForCursor       State = "CheckForCursor"
	StateFetchWithCursor      State = "FetchWithCursor"
	StateAggregate            State = "Aggregate"
	StateDeliver              State = "Deliver"
	StateDone                 State = "Done"
	StateFailed               State = "Failed"
)

// Terminal reports whether no further step follows s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// ArtifactRef points at the aggregated report.
type ArtifactRef struct {
	Key        string `json:"key"`
	RunKey     string `json:"run_key"`
	Size       int64  `json:"size"`
	Rows       int    `json:"rows"`
	Partitions int    `json:"partitions"`
}

// RunState accumulates everything a run knows. Identity fields are fixed at
// start; cursor, page and partitions advance with each fetch.
type RunState struct {
	RunID      string          `json:"run_id"`
	Namespace  batch.Namespace `json:"namespace"`
	Trigger    Trigger         `json:"trigger"`
	Bucket     string          `json:"bucket"`
	Sender     string          `json:"sender"`
	Recipients []string        `json:"recipients"`
	Params     Parameters      `json:"params"`
	StartedAt  time.Time       `json:"started_at"`

	State      State    `json:"state"`
	Cursor     string   `json:"cursor,omitempty"`
	Page       int      `json:"page"`
	Partitions []string `json:"partitions"`
	Fetched    int      `json:"fetched"`
	Kept       int      `json:"kept"`

	Artifact  *ArtifactRef  `json:"artifact,omitempty"`
	Mode      delivery.Mode `json:"mode,omitempty"`
	MessageID string        `json:"message_id,omitempty"`
	LastError string        `json:"last_error,omitempty"`

	// report is the aggregated body; it is not checkpointed.
	report []byte
}

// StageOutput is what one fetch stage hands to the next.
type StageOutput struct {
	NextCursor string
	Partition  batch.Location
	Fetched    int
	Kept       int
}

// RunResult summarizes a finished run.
type RunResult struct {
	RunID        string          `json:"run_id"`
	Namespace    batch.Namespace `json:"namespace"`
	State        State           `json:"state"`
	Pages        int             `json:"pages"`
	Partitions   int             `json:"partitions"`
	Fetched      int             `json:"fetched"`
	Rows         int             `json:"rows"`
	ArtifactKey  string          `json:"artifact_key,omitempty"`
	ArtifactSize int64           `json:"artifact_size"`
	Mode         delivery.Mode   `json:"mode,omitempty"`
	MessageID    string          `json:"message_id,omitempty"`
	Duration     time.Duration   `json:"duration"`
}

func (s *RunState) result(d time.Duration) *RunResult {
	r := &RunResult{
		RunID:      s.RunID,
		Namespace:  s.Namespace,
		State:      s.State,
		Pages:      s.Page,
		Partitions: len(s.Partitions),
		Fetched:    s.Fetched,
		Mode:       s.Mode,
		MessageID:  s.MessageID,
		Duration:   d,
	}
	if s.Artifact != nil {
		r.Rows = s.Artifact.Rows
		r.ArtifactKey = s.Artifact.Key
		r.ArtifactSize = s.Artifact.Size
	}
	return r
}
