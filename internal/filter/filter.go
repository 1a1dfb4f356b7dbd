// Package filter normalizes and filters Security Hub findings for hubexport.
package filter

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	shtypes "github.com/aws/aws-sdk-go-v2/service/securityhub/types"

	"github.com/yairfalse/hubexport/pkg/finding"
)

// Criteria selects which findings are exported.
// Each dimension is a set of accepted values; an empty set accepts everything.
// A finding passes when it matches every non-empty dimension.
type Criteria struct {
	complianceStatus map[string]bool
	securityStandard map[string]bool
	severity         map[string]bool
	workflowStatus   map[string]bool
}

// New creates Criteria from the four optional value lists.
func New(complianceStatus, securityStandard, severity, workflowStatus []string) *Criteria {
	return &Criteria{
		complianceStatus: toSet(complianceStatus),
		securityStandard: toSet(securityStandard),
		severity:         toSet(severity),
		workflowStatus:   toSet(workflowStatus),
	}
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

// IsEmpty returns true if no dimension is constrained.
func (c *Criteria) IsEmpty() bool {
	return len(c.complianceStatus) == 0 && len(c.securityStandard) == 0 &&
		len(c.severity) == 0 && len(c.workflowStatus) == 0
}

// Match reports whether a normalized record passes the criteria.
func (c *Criteria) Match(r finding.Record) bool {
	if !matchValue(c.severity, r.Severity) {
		return false
	}
	if !matchValue(c.complianceStatus, r.ComplianceStatus) {
		return false
	}
	if !matchValue(c.workflowStatus, r.WorkflowStatus) {
		return false
	}
	if len(c.securityStandard) > 0 {
		for _, s := range r.SecurityStandards {
			if c.securityStandard[s] {
				return true
			}
		}
		return false
	}
	return true
}

func matchValue(set map[string]bool, v string) bool {
	return len(set) == 0 || set[v]
}

// Normalize projects a raw finding onto a Record. Missing nested fields become empty values.
func Normalize(raw shtypes.AwsSecurityFinding) finding.Record {
	id := aws.ToString(raw.Id)
	r := finding.Record{
		AccountID:         aws.ToString(raw.AwsAccountId),
		AccountName:       aws.ToString(raw.AwsAccountName),
		ControlID:         raw.ProductFields["ControlId"],
		Description:       aws.ToString(raw.Description),
		FindingID:         id,
		FirstSeen:         aws.ToString(raw.FirstObservedAt),
		LastSeen:          aws.ToString(raw.LastObservedAt),
		Region:            aws.ToString(raw.Region),
		Title:             aws.ToString(raw.Title),
		SecurityStandards: finding.StandardsFromID(id),
	}
	if raw.Compliance != nil {
		r.ComplianceStatus = string(raw.Compliance.Status)
	}
	if raw.Remediation != nil && raw.Remediation.Recommendation != nil {
		r.RemediationText = aws.ToString(raw.Remediation.Recommendation.Text)
		r.RemediationURL = aws.ToString(raw.Remediation.Recommendation.Url)
	}
	if len(raw.Resources) > 0 {
		r.ResourceARN = aws.ToString(raw.Resources[0].Id)
	}
	if raw.Severity != nil {
		r.Severity = string(raw.Severity.Label)
	}
	if raw.Workflow != nil {
		r.WorkflowStatus = string(raw.Workflow.Status)
	}
	return r
}

// Apply normalizes entries and returns those passing the criteria, in input order.
func Apply(entries []shtypes.AwsSecurityFinding, c *Criteria) []finding.Record {
	records := make([]finding.Record, 0, len(entries))
	for _, e := range entries {
		r := Normalize(e)
		if c == nil || c.Match(r) {
			records = append(records, r)
		}
	}
	return records
}
