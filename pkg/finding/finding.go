// Package finding defines the normalized Security Hub finding model for hubexport.
package finding

import (
	"fmt"
	"strings"
)

// Record is the normalized projection of a Security Hub finding.
// Records are produced by the filter engine and never mutated afterwards.
type Record struct {
	AccountID         string   `json:"accountId"`
	AccountName       string   `json:"accountName"`
	ComplianceStatus  string   `json:"complianceStatus"`
	ControlID         string   `json:"controlId"`
	Description       string   `json:"description"`
	FindingID         string   `json:"findingId"`
	FirstSeen         string   `json:"firstSeen"`
	LastSeen          string   `json:"lastSeen"`
	Region            string   `json:"region"`
	RemediationText   string   `json:"remediationText"`
	RemediationURL    string   `json:"remediationUrl"`
	ResourceARN       string   `json:"resourceArn"`
	Severity          string   `json:"severity"`
	Title             string   `json:"title"`
	WorkflowStatus    string   `json:"workflowStatus"`
	SecurityStandards []string `json:"securityStandards"`
}

// Columns is the fixed CSV column order of the findings report.
var Columns = []string{
	"accountId",
	"accountName",
	"complianceStatus",
	"controlId",
	"description",
	"findingId",
	"firstSeen",
	"lastSeen",
	"region",
	"remediationText",
	"remediationUrl",
	"resourceArn",
	"severity",
	"title",
	"workflowStatus",
	"securityStandards",
}

// StandardsSeparator joins security standards into a single CSV cell.
const StandardsSeparator = ", "

// Row returns the record as CSV cells in Columns order.
func (r Record) Row() []string {
	return []string{
		r.AccountID,
		r.AccountName,
		r.ComplianceStatus,
		r.ControlID,
		r.Description,
		r.FindingID,
		r.FirstSeen,
		r.LastSeen,
		r.Region,
		r.RemediationText,
		r.RemediationURL,
		r.ResourceARN,
		r.Severity,
		r.Title,
		r.WorkflowStatus,
		JoinStandards(r.SecurityStandards),
	}
}

// FromRow parses CSV cells in Columns order back into a Record.
func FromRow(row []string) (Record, error) {
	if len(row) != len(Columns) {
		return Record{}, fmt.Errorf("row has %d columns, want %d", len(row), len(Columns))
	}
	return Record{
		AccountID:         row[0],
		AccountName:       row[1],
		ComplianceStatus:  row[2],
		ControlID:         row[3],
		Description:       row[4],
		FindingID:         row[5],
		FirstSeen:         row[6],
		LastSeen:          row[7],
		Region:            row[8],
		RemediationText:   row[9],
		RemediationURL:    row[10],
		ResourceARN:       row[11],
		Severity:          row[12],
		Title:             row[13],
		WorkflowStatus:    row[14],
		SecurityStandards: SplitStandards(row[15]),
	}, nil
}

// JoinStandards flattens standards into one delimited string.
func JoinStandards(standards []string) string {
	return strings.Join(standards, StandardsSeparator)
}

// SplitStandards reverses JoinStandards. An empty cell yields an empty, non-nil slice.
func SplitStandards(cell string) []string {
	standards := []string{}
	for _, s := range strings.Split(cell, ",") {
		if s = strings.TrimSpace(s); s != "" {
			standards = append(standards, s)
		}
	}
	return standards
}
