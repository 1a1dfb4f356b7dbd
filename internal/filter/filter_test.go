package filter

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	shtypes "github.com/aws/aws-sdk-go-v2/service/securityhub/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawFinding(id, severity, compliance, workflow string) shtypes.AwsSecurityFinding {
	return shtypes.AwsSecurityFinding{
		Id:         aws.String(id),
		Severity:   &shtypes.Severity{Label: shtypes.SeverityLabel(severity)},
		Compliance: &shtypes.Compliance{Status: shtypes.ComplianceStatus(compliance)},
		Workflow:   &shtypes.Workflow{Status: shtypes.WorkflowStatus(workflow)},
	}
}

func TestNormalize_AllFields(t *testing.T) {
	raw := shtypes.AwsSecurityFinding{
		AwsAccountId:    aws.String("123456789012"),
		AwsAccountName:  aws.String("prod"),
		Compliance:      &shtypes.Compliance{Status: shtypes.ComplianceStatusFailed},
		ProductFields:   map[string]string{"ControlId": "S3.1"},
		Description:     aws.String("S3 Block Public Access should be enabled"),
		Id:              aws.String("arn:aws:securityhub:us-east-1:123456789012:subscription/aws-foundational-security-best-practices/v/1.0.0/S3.1/finding/1"),
		FirstObservedAt: aws.String("2024-01-01T00:00:00Z"),
		LastObservedAt:  aws.String("2024-02-01T00:00:00Z"),
		Region:          aws.String("us-east-1"),
		Remediation: &shtypes.Remediation{Recommendation: &shtypes.Recommendation{
			Text: aws.String("Enable it"),
			Url:  aws.String("https://docs.aws.amazon.com/s3.1"),
		}},
		Resources: []shtypes.Resource{{Id: aws.String("arn:aws:s3:::bucket")}},
		Severity:  &shtypes.Severity{Label: shtypes.SeverityLabelMedium},
		Title:     aws.String("S3.1 S3 Block Public Access"),
		Workflow:  &shtypes.Workflow{Status: shtypes.WorkflowStatusNew},
	}

	r := Normalize(raw)

	assert.Equal(t, "123456789012", r.AccountID)
	assert.Equal(t, "prod", r.AccountName)
	assert.Equal(t, "FAILED", r.ComplianceStatus)
	assert.Equal(t, "S3.1", r.ControlID)
	assert.Equal(t, "us-east-1", r.Region)
	assert.Equal(t, "Enable it", r.RemediationText)
	assert.Equal(t, "https://docs.aws.amazon.com/s3.1", r.RemediationURL)
	assert.Equal(t, "arn:aws:s3:::bucket", r.ResourceARN)
	assert.Equal(t, "MEDIUM", r.Severity)
	assert.Equal(t, "NEW", r.WorkflowStatus)
	assert.Equal(t, []string{"aws-foundational-security-best-practices"}, r.SecurityStandards)
}

func TestNormalize_MissingFieldsDefaultEmpty(t *testing.T) {
	r := Normalize(shtypes.AwsSecurityFinding{})

	assert.Empty(t, r.AccountID)
	assert.Empty(t, r.ComplianceStatus)
	assert.Empty(t, r.ControlID)
	assert.Empty(t, r.RemediationText)
	assert.Empty(t, r.ResourceARN)
	assert.Empty(t, r.Severity)
	assert.Empty(t, r.WorkflowStatus)
	assert.NotNil(t, r.SecurityStandards)
	assert.Empty(t, r.SecurityStandards)
}

func TestNormalize_RemediationWithoutRecommendation(t *testing.T) {
	r := Normalize(shtypes.AwsSecurityFinding{Remediation: &shtypes.Remediation{}})
	assert.Empty(t, r.RemediationText)
	assert.Empty(t, r.RemediationURL)
}

func TestMatch_Matrix(t *testing.T) {
	critFailedNew := Normalize(rawFinding("x/pci-dss/1", "CRITICAL", "FAILED", "NEW"))
	lowPassedResolved := Normalize(rawFinding("x/nist-800-53/2", "LOW", "PASSED", "RESOLVED"))
	highFailedNotified := Normalize(rawFinding("x/pci-dss/cis-aws-foundations-benchmark/3", "HIGH", "FAILED", "NOTIFIED"))

	tests := []struct {
		name     string
		criteria *Criteria
		want     [3]bool
	}{
		{"no criteria matches all", New(nil, nil, nil, nil), [3]bool{true, true, true}},
		{"empty lists match all", New([]string{}, []string{}, []string{}, []string{}), [3]bool{true, true, true}},
		{"severity single", New(nil, nil, []string{"CRITICAL"}, nil), [3]bool{true, false, false}},
		{"severity OR", New(nil, nil, []string{"CRITICAL", "HIGH"}, nil), [3]bool{true, false, true}},
		{"compliance", New([]string{"FAILED"}, nil, nil, nil), [3]bool{true, false, true}},
		{"workflow", New(nil, nil, nil, []string{"RESOLVED"}), [3]bool{false, true, false}},
		{"standard", New(nil, []string{"pci-dss"}, nil, nil), [3]bool{true, false, true}},
		{"standard OR", New(nil, []string{"nist-800-53", "cis-aws-foundations-benchmark"}, nil, nil), [3]bool{false, true, true}},
		{"AND across dimensions", New([]string{"FAILED"}, nil, []string{"HIGH", "LOW"}, nil), [3]bool{false, false, true}},
		{"all four", New([]string{"FAILED"}, []string{"pci-dss"}, []string{"CRITICAL"}, []string{"NEW"}), [3]bool{true, false, false}},
		{"unmatched value", New(nil, nil, []string{"INFORMATIONAL"}, nil), [3]bool{false, false, false}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want[0], tt.criteria.Match(critFailedNew))
			assert.Equal(t, tt.want[1], tt.criteria.Match(lowPassedResolved))
			assert.Equal(t, tt.want[2], tt.criteria.Match(highFailedNotified))
		})
	}
}

func TestMatch_StandardFilterWithoutTags(t *testing.T) {
	c := New(nil, []string{"pci-dss"}, nil, nil)
	assert.False(t, c.Match(Normalize(rawFinding("no-standard", "HIGH", "FAILED", "NEW"))))
}

func TestApply_PreservesOrder(t *testing.T) {
	entries := []shtypes.AwsSecurityFinding{
		rawFinding("1", "CRITICAL", "FAILED", "NEW"),
		rawFinding("2", "LOW", "FAILED", "NEW"),
		rawFinding("3", "CRITICAL", "FAILED", "NEW"),
		rawFinding("4", "CRITICAL", "PASSED", "NEW"),
	}

	out := Apply(entries, New(nil, nil, []string{"CRITICAL"}, nil))

	require.Len(t, out, 3)
	assert.Equal(t, "1", out[0].FindingID)
	assert.Equal(t, "3", out[1].FindingID)
	assert.Equal(t, "4", out[2].FindingID)
}

func TestApply_Deterministic(t *testing.T) {
	entries := []shtypes.AwsSecurityFinding{
		rawFinding("a", "HIGH", "FAILED", "NEW"),
		rawFinding("b", "HIGH", "PASSED", "NEW"),
	}
	c := New([]string{"FAILED"}, nil, nil, nil)
	assert.Equal(t, Apply(entries, c), Apply(entries, c))
}

func TestApply_EmptyPage(t *testing.T) {
	out := Apply(nil, New(nil, nil, nil, nil))
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

func TestApply_NilCriteria(t *testing.T) {
	out := Apply([]shtypes.AwsSecurityFinding{rawFinding("1", "LOW", "", "")}, nil)
	assert.Len(t, out, 1)
}

func TestIsEmpty(t *testing.T) {
	assert.True(t, New(nil, nil, nil, nil).IsEmpty())
	assert.False(t, New(nil, nil, []string{"LOW"}, nil).IsEmpty())
}
