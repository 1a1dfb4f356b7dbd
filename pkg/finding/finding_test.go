package finding

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestColumns_FixedOrder(t *testing.T) {
	require.Len(t, Columns, 16)
	assert.Equal(t, "accountId", Columns[0])
	assert.Equal(t, "securityStandards", Columns[15])
}

func TestRow_MatchesColumns(t *testing.T) {
	r := Record{
		AccountID:         "123456789012",
		Severity:          "HIGH",
		SecurityStandards: []string{"pci-dss", "nist-800-53"},
	}
	row := r.Row()

	require.Len(t, row, len(Columns))
	assert.Equal(t, "123456789012", row[0])
	assert.Equal(t, "HIGH", row[12])
	assert.Equal(t, "pci-dss, nist-800-53", row[15])
}

func TestFromRow_RoundTripsStandards(t *testing.T) {
	original := Record{
		FindingID: "arn:aws:securityhub:us-east-1:123456789012:subscription/pci-dss/v/3.2.1/PCI.S3.1/finding/abc",
		SecurityStandards: []string{
			"aws-foundational-security-best-practices",
			"cis-aws-foundations-benchmark",
			"pci-dss",
		},
	}

	back, err := FromRow(original.Row())
	require.NoError(t, err)
	assert.ElementsMatch(t, original.SecurityStandards, back.SecurityStandards)
	assert.Equal(t, original.FindingID, back.FindingID)
}

func TestFromRow_WrongWidth(t *testing.T) {
	_, err := FromRow([]string{"a", "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 columns")
}

func TestSplitStandards_Empty(t *testing.T) {
	s := SplitStandards("")
	assert.NotNil(t, s)
	assert.Empty(t, s)
}

func TestStandardsFromID(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want []string
	}{
		{"none", "arn:aws:securityhub:us-east-1::product/aws/guardduty/finding/1", []string{}},
		{"fsbp", "arn:aws:securityhub:us-east-1:1:subscription/aws-foundational-security-best-practices/v/1.0.0/S3.1/finding/x", []string{"aws-foundational-security-best-practices"}},
		{"cis and pci keep list order", "pci-dss/cis-aws-foundations-benchmark", []string{"cis-aws-foundations-benchmark", "pci-dss"}},
		{"empty id", "", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StandardsFromID(tt.id))
		})
	}
}

func TestRecord_JSONKeys(t *testing.T) {
	data, err := json.Marshal(Record{FindingID: "f-1", SecurityStandards: []string{}})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"findingId":"f-1"`)
	assert.Contains(t, string(data), `"securityStandards":[]`)
}
