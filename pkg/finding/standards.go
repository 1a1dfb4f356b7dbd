package finding

import "strings"

// KnownStandards lists the security standards recognised in finding identifiers, in tagging order.
var KnownStandards = []string{
	"aws-foundational-security-best-practices",
	"aws-resource-tagging-standard",
	"cis-aws-foundations-benchmark",
	"nist-800-53",
	"pci-dss",
}

// StandardsFromID returns the known standards whose name occurs in the finding identifier.
// Tagging relies on Security Hub embedding the standard name in the finding ARN.
func StandardsFromID(findingID string) []string {
	standards := []string{}
	for _, s := range KnownStandards {
		if strings.Contains(findingID, s) {
			standards = append(standards, s)
		}
	}
	return standards
}
