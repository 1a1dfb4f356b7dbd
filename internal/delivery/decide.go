// Package delivery decides how a findings report is delivered and sends it by email.
package delivery

// Mode is how the report reaches recipients.
type Mode string

const (
	// ModeInline attaches the report to the email.
	ModeInline Mode = "inline"
	// ModeLink sends a time-limited download link instead of the report.
	ModeLink Mode = "link"
)

// MaxAttachmentBytes is the largest report sent as an attachment.
const MaxAttachmentBytes int64 = 10 * 1024 * 1024

// Decide picks the delivery mode for a report of sizeBytes.
func Decide(sizeBytes int64) Mode {
	if sizeBytes > MaxAttachmentBytes {
		return ModeLink
	}
	return ModeInline
}
