package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/hubexport/internal/clock"
	"github.com/yairfalse/hubexport/internal/store"
)

// ErrDelivery is returned when the email could not be sent.
var ErrDelivery = errors.New("delivery failed")

// DefaultLinkExpiry is how long download links stay valid.
const DefaultLinkExpiry = 84600 * time.Second

// Mailer defines the SES operation used to send reports.
type Mailer interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Presigner creates download links for stored reports.
type Presigner interface {
	PresignGet(ctx context.Context, bucket, key string, expiry time.Duration) (string, error)
}

// Message is one report delivery.
type Message struct {
	Sender     string
	Recipients []string
	Subject    string
	BodyText   string

	Bucket string
	Key    string
	Size   int64
	Report []byte // used by inline delivery only
}

// Receipt describes a sent message.
type Receipt struct {
	Mode      Mode
	MessageID string
	URL       string // link delivery only
}

// Config holds notifier settings.
type Config struct {
	LinkExpiry time.Duration
}

// Notifier composes and sends report emails.
type Notifier struct {
	mailer     Mailer
	presigner  Presigner
	clock      clock.Clock
	linkExpiry time.Duration
	linkBody   *template.Template
}

const linkBodyTemplate = `Hello,

{{ .BodyText | trim }}

The findings report is too large to attach. You can download it using the following link:

Download link: {{ .URL }}
File size: {{ .Size }}
Bucket: {{ .Bucket }}
Key: {{ .Key }}

The link expires in {{ .Expiry }} (at {{ dateInZone "2006-01-02 15:04 MST" .ExpiresAt "UTC" }}). Please download the file before then.
`

type linkBodyData struct {
	BodyText  string
	URL       string
	Size      string
	Bucket    string
	Key       string
	Expiry    string
	ExpiresAt time.Time
}

// NewNotifier creates a Notifier.
func NewNotifier(mailer Mailer, presigner Presigner, clk clock.Clock, cfg Config) *Notifier {
	if cfg.LinkExpiry <= 0 {
		cfg.LinkExpiry = DefaultLinkExpiry
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Notifier{
		mailer:     mailer,
		presigner:  presigner,
		clock:      clk,
		linkExpiry: cfg.LinkExpiry,
		linkBody:   template.Must(template.New("link").Funcs(sprig.TxtFuncMap()).Parse(linkBodyTemplate)),
	}
}

// Deliver sends msg using mode.
func (n *Notifier) Deliver(ctx context.Context, msg Message, mode Mode) (Receipt, error) {
	switch mode {
	case ModeInline:
		return n.SendInline(ctx, msg)
	case ModeLink:
		return n.SendLink(ctx, msg)
	default:
		return Receipt{}, fmt.Errorf("%w: unknown mode %q", ErrDelivery, mode)
	}
}

// AttachmentName returns the attachment filename for reports sent at t.
func AttachmentName(t time.Time) string {
	return "securityhub-findings-" + t.Format("01022006") + ".csv"
}

// SendInline emails the report as a CSV attachment.
func (n *Notifier) SendInline(ctx context.Context, msg Message) (Receipt, error) {
	raw, err := rawMessage{
		From:       msg.Sender,
		To:         msg.Recipients,
		Subject:    msg.Subject,
		Body:       msg.BodyText,
		Filename:   AttachmentName(n.clock.Now()),
		Attachment: msg.Report,
	}.encode()
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: %v", ErrDelivery, err)
	}

	id, err := n.send(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.Sender),
		Destination:      &sestypes.Destination{ToAddresses: msg.Recipients},
		Content:          &sestypes.EmailContent{Raw: &sestypes.RawMessage{Data: raw}},
	})
	if err != nil {
		return Receipt{}, err
	}

	log.Ctx(ctx).Info().
		Str("message_id", id).
		Strs("recipients", msg.Recipients).
		Int("attachment_bytes", len(msg.Report)).
		Msg("report sent as attachment")

	return Receipt{Mode: ModeInline, MessageID: id}, nil
}

// SendLink emails a pre-signed download link to the stored report.
func (n *Notifier) SendLink(ctx context.Context, msg Message) (Receipt, error) {
	url, err := n.presigner.PresignGet(ctx, msg.Bucket, msg.Key, n.linkExpiry)
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: %v", ErrDelivery, err)
	}

	body, err := n.renderLinkBody(msg, url)
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: %v", ErrDelivery, err)
	}

	id, err := n.send(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.Sender),
		Destination:      &sestypes.Destination{ToAddresses: msg.Recipients},
		Content: &sestypes.EmailContent{Simple: &sestypes.Message{
			Subject: &sestypes.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
			Body: &sestypes.Body{
				Text: &sestypes.Content{Data: aws.String(body), Charset: aws.String("UTF-8")},
			},
		}},
	})
	if err != nil {
		return Receipt{}, err
	}

	log.Ctx(ctx).Info().
		Str("message_id", id).
		Strs("recipients", msg.Recipients).
		Str("report", store.URI(msg.Bucket, msg.Key)).
		Dur("link_expiry", n.linkExpiry).
		Msg("report link sent")

	return Receipt{Mode: ModeLink, MessageID: id, URL: url}, nil
}

func (n *Notifier) renderLinkBody(msg Message, url string) (string, error) {
	var buf bytes.Buffer
	err := n.linkBody.Execute(&buf, linkBodyData{
		BodyText:  msg.BodyText,
		URL:       url,
		Size:      humanize.IBytes(uint64(max(msg.Size, 0))),
		Bucket:    msg.Bucket,
		Key:       msg.Key,
		Expiry:    n.linkExpiry.String(),
		ExpiresAt: n.clock.Now().Add(n.linkExpiry).UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("render link body: %w", err)
	}
	return buf.String(), nil
}

func (n *Notifier) send(ctx context.Context, input *sesv2.SendEmailInput) (string, error) {
	out, err := n.mailer.SendEmail(ctx, input)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).
			Str("sender", aws.ToString(input.FromEmailAddress)).
			Msg("send email failed")
		return "", fmt.Errorf("%w: send email: %v", ErrDelivery, err)
	}
	return aws.ToString(out.MessageId), nil
}

// LogMailer logs messages instead of sending them. Used for dry runs.
type LogMailer struct{}

// SendEmail logs the destination and returns a synthetic message id.
func (LogMailer) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	var to []string
	if params.Destination != nil {
		to = params.Destination.ToAddresses
	}
	kind := "simple"
	if params.Content != nil && params.Content.Raw != nil {
		kind = "raw"
	}
	log.Ctx(ctx).Info().
		Str("from", aws.ToString(params.FromEmailAddress)).
		Str("to", strings.Join(to, ", ")).
		Str("content", kind).
		Msg("dry run: email not sent")
	return &sesv2.SendEmailOutput{MessageId: aws.String("dry-run")}, nil
}
