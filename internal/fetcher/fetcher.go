// Package fetcher retrieves Security Hub findings one page at a time.
package fetcher

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/securityhub"
	shtypes "github.com/aws/aws-sdk-go-v2/service/securityhub/types"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	// DefaultMaxResults is the page size used when none is requested.
	DefaultMaxResults int32 = 100
	// MaxPageSize is the largest page GetFindings accepts.
	MaxPageSize int32 = 100

	// GetFindings is throttled at 3 requests per second with a burst of 6.
	DefaultRate  = 3.0
	DefaultBurst = 6
)

// SecurityHubAPI defines the Security Hub operations used by the fetcher.
type SecurityHubAPI interface {
	GetFindings(ctx context.Context, params *securityhub.GetFindingsInput, optFns ...func(*securityhub.Options)) (*securityhub.GetFindingsOutput, error)
}

// Page is one batch of raw findings plus the cursor for the next batch.
// An empty NextCursor means this was the last page.
type Page struct {
	Entries    []shtypes.AwsSecurityFinding
	NextCursor string
}

// HasMore reports whether more pages exist upstream.
func (p Page) HasMore() bool {
	return p.NextCursor != ""
}

// Config holds fetcher configuration.
type Config struct {
	Rate  float64
	Burst int
}

// Fetcher wraps GetFindings pagination.
type Fetcher struct {
	client  SecurityHubAPI
	limiter *rate.Limiter
}

// New creates a Fetcher. Zero config values fall back to the API throttling defaults.
func New(client SecurityHubAPI, cfg Config) *Fetcher {
	if cfg.Rate <= 0 {
		cfg.Rate = DefaultRate
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultBurst
	}
	return &Fetcher{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst),
	}
}

// FetchPage returns one page of findings. Pass an empty cursor for the first page.
// Errors from the API are returned unchanged apart from wrapping; retries are the caller's job.
func (f *Fetcher) FetchPage(ctx context.Context, maxResults int32, cursor string) (Page, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return Page{}, fmt.Errorf("wait for rate limiter: %w", err)
	}

	input := &securityhub.GetFindingsInput{
		MaxResults: aws.Int32(clampPageSize(maxResults)),
	}
	if cursor != "" {
		input.NextToken = aws.String(cursor)
	}

	log.Ctx(ctx).Debug().
		Int32("max_results", *input.MaxResults).
		Bool("with_cursor", cursor != "").
		Msg("fetching findings")

	output, err := f.client.GetFindings(ctx, input)
	if err != nil {
		return Page{}, fmt.Errorf("get findings: %w", err)
	}

	page := Page{
		Entries:    output.Findings,
		NextCursor: aws.ToString(output.NextToken),
	}

	log.Ctx(ctx).Info().
		Int("findings", len(page.Entries)).
		Bool("has_more", page.HasMore()).
		Msg("fetched findings page")

	return page, nil
}

func clampPageSize(n int32) int32 {
	if n <= 0 {
		return DefaultMaxResults
	}
	if n > MaxPageSize {
		return MaxPageSize
	}
	return n
}
