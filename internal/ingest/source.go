package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"newsrelay/internal/envelope"
	"newsrelay/internal/services"
)

// Item is one normalized feed document.
type Item struct {
	NativeID    string
	Title       string
	Body        string
	PublishedAt string
	Publication string
	URL         string
	Language    string
	Subjects    []string
	Companies   []string
	Regions     []string
}

// Batch is the result of a single fetch. Cursor is the position to resume
// from once every item has been published; it is empty when the source did
// not move.
type Batch struct {
	Items  []Item
	Cursor string
}

// Source fetches documents newer than cursor.
type Source interface {
	Fetch(ctx context.Context, cursor string, limit int) (Batch, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, cursor string, limit int) (Batch, error)

// Fetch calls f.
func (f SourceFunc) Fetch(ctx context.Context, cursor string, limit int) (Batch, error) {
	return f(ctx, cursor, limit)
}

// RateLimitError reports a rate-limit response. RetryAfter is zero when the
// source did not say.
type RateLimitError struct {
	RetryAfter time.Duration
	Detail     string
}

func (e *RateLimitError) Error() string {
	msg := "source rate limited"
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %s)", e.RetryAfter)
	}
	return msg
}

// Unwrap lets errors.Is match services.ErrRateLimited.
func (e *RateLimitError) Unwrap() error { return services.ErrRateLimited }

// Envelope converts the item into an envelope stamped with fetchedAt.
func (it Item) Envelope(source string, fetchedAt time.Time) (envelope.ArticleEnvelope, error) {
	meta := map[string]string{envelope.MetaNativeID: it.NativeID}
	set := func(key, value string) {
		if value = strings.TrimSpace(value); value != "" {
			meta[key] = value
		}
	}
	set(envelope.MetaTitle, it.Title)
	set(envelope.MetaURL, it.URL)
	set(envelope.MetaPublishedAt, it.PublishedAt)
	set(envelope.MetaPublication, it.Publication)
	set(envelope.MetaLanguage, it.Language)
	set(envelope.MetaSubjects, strings.Join(it.Subjects, ","))
	set(envelope.MetaCompanies, strings.Join(it.Companies, ","))
	set(envelope.MetaRegions, strings.Join(it.Regions, ","))
	return envelope.New(source, it.NativeID, it.Body, fetchedAt, meta)
}
