package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"newsrelay/internal/analysis"
	"newsrelay/internal/envelope"
)

// ErrVersionConflict reports an upsert whose expected version was stale.
var ErrVersionConflict = errors.New("storage version conflict")

// Record is a persisted analysis result plus the article fields needed to
// query it later.
type Record struct {
	Result      analysis.Result `json:"result"`
	Title       string          `json:"title"`
	Source      string          `json:"source"`
	URL         string          `json:"url,omitempty"`
	PublishedAt string          `json:"published_at,omitempty"`
	ContentHash string          `json:"content_hash"`
	Version     int64           `json:"version"`
	StoredAt    time.Time       `json:"stored_at"`
}

// NewRecord combines an envelope with its analysis and computes the content hash.
func NewRecord(env envelope.ArticleEnvelope, result analysis.Result) Record {
	result.EnvelopeID = env.ID
	rec := Record{
		Result:      result,
		Title:       env.Title(),
		Source:      env.Source,
		URL:         env.Meta(envelope.MetaURL),
		PublishedAt: env.Meta(envelope.MetaPublishedAt),
	}
	rec.ContentHash = contentHash(rec)
	return rec
}

// contentHash covers everything except timestamps and the version, so an
// identical re-analysis hashes the same.
func contentHash(rec Record) string {
	payload := struct {
		ID          string   `json:"id"`
		Summary     string   `json:"summary"`
		Tags        []string `json:"tags"`
		Confidence  float64  `json:"confidence"`
		Sentiment   string   `json:"sentiment"`
		Facts       []string `json:"facts"`
		Entities    []string `json:"entities"`
		Title       string   `json:"title"`
		Source      string   `json:"source"`
		URL         string   `json:"url"`
		PublishedAt string   `json:"published_at"`
	}{
		ID:          rec.Result.EnvelopeID,
		Summary:     rec.Result.Summary,
		Tags:        rec.Result.Tags,
		Confidence:  rec.Result.Confidence,
		Sentiment:   rec.Result.Sentiment,
		Facts:       rec.Result.Facts,
		Entities:    rec.Result.Entities,
		Title:       rec.Title,
		Source:      rec.Source,
		URL:         rec.URL,
		PublishedAt: rec.PublishedAt,
	}
	data, _ := json.Marshal(payload)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
