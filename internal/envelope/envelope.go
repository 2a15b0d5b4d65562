package envelope

import (
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"

	"newsrelay/internal/services"
)

// namespace scopes envelope ids so they never collide with other UUIDv5 users.
var namespace = uuid.MustParse("6f1c2a8e-4b7d-5e3f-9a21-0c5d8b7e4f10")

// ArticleEnvelope is the immutable unit of work. Callers must treat it as a
// value: Clone before mutating metadata.
type ArticleEnvelope struct {
	ID         string            `json:"id"`
	Source     string            `json:"source"`
	FetchedAt  time.Time         `json:"fetched_at"`
	RawContent string            `json:"raw_content"`
	Metadata   map[string]string `json:"metadata"`
}

// QueueMessage wraps an envelope with delivery bookkeeping.
type QueueMessage struct {
	Envelope        ArticleEnvelope
	DeliveryAttempt int
	TraceID         string
}

// NewID derives the envelope id for a native article id from source.
func NewID(source, nativeID string) string {
	key := strings.TrimSpace(source) + "\x00" + strings.TrimSpace(nativeID)
	return uuid.NewSHA1(namespace, []byte(key)).String()
}

// New builds a validated envelope. The metadata map is copied.
func New(source, nativeID, rawContent string, fetchedAt time.Time, metadata map[string]string) (ArticleEnvelope, error) {
	if strings.TrimSpace(nativeID) == "" {
		return ArticleEnvelope{}, services.Wrap(services.ErrMalformedData, "envelope", "new", "native id is empty", nil)
	}
	env := ArticleEnvelope{
		ID:         NewID(source, nativeID),
		Source:     strings.TrimSpace(source),
		FetchedAt:  fetchedAt.UTC(),
		RawContent: rawContent,
		Metadata:   maps.Clone(metadata),
	}
	if env.Metadata == nil {
		env.Metadata = map[string]string{}
	}
	if err := env.Validate(); err != nil {
		return ArticleEnvelope{}, err
	}
	return env, nil
}

// Validate checks the semantic rules the schema cannot express.
func (e ArticleEnvelope) Validate() error {
	var problems []string
	if strings.TrimSpace(e.ID) == "" {
		problems = append(problems, "id is empty")
	} else if _, err := uuid.Parse(e.ID); err != nil {
		problems = append(problems, "id is not a uuid")
	}
	if strings.TrimSpace(e.Source) == "" {
		problems = append(problems, "source is empty")
	}
	if strings.TrimSpace(e.RawContent) == "" {
		problems = append(problems, "raw_content is empty")
	}
	if e.FetchedAt.IsZero() {
		problems = append(problems, "fetched_at is zero")
	}
	if len(problems) == 0 {
		return nil
	}
	return services.Wrap(services.ErrMalformedData, "envelope", "validate", strings.Join(problems, "; "), nil)
}

// Clone returns a copy whose metadata map can be modified freely.
func (e ArticleEnvelope) Clone() ArticleEnvelope {
	e.Metadata = maps.Clone(e.Metadata)
	return e
}

// Meta returns a metadata value or the empty string.
func (e ArticleEnvelope) Meta(key string) string {
	return e.Metadata[key]
}

// Title is a convenience accessor for the most commonly rendered field.
func (e ArticleEnvelope) Title() string {
	if title := strings.TrimSpace(e.Metadata[MetaTitle]); title != "" {
		return title
	}
	return fmt.Sprintf("article %s", e.ID)
}

// Well-known metadata keys set by the producer.
const (
	MetaNativeID    = "native_id"
	MetaTitle       = "title"
	MetaURL         = "url"
	MetaPublishedAt = "published_at"
	MetaPublication = "publication"
	MetaLanguage    = "language"
	MetaSubjects    = "subjects"
	MetaCompanies   = "companies"
	MetaRegions     = "regions"
)

var errNilPayload = errors.New("payload is empty")
