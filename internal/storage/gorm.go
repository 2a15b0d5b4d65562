package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"newsrelay/internal/analysis"
	"newsrelay/internal/dbutil"
)

// articleRow is the table layout of a stored record.
type articleRow struct {
	EnvelopeID   string `gorm:"primaryKey"`
	Title        string
	Source       string `gorm:"index"`
	URL          string
	PublishedAt  string
	Summary      string
	TagsJSON     string
	Confidence   float64
	Sentiment    string `gorm:"index"`
	FactsJSON    string
	EntitiesJSON string
	AnalyzedAt   time.Time
	ContentHash  string
	Version      int64
	StoredAt     time.Time `gorm:"index"`
}

func (articleRow) TableName() string { return "stored_articles" }

// GormBackend stores records in SQLite through gorm. The connection is the
// pure-Go modernc driver shared with the rest of the module.
type GormBackend struct {
	db  *gorm.DB
	now func() time.Time
}

// OpenGorm opens or creates the article database at path.
func OpenGorm(path string) (*GormBackend, error) {
	sqlDB, err := dbutil.OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(&sqlite.Dialector{Conn: sqlDB}, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("open article store: %w", err)
	}
	if err := db.AutoMigrate(&articleRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate article store: %w", err)
	}
	return &GormBackend{db: db, now: time.Now}, nil
}

// Close closes the underlying connection.
func (g *GormBackend) Close() error {
	if g == nil || g.db == nil {
		return nil
	}
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (g *GormBackend) Get(ctx context.Context, id string) (Record, bool, error) {
	var row articleRow
	err := g.db.WithContext(ctx).Where("envelope_id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("get article %s: %w", id, err)
	}
	rec, err := row.record()
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

func (g *GormBackend) Upsert(ctx context.Context, id string, rec Record, expectedVersion int64) (int64, error) {
	row, err := newArticleRow(id, rec)
	if err != nil {
		return 0, err
	}
	row.Version = expectedVersion + 1
	row.StoredAt = g.now().UTC()

	var tx *gorm.DB
	if expectedVersion == 0 {
		tx = g.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	} else {
		tx = g.db.WithContext(ctx).
			Model(&articleRow{}).
			Where("envelope_id = ? AND version = ?", id, expectedVersion).
			Select("*").
			Updates(&row)
	}
	if tx.Error != nil {
		return 0, fmt.Errorf("upsert article %s: %w", id, tx.Error)
	}
	if tx.RowsAffected == 0 {
		return 0, fmt.Errorf("%w: %s expected version %d", ErrVersionConflict, id, expectedVersion)
	}
	return row.Version, nil
}

func (g *GormBackend) List(ctx context.Context, limit int) ([]Record, error) {
	var rows []articleRow
	query := g.db.WithContext(ctx).Order("stored_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (g *GormBackend) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := g.db.WithContext(ctx).Model(&articleRow{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count articles: %w", err)
	}
	return n, nil
}

func newArticleRow(id string, rec Record) (articleRow, error) {
	tags, err := json.Marshal(nonNil(rec.Result.Tags))
	if err != nil {
		return articleRow{}, fmt.Errorf("encode tags: %w", err)
	}
	facts, err := json.Marshal(nonNil(rec.Result.Facts))
	if err != nil {
		return articleRow{}, fmt.Errorf("encode facts: %w", err)
	}
	entities, err := json.Marshal(nonNil(rec.Result.Entities))
	if err != nil {
		return articleRow{}, fmt.Errorf("encode entities: %w", err)
	}
	return articleRow{
		EnvelopeID:   id,
		Title:        rec.Title,
		Source:       rec.Source,
		URL:          rec.URL,
		PublishedAt:  rec.PublishedAt,
		Summary:      rec.Result.Summary,
		TagsJSON:     string(tags),
		Confidence:   rec.Result.Confidence,
		Sentiment:    rec.Result.Sentiment,
		FactsJSON:    string(facts),
		EntitiesJSON: string(entities),
		AnalyzedAt:   rec.Result.AnalyzedAt.UTC(),
		ContentHash:  rec.ContentHash,
	}, nil
}

func (r articleRow) record() (Record, error) {
	result := analysis.Result{
		EnvelopeID: r.EnvelopeID,
		Summary:    r.Summary,
		Confidence: r.Confidence,
		Sentiment:  r.Sentiment,
		AnalyzedAt: r.AnalyzedAt.UTC(),
	}
	for _, field := range []struct {
		raw string
		dst *[]string
	}{
		{r.TagsJSON, &result.Tags},
		{r.FactsJSON, &result.Facts},
		{r.EntitiesJSON, &result.Entities},
	} {
		if field.raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(field.raw), field.dst); err != nil {
			return Record{}, fmt.Errorf("decode article %s: %w", r.EnvelopeID, err)
		}
	}
	return Record{
		Result:      result,
		Title:       r.Title,
		Source:      r.Source,
		URL:         r.URL,
		PublishedAt: r.PublishedAt,
		ContentHash: r.ContentHash,
		Version:     r.Version,
		StoredAt:    r.StoredAt.UTC(),
	}, nil
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
