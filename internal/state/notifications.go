package state

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

const notificationsTable = "notification_records"

// GetNotification returns the notification record for envelopeID, or nil.
func (s *Store) GetNotification(ctx context.Context, envelopeID string) (*NotificationRecord, error) {
	row, err := s.queryRow(ctx, s.sb.Select("envelope_id", "channel", "delivered_at", "status").
		From(notificationsTable).
		Where(sq.Eq{"envelope_id": envelopeID}))
	if err != nil {
		return nil, err
	}
	var (
		rec       NotificationRecord
		delivered string
	)
	if err := row.Scan(&rec.EnvelopeID, &rec.Channel, &delivered, &rec.Status); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get notification %s: %w", envelopeID, err)
	}
	rec.DeliveredAt = parseTime(delivered)
	return &rec, nil
}

// PutNotification stores rec unless a record for the envelope already
// exists, in which case the existing record is returned with created=false.
func (s *Store) PutNotification(ctx context.Context, rec NotificationRecord) (NotificationRecord, bool, error) {
	if rec.DeliveredAt.IsZero() {
		rec.DeliveredAt, _ = s.timestamp()
	}
	if rec.Status == "" {
		rec.Status = NotificationDelivered
	}
	res, err := s.exec(ctx, s.sb.Insert(notificationsTable).
		Columns("envelope_id", "channel", "delivered_at", "status").
		Values(rec.EnvelopeID, rec.Channel, formatTime(rec.DeliveredAt), rec.Status).
		Suffix("ON CONFLICT (envelope_id) DO NOTHING"))
	if err != nil {
		return NotificationRecord{}, false, fmt.Errorf("put notification %s: %w", rec.EnvelopeID, err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return NotificationRecord{}, false, err
	}
	if n == 1 {
		rec.DeliveredAt = rec.DeliveredAt.UTC()
		return rec, true, nil
	}
	existing, err := s.GetNotification(ctx, rec.EnvelopeID)
	if err != nil {
		return NotificationRecord{}, false, err
	}
	if existing == nil {
		return NotificationRecord{}, false, fmt.Errorf("put notification %s: row missing after conflict", rec.EnvelopeID)
	}
	return *existing, false, nil
}
