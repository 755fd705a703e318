package postgres

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	paydomain "github.com/cargoquote/payments/internal/payment/domain"
	whdomain "github.com/cargoquote/payments/internal/webhook/domain"
)

type Store struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewStore(log *slog.Logger, pool *pgxpool.Pool) *Store {
	return &Store{log: log, pool: pool}
}

// Record inserts the callback audit row. Concurrent duplicate deliveries of
// the same (gateway_code, event_id) resolve through ON CONFLICT DO NOTHING:
// losing the race reports created=false, which callers treat as a successful
// no-op.
func (s *Store) Record(ctx context.Context, ev *whdomain.Event) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO webhook_events (gateway_code, event_id, payload_hash, verified, received_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (gateway_code, event_id) DO NOTHING
	`, ev.GatewayCode, ev.EventID, ev.PayloadHash, ev.Verified, ev.ReceivedAt)
	if err != nil {
		return false, paydomain.WrapError(paydomain.KindPersistence, "webhook event insert failed", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) Find(ctx context.Context, gateway paydomain.GatewayCode, eventID string) (*whdomain.Event, error) {
	var ev whdomain.Event
	err := s.pool.QueryRow(ctx, `
		SELECT id, gateway_code, event_id, payload_hash, verified,
			processed_at, COALESCE(processing_error, ''), received_at
		FROM webhook_events
		WHERE gateway_code = $1 AND event_id = $2
	`, gateway, eventID).Scan(&ev.ID, &ev.GatewayCode, &ev.EventID, &ev.PayloadHash,
		&ev.Verified, &ev.ProcessedAt, &ev.ProcessingError, &ev.ReceivedAt)
	if err != nil {
		return nil, paydomain.WrapError(paydomain.KindPersistence, "webhook event read failed", err)
	}
	return &ev, nil
}

// Supersede reopens an event that was processed as a signature mismatch. The
// guarded UPDATE is the arbiter under concurrent verified retries: exactly
// one delivery reopens the row, the rest see zero rows and no-op.
func (s *Store) Supersede(ctx context.Context, gateway paydomain.GatewayCode, eventID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE webhook_events
		SET verified = TRUE, processed_at = NULL, processing_error = NULL
		WHERE gateway_code = $1 AND event_id = $2
			AND verified = FALSE AND processed_at IS NOT NULL
	`, gateway, eventID)
	if err != nil {
		return false, paydomain.WrapError(paydomain.KindPersistence, "webhook event supersede failed", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) MarkProcessed(ctx context.Context, gateway paydomain.GatewayCode, eventID, processingError string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE webhook_events
		SET processed_at = $3, processing_error = NULLIF($4, '')
		WHERE gateway_code = $1 AND event_id = $2 AND processed_at IS NULL
	`, gateway, eventID, time.Now().UTC(), processingError)
	if err != nil {
		return paydomain.WrapError(paydomain.KindPersistence, "webhook event update failed", err)
	}
	return nil
}
