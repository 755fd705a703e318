package postgres

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cargoquote/payments/internal/payment/domain"
	"github.com/cargoquote/payments/internal/quote"
)

type Store struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewStore(log *slog.Logger, pool *pgxpool.Pool) *Store {
	return &Store{log: log, pool: pool}
}

// GetQuotes loads the referenced quotes. Every id must resolve; a missing
// quote is a validation error, not a partial result.
func (s *Store) GetQuotes(ctx context.Context, ids []string) ([]quote.Quote, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, status, final_total::text, currency, COALESCE(owner_id, ''), updated_at
		FROM quotes
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, domain.WrapError(domain.KindPersistence, "quote query failed", err)
	}
	defer rows.Close()

	byID := make(map[string]quote.Quote, len(ids))
	for rows.Next() {
		var q quote.Quote
		if err := rows.Scan(&q.ID, &q.Status, &q.FinalTotal, &q.Currency, &q.OwnerID, &q.UpdatedAt); err != nil {
			return nil, domain.WrapError(domain.KindPersistence, "quote scan failed", err)
		}
		byID[q.ID] = q
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.KindPersistence, "quote rows failed", err)
	}

	out := make([]quote.Quote, 0, len(ids))
	for _, id := range ids {
		q, ok := byID[id]
		if !ok {
			return nil, domain.NewError(domain.KindValidation, "unknown quote "+id)
		}
		out = append(out, q)
	}
	return out, nil
}

// Quote status writes on confirmed outcomes ride in the ledger's completion
// transaction (internal/payment/infrastructure/postgres) so the payment and
// quote updates commit atomically.
