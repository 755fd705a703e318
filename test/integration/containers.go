package integration

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

type Env struct {
	PG     *postgres.PostgresContainer
	Kafka  *kafka.KafkaContainer
	PGURL  string
	KAddr  []string
	Cancel context.CancelFunc
}

const schema = `
CREATE TABLE IF NOT EXISTS quotes (
    id                     TEXT PRIMARY KEY,
    status                 TEXT NOT NULL DEFAULT 'pending',
    final_total            NUMERIC(12,2) NOT NULL,
    currency               TEXT NOT NULL,
    owner_id               TEXT NOT NULL DEFAULT '',
    payment_transaction_id TEXT,
    paid_at                TIMESTAMPTZ,
    updated_at             TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS payments (
    transaction_id         TEXT PRIMARY KEY,
    gateway_code           TEXT NOT NULL,
    quote_ids              TEXT[] NOT NULL,
    amount_minor           BIGINT NOT NULL,
    amount_major           TEXT NOT NULL,
    currency               TEXT NOT NULL,
    status                 TEXT NOT NULL,
    payment_state          TEXT NOT NULL,
    gateway_transaction_id TEXT,
    gateway_response       JSONB,
    metadata               JSONB NOT NULL DEFAULT '{}',
    created_at             TIMESTAMPTZ NOT NULL,
    updated_at             TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS webhook_events (
    id               BIGSERIAL PRIMARY KEY,
    gateway_code     TEXT NOT NULL,
    event_id         TEXT NOT NULL,
    payload_hash     TEXT NOT NULL,
    verified         BOOLEAN NOT NULL,
    processed_at     TIMESTAMPTZ,
    processing_error TEXT,
    received_at      TIMESTAMPTZ NOT NULL,
    UNIQUE (gateway_code, event_id)
);

CREATE TABLE IF NOT EXISTS outbox (
    id             BIGSERIAL PRIMARY KEY,
    aggregate_type TEXT NOT NULL,
    aggregate_id   TEXT NOT NULL,
    type           TEXT NOT NULL,
    payload        JSONB NOT NULL,
    traceparent    TEXT NOT NULL DEFAULT '',
    status         TEXT NOT NULL DEFAULT 'pending',
    relay_id       TEXT,
    lease_until    TIMESTAMPTZ,
    retry_count    INT NOT NULL DEFAULT 0,
    last_error     TEXT,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

func Setup(ctx context.Context) (*Env, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)

	pgC, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("payments"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
	)
	if err != nil {
		cancel()
		return nil, err
	}

	pgURL, err := pgC.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		cancel()
		return nil, err
	}

	pool, err := pgxpool.New(ctx, pgURL)
	if err != nil {
		cancel()
		return nil, err
	}
	defer pool.Close()
	if _, err := pool.Exec(ctx, schema); err != nil {
		cancel()
		return nil, err
	}

	kafkaC, err := kafka.Run(ctx,
		"confluentinc/confluent-local:7.5.0",
		kafka.WithClusterID("payments-test-cluster"),
	)
	if err != nil {
		cancel()
		return nil, err
	}

	kafkaAddress, err := kafkaC.Brokers(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	return &Env{
		PG:     pgC,
		Kafka:  kafkaC,
		PGURL:  pgURL,
		KAddr:  kafkaAddress,
		Cancel: cancel,
	}, nil
}

func (e *Env) Teardown(ctx context.Context) {
	e.Cancel()
	_ = e.Kafka.Terminate(ctx)
	_ = e.PG.Terminate(ctx)
}
