// Package domain models received gateway callbacks: the audit record kept
// for every delivery and the typed result parsed out of gateway-native
// payloads.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	paydomain "github.com/cargoquote/payments/internal/payment/domain"
)

// Event is one received callback. Created on receipt, immutable once
// ProcessedAt is set — except that an event processed as a signature
// mismatch may be reopened once by a delivery of the same id that verifies.
// EventID is the gateway-supplied idempotency key; (GatewayCode, EventID) is
// unique in storage.
type Event struct {
	ID          int64
	GatewayCode paydomain.GatewayCode
	EventID     string
	PayloadHash string
	Verified    bool
	ProcessedAt *time.Time
	// ProcessingError is set when the event was recorded but could not be
	// applied (bad signature, unparseable reference). Such events are marked
	// processed so gateway retries stop; they stay queryable for operators.
	ProcessingError string
	ReceivedAt      time.Time
}

// HashPayload fingerprints the raw callback body for the audit record.
func HashPayload(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
