// Package session resolves who is paying: an authenticated user via the auth
// service's introspection endpoint, or a guest via a Redis-bound session
// token. The payment core treats the verdict as opaque input.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/redis/go-redis/v9"

	"github.com/cargoquote/payments/internal/payment/domain"
)

// Verdict is the authorization outcome for a payment-creation request.
type Verdict struct {
	Authenticated bool
	UserID        string
	// GuestQuoteID is the single quote a guest session is bound to.
	GuestQuoteID string
}

type introspectResponse struct {
	Active bool   `json:"active"`
	UserID string `json:"user_id"`
}

type Validator struct {
	log           *slog.Logger
	http          *resty.Client
	rdb           *redis.Client
	introspectURL string
}

func NewValidator(log *slog.Logger, rdb *redis.Client, introspectURL string) *Validator {
	return &Validator{
		log:           log,
		http:          resty.New().SetTimeout(5 * time.Second),
		rdb:           rdb,
		introspectURL: introspectURL,
	}
}

// Resolve turns the caller's credentials into a Verdict. A bearer token wins
// over a guest token when both are present. No valid credential at all is an
// authorization error.
func (v *Validator) Resolve(ctx context.Context, bearer, guestToken string) (Verdict, error) {
	if bearer != "" {
		resp, err := v.http.R().
			SetContext(ctx).
			SetHeader("Authorization", "Bearer "+bearer).
			Get(v.introspectURL)
		if err != nil {
			return Verdict{}, domain.WrapError(domain.KindAuthorization, "token introspection failed", err)
		}
		var ir introspectResponse
		if err := json.Unmarshal(resp.Body(), &ir); err != nil || resp.IsError() || !ir.Active || ir.UserID == "" {
			return Verdict{}, domain.NewError(domain.KindAuthorization, "invalid bearer token")
		}
		return Verdict{Authenticated: true, UserID: ir.UserID}, nil
	}

	if guestToken != "" {
		quoteID, err := v.rdb.Get(ctx, "guest:"+guestToken).Result()
		if errors.Is(err, redis.Nil) {
			return Verdict{}, domain.NewError(domain.KindAuthorization, "unknown guest session")
		}
		if err != nil {
			return Verdict{}, domain.WrapError(domain.KindAuthorization, "guest session lookup failed", err)
		}
		return Verdict{GuestQuoteID: quoteID}, nil
	}

	return Verdict{}, domain.NewError(domain.KindAuthorization, "no credentials supplied")
}
