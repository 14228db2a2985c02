package deposits

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"CryptoBotListener/internal/models"
	"CryptoBotListener/internal/store"
)

type Store interface {
	GetPendingDepositByCode(ctx context.Context, code string) (*models.DepositRequest, error)
	ExpireDeposit(ctx context.Context, id int64) (bool, error)
}

type Expiry int

const (
	Fresh Expiry = iota
	Expired
)

func (e Expiry) String() string {
	if e == Expired {
		return "expired"
	}
	return "fresh"
}

type Matcher struct {
	Store Store
}

// FindPending returns the pending deposit for code, or nil when there is none.
func (m Matcher) FindPending(ctx context.Context, code string) (*models.DepositRequest, error) {
	d, err := m.Store.GetPendingDepositByCode(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return d, nil
}

// CheckExpiry expires the deposit when now has reached its deadline, so a late
// payment can never complete it.
func (m Matcher) CheckExpiry(ctx context.Context, d *models.DepositRequest, now time.Time) (Expiry, error) {
	if now.Before(d.ExpiresAt) {
		return Fresh, nil
	}
	changed, err := m.Store.ExpireDeposit(ctx, d.ID)
	if err != nil {
		return Expired, err
	}
	d.Status = models.DepositExpired
	if changed {
		slog.Default().InfoContext(ctx, "deposit expired",
			"deposit_id", d.ID,
			"payment_code", d.PaymentCode,
			"expires_at", d.ExpiresAt.UTC().Format(time.RFC3339),
		)
	}
	return Expired, nil
}
