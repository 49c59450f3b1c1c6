package token

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/okaneo/drivetube/backend/db"
)

// StartRefresher launches a goroutine that periodically sweeps stored tokens
// and refreshes those whose expiry falls within the window, so interactive
// requests rarely pay the refresh round trip.
// interval: how often to wake up and check.
// window: refresh when remaining lifetime <= window.
func (m *Manager) StartRefresher(ctx context.Context, interval, window time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	// Randomize initial delay to spread load across instances.
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initialJitter := time.Duration(rand.Int63n(int64(interval / 2)))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			// Per-iteration jitter (±20% of interval) for scheduling diversity.
			jitterRange := int64(interval / 5)
			//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
			jitter := time.Duration(rand.Int63n(jitterRange*2) - jitterRange)
			nextSleep := interval + jitter
			if nextSleep < interval/2 {
				nextSleep = interval / 2
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(nextSleep):
			}
			m.sweepOnce(ctx, window)
		}
	}()
}

func (m *Manager) sweepOnce(ctx context.Context, window time.Duration) {
	toks, err := db.ListTokensExpiringWithin(ctx, m.db, window)
	if err != nil {
		slog.Warn("token sweep query failed", slog.Any("err", err))
		return
	}
	for i := range toks {
		id := toks[i]
		// Small pre-refresh jitter to avoid stampedes when many pods see
		// the same expiry.
		//nolint:gosec // G404: math/rand is sufficient for jitter, not used for security
		pre := time.Duration(rand.Int63n(int64(2 * time.Second)))
		select {
		case <-ctx.Done():
			return
		case <-time.After(pre):
		}
		ctx2, cancel := context.WithTimeout(ctx, 15*time.Second)
		// The expiry query returns identities only; load the full row so the
		// refresh sees the decrypted refresh token.
		tok, err := db.GetUserToken(ctx2, m.db, id.AuthUserID, id.AccountID)
		if err != nil {
			cancel()
			slog.Warn("token sweep load failed",
				slog.String("account", id.AccountID), slog.Any("err", err))
			continue
		}
		if tok.RefreshToken == "" {
			cancel()
			continue
		}
		_, err = m.Refresh(ctx2, tok)
		cancel()
		switch {
		case errors.Is(err, ErrReauthRequired):
			slog.Warn("background refresh found revoked token",
				slog.String("account", tok.AccountID))
		case err != nil:
			slog.Warn("background refresh failed",
				slog.String("account", tok.AccountID), slog.Any("err", err))
		}
	}
}
