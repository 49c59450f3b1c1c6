package uploads

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/okaneo/drivetube/backend/db"
)

// kv-backed circuit breaker shared by all processor instances. Consecutive
// transfer failures open the circuit for a cooldown; the next cycle after the
// cooldown runs half-open and a success closes it again.

const (
	kvCircuitState     = "circuit_state"
	kvCircuitFailures  = "circuit_failures"
	kvCircuitOpenUntil = "circuit_open_until"
)

// circuitAllows reports whether a processing cycle may run, transitioning
// open → half-open when the cooldown elapsed.
func circuitAllows(ctx context.Context, dbx *sql.DB) bool {
	state, _ := db.GetKV(ctx, dbx, kvCircuitState)
	if state != "open" {
		return true
	}
	until, _ := db.GetKV(ctx, dbx, kvCircuitOpenUntil)
	if until != "" {
		if t, err := time.Parse(time.RFC3339, until); err == nil && time.Now().Before(t) {
			slog.Debug("circuit open; skipping processing cycle", slog.String("until", until))
			return false
		}
	}
	_ = db.SetKV(ctx, dbx, kvCircuitState, "half-open")
	slog.Info("circuit transitioning to half-open")
	return true
}

func circuitFailureThreshold() int {
	if s := os.Getenv("CIRCUIT_FAILURE_THRESHOLD"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return 0
}

// updateCircuitOnFailure increments the failure counter and opens the circuit
// when the threshold is reached. Disabled unless CIRCUIT_FAILURE_THRESHOLD > 0.
func updateCircuitOnFailure(ctx context.Context, dbx *sql.DB) {
	threshold := circuitFailureThreshold()
	if threshold <= 0 {
		return
	}
	fails := 0
	if v, _ := db.GetKV(ctx, dbx, kvCircuitFailures); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			fails = n
		}
	}
	fails++
	_ = db.SetKV(ctx, dbx, kvCircuitFailures, strconv.Itoa(fails))
	if fails >= threshold {
		cool := 5 * time.Minute
		if s := os.Getenv("CIRCUIT_OPEN_COOLDOWN"); s != "" {
			if d, err := time.ParseDuration(s); err == nil {
				cool = d
			}
		}
		until := time.Now().Add(cool).UTC().Format(time.RFC3339)
		_ = db.SetKV(ctx, dbx, kvCircuitState, "open")
		_ = db.SetKV(ctx, dbx, kvCircuitOpenUntil, until)
		slog.Warn("circuit opened", slog.Int("failures", fails), slog.String("until", until))
	}
}

// resetCircuit closes the circuit and clears the failure count on success.
func resetCircuit(ctx context.Context, dbx *sql.DB) {
	state, _ := db.GetKV(ctx, dbx, kvCircuitState)
	if state == "closed" && os.Getenv("CIRCUIT_FAILURE_THRESHOLD") == "" {
		return
	}
	_ = db.SetKV(ctx, dbx, kvCircuitFailures, "0")
	_ = db.SetKV(ctx, dbx, kvCircuitState, "closed")
	_, _ = dbx.ExecContext(ctx, `DELETE FROM kv WHERE key=$1`, kvCircuitOpenUntil)
}
