package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	dbpkg "github.com/okaneo/drivetube/backend/db"
	"github.com/okaneo/drivetube/backend/uploads"
)

// HandleConfig handles GET and PUT requests for safe configuration keys.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	// Only allow GET/PUT for known keys; secrets must not be exposed here.
	safeKeys := map[string]bool{
		"LOG_LEVEL":                  true,
		"LOG_FORMAT":                 true,
		"DATA_DIR":                   true,
		"UPLOAD_PROCESS_INTERVAL":    true,
		"UPLOAD_MAX_ATTEMPTS":        true,
		"UPLOAD_RETRY_COOLDOWN":      true,
		"MAX_CONCURRENT_TRANSFERS":   true,
		"LOG_RETENTION_DAYS":         true,
		"TIKTOK_DRIVE_FOLDER":        true,
		"CIRCUIT_FAILURE_THRESHOLD":  true,
		"RATE_LIMIT_REQUESTS_PER_IP": true,
		"RATE_LIMIT_WINDOW_SECONDS":  true,
	}
	switch r.Method {
	case http.MethodGet:
		// Return safe keys with values from kv override if present, else env
		out := map[string]string{}
		for k := range safeKeys {
			var v string
			_ = h.db.QueryRowContext(r.Context(), `SELECT value FROM kv WHERE key=$1`, "cfg:"+k).Scan(&v)
			if v == "" {
				v = os.Getenv(k)
			}
			if v != "" {
				out[k] = v
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	case http.MethodPut:
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", 400)
			return
		}
		for k, v := range body {
			if !safeKeys[k] {
				continue
			}
			if _, err := h.db.ExecContext(
				r.Context(),
				`INSERT INTO kv (key,value,updated_at) VALUES ($1,$2,NOW()) ON CONFLICT(key) DO UPDATE SET value=EXCLUDED.value, updated_at=NOW()`,
				"cfg:"+k,
				strings.TrimSpace(v),
			); err != nil {
				slog.Error("failed to update config", slog.String("key", k), slog.Any("err", err))
				http.Error(w, "failed to update config", http.StatusInternalServerError)
				return
			}
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleStatus returns a lightweight status summary including queue depth,
// circuit breaker state, and background job heartbeats.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	resp := map[string]any{}

	var pending, processing, failed int
	_ = h.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scheduled_uploads WHERE status='pending'`).Scan(&pending)
	_ = h.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scheduled_uploads WHERE status='processing'`).Scan(&processing)
	_ = h.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scheduled_uploads WHERE status='failed'`).Scan(&failed)
	resp["pending"] = pending
	resp["processing"] = processing
	resp["failed"] = failed

	var succeeded int
	_ = h.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM upload_logs WHERE status='success'`).Scan(&succeeded)
	resp["succeeded"] = succeeded

	circuitState, _ := dbpkg.GetKV(ctx, h.db, "circuit_state")
	if circuitState == "" {
		circuitState = "closed"
	}
	resp["circuit_state"] = circuitState

	resp["active_transfers"] = uploads.ActiveTransfers()
	resp["max_concurrent_transfers"] = uploads.MaxConcurrentTransfers()

	// Background job heartbeats
	jobs := map[string]string{}
	for _, key := range []string{"job_upload_process_last", "job_drive_sync_last", "job_log_retention_last"} {
		if v, _ := dbpkg.GetKV(ctx, h.db, key); v != "" {
			jobs[key] = v
		}
	}
	resp["jobs"] = jobs

	resp["uptime_seconds"] = int(time.Since(h.startedAt).Seconds())

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
