package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/newsproof/newsbot/internal/events"
	"github.com/newsproof/newsbot/internal/pipeline"
	"github.com/newsproof/newsbot/internal/runlog"
)

var ErrInvalidConfig = errors.New("statusapi: invalid config")

const defaultRunsLimit = 20

type StatusReader interface {
	Status() pipeline.BotStatus
}

type Config struct {
	// DefaultLimit applies to /v1/runs without ?limit.
	DefaultLimit int
}

// NewHandler serves bot status and, when runs is non-nil, the run ledger.
func NewHandler(cfg Config, status StatusReader, runs runlog.Store) (http.Handler, error) {
	if status == nil {
		return nil, fmt.Errorf("%w: nil status reader", ErrInvalidConfig)
	}
	if cfg.DefaultLimit < 0 {
		return nil, fmt.Errorf("%w: default limit must be >= 0", ErrInvalidConfig)
	}
	if cfg.DefaultLimit == 0 {
		cfg.DefaultLimit = defaultRunsLimit
	}

	h := &handler{cfg: cfg, status: status, runs: runs}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealthz)
	mux.HandleFunc("GET /v1/status", h.handleStatus)
	mux.HandleFunc("GET /v1/runs", h.handleRuns)
	mux.HandleFunc("GET /v1/runs/{runId}", h.handleRun)
	return mux, nil
}

type handler struct {
	cfg    Config
	status StatusReader
	runs   runlog.Store
}

func (h *handler) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *handler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version": "v1",
		"status":  h.status.Status(),
	})
}

func (h *handler) handleRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		writeError(w, http.StatusNotFound, "run_ledger_disabled")
		return
	}
	limit := h.cfg.DefaultLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit")
			return
		}
		limit = n
	}

	runs, err := h.runs.Recent(r.Context(), runlog.ClampLimit(limit))
	if err != nil {
		writeError(w, statusForErr(r.Context(), err), "internal")
		return
	}
	out := make([]events.RunEvent, 0, len(runs))
	for _, run := range runs {
		out = append(out, events.NewRunEvent(run))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version": "v1",
		"runs":    out,
	})
}

func (h *handler) handleRun(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		writeError(w, http.StatusNotFound, "run_ledger_disabled")
		return
	}
	raw, err := hexutil.Decode(strings.TrimSpace(r.PathValue("runId")))
	if err != nil || len(raw) != common.HashLength {
		writeError(w, http.StatusBadRequest, "invalid_run_id")
		return
	}
	run, err := h.runs.Get(r.Context(), common.BytesToHash(raw))
	if err != nil {
		if errors.Is(err, runlog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		writeError(w, statusForErr(r.Context(), err), "internal")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version": "v1",
		"run":     events.NewRunEvent(run),
	})
}

func statusForErr(ctx context.Context, err error) int {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{
		"version": "v1",
		"error":   msg,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
