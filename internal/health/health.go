// Package health serves the liveness and readiness probes.
//
// GET /healthz answers 200 whenever the process can serve HTTP. GET /readyz
// runs every registered [Checker] concurrently and reports one of three
// overall states:
//
//   - "ok": every check passed (200).
//   - "degraded": only optional checks failed (200). Alerts still reach the
//     listener but a side channel such as the journal is down.
//   - "fail": a required check failed (503).
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Overall and per-check status values.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusFail     = "fail"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 2 * time.Second

// Checker is one named readiness probe. Check returns nil when healthy and
// must honour ctx cancellation.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error

	// Optional failures degrade readiness without failing it.
	Optional bool
}

// CheckResult is the outcome of one checker in a /readyz response.
type CheckResult struct {
	Status    string  `json:"status"`
	Error     string  `json:"error,omitempty"`
	Optional  bool    `json:"optional,omitempty"`
	LatencyMS float64 `json:"latency_ms"`
}

// Report is the /readyz response body. /healthz sends Status only.
type Report struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// Handler serves the probes. The checker set is fixed at construction.
type Handler struct {
	checkers []Checker
	now      func() time.Time
}

// New returns a Handler evaluating checkers on each readiness request.
func New(checkers ...Checker) *Handler {
	return &Handler{
		checkers: append([]Checker(nil), checkers...),
		now:      time.Now,
	}
}

// Register mounts both probes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Report{Status: StatusOK})
}

// Readyz is the readiness probe.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := h.Evaluate(r.Context())
	code := http.StatusOK
	if rep.Status == StatusFail {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, rep)
}

// Evaluate runs all checkers in parallel, each under its own timeout, and
// folds their results into a Report.
func (h *Handler) Evaluate(ctx context.Context) Report {
	var (
		mu     sync.Mutex
		checks = make(map[string]CheckResult, len(h.checkers))
		g      errgroup.Group
	)
	for _, c := range h.checkers {
		g.Go(func() error {
			res := h.run(ctx, c)
			mu.Lock()
			checks[c.Name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	rep := Report{Status: StatusOK, Checks: checks}
	for _, res := range checks {
		switch {
		case res.Status == StatusOK:
		case res.Optional:
			if rep.Status == StatusOK {
				rep.Status = StatusDegraded
			}
		default:
			rep.Status = StatusFail
		}
	}
	return rep
}

func (h *Handler) run(ctx context.Context, c Checker) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	start := h.now()
	err := c.Check(ctx)
	res := CheckResult{
		Status:    StatusOK,
		Optional:  c.Optional,
		LatencyMS: float64(h.now().Sub(start).Microseconds()) / 1000,
	}
	if err != nil {
		res.Status = StatusFail
		res.Error = err.Error()
	}
	return res
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
