package monitor

import (
	"encoding/json"
	"net/http"
	"runtime/trace"
	"time"

	"github.com/dedupv1/dedupv1-go/internal/cli/timeutil"
	"github.com/dedupv1/dedupv1-go/internal/logger"
	"github.com/dedupv1/dedupv1-go/pkg/blockindex"
	"github.com/dedupv1/dedupv1-go/pkg/bootstrap"
	"github.com/dedupv1/dedupv1-go/pkg/config"
	"github.com/dedupv1/dedupv1-go/pkg/engine"
)

// startTime is stamped at process init so /stats can report how long the
// daemon has been running.
var startTime = time.Now()

type handler struct {
	sys *bootstrap.System
	cfg *config.Config
}

// config reports the effective, loaded configuration. Mirrors the original
// monitor's ConfigMonitor, which dumps every registered option's current
// value for support bundles.
func (h *handler) config(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.cfg)
}

// statsPayload is the /stats response body: block index counters plus the
// auxiliary index's current size relative to its import thresholds.
type statsPayload struct {
	BlockIndex         blockindex.Snapshot `json:"block_index"`
	AuxiliarySize      int                 `json:"auxiliary_index_size"`
	ActiveStorageBytes uint64              `json:"active_storage_bytes"`
	IdleState          string              `json:"idle_state"`
	Uptime             string              `json:"uptime"`
}

func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	idleState := "busy"
	if h.sys.Idle.State() == engine.StateIdle {
		idleState = "idle"
	}
	JSON(w, http.StatusOK, statsPayload{
		BlockIndex:         h.sys.Blocks.Stats.Snapshot(),
		AuxiliarySize:      h.sys.Blocks.Aux.Size(),
		ActiveStorageBytes: h.sys.Containers.GetActiveStorageDataSize(),
		IdleState:          idleState,
		Uptime:             timeutil.FormatUptime(time.Since(startTime).String()),
	})
}

// lock reports striped-lock contention counters, the same numbers the
// original LockMonitor exposed for debugging lock convoy behavior.
func (h *handler) lock(w http.ResponseWriter, r *http.Request) {
	snap := h.sys.Blocks.Stats.Snapshot()
	JSON(w, http.StatusOK, struct {
		LockFree uint64 `json:"lock_free"`
		LockBusy uint64 `json:"lock_busy"`
	}{LockFree: snap.LockFree, LockBusy: snap.LockBusy})
}

func (h *handler) getLogging(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, struct {
		Level  string `json:"level"`
		Format string `json:"format"`
	}{Level: logger.CurrentLevel(), Format: logger.CurrentFormat()})
}

// setLogging changes the running daemon's log level and/or format without a
// restart, the same knob the original LoggingMonitor exposed over its
// monitor socket.
func (h *handler) setLogging(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Level  string `json:"level"`
		Format string `json:"format"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		ErrorResponse(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if body.Level != "" {
		logger.SetLevel(body.Level)
	}
	if body.Format != "" {
		logger.SetFormat(body.Format)
	}
	h.getLogging(w, r)
}

func (h *handler) getIdle(w http.ResponseWriter, r *http.Request) {
	state := "busy"
	if h.sys.Idle.State() == engine.StateIdle {
		state = "idle"
	}
	JSON(w, http.StatusOK, struct {
		State string `json:"state"`
	}{State: state})
}

// setIdle implements the force-idle/force-busy/change-idle-tick-interval
// controls: a test harness forces idle mode to deterministically exercise
// the background importer's idle-triggered aggressive pass without waiting
// out the real tick interval.
func (h *handler) setIdle(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	switch {
	case q.Has("force-idle"):
		h.sys.Idle.ForceIdle()
	case q.Has("force-busy"):
		h.sys.Idle.ForceBusy()
	case q.Has("force-clear"):
		h.sys.Idle.ForceClear()
	}
	if v := q.Get("change-idle-tick-interval"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			ErrorResponse(w, http.StatusBadRequest, "invalid duration: "+err.Error())
			return
		}
		h.sys.Idle.ChangeTickInterval(d)
	}
	h.getIdle(w, r)
}

// trace streams a runtime/trace capture for the requested duration (default
// 1s, capped at 30s), the Go analogue of the original TraceMonitor's
// start/stop toggle.
func (h *handler) trace(w http.ResponseWriter, r *http.Request) {
	d := time.Second
	if v := r.URL.Query().Get("duration"); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			ErrorResponse(w, http.StatusBadRequest, "invalid duration: "+err.Error())
			return
		}
		d = parsed
	}
	if d > 30*time.Second {
		d = 30 * time.Second
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", "attachment; filename=trace.out")
	if err := trace.Start(w); err != nil {
		ErrorResponse(w, http.StatusInternalServerError, "starting trace: "+err.Error())
		return
	}
	time.Sleep(d)
	trace.Stop()
}

// profile streams a CPU profile for the requested duration (default 10s),
// the counterpart of the original ProfileMonitor. Delegates to
// net/http/pprof's own handler so the format matches `go tool pprof`
// exactly.
func (h *handler) profile(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if !q.Has("seconds") {
		q.Set("seconds", "10")
		r.URL.RawQuery = q.Encode()
	}
	http.Redirect(w, r, "/debug/pprof/profile?"+r.URL.RawQuery, http.StatusTemporaryRedirect)
}
