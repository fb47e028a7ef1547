package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"mime"
	"net/http"
	"sync"
	"time"

	"github.com/cjeanneret/ServoSync/internal/logic/command"
	"github.com/cjeanneret/ServoSync/internal/logic/motion"
)

// MaxBodyBytes bounds the size of a POST /move body.
const MaxBodyBytes = 1 << 20

// Mover is what the handlers need from motion.Mover.
type Mover interface {
	TryMove(ctx context.Context, targets map[motion.Channel]float64) (motion.Result, error)
	Busy() bool
	Cancel()
	Snapshot() map[motion.Channel]float64
}

// FormConfig holds default values for the move form (from config).
type FormConfig struct {
	Channels       []int           `json:"channels"`
	ActuationRange float64         `json:"actuation_range"`
	StepDeg        float64         `json:"step_deg"`
	InitialAngles  map[int]float64 `json:"initial_angles"`
}

// StateResponse is the body of GET /state.
type StateResponse struct {
	Angles map[int]float64 `json:"angles"`
	Busy   bool            `json:"busy"`
}

// MoveResponse is the body of an accepted POST /move.
type MoveResponse struct {
	Status    string          `json:"status"`
	Targets   map[int]float64 `json:"targets"`
	Malformed []int           `json:"malformed,omitempty"`
	Unknown   []int           `json:"unknown,omitempty"`
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster  *StatusBroadcaster
	Mover        Mover
	FormDefaults FormConfig
	runningMu    sync.Mutex
	running      bool
	baseCtx      context.Context
	staticFS     fs.FS
	done         func() // test hook, called when a submitted move returns
}

// NewHandlers creates handlers with the given dependencies.
// If mover is nil, POST /move will return 503 Service Unavailable.
func NewHandlers(broadcaster *StatusBroadcaster, mover Mover, formDefaults FormConfig, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster:  broadcaster,
		Mover:        mover,
		FormDefaults: formDefaults,
		baseCtx:      context.Background(),
		staticFS:     staticFS,
	}
}

// HandleConfig returns the form default values (from config) as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.FormDefaults)
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleState returns the current angles and whether a move is in flight.
func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request) {
	if h.Mover == nil {
		http.Error(w, "mover not configured", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(StateResponse{
		Angles: toIntKeys(h.Mover.Snapshot()),
		Busy:   h.Mover.Busy() || h.isRunning(),
	})
}

// HandleMove handles POST /move. The body is either a form with ch<N>
// fields or JSON {"angles": {"0": 120}}. Omitted channels keep their angle
// and malformed values fall back to the current angle.
func (h *Handlers) HandleMove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	req, err := readRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if h.Mover == nil {
		http.Error(w, "mover not configured", http.StatusServiceUnavailable)
		return
	}

	h.runningMu.Lock()
	if h.running || h.Mover.Busy() {
		h.runningMu.Unlock()
		http.Error(w, "move already in progress", http.StatusConflict)
		return
	}
	h.running = true
	h.runningMu.Unlock()

	res := command.Resolve(h.Mover.Snapshot(), req)

	// Run in goroutine; clear running when done
	go func() {
		defer func() {
			h.runningMu.Lock()
			h.running = false
			h.runningMu.Unlock()
			if h.done != nil {
				h.done()
			}
		}()
		h.runMove(res.Targets)
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(MoveResponse{
		Status:    "started",
		Targets:   toIntKeys(res.Targets),
		Malformed: toInts(res.Malformed),
		Unknown:   toInts(res.Unknown),
	})
}

// HandleStop cancels the in-flight move, if any.
func (h *Handlers) HandleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Mover == nil {
		http.Error(w, "mover not configured", http.StatusServiceUnavailable)
		return
	}
	h.Mover.Cancel()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "stopping"})
}

func (h *Handlers) runMove(targets map[motion.Channel]float64) {
	h.Broadcaster.BroadcastMsg(fmt.Sprintf("Moving %d channel(s)", len(targets)))
	result, err := h.Mover.TryMove(h.baseCtx, targets)
	switch {
	case errors.Is(err, motion.ErrBusy):
		h.Broadcaster.Broadcast("warn", "Move rejected: another move is in progress")
	case err != nil:
		if hwErr, ok := motion.AsHardwareError(err); ok {
			h.Broadcaster.Broadcast("error", fmt.Sprintf("Hardware failure on channel %d: %v", hwErr.Channel, hwErr.Cause))
		} else {
			h.Broadcaster.Broadcast("error", "Move failed: "+err.Error())
		}
		log.Printf("move failed: %v", err)
	case result.Cancelled:
		h.Broadcaster.Broadcast("warn", fmt.Sprintf("Move cancelled after %d/%d ticks", result.Completed, result.Ticks))
	default:
		h.Broadcaster.BroadcastMsg(fmt.Sprintf("Move complete (%d ticks)", result.Ticks))
	}
	h.Broadcaster.BroadcastState(h.Mover.Snapshot())
}

func (h *Handlers) isRunning() bool {
	h.runningMu.Lock()
	defer h.runningMu.Unlock()
	return h.running
}

func readRequest(r *http.Request) (command.Request, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		return command.FromJSON(data)
	}
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("invalid form: %w", err)
	}
	return command.FromForm(r.PostForm)
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

func toIntKeys(m map[motion.Channel]float64) map[int]float64 {
	out := make(map[int]float64, len(m))
	for ch, a := range m {
		out[int(ch)] = a
	}
	return out
}

func toInts(chs []motion.Channel) []int {
	if len(chs) == 0 {
		return nil
	}
	out := make([]int, len(chs))
	for i, ch := range chs {
		out[i] = int(ch)
	}
	return out
}
