package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/cjeanneret/ServoSync/internal/logic/motion"
)

// ---------- Handler helpers ----------

func newTestHandlers(mover Mover) *Handlers {
	staticFS := fstest.MapFS{
		"index.html": &fstest.MapFile{Data: []byte("<html>test</html>")},
	}
	return NewHandlers(
		NewStatusBroadcaster(),
		mover,
		FormConfig{
			Channels:       []int{0, 1},
			ActuationRange: 180,
			StepDeg:        1,
			InitialAngles:  map[int]float64{0: 90, 1: 90},
		},
		staticFS,
	)
}

func newTestMover(t *testing.T, sink motion.Sink) *motion.Mover {
	t.Helper()
	state, err := motion.NewState(180, map[motion.Channel]float64{0: 90, 1: 90})
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}
	m, err := motion.NewMover(state, sink, motion.Config{StepSize: 1})
	if err != nil {
		t.Fatalf("NewMover: %v", err)
	}
	return m
}

// waitDone installs the completion hook and returns a wait function.
func waitDone(t *testing.T, h *Handlers) func() {
	t.Helper()
	done := make(chan struct{}, 1)
	h.done = func() { done <- struct{}{} }
	return func() {
		t.Helper()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for move to finish")
		}
	}
}

func postForm(h *Handlers, values url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/move", strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	h.HandleMove(w, req)
	return w
}

func postJSON(h *Handlers, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/move", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.HandleMove(w, req)
	return w
}

// stubMover lets tests control Busy and block TryMove.
type stubMover struct {
	mu        sync.Mutex
	busy      bool
	started   chan struct{}
	release   chan struct{}
	cancelled int
	err       error
}

func (s *stubMover) TryMove(ctx context.Context, targets map[motion.Channel]float64) (motion.Result, error) {
	if s.started != nil {
		close(s.started)
		<-s.release
	}
	return motion.Result{Ticks: 1, Completed: 1, Snapped: true}, s.err
}

func (s *stubMover) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

func (s *stubMover) Cancel() {
	s.mu.Lock()
	s.cancelled++
	s.mu.Unlock()
}

func (s *stubMover) Snapshot() map[motion.Channel]float64 {
	return map[motion.Channel]float64{0: 90, 1: 90}
}

// ---------- HandleMove ----------

func TestHandleMove_FormPost(t *testing.T) {
	m := newTestMover(t, &motion.RecordingSink{})
	h := newTestHandlers(m)
	wait := waitDone(t, h)

	w := postForm(h, url.Values{"ch0": {"120"}})

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
	var resp MoveResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "started" {
		t.Errorf("response status = %q, want \"started\"", resp.Status)
	}
	if resp.Targets[0] != 120 || resp.Targets[1] != 90 {
		t.Errorf("targets = %v, want map[0:120 1:90]", resp.Targets)
	}

	wait()
	got := m.Snapshot()
	if got[0] != 120 || got[1] != 90 {
		t.Errorf("angles after move = %v, want map[0:120 1:90]", got)
	}
}

func TestHandleMove_JSONPost(t *testing.T) {
	m := newTestMover(t, &motion.RecordingSink{})
	h := newTestHandlers(m)
	wait := waitDone(t, h)

	w := postJSON(h, `{"angles": {"0": 30, "1": "150"}}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
	wait()
	got := m.Snapshot()
	if got[0] != 30 || got[1] != 150 {
		t.Errorf("angles after move = %v, want map[0:30 1:150]", got)
	}
}

func TestHandleMove_MalformedAndUnknownReported(t *testing.T) {
	m := newTestMover(t, &motion.RecordingSink{})
	h := newTestHandlers(m)
	wait := waitDone(t, h)

	w := postForm(h, url.Values{"ch0": {"abc"}, "ch1": {"100"}, "ch7": {"10"}})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
	var resp MoveResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Malformed) != 1 || resp.Malformed[0] != 0 {
		t.Errorf("malformed = %v, want [0]", resp.Malformed)
	}
	if len(resp.Unknown) != 1 || resp.Unknown[0] != 7 {
		t.Errorf("unknown = %v, want [7]", resp.Unknown)
	}
	if resp.Targets[0] != 90 {
		t.Errorf("malformed channel target = %v, want current angle 90", resp.Targets[0])
	}
	wait()
}

func TestHandleMove_GetMethodNotAllowed(t *testing.T) {
	h := newTestHandlers(&stubMover{})
	req := httptest.NewRequest(http.MethodGet, "/move", nil)
	w := httptest.NewRecorder()

	h.HandleMove(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}

func TestHandleMove_InvalidJSON(t *testing.T) {
	h := newTestHandlers(&stubMover{})
	w := postJSON(h, "not json")

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestHandleMove_InvalidChannelField(t *testing.T) {
	h := newTestHandlers(&stubMover{})
	w := postForm(h, url.Values{"chX": {"10"}})

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestHandleMove_OversizedBody(t *testing.T) {
	h := newTestHandlers(&stubMover{})
	big := `{"angles": {"0": "` + strings.Repeat("9", 2<<20) + `"}}` // 2 MB
	req := httptest.NewRequest(http.MethodPost, "/move", bytes.NewReader([]byte(big)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	h.HandleMove(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d (oversized body)", w.Code, http.StatusBadRequest)
	}
}

func TestHandleMove_NilMover(t *testing.T) {
	h := newTestHandlers(nil)
	w := postForm(h, url.Values{"ch0": {"120"}})

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestHandleMove_BusyMover(t *testing.T) {
	h := newTestHandlers(&stubMover{busy: true})
	w := postForm(h, url.Values{"ch0": {"120"}})

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestHandleMove_ConcurrentMove(t *testing.T) {
	stub := &stubMover{started: make(chan struct{}), release: make(chan struct{})}
	h := newTestHandlers(stub)
	wait := waitDone(t, h)

	w1 := postForm(h, url.Values{"ch0": {"120"}})
	if w1.Code != http.StatusAccepted {
		t.Fatalf("first request: status = %d, want %d", w1.Code, http.StatusAccepted)
	}

	<-stub.started

	w2 := postForm(h, url.Values{"ch0": {"60"}})
	if w2.Code != http.StatusConflict {
		t.Errorf("concurrent request: status = %d, want %d", w2.Code, http.StatusConflict)
	}

	close(stub.release)
	wait()

	// slot is free again
	stub.started = nil
	w3 := postForm(h, url.Values{"ch0": {"60"}})
	if w3.Code != http.StatusAccepted {
		t.Errorf("request after completion: status = %d, want %d", w3.Code, http.StatusAccepted)
	}
	wait()
}

func TestHandleMove_HardwareFailureBroadcast(t *testing.T) {
	sink := &motion.RecordingSink{
		Fail: func(n int, ch motion.Channel, angle float64) error {
			if ch == 0 && n > 0 {
				return errors.New("i2c nack")
			}
			return nil
		},
	}
	h := newTestHandlers(newTestMover(t, sink))
	wait := waitDone(t, h)
	events, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	if w := postForm(h, url.Values{"ch0": {"120"}}); w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
	wait()

	var sawError, sawState bool
	for len(events) > 0 {
		var evt StatusEvent
		if err := json.Unmarshal([]byte(<-events), &evt); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		switch evt.Level {
		case "error":
			sawError = strings.Contains(evt.Msg, "channel 0")
		case "state":
			sawState = true
		}
	}
	if !sawError {
		t.Error("expected a hardware failure event naming channel 0")
	}
	if !sawState {
		t.Error("expected a state event after the failed move")
	}
}

// ---------- HandleStop ----------

func TestHandleStop(t *testing.T) {
	stub := &stubMover{}
	h := newTestHandlers(stub)
	req := httptest.NewRequest(http.MethodPost, "/stop", nil)
	w := httptest.NewRecorder()

	h.HandleStop(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if stub.cancelled != 1 {
		t.Errorf("Cancel called %d times, want 1", stub.cancelled)
	}
}

func TestHandleStop_CancelsInFlightMove(t *testing.T) {
	release := make(chan struct{})
	var once sync.Once
	sink := &motion.RecordingSink{
		OnWrite: func(n int, ch motion.Channel, angle float64) {
			once.Do(func() { <-release })
		},
	}
	m := newTestMover(t, sink)
	h := newTestHandlers(m)
	wait := waitDone(t, h)

	if w := postForm(h, url.Values{"ch0": {"180"}}); w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
	for !m.Busy() {
		time.Sleep(time.Millisecond)
	}
	h.HandleStop(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/stop", nil))
	close(release)
	wait()

	if got := m.Snapshot()[0]; got >= 180 {
		t.Errorf("ch0 = %v, want a cancelled move short of 180", got)
	}
}

// ---------- HandleState ----------

func TestHandleState(t *testing.T) {
	h := newTestHandlers(&stubMover{busy: true})
	req := httptest.NewRequest(http.MethodGet, "/state", nil)
	w := httptest.NewRecorder()

	h.HandleState(w, req)

	var st StateResponse
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !st.Busy {
		t.Error("busy = false, want true")
	}
	if st.Angles[0] != 90 || st.Angles[1] != 90 {
		t.Errorf("angles = %v, want map[0:90 1:90]", st.Angles)
	}
}

// ---------- HandleConfig ----------

func TestHandleConfig(t *testing.T) {
	h := newTestHandlers(&stubMover{})
	req := httptest.NewRequest(http.MethodGet, "/config", nil)
	w := httptest.NewRecorder()

	h.HandleConfig(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var fc FormConfig
	if err := json.NewDecoder(w.Body).Decode(&fc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(fc.Channels) != 2 {
		t.Errorf("Channels = %v, want [0 1]", fc.Channels)
	}
	if fc.ActuationRange != 180 {
		t.Errorf("ActuationRange = %v, want 180", fc.ActuationRange)
	}
	if fc.InitialAngles[1] != 90 {
		t.Errorf("InitialAngles[1] = %v, want 90", fc.InitialAngles[1])
	}
}

// ---------- ServeIndex ----------

func TestServeIndex(t *testing.T) {
	h := newTestHandlers(&stubMover{})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()

	h.ServeIndex(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %q, want text/html; charset=utf-8", ct)
	}
	if !strings.Contains(w.Body.String(), "<html>") {
		t.Error("body should contain HTML content")
	}
}

// ---------- Mux ----------

func TestServerMux_EmbeddedIndex(t *testing.T) {
	srv := NewServer(":0", NewStatusBroadcaster(), &stubMover{}, FormConfig{})
	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET / status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	resp2, err := http.Get(ts.URL + "/move")
	if err != nil {
		t.Fatalf("GET /move: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET /move status = %d, want %d", resp2.StatusCode, http.StatusMethodNotAllowed)
	}
}
