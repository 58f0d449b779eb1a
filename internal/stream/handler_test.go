package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/star/radarsim/internal/queue"
	"github.com/star/radarsim/internal/sim"
)

type recordingSubmitter struct {
	mu   sync.Mutex
	cmds []sim.Command
}

func (r *recordingSubmitter) Submit(cmd sim.Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmds = append(r.cmds, cmd)
}

func (r *recordingSubmitter) commands() []sim.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sim.Command(nil), r.cmds...)
}

func testConfig() Config {
	return Config{
		MaxPerIP:          4,
		MaxClients:        16,
		KeepaliveInterval: 30 * time.Second,
		WriteTimeout:      5 * time.Second,
	}
}

type fixture struct {
	q       *queue.Queue[sim.Message]
	hub     *Hub
	sub     *recordingSubmitter
	handler *Handler
	cancel  context.CancelFunc
	done    chan struct{}
}

// newFixture starts a hub over a fresh queue. stop cancels it and waits.
func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	q := queue.New[sim.Message]("test", 0)
	hub := NewHub(q, 2*time.Millisecond, 64, testLogger())
	rec := &recordingSubmitter{}
	ctx, cancel := context.WithCancel(context.Background())
	f := &fixture{
		q:       q,
		hub:     hub,
		sub:     rec,
		handler: NewHandler(hub, rec, cfg, testLogger()),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go func() {
		defer close(f.done)
		hub.Run(ctx)
	}()
	t.Cleanup(f.stop)
	return f
}

func (f *fixture) stop() {
	f.cancel()
	<-f.done
}

// feed pushes a beam and a status message every few milliseconds until
// ctx is done.
func (f *fixture) feed(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.q.Push(beamMsg(float64(i)))
			f.q.Push(statusMsg(true))
		}
	}
}

func sseEvents(t *testing.T, body string) []map[string]any {
	t.Helper()
	var events []map[string]any
	sc := bufio.NewScanner(strings.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "", line == ":", strings.HasPrefix(line, "retry: "):
		case strings.HasPrefix(line, "data: "):
			var m map[string]any
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &m); err != nil {
				t.Errorf("invalid JSON in SSE data line: %v", err)
				continue
			}
			events = append(events, m)
		default:
			t.Errorf("unexpected SSE line: %q", line)
		}
	}
	return events
}

func TestHandleMessages_Stream(t *testing.T) {
	f := newFixture(t, testConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	go f.feed(ctx)

	req := httptest.NewRequest("GET", "/api/v1/stream/messages", nil).WithContext(ctx)
	req.RemoteAddr = "127.0.0.1:12345"
	w := httptest.NewRecorder()
	f.handler.HandleMessages(w, req)

	resp := w.Result()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("Cache-Control = %q, want no-cache", cc)
	}

	events := sseEvents(t, w.Body.String())
	if len(events) == 0 || events[0]["type"] != "hello" {
		t.Fatalf("first event = %v, want hello", events)
	}
	var beams, statuses int
	for _, e := range events[1:] {
		switch e["type"] {
		case "beam":
			beams++
			if _, ok := e["beam"].(map[string]any)["counts"]; !ok {
				t.Error("beam event missing counts")
			}
		case "status":
			statuses++
		}
	}
	if beams == 0 || statuses == 0 {
		t.Errorf("got %d beams and %d statuses, want both", beams, statuses)
	}
}

func TestHandleMessages_KindFilter(t *testing.T) {
	f := newFixture(t, testConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go f.feed(ctx)

	req := httptest.NewRequest("GET", "/api/v1/stream/messages?kinds=status", nil).WithContext(ctx)
	req.RemoteAddr = "127.0.0.1:12345"
	w := httptest.NewRecorder()
	f.handler.HandleMessages(w, req)

	events := sseEvents(t, w.Body.String())
	if len(events) < 2 {
		t.Fatalf("got %d events, want hello plus statuses", len(events))
	}
	for _, e := range events[1:] {
		if e["type"] != "status" {
			t.Errorf("unexpected %v event with kinds=status", e["type"])
		}
	}
}

func TestHandleMessages_BadKinds(t *testing.T) {
	f := newFixture(t, testConfig())
	req := httptest.NewRequest("GET", "/api/v1/stream/messages?kinds=keyframes", nil)
	w := httptest.NewRecorder()
	f.handler.HandleMessages(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestHandleMessages_EndsWhenHubStops(t *testing.T) {
	f := newFixture(t, testConfig())

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		req := httptest.NewRequest("GET", "/api/v1/stream/messages", nil)
		req.RemoteAddr = "127.0.0.1:12345"
		f.handler.HandleMessages(httptest.NewRecorder(), req)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for f.hub.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	f.stop()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return after the hub stopped")
	}
	if n := f.handler.ActiveStreams(); n != 0 {
		t.Errorf("ActiveStreams() = %d, want 0", n)
	}
}

func TestRateLimitHTTPResponse(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPerIP = 1
	f := newFixture(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		req := httptest.NewRequest("GET", "/api/v1/stream/messages", nil).WithContext(ctx)
		req.RemoteAddr = "10.0.0.1:12345"
		f.handler.HandleMessages(httptest.NewRecorder(), req)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for f.handler.ActiveStreams() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	req := httptest.NewRequest("GET", "/api/v1/stream/messages", nil)
	req.RemoteAddr = "10.0.0.1:54321"
	w := httptest.NewRecorder()
	f.handler.HandleMessages(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}

	cancel()
	<-done
}

func TestRateLimiting(t *testing.T) {
	limiter := newStreamLimiter(3, 5)

	for i := 0; i < 3; i++ {
		if !limiter.acquire("10.0.0.1") {
			t.Fatalf("acquire %d should succeed", i+1)
		}
	}
	if limiter.acquire("10.0.0.1") {
		t.Error("acquire beyond per-IP limit should fail")
	}
	if !limiter.acquire("10.0.0.2") || !limiter.acquire("10.0.0.3") {
		t.Error("other IPs should not be limited")
	}
	if limiter.acquire("10.0.0.4") {
		t.Error("acquire beyond total limit should fail")
	}

	limiter.release("10.0.0.1")
	if !limiter.acquire("10.0.0.4") {
		t.Error("acquire after release should succeed")
	}
	if c := limiter.count("10.0.0.1"); c != 2 {
		t.Errorf("count = %d, want 2", c)
	}
	if c := limiter.active(); c != 5 {
		t.Errorf("active = %d, want 5", c)
	}
}

func TestRateLimitingConcurrent(t *testing.T) {
	limiter := newStreamLimiter(100, 100)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.acquire("10.0.0.1") {
				defer limiter.release("10.0.0.1")
				time.Sleep(10 * time.Millisecond)
			}
		}()
	}
	wg.Wait()

	if c := limiter.count("10.0.0.1"); c != 0 {
		t.Errorf("count after all released = %d, want 0", c)
	}
}

func dialWS(t *testing.T, h *Handler, query string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

type frame struct {
	Type     string `json:"type" msgpack:"type"`
	Accepted int    `json:"accepted" msgpack:"accepted"`
	Error    string `json:"error" msgpack:"error"`
}

// readUntil reads frames until one has the wanted type.
func readUntil(t *testing.T, conn *websocket.Conn, want string, binary bool) frame {
	t.Helper()
	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %q: %v", want, err)
		}
		var f frame
		if binary {
			if typ != websocket.BinaryMessage {
				t.Fatalf("frame type = %d, want binary", typ)
			}
			err = msgpack.Unmarshal(data, &f)
		} else {
			err = json.Unmarshal(data, &f)
		}
		if err != nil {
			t.Fatalf("decoding frame: %v", err)
		}
		if f.Type == want {
			return f
		}
	}
}

func TestWebSocket_TextCommands(t *testing.T) {
	f := newFixture(t, testConfig())
	conn := dialWS(t, f.handler, "")

	readUntil(t, conn, "hello", false)
	if err := conn.WriteMessage(websocket.TextMessage, []byte("main_power=on\nbogus\nelevation = 3.5\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	ack := readUntil(t, conn, "ack", false)
	if ack.Accepted != 2 {
		t.Errorf("accepted = %d, want 2", ack.Accepted)
	}
	if ack.Error == "" {
		t.Error("ack should report the malformed line")
	}

	got := f.sub.commands()
	want := []sim.Command{{Key: "main_power", Value: "on"}, {Key: "elevation", Value: "3.5"}}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("submitted %v, want %v", got, want)
	}

	f.q.Push(beamMsg(42))
	if m := readUntil(t, conn, "beam", false); m.Type != "beam" {
		t.Errorf("got %q, want beam", m.Type)
	}
}

func TestWebSocket_Msgpack(t *testing.T) {
	f := newFixture(t, testConfig())
	conn := dialWS(t, f.handler, "?format=msgpack&kinds=beam")

	readUntil(t, conn, "hello", true)

	data, err := msgpack.Marshal([]sim.Command{{Key: "radiate", Value: "on"}})
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}
	if ack := readUntil(t, conn, "ack", true); ack.Accepted != 1 || ack.Error != "" {
		t.Errorf("ack = %+v, want 1 accepted", ack)
	}

	f.q.Push(statusMsg(true))
	f.q.Push(beamMsg(7))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg sim.Message
	if err := msgpack.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Kind != sim.KindBeam || msg.Beam == nil || msg.Beam.Azimuth != 7 {
		t.Errorf("got %+v, want the beam at azimuth 7", msg)
	}
}

func TestWebSocket_BadFormat(t *testing.T) {
	f := newFixture(t, testConfig())
	req := httptest.NewRequest("GET", "/ws?format=xml", nil)
	w := httptest.NewRecorder()
	f.handler.HandleWebSocket(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestWebSocket_ClosedWhenHubStops(t *testing.T) {
	f := newFixture(t, testConfig())
	conn := dialWS(t, f.handler, "")
	readUntil(t, conn, "hello", false)

	f.stop()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
				t.Errorf("read error = %v, want going-away close", err)
			}
			return
		}
	}
}
