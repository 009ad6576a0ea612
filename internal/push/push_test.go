package push

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sua-org/cam-gateway/internal/core"
	"github.com/sua-org/cam-gateway/internal/subscription"
)

type published struct {
	topic    string
	retained bool
	payload  string
}

type fakeBroker struct {
	mu       sync.Mutex
	pubs     []published
	handlers map[string]func(topic string, payload []byte)
}

func (b *fakeBroker) Publish(topic string, qos byte, retained bool, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pubs = append(b.pubs, published{topic, retained, string(payload)})
	return nil
}

func (b *fakeBroker) Subscribe(topic string, qos byte, h func(topic string, payload []byte)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers == nil {
		b.handlers = map[string]func(string, []byte){}
	}
	b.handlers[topic] = h
	return nil
}

func (b *fakeBroker) deliver(filter, topic, payload string) {
	b.mu.Lock()
	h := b.handlers[filter]
	b.mu.Unlock()
	h(topic, []byte(payload))
}

type call struct {
	op, camera, id string
	width          int
}

type fakeSubs struct {
	mu    sync.Mutex
	calls []call
	err   error
}

func (s *fakeSubs) Subscribe(camera, id string, width int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call{"sub", camera, id, width})
	return s.err
}

func (s *fakeSubs) Heartbeat(camera, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call{"hb", camera, id, 0})
	return nil
}

func (s *fakeSubs) Unsubscribe(camera, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call{"unsub", camera, id, 0})
}

func (s *fakeSubs) ops() []call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]call(nil), s.calls...)
}

type targetFunc func(id string) error

func (f targetFunc) Push(ctx context.Context, id, camera string, frame []byte) error { return f(id) }

func TestRouterFallsThrough(t *testing.T) {
	var hits []string
	first := targetFunc(func(id string) error {
		hits = append(hits, "ws")
		if id == "ws-viewer" {
			return nil
		}
		return notRegistered("back", id)
	})
	second := targetFunc(func(id string) error {
		hits = append(hits, "mqtt")
		if id == "mqtt-viewer" {
			return nil
		}
		return notRegistered("back", id)
	})
	r := NewRouter(first, nil, second)
	ctx := context.Background()

	if err := r.Push(ctx, "ws-viewer", "back", nil); err != nil {
		t.Fatal(err)
	}
	if err := r.Push(ctx, "mqtt-viewer", "back", nil); err != nil {
		t.Fatal(err)
	}
	if err := r.Push(ctx, "ghost", "back", nil); !errors.Is(err, core.ErrNotRegistered) {
		t.Fatalf("got %v", err)
	}
	if got := strings.Join(hits, ","); got != "ws,ws,mqtt,ws,mqtt" {
		t.Fatalf("hits = %s", got)
	}
}

func TestMQTTViewers(t *testing.T) {
	b := &fakeBroker{}
	subs := &fakeSubs{}
	v := NewMQTTViewers(b, "cam-gateway/")
	if err := v.Listen(subs); err != nil {
		t.Fatal(err)
	}

	if err := v.Push(context.Background(), "tv", "back", []byte("f")); !errors.Is(err, core.ErrNotRegistered) {
		t.Fatalf("unknown viewer: %v", err)
	}

	b.deliver("cam-gateway/+/live/subscribe", "cam-gateway/back/live/subscribe", `{"clientId":"tv","width":640}`)
	if err := v.Push(context.Background(), "tv", "back", []byte("f")); err != nil {
		t.Fatal(err)
	}
	b.mu.Lock()
	last := b.pubs[len(b.pubs)-1]
	b.mu.Unlock()
	if last.topic != "cam-gateway/back/live/tv" || last.payload != "f" || last.retained {
		t.Fatalf("published %+v", last)
	}

	b.deliver("cam-gateway/+/live/unsubscribe", "cam-gateway/back/live/unsubscribe", `{"clientId":"tv"}`)
	if err := v.Push(context.Background(), "tv", "back", []byte("f")); !errors.Is(err, core.ErrNotRegistered) {
		t.Fatalf("after unsubscribe: %v", err)
	}

	// lixo é ignorado
	b.deliver("cam-gateway/+/live/subscribe", "cam-gateway/back/live/subscribe", `not json`)

	ops := subs.ops()
	if len(ops) != 2 || ops[0] != (call{"sub", "back", "tv", 640}) || ops[1] != (call{"unsub", "back", "tv", 0}) {
		t.Fatalf("registry calls = %+v", ops)
	}
}

type streamAlways struct{}

func (streamAlways) StartStream(camera string, width int) error { return nil }
func (streamAlways) StopStream(camera string)                   {}
func (streamAlways) Streaming(camera string) bool               { return true }

func TestMQTTViewersForgetExpired(t *testing.T) {
	b := &fakeBroker{}
	reg := subscription.NewRegistry(time.Millisecond)
	reg.Bind(streamAlways{})
	v := NewMQTTViewers(b, "cam-gateway")
	reg.OnExpire(v.Forget)
	if err := v.Listen(reg); err != nil {
		t.Fatal(err)
	}

	b.deliver("cam-gateway/+/live/subscribe", "cam-gateway/back/live/subscribe", `{"clientId":"tv"}`)
	if err := v.Push(context.Background(), "tv", "back", []byte("f")); err != nil {
		t.Fatal(err)
	}

	time.Sleep(5 * time.Millisecond)
	reg.Sweep()
	if err := v.Push(context.Background(), "tv", "back", []byte("f")); !errors.Is(err, core.ErrNotRegistered) {
		t.Fatalf("expired viewer should be forgotten, got %v", err)
	}
}

func TestMQTTViewersRejectedSubscribe(t *testing.T) {
	b := &fakeBroker{}
	subs := &fakeSubs{err: core.ErrStreamingUnsupported}
	v := NewMQTTViewers(b, "cam-gateway")
	v.Listen(subs)

	b.deliver("cam-gateway/+/live/subscribe", "cam-gateway/door/live/subscribe", `{"clientId":"tv"}`)
	if err := v.Push(context.Background(), "tv", "door", nil); !errors.Is(err, core.ErrNotRegistered) {
		t.Fatalf("got %v", err)
	}
}

func TestStateBoard(t *testing.T) {
	b := &fakeBroker{}
	s := NewStateBoard(b, "cam-gateway")

	s.PublishFrame("back", []byte("jpeg"))
	if f, _, ok := s.Last("back"); !ok || string(f) != "jpeg" {
		t.Fatalf("Last = %q %v", f, ok)
	}
	s.ClearFrame("back")
	if _, _, ok := s.Last("back"); ok {
		t.Fatal("clear should drop the value")
	}

	want := []published{
		{"cam-gateway/back/stream", true, "jpeg"},
		{"cam-gateway/back/stream", true, ""},
	}
	if len(b.pubs) != 2 || b.pubs[0] != want[0] || b.pubs[1] != want[1] {
		t.Fatalf("pubs = %+v", b.pubs)
	}

	// sem broker funciona só em memória
	mem := NewStateBoard(nil, "x")
	mem.PublishFrame("a", []byte("1"))
	if _, _, ok := mem.Last("a"); !ok {
		t.Fatal("in-memory board lost the value")
	}
}

func TestHubServeAndPush(t *testing.T) {
	hub := NewHub()
	subs := &fakeSubs{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, "back", 320, subs)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}

	var id string
	deadline := time.Now().Add(2 * time.Second)
	for id == "" && time.Now().Before(deadline) {
		if ops := subs.ops(); len(ops) > 0 {
			id = ops[0].id
		}
		time.Sleep(2 * time.Millisecond)
	}
	if id == "" {
		t.Fatal("viewer never subscribed")
	}
	if ops := subs.ops(); ops[0].width != 320 || ops[0].camera != "back" {
		t.Fatalf("subscribe call = %+v", ops[0])
	}

	if err := hub.Push(context.Background(), id, "back", []byte("frame-1")); err != nil {
		t.Fatal(err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := conn.ReadMessage()
	if err != nil || kind != websocket.BinaryMessage || string(data) != "frame-1" {
		t.Fatalf("read kind=%d data=%q err=%v", kind, data, err)
	}

	if err := hub.Push(context.Background(), id, "front", nil); !errors.Is(err, core.ErrNotRegistered) {
		t.Fatalf("wrong camera: %v", err)
	}

	conn.WriteMessage(websocket.TextMessage, []byte("ping"))
	conn.Close()

	unsubscribed := func() bool {
		ops := subs.ops()
		last := ops[len(ops)-1]
		return last.op == "unsub" && last.id == id
	}
	deadline = time.Now().Add(2 * time.Second)
	for !unsubscribed() && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if !unsubscribed() || hub.Len() != 0 {
		t.Fatalf("viewer not cleaned up: %+v", subs.ops())
	}
	if err := hub.Push(context.Background(), id, "back", nil); !errors.Is(err, core.ErrNotRegistered) {
		t.Fatalf("closed viewer: %v", err)
	}
}
