package stream

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sua-org/cam-gateway/internal/core"
)

type fakeProc struct {
	r       *io.PipeReader
	w       *io.PipeWriter
	killed  atomic.Bool
	started bool
}

func newFakeProc() *fakeProc {
	r, w := io.Pipe()
	return &fakeProc{r: r, w: w}
}

func (p *fakeProc) Stdout() io.Reader { return p.r }
func (p *fakeProc) Wait() error       { return nil }

func (p *fakeProc) Kill() error {
	p.killed.Store(true)
	return p.w.Close()
}

// frame escreve um frame completo seguido do SOI do próximo, para que o
// extractor libere o atual.
func (p *fakeProc) frame(body string) {
	var b []byte
	if !p.started {
		b = append(b, 0xFF, 0xD8)
		p.started = true
	}
	b = append(b, body+"\xFF\xD9"...)
	p.w.Write(append(b, 0xFF, 0xD8))
}

type launch struct {
	args []string
	at   time.Time
	proc *fakeProc
}

type fakeLauncher struct {
	mu       sync.Mutex
	launches []launch
}

func (l *fakeLauncher) Launch(ctx context.Context, bin string, args []string) (Process, error) {
	p := newFakeProc()
	l.mu.Lock()
	l.launches = append(l.launches, launch{args: args, at: time.Now(), proc: p})
	l.mu.Unlock()
	return p, nil
}

func (l *fakeLauncher) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.launches)
}

func (l *fakeLauncher) get(i int) launch {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launches[i]
}

type fakeAudience struct {
	mu      sync.Mutex
	subs    []string
	removed []string
}

func (a *fakeAudience) Subscribers(camera string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.subs...)
}

func (a *fakeAudience) Remove(camera, id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.removed = append(a.removed, id)
	for i, s := range a.subs {
		if s == id {
			a.subs = append(a.subs[:i], a.subs[i+1:]...)
			break
		}
	}
}

type fakePusher struct {
	mu      sync.Mutex
	got     map[string][]string
	gone    map[string]bool
	pushedN atomic.Int32
}

func (p *fakePusher) Push(ctx context.Context, id, camera string, frame []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gone[id] {
		return core.ErrNotRegistered
	}
	if p.got == nil {
		p.got = map[string][]string{}
	}
	p.got[id] = append(p.got[id], string(frame))
	p.pushedN.Add(1)
	return nil
}

func (p *fakePusher) frames(id string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.got[id]...)
}

type fakePublisher struct {
	mu      sync.Mutex
	last    map[string]string
	clears  atomic.Int32
	publish atomic.Int32
}

func (p *fakePublisher) PublishFrame(camera string, frame []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		p.last = map[string]string{}
	}
	p.last[camera] = string(frame)
	p.publish.Add(1)
}

func (p *fakePublisher) ClearFrame(camera string) {
	p.mu.Lock()
	delete(p.last, camera)
	p.mu.Unlock()
	p.clears.Add(1)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

var testDesc = core.ConnectionDescriptor{
	IP: "10.0.0.30", Port: 554, Path: "live", Protocol: core.ProtocolUDP,
	Username: "admin", Password: "pw",
}

func newTestSession(l *fakeLauncher, a *fakeAudience, p *fakePusher, pub *fakePublisher, mod func(*Options)) *Session {
	opts := Options{
		Throttle:         time.Millisecond,
		IdleTimeout:      time.Hour,
		WatchdogInterval: time.Hour,
		RestartCooldown:  50 * time.Millisecond,
		Launcher:         l,
		Audience:         a,
		Pusher:           p,
		Publisher:        pub,
	}
	if mod != nil {
		mod(&opts)
	}
	return NewSession("back", testDesc, opts)
}

func TestSessionArgs(t *testing.T) {
	l := &fakeLauncher{}
	s := newTestSession(l, &fakeAudience{}, &fakePusher{}, &fakePublisher{}, nil)
	s.Start(0)
	defer s.Stop()
	waitFor(t, "launch", func() bool { return l.count() == 1 })

	got := strings.Join(l.get(0).args, " ")
	want := "-rtsp_transport tcp -re -i rtsp://admin:pw@10.0.0.30:554/live -loglevel error -f mjpeg -r 2 -q:v 1 pipe:1"
	if got != want {
		t.Fatalf("args:\n got %s\nwant %s", got, want)
	}
}

func TestSessionFanOutRemovesUnregistered(t *testing.T) {
	l := &fakeLauncher{}
	a := &fakeAudience{subs: []string{"A", "B"}}
	p := &fakePusher{}
	s := newTestSession(l, a, p, &fakePublisher{}, nil)
	s.Start(0)
	defer s.Stop()
	waitFor(t, "streaming", func() bool { return s.State() == Streaming && l.count() == 1 })
	proc := l.get(0).proc

	proc.frame("f1")
	waitFor(t, "first frame", func() bool { return len(p.frames("A")) == 1 && len(p.frames("B")) == 1 })
	if p.frames("A")[0] != p.frames("B")[0] {
		t.Fatal("A and B got different payloads")
	}

	p.mu.Lock()
	p.gone = map[string]bool{"A": true}
	p.mu.Unlock()

	time.Sleep(5 * time.Millisecond)
	proc.frame("f2")
	waitFor(t, "A removed", func() bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		return len(a.removed) == 1 && a.removed[0] == "A"
	})
	time.Sleep(5 * time.Millisecond)
	proc.frame("f3")
	waitFor(t, "B keeps receiving", func() bool { return len(p.frames("B")) == 3 })
	if n := len(p.frames("A")); n != 1 {
		t.Fatalf("A received %d frames after removal", n)
	}
}

func TestSessionThrottle(t *testing.T) {
	l := &fakeLauncher{}
	p := &fakePusher{}
	s := newTestSession(l, &fakeAudience{subs: []string{"A"}}, p, &fakePublisher{}, func(o *Options) {
		o.Throttle = time.Hour
	})
	s.Start(0)
	defer s.Stop()
	waitFor(t, "streaming", func() bool { return s.State() == Streaming && l.count() == 1 })
	proc := l.get(0).proc

	proc.frame("f1")
	proc.frame("f2")
	waitFor(t, "last frame f2", func() bool {
		f, _ := s.LastFrame()
		return strings.Contains(string(f), "f2")
	})
	time.Sleep(20 * time.Millisecond)
	if got := p.frames("A"); len(got) != 1 || !strings.Contains(got[0], "f1") {
		t.Fatalf("pushed %q, want only f1", got)
	}
}

func TestSessionFallbackPublishesLastValue(t *testing.T) {
	l := &fakeLauncher{}
	pub := &fakePublisher{}
	s := newTestSession(l, &fakeAudience{}, &fakePusher{}, pub, nil)
	s.Start(0)
	waitFor(t, "streaming", func() bool { return s.State() == Streaming && l.count() == 1 })

	l.get(0).proc.frame("solo")
	waitFor(t, "published", func() bool { return pub.publish.Load() == 1 })

	s.Stop()
	pub.mu.Lock()
	_, ok := pub.last["back"]
	pub.mu.Unlock()
	if ok || pub.clears.Load() != 1 {
		t.Fatalf("stop should clear the published value (clears=%d)", pub.clears.Load())
	}
	if f, _ := s.LastFrame(); f != nil {
		t.Fatal("stop should clear the last frame")
	}
	if !l.get(0).proc.killed.Load() {
		t.Fatal("process not killed")
	}
}

func TestSessionIdleWatchdogStopsOnce(t *testing.T) {
	l := &fakeLauncher{}
	pub := &fakePublisher{}
	s := newTestSession(l, &fakeAudience{}, &fakePusher{}, pub, func(o *Options) {
		o.IdleTimeout = 40 * time.Millisecond
		o.WatchdogInterval = 10 * time.Millisecond
	})
	s.Start(0)
	waitFor(t, "auto stop", func() bool { return l.count() == 1 && s.State() == Stopped })

	time.Sleep(50 * time.Millisecond)
	if n := pub.clears.Load(); n != 1 {
		t.Fatalf("clears = %d, want 1", n)
	}
	if !l.get(0).proc.killed.Load() {
		t.Fatal("idle process not killed")
	}
	s.Stop() // no-op
	if n := pub.clears.Load(); n != 1 {
		t.Fatalf("clears after Stop = %d, want 1", n)
	}
}

func TestSessionProcessExitStops(t *testing.T) {
	l := &fakeLauncher{}
	s := newTestSession(l, &fakeAudience{}, &fakePusher{}, &fakePublisher{}, nil)
	s.Start(0)
	waitFor(t, "streaming", func() bool { return s.State() == Streaming && l.count() == 1 })

	l.get(0).proc.w.CloseWithError(io.ErrUnexpectedEOF)
	waitFor(t, "stopped", func() bool { return s.State() == Stopped })
	time.Sleep(20 * time.Millisecond)
	if l.count() != 1 {
		t.Fatal("process exit must not restart automatically")
	}
}

func TestSessionWidthChange(t *testing.T) {
	l := &fakeLauncher{}
	p := &fakePusher{}
	s := newTestSession(l, &fakeAudience{subs: []string{"A"}}, p, &fakePublisher{}, nil)
	s.Start(640)
	defer s.Stop()
	waitFor(t, "streaming", func() bool { return s.State() == Streaming && l.count() == 1 })

	// dentro da tolerância: só a largura alvo muda
	s.Start(700)
	time.Sleep(20 * time.Millisecond)
	if l.count() != 1 || s.Width() != 700 {
		t.Fatalf("launches=%d width=%d", l.count(), s.Width())
	}
	if !strings.Contains(strings.Join(l.get(0).args, " "), "scale=640:-1") {
		t.Fatalf("first args = %v", l.get(0).args)
	}

	stoppedAt := time.Now()
	s.Start(800)
	if !l.get(0).proc.killed.Load() {
		t.Fatal("old process should be killed immediately")
	}
	if s.State() != Stopping {
		t.Fatalf("state = %s, want stopping", s.State())
	}
	waitFor(t, "restart", func() bool { return l.count() == 2 && s.State() == Streaming })

	second := l.get(1)
	if gap := second.at.Sub(stoppedAt); gap < 50*time.Millisecond {
		t.Fatalf("restart after %s, want >= cooldown", gap)
	}
	if !strings.Contains(strings.Join(second.args, " "), "scale=800:-1") {
		t.Fatalf("second args = %v", second.args)
	}
	if n := p.pushedN.Load(); n != 0 {
		t.Fatalf("no frames expected before the new session, got %d", n)
	}
	second.proc.frame("new")
	waitFor(t, "frame from new session", func() bool { return len(p.frames("A")) == 1 })
}

func TestSessionStopCancelsPendingRestart(t *testing.T) {
	l := &fakeLauncher{}
	s := newTestSession(l, &fakeAudience{}, &fakePusher{}, &fakePublisher{}, nil)
	s.Start(640)
	waitFor(t, "streaming", func() bool { return s.State() == Streaming && l.count() == 1 })

	s.Start(1280)
	s.Stop()
	time.Sleep(100 * time.Millisecond)
	if l.count() != 1 || s.State() != Stopped {
		t.Fatalf("launches=%d state=%s", l.count(), s.State())
	}
}

func TestSessionMeasuresAspect(t *testing.T) {
	l := &fakeLauncher{}
	s := newTestSession(l, &fakeAudience{}, &fakePusher{}, &fakePublisher{}, func(o *Options) {
		o.Snapshot = func(ctx context.Context) ([]byte, error) { return testJPEG(t, 40, 20), nil }
	})
	s.Start(640)
	defer s.Stop()
	waitFor(t, "launch", func() bool { return l.count() == 1 })
	if args := strings.Join(l.get(0).args, " "); !strings.Contains(args, "scale=640:320") {
		t.Fatalf("args = %s", args)
	}
}

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h)), nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}
