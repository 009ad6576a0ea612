package subscription

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sua-org/cam-gateway/internal/core"
)

type fakeController struct {
	mu        sync.Mutex
	streaming map[string]bool
	starts    []int
	stops     int
	startErr  error
}

func (c *fakeController) StartStream(camera string, width int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startErr != nil {
		return c.startErr
	}
	if c.streaming == nil {
		c.streaming = map[string]bool{}
	}
	c.streaming[camera] = true
	c.starts = append(c.starts, width)
	return nil
}

func (c *fakeController) StopStream(camera string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streaming[camera] = false
	c.stops++
}

func (c *fakeController) Streaming(camera string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streaming[camera]
}

func newTestRegistry(now *time.Time) (*Registry, *fakeController) {
	r := NewRegistry(60 * time.Second)
	r.now = func() time.Time { return *now }
	c := &fakeController{}
	r.Bind(c)
	return r, c
}

func TestSubscribeStartsStream(t *testing.T) {
	now := time.Unix(0, 0)
	r, c := newTestRegistry(&now)

	if err := r.Subscribe("back", "A", 640); err != nil {
		t.Fatal(err)
	}
	if err := r.Subscribe("back", "A", 0); err != nil {
		t.Fatal(err)
	}
	if !c.Streaming("back") || len(c.starts) != 2 {
		t.Fatalf("starts = %v", c.starts)
	}
	if got := r.Subscribers("back"); len(got) != 1 || got[0] != "A" {
		t.Fatalf("subscribers = %v", got)
	}
}

func TestSubscribeFailureDoesNotRegister(t *testing.T) {
	now := time.Unix(0, 0)
	r, c := newTestRegistry(&now)
	c.startErr = core.ErrStreamingUnsupported

	if err := r.Subscribe("door", "A", 0); !errors.Is(err, core.ErrStreamingUnsupported) {
		t.Fatalf("got %v", err)
	}
	if got := r.Subscribers("door"); len(got) != 0 {
		t.Fatalf("subscribers = %v", got)
	}
}

func TestUnsubscribeLastStopsOnce(t *testing.T) {
	now := time.Unix(0, 0)
	r, c := newTestRegistry(&now)
	r.Subscribe("back", "A", 0)
	r.Subscribe("back", "stale", 0)

	// "stale" fica sem heartbeat por mais de 60s
	now = now.Add(61 * time.Second)
	r.Heartbeat("back", "A")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Unsubscribe("back", "A")
		}()
	}
	wg.Wait()

	if c.stops != 1 {
		t.Fatalf("stops = %d, want 1", c.stops)
	}
}

func TestUnsubscribeKeepsStreamWithActiveViewer(t *testing.T) {
	now := time.Unix(0, 0)
	r, c := newTestRegistry(&now)
	r.Subscribe("back", "A", 0)
	r.Subscribe("back", "B", 0)

	r.Unsubscribe("back", "A")
	if c.stops != 0 || !c.Streaming("back") {
		t.Fatalf("stream stopped with B still active")
	}
	r.Remove("back", "B")
	if c.stops != 1 {
		t.Fatalf("stops = %d, want 1", c.stops)
	}
}

func TestHeartbeatUnknown(t *testing.T) {
	now := time.Unix(0, 0)
	r, _ := newTestRegistry(&now)
	if err := r.Heartbeat("back", "ghost"); !errors.Is(err, core.ErrNotRegistered) {
		t.Fatalf("got %v", err)
	}
}

func TestSweepExpires(t *testing.T) {
	now := time.Unix(0, 0)
	r, c := newTestRegistry(&now)
	r.Subscribe("back", "A", 0)
	r.Subscribe("front", "B", 0)

	now = now.Add(30 * time.Second)
	r.Heartbeat("front", "B")
	now = now.Add(31 * time.Second)
	r.Sweep()

	if c.Streaming("back") || !c.Streaming("front") {
		t.Fatalf("streaming = %v", c.streaming)
	}
	if counts := r.Counts(); counts["back"] != 0 || counts["front"] != 1 {
		t.Fatalf("counts = %v", counts)
	}
}

func TestSweepNotifiesExpired(t *testing.T) {
	now := time.Unix(0, 0)
	r, _ := newTestRegistry(&now)
	var got []string
	r.OnExpire(func(camera, clientID string) {
		// roda fora do lock: reentrar no registro não pode travar
		r.Counts()
		got = append(got, camera+"/"+clientID)
	})
	r.Subscribe("back", "A", 0)
	r.Subscribe("front", "B", 0)

	now = now.Add(30 * time.Second)
	r.Heartbeat("front", "B")
	now = now.Add(31 * time.Second)
	r.Sweep()

	if len(got) != 1 || got[0] != "back/A" {
		t.Fatalf("expired = %v", got)
	}
	r.Sweep()
	if len(got) != 1 {
		t.Fatalf("second sweep should not notify again: %v", got)
	}
}
