// internal/snapshot/cache.go
package snapshot

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sua-org/cam-gateway/internal/core"
)

// Source é o que o cache consulta num miss (normalmente um *Fetcher).
type Source interface {
	Fetch(ctx context.Context) (*Image, error)
}

// Processor aplica resize/rotate/overlay sobre o frame bruto.
type Processor func(raw *Image, params core.Params) (*Image, error)

type cachedSnapshot struct {
	img       *Image
	params    core.Params
	expiresAt time.Time
}

// Cache guarda um único slot por câmera, válido só para os mesmos params.
// ttl == 0 desliga o cache.
type Cache struct {
	camera  string
	source  Source
	process Processor
	ttl     time.Duration
	mirror  Mirror
	now     func() time.Time

	group singleflight.Group

	mu    sync.Mutex
	entry *cachedSnapshot
}

type CacheOption func(*Cache)

func WithMirror(m Mirror) CacheOption {
	return func(c *Cache) { c.mirror = m }
}

func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

func NewCache(camera string, source Source, process Processor, ttl time.Duration, opts ...CacheOption) *Cache {
	c := &Cache{
		camera:  camera,
		source:  source,
		process: process,
		ttl:     ttl,
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get devolve o snapshot processado para req.
func (c *Cache) Get(ctx context.Context, req core.RequestParams) (*Image, error) {
	if !req.NoCache {
		if img := c.lookup(req.Params); img != nil {
			c.mirrorImage(ctx, img)
			return img, nil
		}
	}

	// pedidos idênticos concorrentes compartilham o mesmo fetch+processamento
	key := fmt.Sprintf("%d:%d:%d", req.Width, req.Height, req.Angle)
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		return c.fill(detached, req.Params)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		img := res.Val.(*Image)
		c.mirrorImage(ctx, img)
		return img, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) fill(ctx context.Context, params core.Params) (*Image, error) {
	raw, err := c.source.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	img := raw
	if c.process != nil {
		if img, err = c.process(raw, params); err != nil {
			return nil, err
		}
	}
	if c.ttl > 0 {
		c.mu.Lock()
		c.entry = &cachedSnapshot{img: img, params: params, expiresAt: c.now().Add(c.ttl)}
		c.mu.Unlock()
	}
	return img, nil
}

func (c *Cache) lookup(params core.Params) *Image {
	if c.ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entry
	if e == nil || e.params != params || !c.now().Before(e.expiresAt) {
		return nil
	}
	return e.img
}

func (c *Cache) mirrorImage(ctx context.Context, img *Image) {
	if c.mirror == nil {
		return
	}
	if err := c.mirror.Mirror(ctx, c.camera, img.Data, img.ContentType); err != nil {
		log.Printf("[snapshot] %s: falha ao espelhar snapshot: %v", c.camera, err)
	}
}
