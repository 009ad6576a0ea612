// internal/snapshot/fetcher.go
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sua-org/cam-gateway/internal/core"
)

const DefaultTimeout = 10 * time.Second

// Fetcher garante no máximo uma aquisição em voo por câmera: chamadores
// concorrentes recebem o mesmo resultado.
type Fetcher struct {
	camera  string
	engine  Engine
	timeout time.Duration
	group   singleflight.Group
}

func NewFetcher(camera string, engine Engine, timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Fetcher{camera: camera, engine: engine, timeout: timeout}
}

// Fetch espera o resultado compartilhado ou o ctx do chamador, o que vier
// antes. Sair cedo não cancela a aquisição dos outros chamadores.
func (f *Fetcher) Fetch(ctx context.Context) (*Image, error) {
	ch := f.group.DoChan(f.camera, f.acquire)
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Image), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *Fetcher) acquire() (interface{}, error) {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	img, err := f.engine.Acquire(ctx)
	// o deadline é checado antes do resultado: timeout sempre vence
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: %s após %s", core.ErrFetchTimeout, f.camera, f.timeout)
	}
	if err != nil {
		return nil, err
	}
	return img, nil
}
