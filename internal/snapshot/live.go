// internal/snapshot/live.go
package snapshot

import (
	"context"
	"time"
)

// FrameSource expõe o último frame de uma sessão de stream.
type FrameSource interface {
	LastFrame() ([]byte, time.Time)
}

// LiveFirstEngine devolve o frame da sessão ao vivo quando ele é recente e
// só cai no engine normal caso contrário.
type LiveFirstEngine struct {
	Live     FrameSource
	MaxAge   time.Duration
	Fallback Engine
}

func (e *LiveFirstEngine) Acquire(ctx context.Context) (*Image, error) {
	if e.Live != nil {
		if data, at := e.Live.LastFrame(); len(data) > 0 && time.Since(at) <= e.MaxAge {
			return &Image{Data: data, ContentType: "image/jpeg", CapturedAt: at}, nil
		}
	}
	return e.Fallback.Acquire(ctx)
}
