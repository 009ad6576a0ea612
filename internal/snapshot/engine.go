// internal/snapshot/engine.go
package snapshot

import (
	"context"
	"time"
)

// Image é um still já adquirido. Compartilhado entre chamadores do
// single-flight, então ninguém deve alterar Data.
type Image struct {
	Data        []byte
	ContentType string
	CapturedAt  time.Time
}

// Engine adquire exatamente um frame. O ctx carrega o deadline do fetch;
// quando ele expira o engine deve abortar (matar processo / request).
type Engine interface {
	Acquire(ctx context.Context) (*Image, error)
}

// Mirror recebe todo snapshot servido com sucesso (arquivo local, MinIO...).
type Mirror interface {
	Mirror(ctx context.Context, camera string, data []byte, contentType string) error
}
