// internal/storage/multi.go
package storage

import (
	"context"
	"errors"
)

type Mirror interface {
	Mirror(ctx context.Context, camera string, data []byte, contentType string) error
}

// Multi espelha em todos os destinos e junta os erros.
type Multi []Mirror

func (m Multi) Mirror(ctx context.Context, camera string, data []byte, contentType string) error {
	var errs []error
	for _, dst := range m {
		if err := dst.Mirror(ctx, camera, data, contentType); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
