// internal/storage/file_mirror.go
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// FileMirror grava <dir>/<camera>.jpg, usado para mostrar algo antes do
// primeiro pedido ao vivo. A escrita é temp + rename.
type FileMirror struct {
	Dir string
}

func (m FileMirror) Path(camera string) string {
	return filepath.Join(m.Dir, unsafeName.ReplaceAllString(camera, "_")+".jpg")
}

func (m FileMirror) Mirror(ctx context.Context, camera string, data []byte, contentType string) error {
	if err := os.MkdirAll(m.Dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(m.Dir, ".snapshot-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("gravando snapshot de %s: %w", camera, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), m.Path(camera))
}

// Load lê o snapshot espelhado, se existir.
func (m FileMirror) Load(camera string) ([]byte, error) {
	return os.ReadFile(m.Path(camera))
}
