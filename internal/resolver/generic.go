// internal/resolver/generic.go
package resolver

import (
	"github.com/sua-org/cam-gateway/internal/core"
)

func init() {
	// fallback para câmeras sem fabricante: usa ip/port/path da config como estão
	Register("generic", "any", func(cfg core.CameraConfig) (core.ConnectionDescriptor, error) {
		return descriptorFrom(cfg, 554, cfg.Path), nil
	})
}
