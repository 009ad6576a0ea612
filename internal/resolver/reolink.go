// internal/resolver/reolink.go
package resolver

import (
	"fmt"

	"github.com/sua-org/cam-gateway/internal/core"
)

func init() {
	Register("reolink", "any", resolveReolink)
}

func resolveReolink(cfg core.CameraConfig) (core.ConnectionDescriptor, error) {
	path := cfg.Path
	if path == "" {
		path = fmt.Sprintf("h264Preview_%02d_main", channelOr(cfg, 1))
	}
	return descriptorFrom(cfg, 554, path), nil
}
