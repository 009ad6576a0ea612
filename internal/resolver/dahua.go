// internal/resolver/dahua.go
package resolver

import (
	"fmt"

	"github.com/sua-org/cam-gateway/internal/core"
)

func init() {
	// fabricante "Dahua", modelo "any"
	Register("dahua", "any", resolveDahua)
}

func resolveDahua(cfg core.CameraConfig) (core.ConnectionDescriptor, error) {
	path := cfg.Path
	if path == "" {
		path = fmt.Sprintf("cam/realmonitor?channel=%d&subtype=0", channelOr(cfg, 1))
	}
	return descriptorFrom(cfg, 554, path), nil
}
