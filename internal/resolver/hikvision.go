// internal/resolver/hikvision.go
package resolver

import (
	"fmt"

	"github.com/sua-org/cam-gateway/internal/core"
)

func init() {
	// registra Hikvision para qualquer modelo: "hikvision:any"
	Register("hikvision", "any", resolveHikvision)
}

// ISAPI: canal N, stream principal = N01.
func resolveHikvision(cfg core.CameraConfig) (core.ConnectionDescriptor, error) {
	path := cfg.Path
	if path == "" {
		path = fmt.Sprintf("Streaming/Channels/%d01", channelOr(cfg, 1))
	}
	return descriptorFrom(cfg, 554, path), nil
}
