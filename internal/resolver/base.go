// internal/resolver/base.go
package resolver

import (
	"fmt"
	"strings"

	"github.com/bluenviron/gortsplib/v4/pkg/base"

	"github.com/sua-org/cam-gateway/internal/core"
)

// Resolver transforma a config de um fabricante no descriptor canônico.
type Resolver func(cfg core.CameraConfig) (core.ConnectionDescriptor, error)

// registry: fabricante:model -> resolver
var registry = map[string]Resolver{}

// Register é chamado no init() de cada fabricante (Hikvision, Dahua, etc).
func Register(manufacturer, model string, r Resolver) {
	registry[normalize(manufacturer)+":"+normalize(model)] = r
}

// Resolve escolhe o resolver por fabricante:model, cai para fabricante:any e
// por último para generic:any. O descriptor resultante é validado.
func Resolve(cfg core.CameraConfig) (core.ConnectionDescriptor, error) {
	r, ok := registry[keyFor(cfg)]
	if !ok {
		r, ok = registry[normalize(cfg.Manufacturer)+":any"]
	}
	if !ok {
		if strings.TrimSpace(cfg.Manufacturer) != "" {
			return core.ConnectionDescriptor{}, fmt.Errorf("%w: %s", ErrResolverNotFound, keyFor(cfg))
		}
		r = registry["generic:any"]
	}

	desc, err := r(cfg)
	if err != nil {
		return core.ConnectionDescriptor{}, err
	}
	if err := desc.Validate(); err != nil {
		return core.ConnectionDescriptor{}, err
	}
	if _, err := base.ParseURL(desc.RTSPURL()); err != nil {
		return core.ConnectionDescriptor{}, fmt.Errorf("%w: url rtsp inválida %s: %v", core.ErrConfig, desc.MaskedRTSPURL(), err)
	}
	return desc, nil
}

func keyFor(cfg core.CameraConfig) string {
	model := cfg.Model
	if strings.TrimSpace(model) == "" {
		model = "any"
	}
	return normalize(cfg.Manufacturer) + ":" + normalize(model)
}

func normalize(s string) string {
	b := make([]rune, 0, len(s))
	for _, r := range []rune(s) {
		// remove espaços, hífen, underline
		if r == ' ' || r == '-' || r == '_' {
			continue
		}
		// minúsculo
		if r >= 'A' && r <= 'Z' {
			r = r + 32
		}
		b = append(b, r)
	}
	return string(b)
}

// descriptorFrom copia os campos comuns da config, aplicando defaults.
func descriptorFrom(cfg core.CameraConfig, defaultPort int, path string) core.ConnectionDescriptor {
	port := cfg.Port
	if port == 0 {
		port = defaultPort
	}
	proto := core.Protocol(strings.ToLower(strings.TrimSpace(cfg.Protocol)))
	if proto == "" {
		proto = core.ProtocolTCP
	}
	return core.ConnectionDescriptor{
		IP:       strings.TrimSpace(cfg.IP),
		Port:     port,
		Path:     path,
		Protocol: proto,
		Username: cfg.Username,
		Password: cfg.Password,
	}
}

func channelOr(cfg core.CameraConfig, def int) int {
	if cfg.Channel > 0 {
		return cfg.Channel
	}
	return def
}
