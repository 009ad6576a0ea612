// internal/core/types.go
package core

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

type Protocol string

const (
	ProtocolTCP Protocol = "tcp"
	ProtocolUDP Protocol = "udp"
)

// CameraKind seleciona o engine de snapshot da câmera.
type CameraKind string

const (
	KindURL    CameraKind = "url"    // GET simples numa URL de imagem
	KindBasic  CameraKind = "basic"  // GET com Basic auth
	KindDigest CameraKind = "digest" // GET com Digest auth (snapshot.cgi, ISAPI picture)
	KindRTSP   CameraKind = "rtsp"   // ffmpeg contra o descriptor resolvido
)

// ConnectionDescriptor é o formato canônico produzido pelos resolvers de fabricante.
type ConnectionDescriptor struct {
	IP       string   `json:"ip"`
	Port     int      `json:"port"`
	Path     string   `json:"path"`
	Protocol Protocol `json:"protocol"`
	Username string   `json:"username,omitempty"`
	Password string   `json:"password,omitempty"`
}

func (d ConnectionDescriptor) Validate() error {
	if strings.TrimSpace(d.IP) == "" {
		return fmt.Errorf("%w: ip obrigatório", ErrConfig)
	}
	if strings.ContainsAny(d.IP, "/@ ") {
		return fmt.Errorf("%w: ip inválido %q", ErrConfig, d.IP)
	}
	if d.Port <= 0 || d.Port > 65535 {
		return fmt.Errorf("%w: porta inválida %d", ErrConfig, d.Port)
	}
	if d.Protocol != ProtocolTCP && d.Protocol != ProtocolUDP {
		return fmt.Errorf("%w: protocolo inválido %q", ErrConfig, d.Protocol)
	}
	return nil
}

// RTSPURL monta rtsp://[user:pass@]host:port[/path]. A senha é percent-encoded
// inclusive ! ' ( ) * quando existe username.
func (d ConnectionDescriptor) RTSPURL() string {
	return d.rtspURL(EscapeCredential(d.Password))
}

// MaskedRTSPURL é a mesma URL com a senha trocada por asteriscos, para log.
func (d ConnectionDescriptor) MaskedRTSPURL() string {
	return d.rtspURL("****")
}

func (d ConnectionDescriptor) rtspURL(password string) string {
	var b strings.Builder
	b.WriteString("rtsp://")
	if d.Username != "" {
		b.WriteString(d.Username)
		if d.Password != "" {
			b.WriteString(":")
			b.WriteString(password)
		}
		b.WriteString("@")
	}
	b.WriteString(net.JoinHostPort(d.IP, strconv.Itoa(d.Port)))
	if p := strings.TrimPrefix(d.Path, "/"); p != "" {
		b.WriteString("/")
		b.WriteString(p)
	}
	return b.String()
}

// Scrub troca a URL completa e a senha, crua ou escapada, por asteriscos.
// Usado em tudo que vem do stderr do ffmpeg antes de ir para log ou erro.
func (d ConnectionDescriptor) Scrub(s string) string {
	if d.Password == "" {
		return s
	}
	s = strings.ReplaceAll(s, d.RTSPURL(), d.MaskedRTSPURL())
	for _, form := range []string{
		EscapeCredential(d.Password),
		url.PathEscape(d.Password),
		url.QueryEscape(d.Password),
		d.Password,
	} {
		s = strings.ReplaceAll(s, form, "****")
	}
	return s
}

var hostIDRx = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// HostID identifica o host de forma segura para nome de arquivo.
func (d ConnectionDescriptor) HostID() string {
	return hostIDRx.ReplaceAllString(fmt.Sprintf("%s_%d", d.IP, d.Port), "_")
}

// EscapeCredential codifica tudo fora de [A-Za-z0-9-_.~].
func EscapeCredential(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') ||
			c == '-' || c == '_' || c == '.' || c == '~' {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0F])
	}
	return b.String()
}

// CameraConfig vem do arquivo YAML de câmeras.
type CameraConfig struct {
	Name         string     `yaml:"name"`
	Kind         CameraKind `yaml:"kind"`
	Manufacturer string     `yaml:"manufacturer"`
	Model        string     `yaml:"model"`
	Enabled      *bool      `yaml:"enabled"`

	// rtsp
	IP       string `yaml:"ip"`
	Port     int    `yaml:"port"`
	Path     string `yaml:"path"`
	Channel  int    `yaml:"channel"`
	Protocol string `yaml:"protocol"`
	Prefix   string `yaml:"prefix"` // args extras do ffmpeg antes do -rtsp_transport
	Suffix   string `yaml:"suffix"` // args extras do ffmpeg antes do arquivo de saída

	// url / basic
	URL string `yaml:"url"`

	Username string `yaml:"username"`
	Password string `yaml:"password"`

	TimeoutMS      int `yaml:"timeout_ms"`
	CacheTimeoutMS int `yaml:"cache_timeout_ms"`

	// pós-processamento padrão
	AddTime    bool   `yaml:"add_time"`
	DateFormat string `yaml:"date_format"`
	Title      string `yaml:"title"`
	Width      int    `yaml:"width"`
	Height     int    `yaml:"height"`
	Angle      int    `yaml:"angle"`
}

func (c CameraConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

func (c CameraConfig) Timeout(def time.Duration) time.Duration {
	if c.TimeoutMS > 0 {
		return time.Duration(c.TimeoutMS) * time.Millisecond
	}
	return def
}

func (c CameraConfig) CacheTimeout() time.Duration {
	if c.CacheTimeoutMS <= 0 {
		return 0
	}
	return time.Duration(c.CacheTimeoutMS) * time.Millisecond
}

// Params é a chave do cache (match exato).
type Params struct {
	Width  int `json:"w"`
	Height int `json:"h"`
	Angle  int `json:"angle"`
}

type RequestParams struct {
	Params
	NoCache bool `json:"noCache"`
}
