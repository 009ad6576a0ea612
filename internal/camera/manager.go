// internal/camera/manager.go
package camera

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/sua-org/cam-gateway/internal/core"
	"github.com/sua-org/cam-gateway/internal/imaging"
	"github.com/sua-org/cam-gateway/internal/resolver"
	"github.com/sua-org/cam-gateway/internal/snapshot"
	"github.com/sua-org/cam-gateway/internal/stream"
)

const DefaultLiveMaxAge = 2 * time.Second

type Options struct {
	FetchTimeout time.Duration
	TempDir      string
	LiveMaxAge   time.Duration

	// Stream é o molde das sessões; Snapshot é preenchido por câmera.
	Stream stream.Options

	Mirror     snapshot.Mirror
	HTTPClient *http.Client
	Runner     snapshot.Runner
}

// Instance é uma câmera configurada: fetcher com single-flight, cache e,
// para rtsp, a sessão de stream.
type Instance struct {
	cfg     core.CameraConfig
	desc    *core.ConnectionDescriptor
	fetcher *snapshot.Fetcher
	cache   *snapshot.Cache
	session *stream.Session
}

func (i *Instance) Name() string              { return i.cfg.Name }
func (i *Instance) Config() core.CameraConfig { return i.cfg }
func (i *Instance) SupportsStreaming() bool   { return i.session != nil }
func (i *Instance) Session() *stream.Session  { return i.session }

// Manager é dono de todas as câmeras: Init cria, Shutdown para as sessões.
type Manager struct {
	opts Options
	proc *process.Process

	mu      sync.RWMutex
	cameras map[string]*Instance
	names   []string
}

func NewManager(opts Options) *Manager {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = snapshot.DefaultTimeout
	}
	if opts.LiveMaxAge <= 0 {
		opts.LiveMaxAge = DefaultLiveMaxAge
	}
	var procHandle *process.Process
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		procHandle = p
	}
	return &Manager{opts: opts, proc: procHandle, cameras: make(map[string]*Instance)}
}

// Init cria as instâncias. Erro de configuração derruba só a câmera em
// questão; o retorno é quantas ficaram de fora.
func (m *Manager) Init(cfgs []core.CameraConfig) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	skipped := 0
	for _, cfg := range cfgs {
		if !cfg.IsEnabled() {
			log.Printf("[camera] %s desabilitada", cfg.Name)
			continue
		}
		inst, err := m.build(cfg)
		if err != nil {
			log.Printf("[camera] %s ignorada: %v", cfg.Name, err)
			skipped++
			continue
		}
		m.cameras[cfg.Name] = inst
		m.names = append(m.names, cfg.Name)

		target := cfg.URL
		if inst.desc != nil {
			target = inst.desc.MaskedRTSPURL()
		}
		log.Printf("[camera] %s pronta (kind=%s, %s)", cfg.Name, kindOf(cfg), target)
	}
	sort.Strings(m.names)
	return skipped
}

func kindOf(cfg core.CameraConfig) core.CameraKind {
	if cfg.Kind == "" {
		return core.KindRTSP
	}
	return cfg.Kind
}

func (m *Manager) build(cfg core.CameraConfig) (*Instance, error) {
	if cfg.Name == "" || strings.ContainsAny(cfg.Name, "/?# ") {
		return nil, fmt.Errorf("%w: nome inválido %q", core.ErrConfig, cfg.Name)
	}
	if _, dup := m.cameras[cfg.Name]; dup {
		return nil, fmt.Errorf("%w: nome duplicado %q", core.ErrConfig, cfg.Name)
	}

	inst := &Instance{cfg: cfg}
	timeout := cfg.Timeout(m.opts.FetchTimeout)
	var engine snapshot.Engine

	switch kind := kindOf(cfg); kind {
	case core.KindURL, core.KindBasic, core.KindDigest:
		u, err := url.Parse(cfg.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("%w: url inválida %q", core.ErrConfig, cfg.URL)
		}
		e := &snapshot.HTTPEngine{URL: cfg.URL, Client: m.opts.HTTPClient}
		if kind != core.KindURL {
			e.Username, e.Password = cfg.Username, cfg.Password
			e.Digest = kind == core.KindDigest
		}
		engine = e

	case core.KindRTSP:
		desc, err := resolver.Resolve(cfg)
		if err != nil {
			return nil, err
		}
		inst.desc = &desc
		ff := &snapshot.FFmpegEngine{
			Bin:     m.opts.Stream.FFmpegPath,
			Desc:    desc,
			Prefix:  snapshot.SplitArgs(cfg.Prefix),
			Suffix:  snapshot.SplitArgs(cfg.Suffix),
			TempDir: m.opts.TempDir,
			Run:     m.opts.Runner,
		}

		so := m.opts.Stream
		so.Snapshot = func(ctx context.Context) ([]byte, error) {
			img, err := inst.fetcher.Fetch(ctx)
			if err != nil {
				return nil, err
			}
			return img.Data, nil
		}
		inst.session = stream.NewSession(cfg.Name, desc, so)
		engine = &snapshot.LiveFirstEngine{Live: inst.session, MaxAge: m.opts.LiveMaxAge, Fallback: ff}

	default:
		return nil, fmt.Errorf("%w: kind desconhecido %q", core.ErrConfig, cfg.Kind)
	}

	inst.fetcher = snapshot.NewFetcher(cfg.Name, engine, timeout)
	var cacheOpts []snapshot.CacheOption
	if m.opts.Mirror != nil {
		cacheOpts = append(cacheOpts, snapshot.WithMirror(m.opts.Mirror))
	}
	inst.cache = snapshot.NewCache(cfg.Name, inst.fetcher, processor(cfg), cfg.CacheTimeout(), cacheOpts...)
	return inst, nil
}

// processor aplica os params do pedido; w/h/angle zerados caem nos
// defaults da câmera.
func processor(cfg core.CameraConfig) snapshot.Processor {
	return func(raw *snapshot.Image, p core.Params) (*snapshot.Image, error) {
		w, h, angle := p.Width, p.Height, p.Angle
		if w == 0 && h == 0 {
			w, h = cfg.Width, cfg.Height
		}
		if angle == 0 {
			angle = cfg.Angle
		}
		data, err := imaging.Process(raw.Data, imaging.Options{
			Width:      w,
			Height:     h,
			Angle:      angle,
			AddTime:    cfg.AddTime,
			DateFormat: cfg.DateFormat,
			Title:      cfg.Title,
		})
		if err != nil {
			return nil, fmt.Errorf("processando snapshot de %s: %w", cfg.Name, err)
		}
		return &snapshot.Image{Data: data, ContentType: imaging.ContentType, CapturedAt: raw.CapturedAt}, nil
	}
}

func (m *Manager) Get(name string) (*Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.cameras[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownCamera, name)
	}
	return inst, nil
}

func (m *Manager) Has(name string) bool {
	_, err := m.Get(name)
	return err == nil
}

func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.names...)
}

// Snapshot passa pelo cache da câmera (que cai no fetcher num miss).
func (m *Manager) Snapshot(ctx context.Context, name string, req core.RequestParams) (*snapshot.Image, error) {
	inst, err := m.Get(name)
	if err != nil {
		return nil, err
	}
	return inst.cache.Get(ctx, req)
}

func (m *Manager) StartStream(camera string, width int) error {
	inst, err := m.Get(camera)
	if err != nil {
		return err
	}
	if inst.session == nil {
		return fmt.Errorf("%w: %s", core.ErrStreamingUnsupported, camera)
	}
	inst.session.Start(width)
	return nil
}

func (m *Manager) StopStream(camera string) {
	if inst, err := m.Get(camera); err == nil && inst.session != nil {
		inst.session.Stop()
	}
}

func (m *Manager) Streaming(camera string) bool {
	inst, err := m.Get(camera)
	return err == nil && inst.session != nil && inst.session.Active()
}

// Shutdown para todas as sessões antes de descartar as câmeras.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	var sessions []*stream.Session
	for _, name := range m.names {
		if s := m.cameras[name].session; s != nil {
			sessions = append(sessions, s)
		}
	}
	m.cameras = make(map[string]*Instance)
	m.names = nil
	m.mu.Unlock()

	// Stop fora do lock do manager
	for _, s := range sessions {
		s.Stop()
	}
	log.Printf("[camera] todas as câmeras encerradas")
}
