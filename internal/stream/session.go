// internal/stream/session.go
package stream

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/sua-org/cam-gateway/internal/core"
	"github.com/sua-org/cam-gateway/internal/imaging"
)

type State int

const (
	Stopped State = iota
	Starting
	Streaming
	Stopping
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Streaming:
		return "streaming"
	case Stopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// Audience é a visão que a sessão tem do registro de inscritos.
type Audience interface {
	Subscribers(camera string) []string
	Remove(camera, clientID string)
}

// Pusher entrega um frame a um viewer. core.ErrNotRegistered significa que
// o viewer sumiu e deve sair do registro.
type Pusher interface {
	Push(ctx context.Context, clientID, camera string, frame []byte) error
}

// FramePublisher mantém o "último valor" do stream, lido por quem faz polling.
type FramePublisher interface {
	PublishFrame(camera string, frame []byte)
	ClearFrame(camera string)
}

type Options struct {
	FFmpegPath       string
	FPS              int
	Throttle         time.Duration
	IdleTimeout      time.Duration
	WatchdogInterval time.Duration
	RestartCooldown  time.Duration
	WidthTolerance   int
	QueueSize        int

	Launcher  Launcher
	Audience  Audience
	Pusher    Pusher
	Publisher FramePublisher

	// Snapshot tira um still avulso só para medir a proporção da câmera.
	Snapshot func(ctx context.Context) ([]byte, error)

	Now func() time.Time
}

func (o *Options) defaults(camera string, desc core.ConnectionDescriptor) {
	if o.FFmpegPath == "" {
		o.FFmpegPath = "ffmpeg"
	}
	if o.FPS <= 0 {
		o.FPS = 2
	}
	if o.Throttle <= 0 {
		o.Throttle = 300 * time.Millisecond
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 10 * time.Second
	}
	if o.WatchdogInterval <= 0 {
		o.WatchdogInterval = 10 * time.Second
	}
	if o.RestartCooldown <= 0 {
		o.RestartCooldown = 10 * time.Second
	}
	if o.WidthTolerance <= 0 {
		o.WidthTolerance = 100
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 4
	}
	if o.Launcher == nil {
		o.Launcher = ExecLauncher{Camera: camera, Mask: desc.Scrub}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Session mantém um único ffmpeg MJPEG por câmera e distribui os frames
// para os inscritos. Cada start incrementa gen; goroutines de uma geração
// antiga descartam o que produzirem.
type Session struct {
	camera string
	desc   core.ConnectionDescriptor
	opts   Options

	mu          sync.Mutex
	state       State
	gen         uint64
	width       int
	aspect      float64 // altura/largura, 0 = desconhecida
	proc        Process
	cancel      context.CancelFunc
	lastFrame   []byte
	lastFrameAt time.Time
	lastForward time.Time
}

func NewSession(camera string, desc core.ConnectionDescriptor, opts Options) *Session {
	opts.defaults(camera, desc)
	return &Session{camera: camera, desc: desc, opts: opts}
}

func (s *Session) Camera() string { return s.camera }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Active é true enquanto existe sessão viva ou um restart pendente.
func (s *Session) Active() bool {
	return s.State() != Stopped
}

func (s *Session) Width() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width
}

// LastFrame devolve o frame mais recente (throttled ou não).
func (s *Session) LastFrame() ([]byte, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFrame, s.lastFrameAt
}

// Start é idempotente. Com a sessão rodando, uma largura que difere em
// WidthTolerance ou mais derruba o processo e agenda um restart após o
// cool-down; diferenças menores só atualizam a largura alvo, sem mexer no
// scale do processo atual. width 0 não expressa preferência.
func (s *Session) Start(width int) {
	s.mu.Lock()
	switch s.state {
	case Stopped:
		if width > 0 {
			s.width = width
		}
		s.state = Starting
		s.gen++
		gen := s.gen
		s.mu.Unlock()
		log.Printf("[stream] %s: iniciando (width=%d)", s.camera, width)
		go s.launch(gen)
		return

	case Streaming:
		if width > 0 && abs(width-s.width) >= s.opts.WidthTolerance {
			log.Printf("[stream] %s: largura %d -> %d, reiniciando após %s", s.camera, s.width, width, s.opts.RestartCooldown)
			s.teardownLocked()
			s.width = width
			s.state = Stopping
			gen := s.gen
			s.mu.Unlock()
			s.opts.clear(s.camera)
			go s.restartAfterCooldown(gen)
			return
		}
		if width > 0 {
			s.width = width
		}

	case Starting, Stopping:
		if width > 0 {
			s.width = width
		}
	}
	s.mu.Unlock()
}

// Stop mata o processo, cancela watchdog/restart pendente e limpa o
// último frame. Chamadas repetidas são no-op.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.state == Stopped {
		s.mu.Unlock()
		return
	}
	s.teardownLocked()
	s.state = Stopped
	s.mu.Unlock()

	log.Printf("[stream] %s: parado", s.camera)
	s.opts.clear(s.camera)
}

// teardownLocked invalida a geração atual. Deve ser chamado com s.mu.
func (s *Session) teardownLocked() {
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.proc != nil {
		if err := s.proc.Kill(); err != nil {
			log.Printf("[stream] %s: kill: %v", s.camera, err)
		}
		s.proc = nil
	}
	s.lastFrame = nil
	s.lastFrameAt = time.Time{}
	s.lastForward = time.Time{}
}

func (o *Options) clear(camera string) {
	if o.Publisher != nil {
		o.Publisher.ClearFrame(camera)
	}
}

func (s *Session) restartAfterCooldown(gen uint64) {
	t := time.NewTimer(s.opts.RestartCooldown)
	defer t.Stop()
	<-t.C

	s.mu.Lock()
	if s.gen != gen || s.state != Stopping {
		s.mu.Unlock()
		return
	}
	s.state = Starting
	s.mu.Unlock()
	s.launch(gen)
}

func (s *Session) launch(gen uint64) {
	s.measureAspect(gen)

	s.mu.Lock()
	if s.gen != gen || s.state != Starting {
		s.mu.Unlock()
		return
	}
	args := s.args()
	ctx, cancel := context.WithCancel(context.Background())
	log.Printf("[stream] %s: %s %s", s.camera, s.opts.FFmpegPath, strings.Join(s.maskedArgs(), " "))

	proc, err := s.opts.Launcher.Launch(ctx, s.opts.FFmpegPath, args)
	if err != nil {
		cancel()
		s.state = Stopped
		s.mu.Unlock()
		log.Printf("[stream] %s: %v", s.camera, fmt.Errorf("%w: %s", core.ErrStreamProcess, s.desc.Scrub(err.Error())))
		return
	}
	s.proc = proc
	s.cancel = cancel
	s.state = Streaming
	s.lastFrameAt = s.opts.Now() // o watchdog conta a partir do start
	s.mu.Unlock()

	queue := make(chan []byte, s.opts.QueueSize)
	go s.read(gen, proc, queue)
	go s.deliver(ctx, gen, queue)
	go s.watchdog(ctx, gen)
}

func (s *Session) measureAspect(gen uint64) {
	s.mu.Lock()
	need := s.width > 0 && s.aspect == 0 && s.opts.Snapshot != nil && s.gen == gen
	s.mu.Unlock()
	if !need {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	data, err := s.opts.Snapshot(ctx)
	if err != nil {
		log.Printf("[stream] %s: não foi possível medir a proporção: %v", s.camera, err)
		return
	}
	w, h, err := imaging.Dimensions(data)
	if err != nil || w == 0 {
		log.Printf("[stream] %s: snapshot de medição inválido: %v", s.camera, err)
		return
	}
	s.mu.Lock()
	s.aspect = float64(h) / float64(w)
	s.mu.Unlock()
}

// args: entrada RTSP sobre TCP em tempo real, saída MJPEG no stdout.
func (s *Session) args() []string {
	return s.argsFor(s.desc.RTSPURL())
}

func (s *Session) maskedArgs() []string {
	return s.argsFor(s.desc.MaskedRTSPURL())
}

func (s *Session) argsFor(input string) []string {
	args := []string{
		"-rtsp_transport", string(core.ProtocolTCP),
		"-re",
		"-i", input,
		"-loglevel", "error",
		"-f", "mjpeg",
		"-r", fmt.Sprint(s.opts.FPS),
		"-q:v", "1",
	}
	if s.width > 0 {
		h := -1
		if s.aspect > 0 {
			h = int(math.Round(float64(s.width)*s.aspect/2)) * 2
		}
		args = append(args, "-vf", fmt.Sprintf("scale=%d:%d", s.width, h))
	}
	return append(args, "pipe:1")
}

func (s *Session) read(gen uint64, proc Process, queue chan<- []byte) {
	defer close(queue)

	var ex Extractor
	buf := make([]byte, 64<<10)
	out := proc.Stdout()
	for {
		n, err := out.Read(buf)
		if n > 0 {
			for _, frame := range ex.Feed(buf[:n]) {
				s.onFrame(gen, frame, queue)
			}
		}
		if err != nil {
			werr := proc.Wait()
			if werr == nil {
				werr = err
			}
			s.processEnded(gen, werr)
			return
		}
	}
}

func (s *Session) onFrame(gen uint64, frame []byte, queue chan<- []byte) {
	s.mu.Lock()
	if s.gen != gen || s.state != Streaming {
		s.mu.Unlock()
		return
	}
	now := s.opts.Now()
	s.lastFrame = frame
	s.lastFrameAt = now
	forward := s.lastForward.IsZero() || now.Sub(s.lastForward) >= s.opts.Throttle
	if forward {
		s.lastForward = now
	}
	s.mu.Unlock()

	if !forward {
		return
	}
	select {
	case queue <- frame:
	default:
		log.Printf("[stream] %s: fila cheia, frame descartado", s.camera)
	}
}

func (s *Session) deliver(ctx context.Context, gen uint64, queue <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-queue:
			if !ok {
				return
			}
			if !s.current(gen) {
				return
			}
			s.fanOut(ctx, frame)
		}
	}
}

func (s *Session) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen && s.state == Streaming
}

func (s *Session) fanOut(ctx context.Context, frame []byte) {
	var subs []string
	if s.opts.Audience != nil {
		subs = s.opts.Audience.Subscribers(s.camera)
	}
	if len(subs) == 0 || s.opts.Pusher == nil {
		if s.opts.Publisher != nil {
			s.opts.Publisher.PublishFrame(s.camera, frame)
		}
		return
	}
	for _, id := range subs {
		err := s.opts.Pusher.Push(ctx, id, s.camera, frame)
		switch {
		case err == nil:
		case errors.Is(err, core.ErrNotRegistered):
			log.Printf("[stream] %s: viewer %s não registrado, removendo", s.camera, id)
			s.opts.Audience.Remove(s.camera, id)
		default:
			log.Printf("[stream] %s: push para %s falhou: %v", s.camera, id, err)
		}
	}
}

func (s *Session) watchdog(ctx context.Context, gen uint64) {
	t := time.NewTicker(s.opts.WatchdogInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		s.mu.Lock()
		if s.gen != gen || s.state != Streaming {
			s.mu.Unlock()
			return
		}
		idle := s.opts.Now().Sub(s.lastFrameAt)
		if idle < s.opts.IdleTimeout {
			s.mu.Unlock()
			continue
		}
		s.teardownLocked()
		s.state = Stopped
		s.mu.Unlock()

		log.Printf("[stream] %s: sem frames há %s, parando", s.camera, idle.Round(time.Millisecond))
		s.opts.clear(s.camera)
		return
	}
}

// processEnded trata saída/erro do ffmpeg durante o streaming: para a
// sessão sem retry automático.
func (s *Session) processEnded(gen uint64, err error) {
	s.mu.Lock()
	if s.gen != gen || s.state != Streaming {
		s.mu.Unlock()
		return
	}
	s.proc = nil // já terminou
	s.teardownLocked()
	s.state = Stopped
	s.mu.Unlock()

	log.Printf("[stream] %s: %v", s.camera, fmt.Errorf("%w: ffmpeg terminou: %v", core.ErrStreamProcess, err))
	s.opts.clear(s.camera)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
