// internal/subscription/registry.go
package subscription

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sua-org/cam-gateway/internal/core"
)

const DefaultTTL = 60 * time.Second

// Controller liga/desliga a sessão de stream de uma câmera.
type Controller interface {
	StartStream(camera string, width int) error
	StopStream(camera string)
	Streaming(camera string) bool
}

type Subscriber struct {
	ClientID      string
	Camera        string
	Width         int
	LastHeartbeat time.Time
}

// Registry é a lista de viewers ao vivo. Toda decisão de parar um stream
// é tomada com r.mu, depois de reler os inscritos que restaram.
// Ordem de locks: registry -> sessão.
type Registry struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	ctrl     Controller
	subs     []*Subscriber
	onExpire []func(camera, clientID string)
}

func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{ttl: ttl, now: time.Now}
}

// Bind conecta o controlador de streams (o manager de câmeras).
func (r *Registry) Bind(ctrl Controller) {
	r.mu.Lock()
	r.ctrl = ctrl
	r.mu.Unlock()
}

// OnExpire registra quem precisa saber dos viewers descartados pelo Sweep
// (transportes que guardam estado próprio por viewer). fn roda fora do lock.
func (r *Registry) OnExpire(fn func(camera, clientID string)) {
	r.mu.Lock()
	r.onExpire = append(r.onExpire, fn)
	r.mu.Unlock()
}

// Subscribe insere ou renova o viewer e garante a sessão da câmera.
func (r *Registry) Subscribe(camera, clientID string, width int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctrl == nil {
		return fmt.Errorf("registry sem controller")
	}

	now := r.now()
	sub := r.findLocked(camera, clientID)
	fresh := sub == nil
	if fresh {
		sub = &Subscriber{ClientID: clientID, Camera: camera}
		r.subs = append(r.subs, sub)
	}
	sub.LastHeartbeat = now
	if width > 0 {
		sub.Width = width
	}

	if err := r.ctrl.StartStream(camera, width); err != nil {
		if fresh {
			r.removeLocked(camera, clientID)
		}
		return err
	}
	if fresh {
		log.Printf("[registry] %s inscrito em %s (width=%d)", clientID, camera, width)
	}
	return nil
}

// Heartbeat só renova; viewer desconhecido devolve core.ErrNotRegistered.
func (r *Registry) Heartbeat(camera, clientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub := r.findLocked(camera, clientID)
	if sub == nil {
		return fmt.Errorf("%w: %s/%s", core.ErrNotRegistered, camera, clientID)
	}
	sub.LastHeartbeat = r.now()
	return nil
}

// Unsubscribe remove o viewer e para o stream se ninguém ativo sobrou.
func (r *Registry) Unsubscribe(camera, clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.removeLocked(camera, clientID) {
		log.Printf("[registry] %s saiu de %s", clientID, camera)
	}
	r.maybeStopLocked(camera)
}

// Remove é usado quando o push reporta viewer não registrado.
func (r *Registry) Remove(camera, clientID string) {
	r.Unsubscribe(camera, clientID)
}

// Subscribers lista os viewers com heartbeat válido, em ordem de inscrição.
func (r *Registry) Subscribers(camera string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	var ids []string
	for _, s := range r.subs {
		if s.Camera == camera && r.activeAt(s, now) {
			ids = append(ids, s.ClientID)
		}
	}
	return ids
}

// Counts devolve viewers ativos por câmera.
func (r *Registry) Counts() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	out := map[string]int{}
	for _, s := range r.subs {
		if r.activeAt(s, now) {
			out[s.Camera]++
		}
	}
	return out
}

// Sweep descarta viewers expirados e para streams que ficaram sem ninguém.
func (r *Registry) Sweep() {
	r.mu.Lock()
	now := r.now()
	touched := map[string]bool{}
	var expired []Subscriber
	kept := r.subs[:0]
	for _, s := range r.subs {
		if r.activeAt(s, now) {
			kept = append(kept, s)
			continue
		}
		log.Printf("[registry] %s em %s expirou (último heartbeat %s)", s.ClientID, s.Camera, s.LastHeartbeat.Format(time.RFC3339))
		touched[s.Camera] = true
		expired = append(expired, *s)
	}
	for i := len(kept); i < len(r.subs); i++ {
		r.subs[i] = nil
	}
	r.subs = kept

	for camera := range touched {
		r.maybeStopLocked(camera)
	}
	hooks := append(([]func(string, string))(nil), r.onExpire...)
	r.mu.Unlock()

	for _, s := range expired {
		for _, fn := range hooks {
			fn(s.Camera, s.ClientID)
		}
	}
}

// Run roda o Sweep periodicamente até ctx acabar.
func (r *Registry) Run(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.Sweep()
		}
	}
}

func (r *Registry) activeAt(s *Subscriber, now time.Time) bool {
	return now.Sub(s.LastHeartbeat) < r.ttl
}

// maybeStopLocked relê os inscritos no momento da decisão: só para se
// nenhum viewer da câmera tem heartbeat recente e o stream está vivo.
func (r *Registry) maybeStopLocked(camera string) {
	if r.ctrl == nil {
		return
	}
	now := r.now()
	for _, s := range r.subs {
		if s.Camera == camera && r.activeAt(s, now) {
			return
		}
	}
	if !r.ctrl.Streaming(camera) {
		return
	}
	log.Printf("[registry] %s sem viewers ativos, parando stream", camera)
	r.ctrl.StopStream(camera)
}

func (r *Registry) findLocked(camera, clientID string) *Subscriber {
	for _, s := range r.subs {
		if s.Camera == camera && s.ClientID == clientID {
			return s
		}
	}
	return nil
}

func (r *Registry) removeLocked(camera, clientID string) bool {
	for i, s := range r.subs {
		if s.Camera == camera && s.ClientID == clientID {
			r.subs = append(r.subs[:i], r.subs[i+1:]...)
			return true
		}
	}
	return false
}
