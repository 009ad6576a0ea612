// internal/gateway/guard.go
package gateway

import (
	"context"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	BruteForceWindow    = 5 * time.Second
	BruteForceThreshold = 5
	SweepInterval       = 30 * time.Second
)

type violation struct {
	count int
	last  time.Time
}

// Guard confere a key e a allow-list de IPs e limita tentativas erradas
// por IP de origem.
type Guard struct {
	key       string
	allow     []*net.IPNet
	window    time.Duration
	threshold int
	now       func() time.Time

	mu         sync.Mutex
	violations map[string]*violation
}

// NewGuard aceita IPs soltos ou CIDRs na allow-list; lista vazia libera
// todos. Loopback é sempre liberado.
func NewGuard(key string, allowed []string) *Guard {
	g := &Guard{
		key:        key,
		window:     BruteForceWindow,
		threshold:  BruteForceThreshold,
		now:        time.Now,
		violations: make(map[string]*violation),
	}
	for _, a := range allowed {
		if n := parseAllowed(a); n != nil {
			g.allow = append(g.allow, n)
		} else {
			log.Printf("[gateway] allow-list: entrada inválida %q ignorada", a)
		}
	}
	return g
}

func parseAllowed(s string) *net.IPNet {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		_, n, err := net.ParseCIDR(s)
		if err != nil {
			return nil
		}
		return n
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return nil
	}
	bits := 128
	if ip4 := ip.To4(); ip4 != nil {
		ip, bits = ip4, 32
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}
}

func (g *Guard) ipAllowed(ip net.IP) bool {
	if len(g.allow) == 0 {
		return true
	}
	if ip == nil {
		return false
	}
	if ip.IsLoopback() {
		return true
	}
	for _, n := range g.allow {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Check devolve 0 quando o pedido passa, ou o status HTTP da recusa.
func (g *Guard) Check(source, key string) int {
	if !g.ipAllowed(net.ParseIP(source)) {
		log.Printf("[gateway] %s fora da allow-list", source)
		return http.StatusUnauthorized
	}
	if g.key == "" || key == g.key {
		return 0
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	v, ok := g.violations[source]
	if !ok || now.Sub(v.last) >= g.window {
		v = &violation{}
		g.violations[source] = v
	}
	v.count++
	v.last = now
	if v.count > g.threshold {
		log.Printf("[gateway] %s bloqueado: %d keys erradas em sequência", source, v.count)
		return http.StatusTooManyRequests
	}
	log.Printf("[gateway] key inválida de %s (%d)", source, v.count)
	return http.StatusUnauthorized
}

// Sweep descarta entradas sem violação há mais de uma janela.
func (g *Guard) Sweep() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	n := 0
	for ip, v := range g.violations {
		if now.Sub(v.last) >= g.window {
			delete(g.violations, ip)
			n++
		}
	}
	return n
}

func (g *Guard) Tracked() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.violations)
}

func (g *Guard) Run(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			g.Sweep()
		}
	}
}

func (g *Guard) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if code := g.Check(c.ClientIP(), c.Query("key")); code != 0 {
			c.String(code, http.StatusText(code))
			c.Abort()
			return
		}
		c.Next()
	}
}
