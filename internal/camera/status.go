// internal/camera/status.go
package camera

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"
)

// Publisher é o pedaço do cliente MQTT usado pelo status loop.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

type StatusLoop struct {
	m        *Manager
	pub      Publisher
	base     string
	interval time.Duration
	counts   func() map[string]int
	hostname string
}

// NewStatusLoop publica o status do gateway e de cada câmera a cada
// intervalo. counts devolve viewers ativos por câmera.
func NewStatusLoop(m *Manager, pub Publisher, baseTopic string, interval time.Duration, counts func() map[string]int) *StatusLoop {
	hostname, _ := os.Hostname()
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &StatusLoop{
		m:        m,
		pub:      pub,
		base:     strings.TrimSuffix(baseTopic, "/"),
		interval: interval,
		counts:   counts,
		hostname: hostname,
	}
}

func (s *StatusLoop) GatewayTopic() string {
	return fmt.Sprintf("%s/gateway/status", s.base)
}

func (s *StatusLoop) CameraTopic(camera string) string {
	return fmt.Sprintf("%s/%s/status", s.base, camera)
}

// OfflinePayload é usado tanto no encerramento quanto como LWT.
func OfflinePayload() []byte {
	b, _ := json.Marshal(map[string]interface{}{"collector": "cam-gateway", "status": "offline"})
	return b
}

func (s *StatusLoop) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Printf("[camera] status loop iniciado (intervalo=%s)", s.interval)
	s.publishStatuses(time.Now())

	for {
		select {
		case <-ctx.Done():
			if err := s.pub.Publish(s.GatewayTopic(), 1, true, OfflinePayload()); err != nil {
				log.Printf("[status] erro ao publicar offline: %v", err)
			}
			log.Printf("[camera] status loop encerrado (context canceled)")
			return
		case t := <-ticker.C:
			s.publishStatuses(t)
		}
	}
}

func (s *StatusLoop) publishStatuses(now time.Time) {
	var counts map[string]int
	if s.counts != nil {
		counts = s.counts()
	}

	var (
		cpuPercent  float64
		memPercent  float64
		memRSSBytes uint64
	)
	if s.m.proc != nil {
		if cpu, err := s.m.proc.CPUPercent(); err == nil {
			cpuPercent = cpu
		}
		if memInfo, err := s.m.proc.MemoryInfo(); err == nil {
			memRSSBytes = memInfo.RSS
		}
		if memP, err := s.m.proc.MemoryPercent(); err == nil {
			memPercent = float64(memP)
		}
	}

	names := s.m.Names()
	streaming, viewers := 0, 0
	for _, name := range names {
		inst, err := s.m.Get(name)
		if err != nil {
			continue
		}
		if inst.SupportsStreaming() && inst.session.Active() {
			streaming++
		}
		viewers += counts[name]
		if err := s.publishCameraStatus(inst, counts[name], now); err != nil {
			log.Printf("[status] erro ao publicar status da câmera %s: %v", name, err)
		}
	}

	payload := map[string]interface{}{
		"collector":        "cam-gateway",
		"status":           "online",
		"timestamp":        now.UTC().Format(time.RFC3339),
		"hostname":         s.hostname,
		"cameras":          len(names),
		"streaming":        streaming,
		"subscribers":      viewers,
		"cpu_percent":      cpuPercent,
		"memory_percent":   memPercent,
		"memory_rss_bytes": memRSSBytes,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[status] marshal gateway status: %v", err)
		return
	}
	if err := s.pub.Publish(s.GatewayTopic(), 1, true, b); err != nil {
		log.Printf("[status] erro ao publicar status do gateway: %v", err)
	}
}

func (s *StatusLoop) publishCameraStatus(inst *Instance, viewers int, now time.Time) error {
	cfg := inst.Config()
	payload := map[string]interface{}{
		"camera":      cfg.Name,
		"kind":        string(kindOf(cfg)),
		"streaming":   false,
		"subscribers": viewers,
		"timestamp":   now.UTC().Format(time.RFC3339),
	}
	if cfg.Manufacturer != "" {
		payload["manufacturer"] = cfg.Manufacturer
	}
	if sess := inst.Session(); sess != nil {
		payload["streaming"] = sess.Active()
		payload["state"] = sess.State().String()
		if w := sess.Width(); w > 0 {
			payload["width"] = w
		}
		if _, at := sess.LastFrame(); !at.IsZero() {
			payload["last_frame_at"] = at.UTC().Format(time.RFC3339)
		}
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal camera status: %w", err)
	}
	topic := s.CameraTopic(cfg.Name)
	if err := s.pub.Publish(topic, 1, true, b); err != nil {
		return fmt.Errorf("publish camera status to %s: %w", topic, err)
	}
	return nil
}
