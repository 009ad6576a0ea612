// internal/push/mqtt.go
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
)

// LiveRequest é o payload dos tópicos de controle <base>/<camera>/live/(un)subscribe.
type LiveRequest struct {
	ClientID string `json:"clientId"`
	Width    int    `json:"width,omitempty"`
}

// MQTTViewers entrega frames para viewers que pediram live via MQTT em
// <base>/<camera>/live/<clientId>.
type MQTTViewers struct {
	broker Broker
	base   string

	mu      sync.Mutex
	viewers map[string]struct{}
}

func NewMQTTViewers(broker Broker, baseTopic string) *MQTTViewers {
	return &MQTTViewers{
		broker:  broker,
		base:    strings.TrimSuffix(baseTopic, "/"),
		viewers: make(map[string]struct{}),
	}
}

func viewerKey(camera, clientID string) string { return camera + "/" + clientID }

func (m *MQTTViewers) FrameTopic(camera, clientID string) string {
	return fmt.Sprintf("%s/%s/live/%s", m.base, camera, clientID)
}

func (m *MQTTViewers) Push(ctx context.Context, clientID, camera string, frame []byte) error {
	m.mu.Lock()
	_, ok := m.viewers[viewerKey(camera, clientID)]
	m.mu.Unlock()
	if !ok {
		return notRegistered(camera, clientID)
	}
	return m.broker.Publish(m.FrameTopic(camera, clientID), 0, false, frame)
}

// Listen assina os tópicos de controle e repassa para o registro. Repetir
// o subscribe funciona como heartbeat.
func (m *MQTTViewers) Listen(subs Subscriptions) error {
	subTopic := m.base + "/+/live/subscribe"
	if err := m.broker.Subscribe(subTopic, 1, func(topic string, payload []byte) {
		camera, req, ok := m.parse(topic, payload)
		if !ok {
			return
		}
		m.mu.Lock()
		m.viewers[viewerKey(camera, req.ClientID)] = struct{}{}
		m.mu.Unlock()
		if err := subs.Subscribe(camera, req.ClientID, req.Width); err != nil {
			log.Printf("[push] mqtt %s em %s: %v", req.ClientID, camera, err)
			m.Forget(camera, req.ClientID)
		}
	}); err != nil {
		return err
	}

	unsubTopic := m.base + "/+/live/unsubscribe"
	return m.broker.Subscribe(unsubTopic, 1, func(topic string, payload []byte) {
		camera, req, ok := m.parse(topic, payload)
		if !ok {
			return
		}
		m.Forget(camera, req.ClientID)
		subs.Unsubscribe(camera, req.ClientID)
	})
}

// Forget tira o viewer do mapa local; ligado ao OnExpire do registro.
func (m *MQTTViewers) Forget(camera, clientID string) {
	m.mu.Lock()
	delete(m.viewers, viewerKey(camera, clientID))
	m.mu.Unlock()
}

// parse extrai a câmera de <base>/<camera>/live/<ação>.
func (m *MQTTViewers) parse(topic string, payload []byte) (string, LiveRequest, bool) {
	var req LiveRequest
	rest := strings.TrimPrefix(topic, m.base+"/")
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[0] == "" {
		log.Printf("[push] tópico de controle inesperado: %s", topic)
		return "", req, false
	}
	if err := json.Unmarshal(payload, &req); err != nil || req.ClientID == "" {
		log.Printf("[push] payload inválido em %s: %s", topic, string(payload))
		return "", req, false
	}
	return parts[0], req, true
}
