// internal/push/state.go
package push

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
)

type lastValue struct {
	frame []byte
	at    time.Time
}

// StateBoard é o "último valor do stream" por câmera, usado quando ninguém
// está inscrito. Com broker, o valor também vai retido para
// <base>/<camera>/stream.
type StateBoard struct {
	broker Broker
	base   string
	now    func() time.Time

	mu     sync.RWMutex
	values map[string]lastValue
}

func NewStateBoard(broker Broker, baseTopic string) *StateBoard {
	return &StateBoard{
		broker: broker,
		base:   strings.TrimSuffix(baseTopic, "/"),
		now:    time.Now,
		values: make(map[string]lastValue),
	}
}

func (b *StateBoard) StreamTopic(camera string) string {
	return fmt.Sprintf("%s/%s/stream", b.base, camera)
}

func (b *StateBoard) PublishFrame(camera string, frame []byte) {
	b.mu.Lock()
	b.values[camera] = lastValue{frame: frame, at: b.now()}
	b.mu.Unlock()
	b.mirror(camera, frame)
}

func (b *StateBoard) ClearFrame(camera string) {
	b.mu.Lock()
	delete(b.values, camera)
	b.mu.Unlock()
	// payload vazio retido apaga o valor no broker
	b.mirror(camera, []byte{})
}

// Last devolve o último valor publicado, se houver.
func (b *StateBoard) Last(camera string) ([]byte, time.Time, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.values[camera]
	return v.frame, v.at, ok
}

func (b *StateBoard) mirror(camera string, payload []byte) {
	if b.broker == nil {
		return
	}
	if err := b.broker.Publish(b.StreamTopic(camera), 0, true, payload); err != nil {
		log.Printf("[push] erro publicando %s: %v", b.StreamTopic(camera), err)
	}
}
