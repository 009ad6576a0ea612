// internal/push/push.go
package push

import (
	"context"
	"errors"
	"fmt"

	"github.com/sua-org/cam-gateway/internal/core"
)

// Target entrega um frame a um viewer identificado por clientID.
type Target interface {
	Push(ctx context.Context, clientID, camera string, frame []byte) error
}

// Subscriptions é o lado do registro que os transportes usam.
type Subscriptions interface {
	Subscribe(camera, clientID string, width int) error
	Heartbeat(camera, clientID string) error
	Unsubscribe(camera, clientID string)
}

// Broker é o subconjunto do cliente MQTT usado aqui.
type Broker interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
}

// Router tenta cada transporte em ordem. Só devolve ErrNotRegistered se
// nenhum deles conhece o viewer.
type Router struct {
	targets []Target
}

func NewRouter(targets ...Target) *Router {
	var ts []Target
	for _, t := range targets {
		if t != nil {
			ts = append(ts, t)
		}
	}
	return &Router{targets: ts}
}

func (r *Router) Push(ctx context.Context, clientID, camera string, frame []byte) error {
	for _, t := range r.targets {
		err := t.Push(ctx, clientID, camera, frame)
		if errors.Is(err, core.ErrNotRegistered) {
			continue
		}
		return err
	}
	return notRegistered(camera, clientID)
}

func notRegistered(camera, clientID string) error {
	return fmt.Errorf("%w: %s/%s", core.ErrNotRegistered, camera, clientID)
}
