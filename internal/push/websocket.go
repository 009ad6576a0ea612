// internal/push/websocket.go
package push

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sua-org/cam-gateway/internal/core"
)

const (
	wsWriteTimeout = 2 * time.Second
	wsPingEvery    = 20 * time.Second
	wsReadTimeout  = 45 * time.Second
	wsSendBuffer   = 4
)

type wsClient struct {
	id     string
	camera string
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Hub guarda os viewers conectados por websocket, um id uuid por conexão.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*wsClient
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*wsClient),
	}
}

// Push enfileira sem bloquear; viewer lento perde o frame.
func (h *Hub) Push(ctx context.Context, clientID, camera string, frame []byte) error {
	h.mu.RLock()
	c, ok := h.clients[clientID]
	h.mu.RUnlock()
	if !ok || c.camera != camera {
		return notRegistered(camera, clientID)
	}
	select {
	case <-c.done:
		return notRegistered(camera, clientID)
	default:
	}
	select {
	case c.send <- frame:
	default:
		log.Printf("[push] ws %s lento, frame descartado", clientID)
	}
	return nil
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Serve faz o upgrade, inscreve o viewer e bloqueia até a conexão cair.
// Qualquer mensagem recebida (ou pong) conta como heartbeat.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, camera string, width int, subs Subscriptions) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &wsClient{
		id:     uuid.NewString(),
		camera: camera,
		conn:   conn,
		send:   make(chan []byte, wsSendBuffer),
		done:   make(chan struct{}),
	}
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, c.id)
		h.mu.Unlock()
		c.close()
		subs.Unsubscribe(camera, c.id)
		log.Printf("[push] ws %s saiu de %s", c.id, camera)
	}()

	if err := subs.Subscribe(camera, c.id, width); err != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseUnsupportedData, err.Error())
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteTimeout))
		return err
	}
	log.Printf("[push] ws %s entrou em %s (%s)", c.id, camera, r.RemoteAddr)

	go h.writeLoop(c)

	heartbeat := func() {
		if err := subs.Heartbeat(camera, c.id); errors.Is(err, core.ErrNotRegistered) {
			// expirou no sweep mas a conexão continua viva
			if err := subs.Subscribe(camera, c.id, width); err != nil {
				log.Printf("[push] ws %s: reinscrição falhou: %v", c.id, err)
			}
		}
	}
	conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		heartbeat()
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return nil
		}
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		heartbeat()
	}
}

func (h *Hub) writeLoop(c *wsClient) {
	ping := time.NewTicker(wsPingEvery)
	defer ping.Stop()
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				log.Printf("[push] ws %s: write: %v", c.id, err)
				c.close()
				return
			}
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				c.close()
				return
			}
		}
	}
}
