// internal/mqttclient/mqttclient.go
package mqttclient

import (
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const opTimeout = 5 * time.Second

type Client struct {
	client mqtt.Client

	mu   sync.Mutex
	subs map[string]subscription
}

type subscription struct {
	qos     byte
	handler func(topic string, payload []byte)
}

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	ClientID string

	// LWT: o broker publica WillPayload (retido) se a conexão cair.
	WillTopic   string
	WillPayload []byte
}

func (c Config) Broker() string {
	return fmt.Sprintf("tcp://%s:%d", c.Host, c.Port)
}

func NewClient(cfg Config) (*Client, error) {
	c := &Client{subs: make(map[string]subscription)}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker())
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(5 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	// clean session: assinaturas somem na reconexão, refaz todas
	opts.SetOnConnectHandler(c.resubscribe)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	if cfg.WillTopic != "" {
		opts.SetBinaryWill(cfg.WillTopic, cfg.WillPayload, 1, true)
	}

	cli := mqtt.NewClient(opts)
	token := cli.Connect()
	if ok := token.WaitTimeout(10 * time.Second); !ok {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect error: %w", err)
	}

	c.client = cli
	return c, nil
}

func (c *Client) Publish(topic string, qos byte, retained bool, payload []byte) error {
	return wait(c.client.Publish(topic, qos, retained, payload), "publish "+topic)
}

func (c *Client) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	c.mu.Lock()
	c.subs[topic] = subscription{qos: qos, handler: handler}
	c.mu.Unlock()
	return c.subscribe(topic, qos, handler)
}

func (c *Client) Unsubscribe(topics ...string) error {
	c.mu.Lock()
	for _, t := range topics {
		delete(c.subs, t)
	}
	c.mu.Unlock()
	return wait(c.client.Unsubscribe(topics...), "unsubscribe")
}

func (c *Client) subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return subscribeOn(c.client, topic, qos, handler)
}

func subscribeOn(cli mqtt.Client, topic string, qos byte, handler func(topic string, payload []byte)) error {
	token := cli.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	return wait(token, "subscribe "+topic)
}

func (c *Client) resubscribe(cli mqtt.Client) {
	c.mu.Lock()
	subs := make(map[string]subscription, len(c.subs))
	for t, s := range c.subs {
		subs[t] = s
	}
	c.mu.Unlock()

	for t, s := range subs {
		// o handler de conexão roda na goroutine do paho; não bloqueia nele
		go func(topic string, s subscription) {
			if err := subscribeOn(cli, topic, s.qos, s.handler); err != nil {
				log.Printf("[mqtt] erro reassinando %s: %v", topic, err)
			}
		}(t, s)
	}
}

func (c *Client) Connected() bool {
	return c.client != nil && c.client.IsConnected()
}

func (c *Client) Close() {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(250)
	}
}

func wait(token mqtt.Token, op string) error {
	if !token.WaitTimeout(opTimeout) {
		return fmt.Errorf("mqtt %s: timeout", op)
	}
	return token.Error()
}
