package mqtt

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ClientAPI is the minimal broker surface the rest of the service needs.
// Having an interface here lets the realtime feed and notifiers be tested
// against an in-memory broker fake.
type ClientAPI interface {
	Subscribe(topic string, cb Handler) error
	Unsubscribe(topic string) error
	Publish(topic string, payload []byte) error
	PublishRetained(topic string, payload []byte) error
}

// Message and Handler are re-exported so callers don't import paho directly.
type Message = mqtt.Message

type Handler = mqtt.MessageHandler

type Client struct {
	cli mqtt.Client
}

var _ ClientAPI = (*Client)(nil)

func Connect(brokerURL string) (*Client, error) {
	u, err := url.Parse(brokerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid broker url %q: %w", brokerURL, err)
	}
	server := u.Host
	switch u.Scheme {
	case "mqtt", "tcp":
		server = "tcp://" + server
	case "ssl", "tls":
		server = "ssl://" + server
	case "ws", "wss":
		server = u.Scheme + "://" + server + u.Path
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(server)
	opts.SetClientID("device-status-" + time.Now().Format("150405.000"))
	opts.SetAutoReconnect(true)
	opts.OnConnect = func(c mqtt.Client) { slog.Info("mqtt connected", "broker", brokerURL) }
	opts.OnConnectionLost = func(c mqtt.Client, err error) { slog.Error("mqtt connection lost", "error", err) }
	if u.User != nil {
		pw, _ := u.User.Password()
		opts.SetUsername(u.User.Username())
		opts.SetPassword(pw)
	}
	if u.Scheme == "ssl" || u.Scheme == "tls" || u.Scheme == "wss" {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	cli := mqtt.NewClient(opts)
	if t := cli.Connect(); t.Wait() && t.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", t.Error())
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Subscribe(topic string, cb Handler) error {
	if t := c.cli.Subscribe(topic, 0, cb); t.Wait() && t.Error() != nil {
		return t.Error()
	}
	slog.Debug("mqtt subscribed", "topic", topic)
	return nil
}

func (c *Client) Unsubscribe(topic string) error {
	if t := c.cli.Unsubscribe(topic); t.Wait() && t.Error() != nil {
		return t.Error()
	}
	slog.Debug("mqtt unsubscribed", "topic", topic)
	return nil
}

func (c *Client) Publish(topic string, payload []byte) error {
	return c.publish(topic, payload, false)
}

// PublishRetained keeps the payload on the broker so late subscribers see
// the last value immediately, which is how per-device state topics emulate
// a realtime database node.
func (c *Client) PublishRetained(topic string, payload []byte) error {
	return c.publish(topic, payload, true)
}

func (c *Client) publish(topic string, payload []byte, retain bool) error {
	if t := c.cli.Publish(topic, 0, retain, payload); t.Wait() && t.Error() != nil {
		return t.Error()
	}
	return nil
}

func (c *Client) Close() {
	c.cli.Disconnect(250)
}
