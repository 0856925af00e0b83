package mqtt

import (
	"context"
	"net"
	"net/url"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/mitrarr/mitra-go/internal/errors"
	"github.com/mitrarr/mitra-go/internal/logger"
	"github.com/mitrarr/mitra-go/internal/privacy"
)

type client struct {
	config Config
	log    logger.Logger

	mu              sync.Mutex
	internal        paho.Client
	lastConnAttempt time.Time
}

// NewClient creates a client. Missing timeouts take DefaultConfig values.
func NewClient(cfg Config, log logger.Logger) (Client, error) {
	if _, err := parseBroker(cfg.Broker); err != nil {
		return nil, err
	}
	def := DefaultConfig()
	if cfg.ClientID == "" {
		cfg.ClientID = def.ClientID
	}
	if cfg.ReconnectCooldown <= 0 {
		cfg.ReconnectCooldown = def.ReconnectCooldown
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = def.PublishTimeout
	}
	if cfg.DisconnectTimeout <= 0 {
		cfg.DisconnectTimeout = def.DisconnectTimeout
	}
	if log == nil {
		log = logger.Global().Module("mqtt")
	}
	return &client{config: cfg, log: log.With(logger.String("broker", privacy.AnonymizeURL(cfg.Broker)))}, nil
}

func parseBroker(broker string) (*url.URL, error) {
	u, err := url.Parse(broker)
	if err == nil && u.Host == "" {
		err = errors.NewStd("broker URL has no host")
	}
	if err != nil {
		return nil, errors.New(err).
			Component("mqtt").
			Category(errors.CategoryConfiguration).
			Context("operation", "parse_broker").
			Build()
	}
	return u, nil
}

// Connect resolves the broker host and connects.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if since := time.Since(c.lastConnAttempt); since < c.config.ReconnectCooldown {
		return errors.Newf("connection attempt too recent, last attempt was %v ago", since.Round(time.Millisecond)).
			Component("mqtt").
			Category(errors.CategoryNetwork).
			Context("operation", "connect").
			Build()
	}
	c.lastConnAttempt = time.Now()

	u, err := parseBroker(c.config.Broker)
	if err != nil {
		return err
	}
	if host := u.Hostname(); net.ParseIP(host) == nil {
		if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
			return c.wrap(err, "resolve_broker")
		}
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(c.config.Broker)
	opts.SetClientID(c.config.ClientID)
	opts.SetUsername(c.config.Username)
	opts.SetPassword(c.config.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(c.config.ConnectTimeout)
	opts.SetOnConnectHandler(func(paho.Client) {
		c.log.Info("connected to MQTT broker")
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		c.log.Warn("connection to MQTT broker lost", logger.Error(err))
	})

	c.internal = paho.NewClient(opts)
	token := c.internal.Connect()
	if err := wait(ctx, token, c.config.ConnectTimeout); err != nil {
		return c.wrap(err, "connect")
	}
	return nil
}

// Publish sends payload with QoS 1.
func (c *client) Publish(ctx context.Context, topic string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if topic == "" {
		topic = c.config.Topic
	}
	if !c.connectedLocked() {
		return c.wrap(errors.NewStd("not connected to MQTT broker"), "publish")
	}

	token := c.internal.Publish(topic, 1, c.config.Retain, payload)
	if err := wait(ctx, token, c.config.PublishTimeout); err != nil {
		return c.wrap(err, "publish")
	}
	c.log.Debug("message published", logger.String("topic", topic), logger.Int("bytes", len(payload)))
	return nil
}

func (c *client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectedLocked()
}

func (c *client) connectedLocked() bool {
	return c.internal != nil && c.internal.IsConnected()
}

func (c *client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectedLocked() {
		c.internal.Disconnect(uint(c.config.DisconnectTimeout.Milliseconds()))
	}
}

// wait blocks until the token completes, the timeout passes or ctx is done.
func wait(ctx context.Context, token paho.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return errors.NewStd("timed out")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *client) wrap(err error, operation string) error {
	return errors.New(err).
		Component("mqtt").
		Category(errors.CategoryNetwork).
		Context("operation", operation).
		Build()
}
