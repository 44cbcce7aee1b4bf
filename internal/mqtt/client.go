package mqtt

import (
	"fmt"
	"time"

	"github.com/KevinKickass/OpenOutputCore/internal/config"
	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const publishTimeout = 5 * time.Second

// Client publishes to an actual MQTT broker.
type Client struct {
	client paho.Client
	logger *zap.Logger
}

// NewClient connects to the broker configured in cfg.
func NewClient(cfg config.MQTTConfig, logger *zap.Logger) (*Client, error) {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "openoutputcore"
	}
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			logger.Warn("MQTT connection lost", zap.Error(err))
		}).
		SetOnConnectHandler(func(_ paho.Client) {
			logger.Info("MQTT connected", zap.String("broker", cfg.Broker))
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return &Client{
		client: client,
		logger: logger,
	}, nil
}

// Publish sends payload to topic.
func (c *Client) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// IsConnected reports whether the client currently has a broker connection.
func (c *Client) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (c *Client) Close() error {
	c.client.Disconnect(1000) // 1 second timeout
	return nil
}
