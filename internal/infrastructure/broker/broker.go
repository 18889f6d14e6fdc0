package broker

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"

	"github.com/nerrad567/ipx800-bridge/internal/infrastructure/config"
)

// listenerID names the single TCP listener.
const listenerID = "ipx800-tcp"

// ErrDisabled is returned by Start when the embedded broker is not enabled.
var ErrDisabled = errors.New("broker: embedded broker disabled")

// Broker is an in-process MQTT broker for installs without Mosquitto.
type Broker struct {
	server  *mochi.Server
	address string

	closeOnce sync.Once
}

// Start launches the embedded broker on cfg.Embedded.Address.
//
// When cfg.Auth.Username is set only that user may connect; otherwise any
// client is accepted.
func Start(cfg config.MQTTConfig, logger *slog.Logger) (*Broker, error) {
	if !cfg.Embedded.Enabled {
		return nil, ErrDisabled
	}

	server := mochi.New(&mochi.Options{
		InlineClient: true,
		Logger:       logger,
	})

	if err := addAuthHook(server, cfg.Auth); err != nil {
		return nil, err
	}

	tcp := listeners.NewTCP(listeners.Config{ID: listenerID, Address: cfg.Embedded.Address})
	if err := server.AddListener(tcp); err != nil {
		return nil, fmt.Errorf("broker: listen on %s: %w", cfg.Embedded.Address, err)
	}

	b := &Broker{server: server, address: cfg.Embedded.Address}

	go func() {
		if err := server.Serve(); err != nil && logger != nil {
			logger.Error("embedded broker stopped", "error", err)
		}
	}()

	return b, nil
}

func addAuthHook(server *mochi.Server, creds config.MQTTAuthConfig) error {
	if creds.Username == "" {
		if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
			return fmt.Errorf("broker: adding allow hook: %w", err)
		}
		return nil
	}

	err := server.AddHook(new(auth.Hook), &auth.Options{
		Ledger: &auth.Ledger{
			Auth: auth.AuthRules{
				{Username: auth.RString(creds.Username), Password: auth.RString(creds.Password), Allow: true},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("broker: adding auth hook: %w", err)
	}
	return nil
}

// Address returns the configured listen address.
func (b *Broker) Address() string {
	return b.address
}

// Publish injects a message through the inline client.
func (b *Broker) Publish(topic string, payload []byte, retained bool, qos byte) error {
	return b.server.Publish(topic, payload, retained, qos)
}

// Close stops every listener and disconnects clients.
func (b *Broker) Close() error {
	var err error
	b.closeOnce.Do(func() {
		err = b.server.Close()
	})
	return err
}
