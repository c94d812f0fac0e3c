package integration

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/devicehub-server/devicehub-server/internal/config"
	"github.com/devicehub-server/devicehub-server/internal/models"
	"github.com/devicehub-server/devicehub-server/internal/session"
	"github.com/devicehub-server/devicehub-server/internal/storage"
)

// Forwarder distributes every domain event a session publishes to the
// configured sinks: the event log store, NATS subjects and an optional
// MQTT broker. All sinks are optional; the forwarder does whatever its
// wiring allows.
type Forwarder struct {
	nc    *nats.Conn
	store storage.Store
	mqtt  mqtt.Client
	cfg   config.MQTTConfig

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewForwarder creates a forwarder. nc and store may be nil.
func NewForwarder(nc *nats.Conn, store storage.Store, mqttCfg config.MQTTConfig) (*Forwarder, error) {
	ctx, cancel := context.WithCancel(context.Background())
	f := &Forwarder{
		nc:     nc,
		store:  store,
		cfg:    mqttCfg,
		ctx:    ctx,
		cancel: cancel,
	}

	if mqttCfg.Enabled {
		client, err := connectMQTT(mqttCfg)
		if err != nil {
			cancel()
			return nil, err
		}
		f.mqtt = client
	}

	return f, nil
}

// Attach subscribes to a session's full event stream and forwards it
// until the session's bus closes or the forwarder stops. Intended as a
// Registry OnCreate hook.
func (f *Forwarder) Attach(s *session.Session) {
	sub := s.Subscribe(session.Filter{})

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		for {
			select {
			case ev, ok := <-sub.Events():
				if !ok {
					return
				}
				f.forward(s.AccountID(), ev)
			case <-f.ctx.Done():
				s.Unsubscribe(sub)
				return
			}
		}
	}()

	log.Debug().Str("accountID", s.AccountID()).Msg("Integration forwarder attached")
}

// Close stops forwarding and disconnects the MQTT client
func (f *Forwarder) Close() {
	f.cancel()
	f.wg.Wait()
	if f.mqtt != nil && f.mqtt.IsConnected() {
		f.mqtt.Disconnect(250)
	}
}

func (f *Forwarder) forward(accountID string, ev models.DomainEvent) {
	if f.store != nil {
		f.logEvent(accountID, ev)
	}

	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal domain event")
		return
	}

	if f.nc != nil {
		subject := fmt.Sprintf("account.%s.target.%s.%s", accountID, ev.TargetID, ev.Type)
		if err := f.nc.Publish(subject, data); err != nil {
			log.Error().Err(err).Str("subject", subject).Msg("Failed to publish event to NATS")
		}
	}

	if f.mqtt != nil {
		topic := f.cfg.TopicPattern
		topic = strings.ReplaceAll(topic, "{account_id}", accountID)
		topic = strings.ReplaceAll(topic, "{target_id}", ev.TargetID)

		token := f.mqtt.Publish(topic, f.cfg.QoS, false, data)
		if token.WaitTimeout(5 * time.Second) {
			if err := token.Error(); err != nil {
				log.Error().Err(err).Str("topic", topic).Msg("Failed to publish event to MQTT")
			}
		} else {
			log.Error().Str("topic", topic).Msg("MQTT publish timeout")
		}
	}
}

func (f *Forwarder) logEvent(accountID string, ev models.DomainEvent) {
	details := models.Variables{}
	switch v := ev.Value.(type) {
	case models.Detection:
		details["detected"] = v.Detected
	case models.PersonDetection:
		details["detected"] = v.Detected
		details["person"] = v.Person
	case models.PropertyChange:
		details["property"] = v.Property
		details["value"] = v.Value
	}

	entry := &models.EventLog{
		CreatedAt:  ev.Timestamp,
		AccountID:  accountID,
		TargetID:   ev.TargetID,
		TargetName: ev.TargetName,
		Type:       ev.Type,
		Details:    details,
	}

	ctx, cancel := context.WithTimeout(f.ctx, 5*time.Second)
	defer cancel()
	if err := f.store.CreateEventLog(ctx, entry); err != nil {
		log.Error().Err(err).Msg("Failed to persist event log")
	}
}

func connectMQTT(cfg config.MQTTConfig) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID("devicehub-session-server")

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	if cfg.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetKeepAlive(30 * time.Second)

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Str("broker", cfg.BrokerURL).Msg("MQTT client connected")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Error().Err(err).Msg("MQTT connection lost")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connect MQTT broker: timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect MQTT broker: %w", err)
	}

	return client, nil
}
