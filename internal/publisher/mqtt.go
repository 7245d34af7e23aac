package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Availability payloads
const (
	Online  = "online"
	Offline = "offline"
)

// MQTTOptions configures the MQTT sink
type MQTTOptions struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	BoardID        string
	ChangesTopic   string
	AvailTopic     string
	ConfigTopic    string
	QoS            byte
	Heartbeat      time.Duration
	ConnectTimeout time.Duration
	// OnConfig receives payloads published on the config topic.
	OnConfig func(payload []byte)
}

// ChangePayload is the JSON body of a change message
type ChangePayload struct {
	Time      float64 `json:"time"`
	Frequency float64 `json:"frequency"`
}

// ChangeTopic builds "<prefix>/<board>/<led>/<state>/<color>".
func ChangeTopic(prefix, boardID string, c Change) string {
	color := c.Color
	if color == "" {
		color = "none"
	}
	parts := []string{prefix, boardID, c.LedID, c.State, color}
	for i, p := range parts {
		// wildcard characters are not allowed in topic names
		parts[i] = strings.NewReplacer("+", "_", "#", "_", "/", "_").Replace(p)
	}
	return strings.Join(parts, "/")
}

// MQTTSink publishes LED transitions to an MQTT broker and keeps an
// availability topic alive with heartbeats.
type MQTTSink struct {
	opts   MQTTOptions
	logger *zap.Logger
	client mqtt.Client

	mu        sync.RWMutex
	connected bool
	published uint64
	errors    uint64

	beats atomic.Uint64

	stop      chan struct{}
	wg        sync.WaitGroup
	heartOnce sync.Once
}

func NewMQTTSink(opts MQTTOptions, logger *zap.Logger) *MQTTSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	return &MQTTSink{opts: opts, logger: logger, stop: make(chan struct{})}
}

// Connect establishes the broker connection and subscribes to the config
// topic. The heartbeat starts even when the first attempt times out; the
// client keeps retrying in the background.
func (s *MQTTSink) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.opts.Broker)
	opts.SetClientID(s.opts.ClientID)
	if s.opts.Username != "" {
		opts.SetUsername(s.opts.Username)
		opts.SetPassword(s.opts.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	if s.opts.AvailTopic != "" {
		opts.SetWill(s.opts.AvailTopic, Offline, s.opts.QoS, true)
	}

	opts.OnConnect = func(c mqtt.Client) {
		s.mu.Lock()
		s.connected = true
		s.mu.Unlock()
		s.logger.Info("mqtt connection established", zap.String("broker", s.opts.Broker))
		s.subscribeConfig(c)
		s.publishAvail(Online)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		s.mu.Lock()
		s.connected = false
		s.mu.Unlock()
		s.logger.Warn("mqtt connection lost, will auto-reconnect", zap.Error(err))
	}

	s.client = mqtt.NewClient(opts)
	token := s.client.Connect()
	if s.opts.Heartbeat > 0 && s.opts.AvailTopic != "" {
		s.heartOnce.Do(func() {
			s.wg.Add(1)
			go s.heartbeat()
		})
	}

	select {
	case <-token.Done():
	case <-time.After(s.opts.ConnectTimeout):
		return fmt.Errorf("mqtt connection timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	return nil
}

func (s *MQTTSink) subscribeConfig(c mqtt.Client) {
	if s.opts.ConfigTopic == "" {
		return
	}
	token := c.Subscribe(s.opts.ConfigTopic, s.opts.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		s.logger.Info("config message received",
			zap.String("topic", msg.Topic()),
			zap.Int("size", len(msg.Payload())))
		if s.opts.OnConfig != nil {
			s.opts.OnConfig(msg.Payload())
		}
	})
	go func() {
		if token.WaitTimeout(s.opts.ConnectTimeout) && token.Error() != nil {
			s.logger.Warn("config subscription failed", zap.Error(token.Error()))
		}
	}()
}

func (s *MQTTSink) heartbeat() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.beats.Add(1)
			if s.IsConnected() {
				s.publishAvail(Online)
			}
		}
	}
}

func (s *MQTTSink) publishAvail(payload string) {
	if s.opts.AvailTopic == "" {
		return
	}
	token := s.client.Publish(s.opts.AvailTopic, s.opts.QoS, true, payload)
	go func() {
		if token.WaitTimeout(2*time.Second) && token.Error() != nil {
			s.logger.Debug("availability publish failed", zap.Error(token.Error()))
		}
	}()
}

// PublishChange publishes one transition.
func (s *MQTTSink) PublishChange(c Change) error {
	if !s.IsConnected() {
		s.countError()
		return fmt.Errorf("mqtt not connected")
	}

	payload, err := json.Marshal(ChangePayload{Time: c.Time, Frequency: c.Frequency})
	if err != nil {
		s.countError()
		return fmt.Errorf("failed to marshal change: %w", err)
	}

	topic := ChangeTopic(s.opts.ChangesTopic, s.opts.BoardID, c)
	token := s.client.Publish(topic, s.opts.QoS, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		s.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		s.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	s.mu.Lock()
	s.published++
	s.mu.Unlock()
	s.logger.Debug("change published", zap.String("topic", topic))
	return nil
}

func (s *MQTTSink) countError() {
	s.mu.Lock()
	s.errors++
	s.mu.Unlock()
}

func (s *MQTTSink) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Stats returns published and failed message counts
func (s *MQTTSink) Stats() (published, errors uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.published, s.errors
}

// Close announces offline, stops the heartbeat and disconnects.
func (s *MQTTSink) Close() error {
	select {
	case <-s.stop:
		return nil
	default:
		close(s.stop)
	}
	s.wg.Wait()

	if s.client == nil {
		return nil
	}
	if s.IsConnected() && s.opts.AvailTopic != "" {
		token := s.client.Publish(s.opts.AvailTopic, s.opts.QoS, true, Offline)
		token.WaitTimeout(2 * time.Second)
	}
	s.client.Disconnect(250)
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	return nil
}
