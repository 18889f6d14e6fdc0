package mqtt

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/ipx800-bridge/internal/infrastructure/broker"
	"github.com/nerrad567/ipx800-bridge/internal/infrastructure/config"
)

// startBroker runs an embedded broker on a free loopback port and returns a
// client config pointing at it.
func startBroker(t *testing.T) config.MQTTConfig {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserving port: %v", err)
	}
	addr := l.Addr().String()
	_ = l.Close()

	cfg := config.MQTTConfig{
		Enabled:  true,
		Embedded: config.EmbeddedBrokerConfig{Enabled: true, Address: addr},
		QoS:      1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     2,
		},
	}
	b, err := broker.Start(cfg, nil)
	if err != nil {
		t.Fatalf("broker.Start() error = %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })

	host, portStr, _ := net.SplitHostPort(addr)
	port, _ := strconv.Atoi(portStr)
	cfg.Broker = config.MQTTBrokerConfig{Host: host, Port: port, ClientID: t.Name()}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, dialErr := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if dialErr == nil {
			_ = conn.Close()
			return cfg
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("embedded broker did not listen on %s", addr)
	return cfg
}

func connect(t *testing.T, cfg config.MQTTConfig, clientID string) *Client {
	t.Helper()
	cfg.Broker.ClientID = clientID
	client, err := Connect(cfg, nil)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

type received struct {
	mu       sync.Mutex
	messages map[string][]byte
	ch       chan string
}

func newReceived() *received {
	return &received{messages: make(map[string][]byte), ch: make(chan string, 16)}
}

func (r *received) handler(topic string, payload []byte) error {
	r.mu.Lock()
	r.messages[topic] = append([]byte(nil), payload...)
	r.mu.Unlock()
	r.ch <- topic
	return nil
}

func (r *received) wait(t *testing.T, topic string) []byte {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case got := <-r.ch:
			if got == topic {
				r.mu.Lock()
				defer r.mu.Unlock()
				return r.messages[topic]
			}
		case <-timeout:
			t.Fatalf("no message on %s", topic)
			return nil
		}
	}
}

func TestConnect(t *testing.T) {
	cfg := startBroker(t)
	client := connect(t, cfg, "ipx800-test-connect")

	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestConnectUnreachableBroker(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the connect timeout")
	}

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	_ = l.Close()

	_, err = Connect(config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{Host: "127.0.0.1", Port: port, ClientID: "ipx800-test-unreachable"},
	}, nil)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestClose(t *testing.T) {
	cfg := startBroker(t)
	cfg.Broker.ClientID = "ipx800-test-close"
	client, err := Connect(cfg, nil)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close")
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
	if err := client.Publish("graylogic/test", []byte("x"), 1, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() after Close error = %v, want ErrNotConnected", err)
	}
}

func TestHealthCheckCancelledContext(t *testing.T) {
	cfg := startBroker(t)
	client := connect(t, cfg, "ipx800-test-health")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := client.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() error = %v, want context.Canceled", err)
	}
}

func TestPublishValidation(t *testing.T) {
	cfg := startBroker(t)
	client := connect(t, cfg, "ipx800-test-validation")

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"empty topic", "", []byte("x"), 1, ErrInvalidTopic},
		{"qos too high", "graylogic/test", []byte("x"), 3, ErrInvalidQoS},
		{"payload too large", "graylogic/test", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSubscribeValidation(t *testing.T) {
	cfg := startBroker(t)
	client := connect(t, cfg, "ipx800-test-sub-validation")
	noop := func(string, []byte) error { return nil }

	if err := client.Subscribe("", 1, noop); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe(empty) error = %v, want ErrInvalidTopic", err)
	}
	if err := client.Subscribe("graylogic/#", 3, noop); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Subscribe(qos 3) error = %v, want ErrInvalidQoS", err)
	}
	if err := client.Subscribe("graylogic/#", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil handler) error = %v, want ErrSubscribeFailed", err)
	}
	if err := client.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(empty) error = %v, want ErrInvalidTopic", err)
	}
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	cfg := startBroker(t)
	sub := connect(t, cfg, "ipx800-test-sub")
	pub := connect(t, cfg, "ipx800-test-pub")

	got := newReceived()
	if err := sub.Subscribe("graylogic/command/ipx800/ipx800/+", 1, got.handler); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !sub.HasSubscription("graylogic/command/ipx800/ipx800/+") {
		t.Error("HasSubscription() = false after Subscribe")
	}
	if sub.SubscriptionCount() != 1 {
		t.Errorf("SubscriptionCount() = %d, want 1", sub.SubscriptionCount())
	}

	topic := "graylogic/command/ipx800/ipx800/3"
	if err := pub.Publish(topic, []byte(`{"command":"on"}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if payload := got.wait(t, topic); string(payload) != `{"command":"on"}` {
		t.Errorf("payload = %s", payload)
	}
}

func TestPublishRetainedDeliveredToLateSubscriber(t *testing.T) {
	cfg := startBroker(t)
	pub := connect(t, cfg, "ipx800-test-retain-pub")

	topic := "graylogic/state/ipx800/ipx800/1"
	if err := pub.PublishRetained(topic, []byte(`{"on":true}`)); err != nil {
		t.Fatalf("PublishRetained() error = %v", err)
	}

	sub := connect(t, cfg, "ipx800-test-retain-sub")
	got := newReceived()
	if err := sub.Subscribe(topic, 1, got.handler); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if payload := got.wait(t, topic); string(payload) != `{"on":true}` {
		t.Errorf("payload = %s", payload)
	}
}

func TestUnsubscribe(t *testing.T) {
	cfg := startBroker(t)
	client := connect(t, cfg, "ipx800-test-unsub")

	topic := "graylogic/ack/ipx800/ipx800/+"
	if err := client.Subscribe(topic, 1, func(string, []byte) error { return nil }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := client.Unsubscribe(topic); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if client.HasSubscription(topic) {
		t.Error("HasSubscription() = true after Unsubscribe")
	}
}

type recordingLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func TestHandlerPanicAndErrorAreLogged(t *testing.T) {
	cfg := startBroker(t)
	sub := connect(t, cfg, "ipx800-test-panic-sub")
	pub := connect(t, cfg, "ipx800-test-panic-pub")

	logger := &recordingLogger{}
	sub.SetLogger(logger)

	var calls atomic.Int32
	done := make(chan struct{}, 2)
	err := sub.Subscribe("graylogic/test/+", 1, func(topic string, _ []byte) error {
		calls.Add(1)
		defer func() { done <- struct{}{} }()
		if topic == "graylogic/test/panic" {
			panic("boom")
		}
		return errors.New("handler failed")
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	for _, topic := range []string{"graylogic/test/panic", "graylogic/test/error"} {
		if err := pub.Publish(topic, []byte("x"), 1, false); err != nil {
			t.Fatalf("Publish(%s) error = %v", topic, err)
		}
	}
	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Fatalf("handler called %d times, want 2", calls.Load())
		}
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		logger.mu.Lock()
		n := len(logger.errors) + len(logger.warns)
		logger.mu.Unlock()
		if n == 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	logger.mu.Lock()
	defer logger.mu.Unlock()
	if len(logger.errors) != 1 || len(logger.warns) != 1 {
		t.Errorf("logged errors=%v warns=%v, want one of each", logger.errors, logger.warns)
	}
}

func TestConnectRegistersWill(t *testing.T) {
	cfg := startBroker(t)
	cfg.Broker.ClientID = "ipx800-test-will"
	client, err := Connect(cfg, &Will{
		Topic:    "graylogic/health/ipx800",
		Payload:  []byte(`{"status":"offline"}`),
		QoS:      1,
		Retained: true,
	})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	opts := client.client.OptionsReader()
	if !opts.WillEnabled() {
		t.Fatal("WillEnabled() = false")
	}
	if opts.WillTopic() != "graylogic/health/ipx800" {
		t.Errorf("WillTopic() = %q", opts.WillTopic())
	}
	if string(opts.WillPayload()) != `{"status":"offline"}` {
		t.Errorf("WillPayload() = %s", opts.WillPayload())
	}
	if opts.WillQos() != 1 || !opts.WillRetained() {
		t.Errorf("will qos=%d retained=%v, want 1 true", opts.WillQos(), opts.WillRetained())
	}
}

func TestConnectWithoutWill(t *testing.T) {
	cfg := startBroker(t)
	client := connect(t, cfg, "ipx800-test-no-will")

	opts := client.client.OptionsReader()
	if opts.WillEnabled() {
		t.Error("WillEnabled() = true without a will")
	}
}

func TestSetCallbacks(t *testing.T) {
	cfg := startBroker(t)
	client := connect(t, cfg, "ipx800-test-callbacks")

	var connects atomic.Int32
	client.SetOnConnect(func() { connects.Add(1) })
	client.SetOnDisconnect(func(error) {})

	client.handleConnect()
	if connects.Load() != 1 {
		t.Errorf("onConnect called %d times, want 1", connects.Load())
	}

	var lost error
	client.SetOnDisconnect(func(err error) { lost = err })
	client.handleDisconnect(errors.New("link down"))
	if lost == nil || lost.Error() != "link down" {
		t.Errorf("onDisconnect error = %v", lost)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after handleDisconnect")
	}
}
