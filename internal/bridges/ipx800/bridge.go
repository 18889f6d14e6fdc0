package ipx800

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/ipx800-bridge/internal/device"
)

// Bridge operation constants.
const (
	// stateBufferSize bounds the queue between store listeners and the
	// MQTT publisher. Changes beyond it are dropped and logged.
	stateBufferSize = 64
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// MQTTClient is the interface for MQTT operations.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
	IsConnected() bool
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	Controller *Controller
	MQTT       MQTTClient

	// Dispatcher is optional. When set, its results are acknowledged on
	// the ack topic and its counters appear in health messages.
	Dispatcher *Dispatcher

	BridgeID       string
	Version        string
	HealthInterval time.Duration

	// QoS applies to state, ack and command subscriptions. Zero is a valid
	// level; the config layer supplies the default.
	QoS byte

	Logger Logger
}

// BridgeMetrics contains bridge counters.
type BridgeMetrics struct {
	StatePublished uint64 `json:"state_published"`
	StateDropped   uint64 `json:"state_dropped"`
	MQTTCommands   uint64 `json:"mqtt_commands"`
	AcksInFlight   int    `json:"acks_in_flight"`
}

// Bridge exposes a Controller over MQTT. It:
//   - publishes retained channel state whenever the store changes
//   - turns MQTT commands into queued device commands and acknowledges them
//   - reports bridge health
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	controller *Controller
	dispatcher *Dispatcher
	mqtt       MQTTClient
	health     *HealthReporter
	qos        byte

	// Commands received over MQTT, keyed by device command id, awaiting
	// the dispatcher result.
	inflight   map[string]CommandMessage
	inflightMu sync.Mutex

	changes     chan device.Change
	unsubscribe func()

	statePublished atomic.Uint64
	stateDropped   atomic.Uint64
	mqttCommands   atomic.Uint64

	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger   Logger
	loggerMu sync.RWMutex
}

// NewBridge creates a bridge. Call Start to begin processing.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Controller == nil {
		return nil, fmt.Errorf("%w: controller is required", ErrInvalidConfig)
	}
	if opts.MQTT == nil {
		return nil, fmt.Errorf("%w: mqtt client is required", ErrInvalidConfig)
	}

	bridgeID := opts.BridgeID
	if bridgeID == "" {
		bridgeID = Protocol
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		controller: opts.Controller,
		dispatcher: opts.Dispatcher,
		mqtt:       opts.MQTT,
		qos:        opts.QoS,
		inflight:   make(map[string]CommandMessage),
		changes:    make(chan device.Change, stateBufferSize),
		done:       make(chan struct{}),
		ctx:        ctx,
		ctxCancel:  cancel,
		logger:     opts.Logger,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:   bridgeID,
		Version:    opts.Version,
		Interval:   opts.HealthInterval,
		Publisher:  opts.MQTT,
		Source:     opts.Controller,
		Statistics: b.statistics,
	})
	b.health.SetLogger(opts.Logger)

	if opts.Dispatcher != nil {
		opts.Dispatcher.OnResult(b.handleResult)
	}

	return b, nil
}

// Start subscribes to command topics, publishes the current state of
// every channel and starts health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", "error", err)
	}

	topic := CommandSubscribeTopic(b.controller.DeviceID())
	if err := b.mqtt.Subscribe(topic, b.qos, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", topic)

	b.unsubscribe = b.controller.Store().Subscribe(b.onChange)

	b.wg.Add(1)
	go b.publishLoop()

	for _, ch := range b.controller.Store().Snapshot() {
		b.publishState(ch)
	}

	b.health.Start(ctx)

	b.logInfo("bridge started", "device_id", b.controller.DeviceID())
	return nil
}

// Stop stops publishing and health reporting. Safe to call multiple times.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		if b.unsubscribe != nil {
			b.unsubscribe()
		}
		close(b.done)
		b.ctxCancel()

		b.health.Stop()
		b.wg.Wait()

		b.inflightMu.Lock()
		pending := len(b.inflight)
		b.inflight = make(map[string]CommandMessage)
		b.inflightMu.Unlock()

		b.logInfo("bridge stopped", "unacknowledged_commands", pending)
	})
}

// GetMetrics returns bridge counters.
func (b *Bridge) GetMetrics() BridgeMetrics {
	b.inflightMu.Lock()
	inflight := len(b.inflight)
	b.inflightMu.Unlock()

	return BridgeMetrics{
		StatePublished: b.statePublished.Load(),
		StateDropped:   b.stateDropped.Load(),
		MQTTCommands:   b.mqttCommands.Load(),
		AcksInFlight:   inflight,
	}
}

// SetLogger sets the logger for the bridge and its health reporter.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	b.health.SetLogger(logger)
}

func (b *Bridge) statistics() BridgeStatistics {
	stats := BridgeStatistics{
		StatePublished: b.statePublished.Load(),
		MQTTCommands:   b.mqttCommands.Load(),
	}
	if b.dispatcher != nil {
		ds := b.dispatcher.Stats()
		stats.CommandsSent = ds.Sent
		stats.CommandsFailed = ds.Failed
		stats.CommandsDropped = ds.Dropped
		stats.QueueDepth = ds.Pending
	}
	return stats
}

// onChange is the store listener. It must not block.
func (b *Bridge) onChange(change device.Change) {
	select {
	case b.changes <- change:
	default:
		b.stateDropped.Add(1)
		b.logWarn("state publish queue full, change dropped", "channel", change.Index, "on", change.On)
	}
}

func (b *Bridge) publishLoop() {
	defer b.wg.Done()

	for {
		select {
		case <-b.done:
			return
		case change := <-b.changes:
			ch, err := b.controller.Store().Channel(change.Index)
			if err != nil {
				b.logError("reading channel state", "channel", change.Index, "error", err)
				continue
			}
			b.publishState(ch)
		}
	}
}

func (b *Bridge) publishState(ch device.ChannelState) {
	msg := NewStateMessage(b.controller.DeviceID(), b.controller.ChannelName(ch.Index), ch)
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal state", "error", err)
		return
	}

	topic := StateTopic(b.controller.DeviceID(), ch.Index)
	if err := b.mqtt.Publish(topic, payload, b.qos, true); err != nil {
		b.logError("failed to publish state", "topic", topic, "error", err)
		return
	}
	b.statePublished.Add(1)
}

func (b *Bridge) handleMQTTMessage(topic string, payload []byte) {
	deviceID, channel, err := ParseCommandTopic(topic)
	if err != nil {
		b.logWarn("ignoring message on unexpected topic", "topic", topic, "error", err)
		return
	}
	if deviceID != b.controller.DeviceID() {
		b.logDebug("ignoring command for another device", "topic", topic)
		return
	}
	b.mqttCommands.Add(1)

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		cmd = CommandMessage{DeviceID: deviceID, Channel: channel}
		b.publishAck(NewAckError(cmd, ErrCodeInvalidParameters, "invalid JSON payload"))
		return
	}
	cmd.DeviceID = deviceID
	cmd.Channel = channel
	b.handleCommand(cmd)
}

func (b *Bridge) handleCommand(cmd CommandMessage) {
	if cmd.ID == "" {
		b.publishAck(NewAckError(cmd, ErrCodeInvalidParameters, "command id is required"))
		return
	}

	// Held across the enqueue so the dispatcher result cannot be
	// acknowledged before the command is recorded and acked as queued.
	b.inflightMu.Lock()
	defer b.inflightMu.Unlock()

	var (
		queued device.Command
		err    error
	)
	switch cmd.Command {
	case CommandOn:
		queued, err = b.controller.TurnOn(b.ctx, cmd.Channel, device.CommandSourceMQTT)
	case CommandOff:
		queued, err = b.controller.TurnOff(b.ctx, cmd.Channel, device.CommandSourceMQTT)
	case CommandToggle:
		queued, err = b.controller.Toggle(b.ctx, cmd.Channel, device.CommandSourceMQTT)
	default:
		b.publishAck(NewAckError(cmd, ErrCodeInvalidCommand, fmt.Sprintf("unsupported command %q", cmd.Command)))
		return
	}
	if err != nil {
		code := ErrCodeBridgeError
		if errors.Is(err, device.ErrInvalidChannel) {
			code = ErrCodeInvalidParameters
		}
		b.publishAck(NewAckError(cmd, code, err.Error()))
		return
	}

	if b.dispatcher != nil {
		b.inflight[queued.ID] = cmd
	}
	b.publishAck(NewAckMessage(cmd, AckQueued))
	b.logDebug("mqtt command queued", "command_id", cmd.ID, "channel", cmd.Channel, "command", cmd.Command)
}

// handleResult is registered as a dispatcher result hook.
func (b *Bridge) handleResult(queued device.Command, sendErr error) {
	b.inflightMu.Lock()
	cmd, ok := b.inflight[queued.ID]
	delete(b.inflight, queued.ID)
	b.inflightMu.Unlock()
	if !ok {
		return
	}

	if sendErr == nil {
		b.publishAck(NewAckMessage(cmd, AckAccepted))
		return
	}
	b.publishAck(NewAckError(cmd, errorCode(sendErr), sendErr.Error()))
}

func (b *Bridge) publishAck(ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", "error", err)
		return
	}

	topic := AckTopic(ack.DeviceID, ack.Channel)
	if err := b.mqtt.Publish(topic, payload, b.qos, false); err != nil {
		b.logError("failed to publish ack", "topic", topic, "error", err)
	}
}

// errorCode maps a send error to an ack error code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrCommandRejected):
		return ErrCodeCommandRejected
	case errors.Is(err, ErrDeviceUnreachable), errors.Is(err, context.DeadlineExceeded):
		return ErrCodeDeviceUnreachable
	case errors.Is(err, device.ErrInvalidChannel):
		return ErrCodeInvalidParameters
	default:
		return ErrCodeBridgeError
	}
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, keysAndValues...)
	}
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
