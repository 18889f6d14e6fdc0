package ipx800

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/ipx800-bridge/internal/device"
)

// Device metadata reported for every IPX800 V3.
const (
	Manufacturer = "GCE Electronics"
	Model        = "IPX800 V3"
)

// expiryInterval is how often pending optimistic values are checked.
const expiryInterval = time.Second

// StatusFetcher reads the state of every channel. *Client satisfies it.
type StatusFetcher interface {
	FetchStatus(ctx context.Context) (map[int]bool, error)
}

// CommandQueue accepts commands for asynchronous delivery. *Dispatcher
// satisfies it.
type CommandQueue interface {
	Start(ctx context.Context) error
	Stop()
	Enqueue(cmd device.Command) error
}

// ControllerOptions holds the collaborators of a Controller.
type ControllerOptions struct {
	// DeviceID identifies the controller in MQTT topics and history rows.
	DeviceID string

	Client     StatusFetcher
	Dispatcher CommandQueue
	Store      *device.Store

	// PollInterval is the period of status.xml polling. Zero disables
	// periodic polling; the initial refresh still happens.
	PollInterval time.Duration

	// ChannelName returns the display name of a channel. Optional.
	ChannelName func(index int) string

	// Logger is optional.
	Logger Logger
}

// ChannelInfo is the static description of one channel.
type ChannelInfo struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
}

// DeviceInfo describes the controlled device.
type DeviceInfo struct {
	ID           string        `json:"id"`
	Manufacturer string        `json:"manufacturer"`
	Model        string        `json:"model"`
	Channels     []ChannelInfo `json:"channels"`
}

// PollStatus reports the outcome of the most recent refresh.
type PollStatus struct {
	LastAttempt *time.Time `json:"last_attempt,omitempty"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	Failures    int        `json:"consecutive_failures"`
}

// Controller owns the device client, the command dispatcher and the state
// store for one IPX800. Every entry point (MQTT, REST, webhook) goes
// through it.
//
// Thread Safety: All methods are safe for concurrent use.
type Controller struct {
	deviceID     string
	client       StatusFetcher
	dispatcher   CommandQueue
	store        *device.Store
	pollInterval time.Duration
	channelName  func(int) string

	pollMu sync.RWMutex
	poll   PollStatus

	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	startErr  error
	stopOnce  sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewController validates opts and builds a controller.
func NewController(opts ControllerOptions) (*Controller, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("%w: client is required", ErrInvalidConfig)
	}
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("%w: dispatcher is required", ErrInvalidConfig)
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidConfig)
	}
	if opts.PollInterval < 0 {
		return nil, fmt.Errorf("%w: poll interval must not be negative", ErrInvalidConfig)
	}

	deviceID := opts.DeviceID
	if deviceID == "" {
		deviceID = "ipx800"
	}
	channelName := opts.ChannelName
	if channelName == nil {
		channelName = DefaultChannelName
	}

	return &Controller{
		deviceID:     deviceID,
		client:       opts.Client,
		dispatcher:   opts.Dispatcher,
		store:        opts.Store,
		pollInterval: opts.PollInterval,
		channelName:  channelName,
		done:         make(chan struct{}),
		logger:       opts.Logger,
	}, nil
}

// DefaultChannelName returns "IPX800 Light <n>".
func DefaultChannelName(index int) string {
	return fmt.Sprintf("IPX800 Light %d", index)
}

// Start starts the dispatcher, reads the initial device state and begins
// periodic polling. A failed initial read is logged and leaves every
// channel unconfirmed.
//
// Start runs once; later calls return the first call's error.
func (c *Controller) Start(ctx context.Context) error {
	c.startOnce.Do(func() {
		if err := c.dispatcher.Start(ctx); err != nil {
			c.startErr = fmt.Errorf("starting dispatcher: %w", err)
			return
		}

		if refreshErr := c.Refresh(ctx); refreshErr != nil {
			c.logWarn("initial refresh failed, channels stay unconfirmed", "error", refreshErr)
		}

		c.wg.Add(1)
		go c.pollLoop(ctx)

		c.logInfo("controller started", "device_id", c.deviceID, "poll_interval", c.pollInterval)
	})
	return c.startErr
}

// Stop ends polling and stops the dispatcher.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
		c.wg.Wait()
		c.dispatcher.Stop()
		c.logInfo("controller stopped", "device_id", c.deviceID)
	})
}

// SetChannel records the desired state optimistically and queues the
// device command. It returns the queued command.
//
// If the queue refuses the command the optimistic value stays until the
// next poll, webhook or expiry replaces it.
func (c *Controller) SetChannel(ctx context.Context, index int, on bool, source string) (device.Command, error) {
	if err := ctx.Err(); err != nil {
		return device.Command{}, err
	}

	cmd, err := device.NewCommand(index, on, source)
	if err != nil {
		return device.Command{}, err
	}
	if err := c.store.SetOptimistic(index, on); err != nil {
		return device.Command{}, err
	}
	if err := c.dispatcher.Enqueue(cmd); err != nil {
		return device.Command{}, fmt.Errorf("queueing command for channel %d: %w", index, err)
	}
	return cmd, nil
}

// TurnOn switches a channel on.
func (c *Controller) TurnOn(ctx context.Context, index int, source string) (device.Command, error) {
	return c.SetChannel(ctx, index, true, source)
}

// TurnOff switches a channel off.
func (c *Controller) TurnOff(ctx context.Context, index int, source string) (device.Command, error) {
	return c.SetChannel(ctx, index, false, source)
}

// Toggle inverts the effective state of a channel.
func (c *Controller) Toggle(ctx context.Context, index int, source string) (device.Command, error) {
	if err := device.ValidChannel(index); err != nil {
		return device.Command{}, err
	}
	return c.SetChannel(ctx, index, !c.store.IsOn(index), source)
}

// Refresh reads status.xml and replaces the confirmed state of every
// channel. On error the store is left unchanged.
func (c *Controller) Refresh(ctx context.Context) error {
	requestedAt := time.Now()
	states, err := c.client.FetchStatus(ctx)
	if err == nil {
		err = c.store.ApplyPoll(states, requestedAt)
	}
	c.recordPoll(requestedAt, err)

	if err != nil {
		c.logError("status refresh failed", "device_id", c.deviceID, "error", err)
		return err
	}
	c.logDebug("status refreshed", "device_id", c.deviceID)
	return nil
}

// ApplyWebhook records a state pushed by the device.
func (c *Controller) ApplyWebhook(index int, on bool) error {
	if err := c.store.ApplyWebhook(index, on); err != nil {
		return err
	}
	c.logDebug("webhook applied", "device_id", c.deviceID, "channel", index, "on", on)
	return nil
}

// Store returns the state store.
func (c *Controller) Store() *device.Store {
	return c.store
}

// DeviceID returns the configured device identifier.
func (c *Controller) DeviceID() string {
	return c.deviceID
}

// ChannelName returns the display name of a channel.
func (c *Controller) ChannelName(index int) string {
	return c.channelName(index)
}

// DeviceInfo returns the static device description.
func (c *Controller) DeviceInfo() DeviceInfo {
	info := DeviceInfo{
		ID:           c.deviceID,
		Manufacturer: Manufacturer,
		Model:        Model,
		Channels:     make([]ChannelInfo, 0, device.ChannelCount),
	}
	for i := 1; i <= device.ChannelCount; i++ {
		info.Channels = append(info.Channels, ChannelInfo{Index: i, Name: c.channelName(i)})
	}
	return info
}

// PollStatus returns the outcome of the most recent refresh.
func (c *Controller) PollStatus() PollStatus {
	c.pollMu.RLock()
	defer c.pollMu.RUnlock()
	return c.poll
}

// SetLogger sets the logger for the controller.
func (c *Controller) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Controller) recordPoll(at time.Time, err error) {
	c.pollMu.Lock()
	defer c.pollMu.Unlock()

	attempt := at
	c.poll.LastAttempt = &attempt
	if err != nil {
		c.poll.LastError = err.Error()
		c.poll.Failures++
		return
	}
	c.poll.LastSuccess = &attempt
	c.poll.LastError = ""
	c.poll.Failures = 0
}

func (c *Controller) pollLoop(ctx context.Context) {
	defer c.wg.Done()

	expiry := time.NewTicker(expiryInterval)
	defer expiry.Stop()

	var pollC <-chan time.Time
	if c.pollInterval > 0 {
		ticker := time.NewTicker(c.pollInterval)
		defer ticker.Stop()
		pollC = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-pollC:
			_ = c.Refresh(ctx) //nolint:errcheck // logged in Refresh
		case <-expiry.C:
			if n := c.store.ExpireOptimistic(); n > 0 {
				c.logDebug("optimistic values expired", "count", n)
			}
		}
	}
}

func (c *Controller) logInfo(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (c *Controller) logWarn(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (c *Controller) logError(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, keysAndValues...)
	}
}

func (c *Controller) logDebug(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
