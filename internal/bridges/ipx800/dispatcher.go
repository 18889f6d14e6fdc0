package ipx800

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/ipx800-bridge/internal/device"
)

// Dispatcher defaults.
const (
	// DefaultDispatchDelay is the pause after every send before the next
	// command is taken from the queue.
	DefaultDispatchDelay = 200 * time.Millisecond

	// DefaultCommandTimeout bounds a single send.
	DefaultCommandTimeout = 5 * time.Second
)

// CommandSender delivers one command to the device.
// *Client satisfies this interface.
type CommandSender interface {
	SendCommand(ctx context.Context, cmd device.Command) error
}

// ResultFunc is called after every send with the outcome (nil on success).
// It runs on the dispatcher goroutine and must not block.
type ResultFunc func(cmd device.Command, err error)

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	// Delay is the pause between the end of one send and the next dequeue.
	// Default: 200ms.
	Delay time.Duration

	// CommandTimeout bounds each send. Default: 5 seconds.
	CommandTimeout time.Duration

	// OnResult is optional.
	OnResult ResultFunc

	// Logger is optional.
	Logger Logger
}

// DispatcherStats counts dispatcher outcomes since start.
type DispatcherStats struct {
	Sent        uint64     `json:"sent"`
	Failed      uint64     `json:"failed"`
	Dropped     uint64     `json:"dropped"`
	Pending     int        `json:"pending"`
	LastError   string     `json:"last_error,omitempty"`
	LastErrorAt *time.Time `json:"last_error_at,omitempty"`
}

// Dispatcher serialises commands to the device.
//
// Commands are sent in FIFO order by a single goroutine, so at most one is
// in flight. After every send, successful or not, the dispatcher waits
// Delay before taking the next command. Failures are logged and the command
// is dropped.
//
// Thread Safety: All methods are safe for concurrent use.
type Dispatcher struct {
	sender         CommandSender
	delay          time.Duration
	commandTimeout time.Duration

	hooksMu sync.RWMutex
	hooks   []ResultFunc

	mu      sync.Mutex
	queue   []device.Command
	running bool
	stopped bool
	cancel  context.CancelFunc
	notify  chan struct{}

	wg       sync.WaitGroup
	stopOnce sync.Once

	sent    atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64

	lastErrMu   sync.RWMutex
	lastErr     string
	lastErrorAt time.Time

	logger   Logger
	loggerMu sync.RWMutex
}

// NewDispatcher creates a dispatcher that sends through sender.
// Call Start to begin processing.
func NewDispatcher(sender CommandSender, opts DispatcherOptions) *Dispatcher {
	delay := opts.Delay
	if delay <= 0 {
		delay = DefaultDispatchDelay
	}
	timeout := opts.CommandTimeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}

	d := &Dispatcher{
		sender:         sender,
		delay:          delay,
		commandTimeout: timeout,
		notify:         make(chan struct{}, 1),
		logger:         opts.Logger,
	}
	if opts.OnResult != nil {
		d.hooks = append(d.hooks, opts.OnResult)
	}
	return d
}

// OnResult registers an additional hook called after every send.
func (d *Dispatcher) OnResult(fn ResultFunc) {
	if fn == nil {
		return
	}
	d.hooksMu.Lock()
	d.hooks = append(d.hooks, fn)
	d.hooksMu.Unlock()
}

// Start launches the consumer goroutine. It runs until Stop is called or
// ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return ErrDispatcherStopped
	}
	if d.running {
		return ErrDispatcherRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true

	d.wg.Add(1)
	go d.run(loopCtx)

	d.logInfo("dispatcher started", "delay", d.delay, "command_timeout", d.commandTimeout)
	return nil
}

// Stop cancels the consumer and waits for it to exit. A command already in
// flight is aborted. Queued commands are discarded.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.stopped = true
		cancel := d.cancel
		d.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		d.wg.Wait()

		d.discardQueue()
		d.logInfo("dispatcher stopped",
			"sent", d.sent.Load(),
			"failed", d.failed.Load(),
			"dropped", d.dropped.Load())
	})
}

// Enqueue appends cmd to the queue and returns immediately.
func (d *Dispatcher) Enqueue(cmd device.Command) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return ErrDispatcherStopped
	}
	d.queue = append(d.queue, cmd)
	depth := len(d.queue)
	d.mu.Unlock()

	select {
	case d.notify <- struct{}{}:
	default:
	}

	d.logDebug("command queued", "command_id", cmd.ID, "channel", cmd.Channel, "on", cmd.On, "depth", depth)
	return nil
}

// Pending returns the number of queued commands not yet taken.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Stats returns dispatcher counters.
func (d *Dispatcher) Stats() DispatcherStats {
	stats := DispatcherStats{
		Sent:    d.sent.Load(),
		Failed:  d.failed.Load(),
		Dropped: d.dropped.Load(),
		Pending: d.Pending(),
	}

	d.lastErrMu.RLock()
	if d.lastErr != "" {
		at := d.lastErrorAt
		stats.LastError = d.lastErr
		stats.LastErrorAt = &at
	}
	d.lastErrMu.RUnlock()

	return stats
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.loggerMu.Lock()
	d.logger = logger
	d.loggerMu.Unlock()
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()
	defer func() {
		d.mu.Lock()
		d.stopped = true
		d.mu.Unlock()
		d.discardQueue()
	}()

	for {
		cmd, ok := d.next()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-d.notify:
				continue
			}
		}

		if ctx.Err() != nil {
			d.requeueFront(cmd)
			return
		}
		d.send(ctx, cmd)

		timer := time.NewTimer(d.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (d *Dispatcher) next() (device.Command, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.queue) == 0 {
		return device.Command{}, false
	}
	cmd := d.queue[0]
	d.queue[0] = device.Command{}
	d.queue = d.queue[1:]
	return cmd, true
}

func (d *Dispatcher) requeueFront(cmd device.Command) {
	d.mu.Lock()
	d.queue = append([]device.Command{cmd}, d.queue...)
	d.mu.Unlock()
}

func (d *Dispatcher) send(ctx context.Context, cmd device.Command) {
	sendCtx, cancel := context.WithTimeout(ctx, d.commandTimeout)
	err := d.sender.SendCommand(sendCtx, cmd)
	cancel()

	if err != nil {
		d.failed.Add(1)
		d.lastErrMu.Lock()
		d.lastErr = err.Error()
		d.lastErrorAt = time.Now()
		d.lastErrMu.Unlock()

		logFn := d.logError
		if ctx.Err() != nil {
			// Stop interrupted the request; not a device fault.
			logFn = d.logDebug
		}
		logFn("command failed",
			"command_id", cmd.ID,
			"channel", cmd.Channel,
			"on", cmd.On,
			"source", cmd.Source,
			"error", err)
	} else {
		d.sent.Add(1)
		d.logDebug("command sent", "command_id", cmd.ID, "channel", cmd.Channel, "on", cmd.On)
	}

	d.hooksMu.RLock()
	hooks := d.hooks
	d.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(cmd, err)
	}
}

func (d *Dispatcher) discardQueue() {
	d.mu.Lock()
	n := len(d.queue)
	d.queue = nil
	d.mu.Unlock()

	if n > 0 {
		d.dropped.Add(uint64(n))
		d.logInfo("discarded queued commands", "count", n)
	}
}

func (d *Dispatcher) logInfo(msg string, keysAndValues ...any) {
	d.loggerMu.RLock()
	logger := d.logger
	d.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (d *Dispatcher) logError(msg string, keysAndValues ...any) {
	d.loggerMu.RLock()
	logger := d.logger
	d.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, keysAndValues...)
	}
}

func (d *Dispatcher) logDebug(msg string, keysAndValues ...any) {
	d.loggerMu.RLock()
	logger := d.logger
	d.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
