package ipx800

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/ipx800-bridge/internal/device"
)

const (
	recorderBufferSize = 256
	recordTimeout      = 5 * time.Second
)

// StateHistoryWriter persists channel changes.
// *device.SQLiteStateHistoryRepository satisfies it.
type StateHistoryWriter interface {
	RecordStateChange(ctx context.Context, deviceID string, change device.Change) error
}

// CommandRecorder persists dispatched commands.
// *device.SQLiteCommandJournal satisfies it.
type CommandRecorder interface {
	RecordCommand(ctx context.Context, deviceID string, cmd device.Command, sendErr error) error
}

// PointWriter writes channel state and command outcomes to a time-series
// store. *influxdb.Client satisfies it.
type PointWriter interface {
	WriteChannelState(deviceID string, channel int, name string, on bool, source string, at time.Time)
	WriteCommandResult(deviceID string, channel int, on bool, source string, sendErr error, at time.Time)
}

// RecorderOptions configures a Recorder. Every sink is optional.
type RecorderOptions struct {
	DeviceID    string
	ChannelName func(int) string

	History StateHistoryWriter
	Journal CommandRecorder
	Points  PointWriter

	Logger Logger
}

type recorderEvent struct {
	change  *device.Change
	command *device.Command
	sendErr error
}

// Recorder writes store changes and dispatcher results to the audit and
// telemetry sinks on a single background goroutine.
type Recorder struct {
	deviceID    string
	channelName func(int) string
	history     StateHistoryWriter
	journal     CommandRecorder
	points      PointWriter

	events      chan recorderEvent
	unsubscribe func()
	dropped     atomic.Uint64

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger Logger
}

// NewRecorder creates a recorder. Call Start to begin recording.
func NewRecorder(opts RecorderOptions) *Recorder {
	channelName := opts.ChannelName
	if channelName == nil {
		channelName = DefaultChannelName
	}
	return &Recorder{
		deviceID:    opts.DeviceID,
		channelName: channelName,
		history:     opts.History,
		journal:     opts.Journal,
		points:      opts.Points,
		events:      make(chan recorderEvent, recorderBufferSize),
		done:        make(chan struct{}),
		logger:      opts.Logger,
	}
}

// Start subscribes to store and begins writing.
func (r *Recorder) Start(store *device.Store) {
	r.unsubscribe = store.Subscribe(func(c device.Change) {
		r.push(recorderEvent{change: &c})
	})

	r.wg.Add(1)
	go r.run()
}

// RecordResult is a dispatcher result hook.
func (r *Recorder) RecordResult(cmd device.Command, sendErr error) {
	r.push(recorderEvent{command: &cmd, sendErr: sendErr})
}

// Dropped returns how many events were discarded because the buffer was full.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Stop unsubscribes, writes what is already buffered and returns.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() {
		if r.unsubscribe != nil {
			r.unsubscribe()
		}
		close(r.done)
		r.wg.Wait()
	})
}

func (r *Recorder) push(ev recorderEvent) {
	select {
	case r.events <- ev:
	default:
		r.dropped.Add(1)
		if r.logger != nil {
			r.logger.Warn("recorder buffer full, event dropped")
		}
	}
}

func (r *Recorder) run() {
	defer r.wg.Done()

	for {
		select {
		case ev := <-r.events:
			r.write(ev)
		case <-r.done:
			for {
				select {
				case ev := <-r.events:
					r.write(ev)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(ev recorderEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	switch {
	case ev.change != nil:
		c := *ev.change
		if r.points != nil {
			r.points.WriteChannelState(r.deviceID, c.Index, r.channelName(c.Index), c.On, string(c.Source), c.At)
		}
		if r.history != nil {
			if err := r.history.RecordStateChange(ctx, r.deviceID, c); err != nil && r.logger != nil {
				r.logger.Error("failed to record state change", "channel", c.Index, "error", err)
			}
		}
	case ev.command != nil:
		if r.points != nil {
			cmd := ev.command
			r.points.WriteCommandResult(r.deviceID, cmd.Channel, cmd.On, cmd.Source, ev.sendErr, time.Now())
		}
		if r.journal != nil {
			if err := r.journal.RecordCommand(ctx, r.deviceID, *ev.command, ev.sendErr); err != nil && r.logger != nil {
				r.logger.Error("failed to record command", "command_id", ev.command.ID, "error", err)
			}
		}
	}
}
