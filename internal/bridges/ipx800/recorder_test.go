package ipx800

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/ipx800-bridge/internal/device"
)

type memorySinks struct {
	mu       sync.Mutex
	changes  []device.Change
	commands []string
	failed   []string
	points   []string
	results  int
}

func (m *memorySinks) RecordStateChange(_ context.Context, _ string, c device.Change) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changes = append(m.changes, c)
	return nil
}

func (m *memorySinks) RecordCommand(_ context.Context, _ string, cmd device.Command, sendErr error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = append(m.commands, cmd.ID)
	if sendErr != nil {
		m.failed = append(m.failed, cmd.ID)
	}
	return nil
}

func (m *memorySinks) WriteChannelState(_ string, _ int, name string, _ bool, _ string, _ time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points = append(m.points, name)
}

func (m *memorySinks) WriteCommandResult(string, int, bool, string, error, time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results++
}

func (m *memorySinks) counts() (int, int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.changes), len(m.commands), len(m.points)
}

func TestRecorder_WritesChangesAndResults(t *testing.T) {
	sinks := &memorySinks{}
	store := device.NewStore(device.StoreOptions{})
	r := NewRecorder(RecorderOptions{
		DeviceID: "board",
		History:  sinks,
		Journal:  sinks,
		Points:   sinks,
	})
	r.Start(store)

	require.NoError(t, store.ApplyWebhook(1, true))
	require.NoError(t, store.SetOptimistic(2, true))

	ok, _ := device.NewCommand(2, true, device.CommandSourceAPI)
	bad, _ := device.NewCommand(3, true, device.CommandSourceAPI)
	r.RecordResult(ok, nil)
	r.RecordResult(bad, errors.New("refused"))

	r.Stop()

	changes, commands, points := sinks.counts()
	assert.Equal(t, 2, changes)
	assert.Equal(t, 2, commands)
	assert.Equal(t, 2, points)
	assert.Equal(t, []string{bad.ID}, sinks.failed)
	assert.Equal(t, 2, sinks.results)
	assert.Equal(t, []string{"IPX800 Light 1", "IPX800 Light 2"}, sinks.points)
	assert.Zero(t, r.Dropped())
}

func TestRecorder_StopUnsubscribes(t *testing.T) {
	sinks := &memorySinks{}
	store := device.NewStore(device.StoreOptions{})
	r := NewRecorder(RecorderOptions{History: sinks})
	r.Start(store)
	r.Stop()

	require.NoError(t, store.ApplyWebhook(1, true))

	changes, _, _ := sinks.counts()
	assert.Zero(t, changes)
}
