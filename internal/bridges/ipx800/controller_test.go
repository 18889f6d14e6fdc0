package ipx800

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/ipx800-bridge/internal/device"
)

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) FetchStatus(ctx context.Context) (map[int]bool, error) {
	args := m.Called(ctx)
	states, _ := args.Get(0).(map[int]bool)
	return states, args.Error(1)
}

// fakeQueue records enqueued commands without sending them.
type fakeQueue struct {
	mu       sync.Mutex
	commands []device.Command
	startErr error
	started  bool
	stopped  bool
}

func (q *fakeQueue) Start(context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.started = true
	return q.startErr
}

func (q *fakeQueue) Stop() {
	q.mu.Lock()
	q.stopped = true
	q.mu.Unlock()
}

func (q *fakeQueue) Enqueue(cmd device.Command) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return ErrDispatcherStopped
	}
	q.commands = append(q.commands, cmd)
	return nil
}

func (q *fakeQueue) Commands() []device.Command {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]device.Command(nil), q.commands...)
}

func statusOf(on ...int) map[int]bool {
	states := make(map[int]bool, device.ChannelCount)
	for i := 1; i <= device.ChannelCount; i++ {
		states[i] = false
	}
	for _, ch := range on {
		states[ch] = true
	}
	return states
}

func newTestController(t *testing.T, fetcher StatusFetcher, queue CommandQueue) *Controller {
	t.Helper()
	c, err := NewController(ControllerOptions{
		DeviceID:   "relay-board",
		Client:     fetcher,
		Dispatcher: queue,
		Store:      device.NewStore(device.StoreOptions{}),
	})
	require.NoError(t, err)
	return c
}

func TestNewController_RequiresCollaborators(t *testing.T) {
	store := device.NewStore(device.StoreOptions{})

	_, err := NewController(ControllerOptions{Dispatcher: &fakeQueue{}, Store: store})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = NewController(ControllerOptions{Client: &mockFetcher{}, Store: store})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = NewController(ControllerOptions{Client: &mockFetcher{}, Dispatcher: &fakeQueue{}})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = NewController(ControllerOptions{Client: &mockFetcher{}, Dispatcher: &fakeQueue{}, Store: store, PollInterval: -time.Second})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestController_SetChannelIsOptimisticAndQueued(t *testing.T) {
	queue := &fakeQueue{}
	c := newTestController(t, &mockFetcher{}, queue)

	cmd, err := c.TurnOn(context.Background(), 5, device.CommandSourceAPI)
	require.NoError(t, err)

	assert.True(t, c.Store().IsOn(5))
	cmds := queue.Commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, cmd, cmds[0])
	assert.Equal(t, 5, cmds[0].Channel)
	assert.True(t, cmds[0].On)
	assert.NotEmpty(t, cmds[0].ID)

	_, err = c.TurnOff(context.Background(), 5, device.CommandSourceAPI)
	require.NoError(t, err)
	assert.False(t, c.Store().IsOn(5))
	assert.Len(t, queue.Commands(), 2)
}

func TestController_SetChannelInvalidIndex(t *testing.T) {
	queue := &fakeQueue{}
	c := newTestController(t, &mockFetcher{}, queue)

	for _, idx := range []int{0, 9} {
		_, err := c.SetChannel(context.Background(), idx, true, device.CommandSourceAPI)
		assert.ErrorIs(t, err, device.ErrInvalidChannel)
	}
	assert.Empty(t, queue.Commands())
}

func TestController_SetChannelAfterStop(t *testing.T) {
	queue := &fakeQueue{}
	c := newTestController(t, &mockFetcher{}, queue)
	c.Stop()

	_, err := c.TurnOn(context.Background(), 1, device.CommandSourceAPI)
	assert.ErrorIs(t, err, ErrDispatcherStopped)
}

func TestController_Toggle(t *testing.T) {
	queue := &fakeQueue{}
	c := newTestController(t, &mockFetcher{}, queue)
	require.NoError(t, c.ApplyWebhook(2, true))

	cmd, err := c.Toggle(context.Background(), 2, device.CommandSourceMQTT)
	require.NoError(t, err)
	assert.False(t, cmd.On)
	assert.False(t, c.Store().IsOn(2))

	_, err = c.Toggle(context.Background(), 0, device.CommandSourceMQTT)
	assert.ErrorIs(t, err, device.ErrInvalidChannel)
}

func TestController_Refresh(t *testing.T) {
	fetcher := &mockFetcher{}
	fetcher.On("FetchStatus", mock.Anything).Return(statusOf(1, 4), nil).Once()
	c := newTestController(t, fetcher, &fakeQueue{})

	require.NoError(t, c.Refresh(context.Background()))

	assert.True(t, c.Store().IsOn(1))
	assert.True(t, c.Store().IsOn(4))
	assert.False(t, c.Store().IsOn(2))
	poll := c.PollStatus()
	assert.NotNil(t, poll.LastSuccess)
	assert.Zero(t, poll.Failures)
	fetcher.AssertExpectations(t)
}

func TestController_RefreshErrorLeavesStoreUnchanged(t *testing.T) {
	fetcher := &mockFetcher{}
	fetcher.On("FetchStatus", mock.Anything).Return(nil, ErrDeviceUnreachable).Twice()
	c := newTestController(t, fetcher, &fakeQueue{})
	require.NoError(t, c.ApplyWebhook(3, true))

	err := c.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrDeviceUnreachable)
	_ = c.Refresh(context.Background())

	assert.True(t, c.Store().IsOn(3))
	poll := c.PollStatus()
	assert.Nil(t, poll.LastSuccess)
	assert.Equal(t, 2, poll.Failures)
	assert.Contains(t, poll.LastError, "unreachable")
}

func TestController_StartRefreshesAndSurvivesFailure(t *testing.T) {
	fetcher := &mockFetcher{}
	fetcher.On("FetchStatus", mock.Anything).Return(nil, ErrMalformedResponse).Once()
	queue := &fakeQueue{}
	c := newTestController(t, fetcher, queue)

	require.NoError(t, c.Start(context.Background()))
	c.Stop()

	assert.True(t, queue.started)
	assert.True(t, queue.stopped)
	for _, ch := range c.Store().Snapshot() {
		assert.False(t, ch.Known)
	}
	fetcher.AssertExpectations(t)
}

func TestController_StartFailsWhenDispatcherFails(t *testing.T) {
	queue := &fakeQueue{startErr: errors.New("nope")}
	c := newTestController(t, &mockFetcher{}, queue)

	err := c.Start(context.Background())
	assert.Error(t, err)

	again := c.Start(context.Background())
	assert.ErrorIs(t, again, err, "a repeated Start must not report success")
}

func TestController_PollsPeriodically(t *testing.T) {
	fetcher := &mockFetcher{}
	fetcher.On("FetchStatus", mock.Anything).Return(statusOf(), nil).Once()
	fetcher.On("FetchStatus", mock.Anything).Return(statusOf(7), nil)

	c, err := NewController(ControllerOptions{
		Client:       fetcher,
		Dispatcher:   &fakeQueue{},
		Store:        device.NewStore(device.StoreOptions{}),
		PollInterval: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	assert.Eventually(t, func() bool { return c.Store().IsOn(7) }, time.Second, 5*time.Millisecond)
}

func TestController_DeviceInfo(t *testing.T) {
	c, err := NewController(ControllerOptions{
		Client:     &mockFetcher{},
		Dispatcher: &fakeQueue{},
		Store:      device.NewStore(device.StoreOptions{}),
		ChannelName: func(i int) string {
			if i == 1 {
				return "Porch"
			}
			return DefaultChannelName(i)
		},
	})
	require.NoError(t, err)

	info := c.DeviceInfo()
	assert.Equal(t, "ipx800", info.ID)
	assert.Equal(t, "GCE Electronics", info.Manufacturer)
	assert.Equal(t, "IPX800 V3", info.Model)
	require.Len(t, info.Channels, device.ChannelCount)
	assert.Equal(t, "Porch", info.Channels[0].Name)
	assert.Equal(t, "IPX800 Light 8", info.Channels[7].Name)
}

func TestController_EndToEndWithFakeDevice(t *testing.T) {
	dev := newFakeDevice(t)
	client := dev.client()
	dispatcher := NewDispatcher(client, DispatcherOptions{Delay: 5 * time.Millisecond})
	c, err := NewController(ControllerOptions{
		Client:     client,
		Dispatcher: dispatcher,
		Store:      device.NewStore(device.StoreOptions{}),
	})
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	// sampleStatus has channels 1, 4 and 7 on.
	assert.True(t, c.Store().IsOn(1))
	assert.True(t, c.Store().IsOn(4))

	_, err = c.TurnOff(context.Background(), 1, device.CommandSourceCLI)
	require.NoError(t, err)
	_, err = c.TurnOn(context.Background(), 2, device.CommandSourceCLI)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(dev.Requests()) == 3 }, time.Second, 5*time.Millisecond)
	reqs := dev.Requests()
	assert.Equal(t, "set1=0", reqs[1].RawQuery)
	assert.Equal(t, "set2=1", reqs[2].RawQuery)

	require.NoError(t, c.ApplyWebhook(2, true))
	ch, err := c.Store().Channel(2)
	require.NoError(t, err)
	assert.True(t, ch.On)
	assert.True(t, ch.Confirmed)
	assert.False(t, ch.Pending)
}
