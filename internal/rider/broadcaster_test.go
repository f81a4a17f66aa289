package rider

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chowcity/chowcity-client/internal/logging"
	"github.com/chowcity/chowcity-client/internal/models"
)

type fakeLocator struct {
	mu  sync.Mutex
	loc models.LatLng
	err error
}

func (f *fakeLocator) Locate(context.Context) (models.LatLng, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return models.LatLng{}, f.err
	}
	return f.loc, nil
}

type fakeChannel struct {
	mu    sync.Mutex
	emits []models.RiderLocation
}

func (f *fakeChannel) Emit(_ string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	var loc models.RiderLocation
	if err := json.Unmarshal(data, &loc); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emits = append(f.emits, loc)
	return nil
}

func (f *fakeChannel) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.emits)
}

func (f *fakeChannel) last() models.RiderLocation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.emits[len(f.emits)-1]
}

type fakeStatusAPI struct {
	mu       sync.Mutex
	statuses []string
}

func (f *fakeStatusAPI) SetRiderStatus(_ context.Context, _, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	return nil
}

func newTestBroadcaster(t *testing.T) (*Broadcaster, *fakeLocator, *fakeChannel, *fakeStatusAPI) {
	t.Helper()
	locator := &fakeLocator{loc: models.LatLng{Lat: 6.6018, Lng: 3.3515}}
	channel := &fakeChannel{}
	backend := &fakeStatusAPI{}
	b := NewBroadcaster("r1", locator, channel, backend, logging.New("error"))
	b.SetInterval(50 * time.Millisecond)
	t.Cleanup(func() { b.GoOffline(context.Background()) })
	return b, locator, channel, backend
}

func TestGoOnlineSamplesImmediatelyThenOnInterval(t *testing.T) {
	b, _, channel, backend := newTestBroadcaster(t)

	require.NoError(t, b.GoOnline(context.Background()))
	require.True(t, b.Online())
	require.Equal(t, []string{models.RiderAvailable}, backend.statuses)

	time.Sleep(180 * time.Millisecond)
	got := channel.count()
	require.GreaterOrEqual(t, got, 3)
	require.Equal(t, "r1", channel.last().RiderID)
	require.Equal(t, models.RiderAvailable, channel.last().Status)
}

func TestDoubleGoOnlineKeepsSingleLoop(t *testing.T) {
	b, _, channel, _ := newTestBroadcaster(t)

	require.NoError(t, b.GoOnline(context.Background()))
	require.NoError(t, b.GoOnline(context.Background()))

	// Two active loops at 50ms would roughly double the emit count.
	time.Sleep(300 * time.Millisecond)
	got := channel.count()
	require.GreaterOrEqual(t, got, 4)
	require.LessOrEqual(t, got, 9)
}

func TestGoOfflineStopsLoopAndBroadcastsSentinel(t *testing.T) {
	b, _, channel, backend := newTestBroadcaster(t)
	require.NoError(t, b.GoOnline(context.Background()))
	time.Sleep(80 * time.Millisecond)

	require.NoError(t, b.GoOffline(context.Background()))
	require.False(t, b.Online())
	require.Equal(t, models.RiderOffline, channel.last().Status)
	require.Equal(t, []string{models.RiderAvailable, models.RiderOffline}, backend.statuses)

	count := channel.count()
	time.Sleep(150 * time.Millisecond)
	require.Equal(t, count, channel.count())
}

func TestGoOfflineIdempotent(t *testing.T) {
	b, _, _, _ := newTestBroadcaster(t)
	require.NoError(t, b.GoOnline(context.Background()))
	require.NoError(t, b.GoOffline(context.Background()))
	require.NoError(t, b.GoOffline(context.Background()))
}

func TestSampleFailureDoesNotStopLoop(t *testing.T) {
	b, locator, channel, _ := newTestBroadcaster(t)
	locator.mu.Lock()
	locator.err = errors.New("permission denied")
	locator.mu.Unlock()

	require.NoError(t, b.GoOnline(context.Background()))
	time.Sleep(120 * time.Millisecond)
	require.Zero(t, channel.count())

	// Permission granted later: the same loop starts delivering.
	locator.mu.Lock()
	locator.err = nil
	locator.mu.Unlock()
	time.Sleep(120 * time.Millisecond)
	require.Greater(t, channel.count(), 0)
}
