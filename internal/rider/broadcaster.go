// Package rider samples device geolocation while the rider is on duty and
// broadcasts it over the event channel. At most one sampling loop exists per
// session: starting always tears down any prior loop first, so repeated
// online/offline toggles can never stack broadcasts.
package rider

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/chowcity/chowcity-client/internal/events"
	"github.com/chowcity/chowcity-client/internal/models"
)

// DefaultInterval is how often a sample is taken while online.
const DefaultInterval = 10 * time.Second

// sampleTimeout boxes each geolocation request so a hung permission prompt
// cannot stall the next scheduled sample.
const sampleTimeout = 8 * time.Second

// Locator is the device geolocation capability.
type Locator interface {
	Locate(ctx context.Context) (models.LatLng, error)
}

// Channel is the slice of the event-channel client the broadcaster needs.
type Channel interface {
	Emit(event string, payload any) error
}

// StatusAPI flips the rider's availability on the backend.
type StatusAPI interface {
	SetRiderStatus(ctx context.Context, id, status string) error
}

type Broadcaster struct {
	riderID  string
	locator  Locator
	channel  Channel
	api      StatusAPI
	interval time.Duration
	log      *slog.Logger

	mu     sync.Mutex
	cancel chan struct{}
	wg     sync.WaitGroup
}

func NewBroadcaster(riderID string, locator Locator, channel Channel, api StatusAPI, log *slog.Logger) *Broadcaster {
	return &Broadcaster{
		riderID:  riderID,
		locator:  locator,
		channel:  channel,
		api:      api,
		interval: DefaultInterval,
		log:      log.With("component", "rider", "rider_id", riderID),
	}
}

// SetInterval overrides the sampling interval. Takes effect on the next GoOnline.
func (b *Broadcaster) SetInterval(d time.Duration) {
	b.mu.Lock()
	b.interval = d
	b.mu.Unlock()
}

// GoOnline marks the rider available and starts the sampling loop: one sample
// immediately, then one per interval until GoOffline.
func (b *Broadcaster) GoOnline(ctx context.Context) error {
	if err := b.api.SetRiderStatus(ctx, b.riderID, models.RiderAvailable); err != nil {
		return err
	}

	b.mu.Lock()
	b.stopLocked()
	cancel := make(chan struct{})
	b.cancel = cancel
	interval := b.interval
	b.mu.Unlock()

	b.wg.Add(1)
	go b.loop(cancel, interval)

	b.log.Info("rider_online")
	return nil
}

// GoOffline cancels the loop and marks the rider offline. Idempotent.
func (b *Broadcaster) GoOffline(ctx context.Context) error {
	b.mu.Lock()
	b.stopLocked()
	b.mu.Unlock()
	b.wg.Wait()

	// Final broadcast with the offline sentinel so live maps drop the marker.
	b.emit(models.LatLng{}, models.RiderOffline)

	if err := b.api.SetRiderStatus(ctx, b.riderID, models.RiderOffline); err != nil {
		return err
	}
	b.log.Info("rider_offline")
	return nil
}

// Online reports whether a sampling loop is currently active.
func (b *Broadcaster) Online() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cancel != nil
}

func (b *Broadcaster) stopLocked() {
	if b.cancel != nil {
		close(b.cancel)
		b.cancel = nil
	}
}

func (b *Broadcaster) loop(cancel chan struct{}, interval time.Duration) {
	defer b.wg.Done()

	b.sample(cancel)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-cancel:
			return
		case <-ticker.C:
			b.sample(cancel)
		}
	}
}

// sample takes one time-boxed geolocation reading and broadcasts it. A denied
// or slow sample is logged and skipped; the loop keeps its schedule.
func (b *Broadcaster) sample(cancel chan struct{}) {
	ctx, cancelCtx := context.WithTimeout(context.Background(), sampleTimeout)
	defer cancelCtx()

	done := make(chan struct{})
	go func() {
		select {
		case <-cancel:
			cancelCtx()
		case <-done:
		}
	}()
	defer close(done)

	loc, err := b.locator.Locate(ctx)
	if err != nil {
		b.log.Warn("location_sample_failed", "error", err)
		return
	}
	b.emit(loc, models.RiderAvailable)
}

func (b *Broadcaster) emit(loc models.LatLng, status string) {
	payload := models.RiderLocation{
		RiderID:  b.riderID,
		Location: loc,
		Status:   status,
		Updated:  time.Now().UTC(),
	}
	if err := b.channel.Emit(events.EventUpdateRiderLocation, payload); err != nil {
		b.log.Warn("location_broadcast_error", "error", err)
	}
}
