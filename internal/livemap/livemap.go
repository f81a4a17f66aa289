// Package livemap keeps the moving set of map markers: riders keyed by id,
// location-sharing customers keyed by email. Values are latest-known only;
// every broadcast supersedes the last.
package livemap

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/chowcity/chowcity-client/internal/events"
	"github.com/chowcity/chowcity-client/internal/models"
)

// Channel is the slice of the event-channel client the consumer needs.
type Channel interface {
	Subscribe(event string, h events.Handler) func()
}

// Bounds is the bounding box over all visible markers, for viewport fitting.
type Bounds struct {
	MinLat, MinLng float64
	MaxLat, MaxLng float64
}

type Consumer struct {
	channel Channel
	log     *slog.Logger

	mu        sync.Mutex
	riders    map[string]models.RiderLocation
	customers map[string]models.CustomerLocation
	onResize  func(count int)
	unsubs    []func()
}

func NewConsumer(channel Channel, log *slog.Logger) *Consumer {
	return &Consumer{
		channel:   channel,
		log:       log.With("component", "livemap"),
		riders:    make(map[string]models.RiderLocation),
		customers: make(map[string]models.CustomerLocation),
	}
}

// OnResize registers the hook run whenever the number of visible markers
// changes. Moves within the same set do not fire it.
func (c *Consumer) OnResize(fn func(count int)) {
	c.mu.Lock()
	c.onResize = fn
	c.mu.Unlock()
}

func (c *Consumer) Start() {
	c.mu.Lock()
	c.unsubs = append(c.unsubs,
		c.channel.Subscribe(events.EventRiderLocationUpdate, c.onRiderLocation),
		c.channel.Subscribe(events.EventUserLocationUpdate, c.onCustomerLocation),
	)
	c.mu.Unlock()
}

func (c *Consumer) Stop() {
	c.mu.Lock()
	unsubs := c.unsubs
	c.unsubs = nil
	c.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
}

func (c *Consumer) Riders() []models.RiderLocation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.RiderLocation, 0, len(c.riders))
	for _, r := range c.riders {
		out = append(out, r)
	}
	return out
}

func (c *Consumer) Customers() []models.CustomerLocation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.CustomerLocation, 0, len(c.customers))
	for _, cl := range c.customers {
		out = append(out, cl)
	}
	return out
}

// Bounds returns the box around all visible markers and whether any exist.
func (c *Consumer) Bounds() (Bounds, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var b Bounds
	first := true
	extend := func(l models.LatLng) {
		if first {
			b = Bounds{MinLat: l.Lat, MaxLat: l.Lat, MinLng: l.Lng, MaxLng: l.Lng}
			first = false
			return
		}
		if l.Lat < b.MinLat {
			b.MinLat = l.Lat
		}
		if l.Lat > b.MaxLat {
			b.MaxLat = l.Lat
		}
		if l.Lng < b.MinLng {
			b.MinLng = l.Lng
		}
		if l.Lng > b.MaxLng {
			b.MaxLng = l.Lng
		}
	}
	for _, r := range c.riders {
		extend(r.Location)
	}
	for _, cl := range c.customers {
		extend(cl.Location)
	}
	return b, !first
}

func (c *Consumer) size() int {
	return len(c.riders) + len(c.customers)
}

// onRiderLocation upserts by rider id. The offline sentinel removes the marker.
func (c *Consumer) onRiderLocation(data json.RawMessage) {
	var loc models.RiderLocation
	if err := json.Unmarshal(data, &loc); err != nil {
		c.log.Warn("livemap_bad_event", "event", events.EventRiderLocationUpdate, "error", err)
		return
	}

	c.mu.Lock()
	before := c.size()
	if loc.Status == models.RiderOffline {
		delete(c.riders, loc.RiderID)
	} else {
		c.riders[loc.RiderID] = loc
	}
	after := c.size()
	resize := c.onResize
	c.mu.Unlock()

	if resize != nil && before != after {
		resize(after)
	}
}

// onCustomerLocation upserts by email; sharing turned off removes the
// customer even when the payload still carries a position.
func (c *Consumer) onCustomerLocation(data json.RawMessage) {
	var loc models.CustomerLocation
	if err := json.Unmarshal(data, &loc); err != nil {
		c.log.Warn("livemap_bad_event", "event", events.EventUserLocationUpdate, "error", err)
		return
	}

	c.mu.Lock()
	before := c.size()
	if !loc.IsSharing {
		delete(c.customers, loc.Email)
	} else {
		c.customers[loc.Email] = loc
	}
	after := c.size()
	resize := c.onResize
	c.mu.Unlock()

	if resize != nil && before != after {
		resize(after)
	}
}
