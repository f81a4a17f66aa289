// Package order renders the order lifecycle. The backend owns every status
// transition; this package only maps statuses onto progress steps and decides
// which single user-triggerable transition to offer.
package order

import (
	"sync"
	"time"

	"github.com/chowcity/chowcity-client/internal/models"
)

var deliverySteps = []string{
	models.StatusPending,
	models.StatusPreparing,
	models.StatusReady,
	models.StatusOutForDelivery,
	models.StatusDelivered,
}

// Pick-up orders go straight from ready to delivered; there is no dispatch leg.
var pickupSteps = []string{
	models.StatusPending,
	models.StatusPreparing,
	models.StatusReady,
	models.StatusDelivered,
}

// Steps returns the ordered progress steps for a delivery method.
func Steps(method string) []string {
	if method == models.MethodPickup {
		return pickupSteps
	}
	return deliverySteps
}

// StepIndex maps a status onto its step for the given method. Unknown or
// unrecognized statuses render as the first step rather than crashing the view.
func StepIndex(status, method string) int {
	for i, s := range Steps(method) {
		if s == status {
			return i
		}
	}
	return 0
}

// IsTerminal reports whether the order can never change again.
func IsTerminal(status string) bool {
	return status == models.StatusDelivered
}

// IsActive reports whether the order belongs in the active view: neither
// terminal nor still awaiting payment.
func IsActive(status string) bool {
	return status != models.StatusDelivered && status != models.StatusPendingPayment
}

// CanMarkReceived reports whether the customer may self-report receipt: a
// rider is assigned and the order is ready or already on its way.
func CanMarkReceived(o models.Order) bool {
	if o.Rider == nil {
		return false
	}
	return o.Status == models.StatusReady || o.Status == models.StatusOutForDelivery
}

// Remaining is the cosmetic countdown estimate in seconds. Never negative.
func Remaining(baseSeconds, extraSeconds int, busy bool, createdAt, now time.Time) int {
	total := baseSeconds
	if busy {
		total += extraSeconds
	}
	remaining := total - int(now.Sub(createdAt).Seconds())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Countdown ticks the remaining-time estimate for one order, once per second,
// independently of any other order's countdown. Stop is idempotent.
type Countdown struct {
	createdAt time.Time
	base      int
	extra     int
	busy      bool
	onTick    func(remaining int)

	mu     sync.Mutex
	cancel chan struct{}
}

func NewCountdown(createdAt time.Time, baseSeconds, extraSeconds int, busy bool, onTick func(int)) *Countdown {
	return &Countdown{
		createdAt: createdAt,
		base:      baseSeconds,
		extra:     extraSeconds,
		busy:      busy,
		onTick:    onTick,
	}
}

func (c *Countdown) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}
	cancel := make(chan struct{})
	c.cancel = cancel

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-cancel:
				return
			case now := <-ticker.C:
				c.onTick(Remaining(c.base, c.extra, c.busy, c.createdAt, now))
			}
		}
	}()
}

func (c *Countdown) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel == nil {
		return
	}
	close(c.cancel)
	c.cancel = nil
}
