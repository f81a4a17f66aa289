// Package cart owns the cart line items and promo state. Mutations apply
// locally first, persist, then broadcast so other sessions of the same
// identity converge.
package cart

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/chowcity/chowcity-client/internal/events"
	"github.com/chowcity/chowcity-client/internal/models"
)

// Persister is the slice of the durable store the cart needs.
type Persister interface {
	SaveCart(ctx context.Context, items []models.CartItem) error
	LoadCart(ctx context.Context) ([]models.CartItem, error)
}

// Channel is the slice of the event-channel client the cart needs.
type Channel interface {
	Emit(event string, payload any) error
	Subscribe(event string, h events.Handler) func()
}

// PromoValidator validates a code against the cart contents.
type PromoValidator interface {
	ValidatePromo(ctx context.Context, code string, items []models.CartItem) (*models.Promo, error)
}

// Snapshot is the full-cart payload broadcast on every mutation. Email may be
// empty while the session is anonymous.
type Snapshot struct {
	Email string            `json:"email,omitempty"`
	Items []models.CartItem `json:"items"`
}

type Manager struct {
	store     Persister
	channel   Channel
	validator PromoValidator
	log       *slog.Logger

	mu          sync.Mutex
	items       []models.CartItem
	promo       models.Promo
	deliveryFee float64
	email       string
	unsubs      []func()
}

func NewManager(store Persister, channel Channel, validator PromoValidator, log *slog.Logger) *Manager {
	return &Manager{
		store:     store,
		channel:   channel,
		validator: validator,
		log:       log.With("component", "cart"),
	}
}

// Load restores the persisted cart. The promo is deliberately not restored;
// it must be revalidated against current backend rules.
func (m *Manager) Load(ctx context.Context) error {
	items, err := m.store.LoadCart(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.items = items
	m.mu.Unlock()
	return nil
}

// Start subscribes the remote reconciliation handlers. Stop releases them.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubs = append(m.unsubs,
		m.channel.Subscribe(events.EventCartUpdated, m.onRemoteSnapshot),
		m.channel.Subscribe(events.EventCartCleared, m.onRemoteClear),
		m.channel.Subscribe(events.EventProductUpdated, m.onProductUpdated),
		m.channel.Subscribe(events.EventSettingsUpdated, m.onSettingsUpdated),
	)
}

func (m *Manager) Stop() {
	m.mu.Lock()
	unsubs := m.unsubs
	m.unsubs = nil
	m.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
}

// SetIdentity sets the email the cart broadcasts under.
func (m *Manager) SetIdentity(email string) {
	m.mu.Lock()
	m.email = email
	m.mu.Unlock()
}

func (m *Manager) Items() []models.CartItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.CartItem, len(m.items))
	copy(out, m.items)
	return out
}

func (m *Manager) Promo() models.Promo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.promo
}

func (m *Manager) Add(ctx context.Context, item models.CartItem) error {
	item.ID = uuid.NewString()
	if item.Quantity < 1 {
		item.Quantity = 1
	}

	m.mu.Lock()
	m.items = append(m.items, item)
	m.mu.Unlock()

	return m.persistAndBroadcast(ctx)
}

// AddMany appends a batch of lines, used for reorder.
func (m *Manager) AddMany(ctx context.Context, items []models.CartItem) error {
	m.mu.Lock()
	for _, item := range items {
		item.ID = uuid.NewString()
		if item.Quantity < 1 {
			item.Quantity = 1
		}
		m.items = append(m.items, item)
	}
	m.mu.Unlock()

	return m.persistAndBroadcast(ctx)
}

func (m *Manager) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	kept := m.items[:0]
	for _, item := range m.items {
		if item.ID != id {
			kept = append(kept, item)
		}
	}
	m.items = kept
	m.mu.Unlock()

	return m.persistAndBroadcast(ctx)
}

// AdjustQuantity changes a line's quantity by delta. Quantity never goes
// below one: decrementing a quantity-one line removes the line instead.
func (m *Manager) AdjustQuantity(ctx context.Context, id string, delta int) error {
	m.mu.Lock()
	for i := range m.items {
		if m.items[i].ID != id {
			continue
		}
		next := m.items[i].Quantity + delta
		if next < 1 {
			m.items = append(m.items[:i], m.items[i+1:]...)
		} else {
			m.items[i].Quantity = next
		}
		break
	}
	m.mu.Unlock()

	return m.persistAndBroadcast(ctx)
}

// Subtotal is the sum of price by quantity over all lines.
func (m *Manager) Subtotal() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return subtotal(m.items)
}

func subtotal(items []models.CartItem) float64 {
	var sum float64
	for _, item := range items {
		sum += item.Price * float64(item.Quantity)
	}
	return sum
}

// Discount is the promo reduction over the lines the promo covers.
func (m *Manager) Discount() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.promo.Code == "" {
		return 0
	}
	var covered float64
	for _, item := range m.items {
		if m.promo.Applies(item.Category) {
			covered += item.Price * float64(item.Quantity)
		}
	}
	return covered * m.promo.Discount / 100
}

// Total is subtotal minus discount plus the current delivery fee.
func (m *Manager) Total() float64 {
	m.mu.Lock()
	fee := m.deliveryFee
	m.mu.Unlock()
	return m.Subtotal() - m.Discount() + fee
}

func (m *Manager) DeliveryFee() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deliveryFee
}

func (m *Manager) SetDeliveryFee(fee float64) {
	m.mu.Lock()
	m.deliveryFee = fee
	m.mu.Unlock()
}

// Clear empties the cart and drops any applied promo. The broadcast is a
// distinct clear signal, since an empty snapshot is ambiguous with a cart
// that simply has not loaded yet.
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	m.items = nil
	m.promo = models.Promo{}
	email := m.email
	m.mu.Unlock()

	if err := m.store.SaveCart(ctx, nil); err != nil {
		return err
	}
	if err := m.channel.Emit(events.EventCartCleared, email); err != nil {
		m.log.Warn("cart_broadcast_error", "event", events.EventCartCleared, "error", err)
	}
	return nil
}

// PromoResult is what ApplyPromo hands the UI. Never an error.
type PromoResult struct {
	OK      bool
	Message string
}

// ApplyPromo validates the code against the current cart. Failure clears any
// previously applied promo.
func (m *Manager) ApplyPromo(ctx context.Context, code string) PromoResult {
	promo, err := m.validator.ValidatePromo(ctx, code, m.Items())
	if err != nil {
		m.mu.Lock()
		m.promo = models.Promo{}
		m.mu.Unlock()
		m.log.Warn("promo_validation_failed", "code", code, "error", err)
		return PromoResult{OK: false, Message: "failed to validate promo"}
	}

	m.mu.Lock()
	m.promo = *promo
	m.mu.Unlock()
	return PromoResult{OK: true}
}

func (m *Manager) persistAndBroadcast(ctx context.Context) error {
	m.mu.Lock()
	snap := Snapshot{Email: m.email, Items: make([]models.CartItem, len(m.items))}
	copy(snap.Items, m.items)
	m.mu.Unlock()

	if err := m.store.SaveCart(ctx, snap.Items); err != nil {
		return err
	}
	if err := m.channel.Emit(events.EventCartUpdated, snap); err != nil {
		m.log.Warn("cart_broadcast_error", "event", events.EventCartUpdated, "error", err)
	}
	return nil
}

// onRemoteSnapshot replaces the local list wholesale. Last writer wins;
// concurrent edits across tabs are not merged.
func (m *Manager) onRemoteSnapshot(data json.RawMessage) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		m.log.Warn("cart_bad_event", "event", events.EventCartUpdated, "error", err)
		return
	}

	m.mu.Lock()
	m.items = snap.Items
	m.mu.Unlock()

	if err := m.store.SaveCart(context.Background(), snap.Items); err != nil {
		m.log.Warn("cart_persist_error", "error", err)
	}
}

func (m *Manager) onRemoteClear(json.RawMessage) {
	m.mu.Lock()
	m.items = nil
	m.promo = models.Promo{}
	m.mu.Unlock()

	if err := m.store.SaveCart(context.Background(), nil); err != nil {
		m.log.Warn("cart_persist_error", "error", err)
	}
}

// onProductUpdated recomputes the unit price of any line referencing the
// changed product. Lines are only rewritten when the price actually moved.
func (m *Manager) onProductUpdated(data json.RawMessage) {
	var product models.Product
	if err := json.Unmarshal(data, &product); err != nil {
		m.log.Warn("cart_bad_event", "event", events.EventProductUpdated, "error", err)
		return
	}

	changed := false
	m.mu.Lock()
	for i := range m.items {
		if m.items[i].ProductID != product.ID {
			continue
		}
		price := product.UnitPrice(m.items[i].Size, m.items[i].Extras)
		if price != m.items[i].Price {
			m.items[i].Price = price
			changed = true
		}
	}
	m.mu.Unlock()

	if !changed {
		return
	}
	if err := m.persistQuiet(); err != nil {
		m.log.Warn("cart_persist_error", "error", err)
	}
}

// persistQuiet persists a remotely-triggered recompute without
// re-emitting, which would echo forever between sessions.
func (m *Manager) persistQuiet() error {
	m.mu.Lock()
	items := make([]models.CartItem, len(m.items))
	copy(items, m.items)
	m.mu.Unlock()
	return m.store.SaveCart(context.Background(), items)
}

func (m *Manager) onSettingsUpdated(data json.RawMessage) {
	var settings models.Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		m.log.Warn("cart_bad_event", "event", events.EventSettingsUpdated, "error", err)
		return
	}
	m.SetDeliveryFee(settings.DeliveryFee)
}
