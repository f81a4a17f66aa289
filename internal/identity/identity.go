// Package identity owns the user profile and the order history, and
// reconciles server pushes into them. Email is the only join key: an inbound
// event carrying someone else's email never touches this session's state.
package identity

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/chowcity/chowcity-client/internal/events"
	"github.com/chowcity/chowcity-client/internal/models"
	"github.com/chowcity/chowcity-client/internal/order"
)

// Persister is the slice of the durable store this manager needs.
type Persister interface {
	SaveProfile(ctx context.Context, profile models.UserProfile) error
	LoadProfile(ctx context.Context) (*models.UserProfile, error)
}

// Channel is the slice of the event-channel client this manager needs.
type Channel interface {
	Emit(event string, payload any) error
	Subscribe(event string, h events.Handler) func()
	Join(email string) error
}

// OrderAPI is the REST collaborator slice for the order history.
type OrderAPI interface {
	OrderHistory(ctx context.Context, email string) ([]models.Order, error)
	UpdateOrderStatus(ctx context.Context, id, status, actor string) error
	AcknowledgePing(ctx context.Context, orderID string) error
}

type Manager struct {
	store   Persister
	channel Channel
	api     OrderAPI
	log     *slog.Logger

	mu      sync.Mutex
	profile *models.UserProfile
	orders  []models.Order
	loading bool
	unsubs  []func()
}

func NewManager(store Persister, channel Channel, api OrderAPI, log *slog.Logger) *Manager {
	return &Manager{
		store:   store,
		channel: channel,
		api:     api,
		log:     log.With("component", "identity"),
	}
}

// Load restores the persisted profile, joins the identity room when one
// exists, and triggers the first order resync.
func (m *Manager) Load(ctx context.Context) error {
	profile, err := m.store.LoadProfile(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.profile = profile
	m.mu.Unlock()

	if profile != nil && profile.Email != "" {
		if err := m.channel.Join(profile.Email); err != nil {
			m.log.Warn("identity_join_error", "error", err)
		}
	}
	m.ResyncOrders(ctx)
	return nil
}

// Start subscribes the push handlers and hooks a full resync onto channel
// reconnects, so pushes missed during an outage are recovered.
func (m *Manager) Start() {
	m.mu.Lock()
	m.unsubs = append(m.unsubs,
		m.channel.Subscribe(events.EventOrderUpdated, m.onOrderUpdated),
		m.channel.Subscribe(events.EventNewOrder, m.onNewOrder),
		m.channel.Subscribe(events.EventUserProfileUpdated, m.onProfileUpdated),
	)
	m.mu.Unlock()
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

func (m *Manager) Profile() *models.UserProfile {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.profile == nil {
		return nil
	}
	p := *m.profile
	p.Favorites = append([]string(nil), m.profile.Favorites...)
	p.SavedAddresses = append([]models.SavedAddress(nil), m.profile.SavedAddresses...)
	return &p
}

func (m *Manager) Email() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.profile == nil {
		return ""
	}
	return m.profile.Email
}

func (m *Manager) Loading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loading
}

// UpdateProfile replaces the local profile, persists it, joins the room for
// the (possibly new) identity and broadcasts so other sessions converge.
func (m *Manager) UpdateProfile(ctx context.Context, profile models.UserProfile) error {
	m.mu.Lock()
	previous := ""
	if m.profile != nil {
		previous = m.profile.Email
	}
	m.profile = &profile
	m.mu.Unlock()

	if err := m.store.SaveProfile(ctx, profile); err != nil {
		return err
	}
	if profile.Email != "" && profile.Email != previous {
		if err := m.channel.Join(profile.Email); err != nil {
			m.log.Warn("identity_join_error", "error", err)
		}
	}
	if err := m.channel.Emit(events.EventUserProfileUpdated, profile); err != nil {
		m.log.Warn("identity_broadcast_error", "error", err)
	}
	if profile.Email != previous {
		m.ResyncOrders(ctx)
	}
	return nil
}

// ToggleFavorite adds or removes a product id from the profile's favorites.
func (m *Manager) ToggleFavorite(ctx context.Context, productID string) error {
	m.mu.Lock()
	if m.profile == nil {
		m.mu.Unlock()
		return nil
	}
	profile := *m.profile
	found := false
	kept := make([]string, 0, len(profile.Favorites)+1)
	for _, id := range profile.Favorites {
		if id == productID {
			found = true
			continue
		}
		kept = append(kept, id)
	}
	if !found {
		kept = append(kept, productID)
	}
	profile.Favorites = kept
	m.mu.Unlock()

	return m.UpdateProfile(ctx, profile)
}

// SaveAddress upserts a named address ("home", "work") on the profile.
func (m *Manager) SaveAddress(ctx context.Context, label, address string) error {
	m.mu.Lock()
	if m.profile == nil {
		m.mu.Unlock()
		return nil
	}
	profile := *m.profile
	profile.SavedAddresses = append([]models.SavedAddress(nil), profile.SavedAddresses...)
	updated := false
	for i := range profile.SavedAddresses {
		if profile.SavedAddresses[i].Label == label {
			profile.SavedAddresses[i].Address = address
			updated = true
			break
		}
	}
	if !updated {
		profile.SavedAddresses = append(profile.SavedAddresses, models.SavedAddress{Label: label, Address: address})
	}
	m.mu.Unlock()

	return m.UpdateProfile(ctx, profile)
}

func (m *Manager) Orders() []models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Order, len(m.orders))
	copy(out, m.orders)
	return out
}

// ActiveOrders filters to orders that are neither delivered nor still
// awaiting payment, preserving relative order.
func (m *Manager) ActiveOrders() []models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Order
	for _, o := range m.orders {
		if order.IsActive(o.Status) {
			out = append(out, o)
		}
	}
	return out
}

// ResyncOrders replaces the order list wholesale from the backend. With no
// identity it is a no-op that only clears the loading flag. A fetch failure
// keeps the prior list: stale beats blank.
func (m *Manager) ResyncOrders(ctx context.Context) {
	email := m.Email()
	if email == "" {
		m.mu.Lock()
		m.loading = false
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	m.loading = true
	m.mu.Unlock()

	orders, err := m.api.OrderHistory(ctx, email)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loading = false
	if err != nil {
		m.log.Warn("order_resync_failed", "error", err)
		return
	}
	for i := range orders {
		normalize(&orders[i])
	}
	m.orders = orders
}

// normalize fills the client-local id from the server identifier.
func normalize(o *models.Order) {
	if o.ID == "" {
		o.ID = o.ServerID
	}
	if o.ServerID == "" {
		o.ServerID = o.ID
	}
}

// MergeOrderUpdate reconciles one pushed order into the local list, matched
// by id, never by position. An update for another identity is discarded.
func (m *Manager) MergeOrderUpdate(serverOrder models.Order) {
	normalize(&serverOrder)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.profile == nil || serverOrder.Email != m.profile.Email {
		return
	}
	for i := range m.orders {
		if m.orders[i].ID != serverOrder.ID {
			continue
		}
		merge(&m.orders[i], serverOrder)
		return
	}
}

// merge shallow-copies the fields the backend may change. Items stay the
// purchase-time snapshot.
func merge(local *models.Order, update models.Order) {
	local.Status = update.Status
	local.Rider = update.Rider
	local.Pings = update.Pings
	if update.DeliveredAt != nil {
		local.DeliveredAt = update.DeliveredAt
	}
}

// CompleteOrder issues the customer's one allowed transition, then resyncs.
func (m *Manager) CompleteOrder(ctx context.Context, id string) error {
	if err := m.api.UpdateOrderStatus(ctx, id, models.StatusDelivered, "user"); err != nil {
		return err
	}
	m.ResyncOrders(ctx)
	return nil
}

// AckPing confirms an arrival/liveness ping on an order, then resyncs.
func (m *Manager) AckPing(ctx context.Context, orderID string) error {
	if err := m.api.AcknowledgePing(ctx, orderID); err != nil {
		return err
	}
	m.ResyncOrders(ctx)
	return nil
}

func (m *Manager) onOrderUpdated(data json.RawMessage) {
	var o models.Order
	if err := json.Unmarshal(data, &o); err != nil {
		m.log.Warn("identity_bad_event", "event", events.EventOrderUpdated, "error", err)
		return
	}
	m.MergeOrderUpdate(o)
}

// onNewOrder prepends a freshly created order for this identity, unless it is
// already known by id (the origin session added it on checkout).
func (m *Manager) onNewOrder(data json.RawMessage) {
	var o models.Order
	if err := json.Unmarshal(data, &o); err != nil {
		m.log.Warn("identity_bad_event", "event", events.EventNewOrder, "error", err)
		return
	}
	normalize(&o)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.profile == nil || o.Email != m.profile.Email {
		return
	}
	for i := range m.orders {
		if m.orders[i].ID == o.ID {
			merge(&m.orders[i], o)
			return
		}
	}
	m.orders = append([]models.Order{o}, m.orders...)
}

// onProfileUpdated is the echo/sync path from another session of the same
// identity. Anyone else's profile is ignored outright.
func (m *Manager) onProfileUpdated(data json.RawMessage) {
	var profile models.UserProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		m.log.Warn("identity_bad_event", "event", events.EventUserProfileUpdated, "error", err)
		return
	}

	m.mu.Lock()
	if m.profile == nil || profile.Email != m.profile.Email {
		m.mu.Unlock()
		return
	}
	m.profile = &profile
	m.mu.Unlock()

	if err := m.store.SaveProfile(context.Background(), profile); err != nil {
		m.log.Warn("identity_persist_error", "error", err)
	}
}
