// Package checkout drives the payment round trip: pending draft, provider
// redirect, verification, order creation, cleanup. The draft in the durable
// store is what survives the redirect; it is deleted on every exit path so a
// retry can never double-submit.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chowcity/chowcity-client/internal/api"
	"github.com/chowcity/chowcity-client/internal/models"
	"github.com/chowcity/chowcity-client/internal/store"
)

var (
	ErrNoIdentity     = errors.New("checkout: no profile with an email")
	ErrEmptyCart      = errors.New("checkout: cart is empty")
	ErrNoPendingOrder = errors.New("checkout: no pending order draft")
	// ErrPaymentFailed covers both a failed verification and an order-create
	// failure after a successful charge; either way the checkout is dead.
	ErrPaymentFailed = errors.New("checkout: payment could not be completed")
)

// Cart is the slice of the cart manager the flow needs.
type Cart interface {
	Items() []models.CartItem
	Subtotal() float64
	Discount() float64
	DeliveryFee() float64
	Clear(ctx context.Context) error
}

// Identity is the slice of the identity manager the flow needs.
type Identity interface {
	Profile() *models.UserProfile
	ResyncOrders(ctx context.Context)
}

// PaymentAPI is the REST collaborator slice for payments and order creation.
type PaymentAPI interface {
	InitializePayment(ctx context.Context, email string, amount float64, metadata map[string]any) (*api.PaymentInit, error)
	VerifyPayment(ctx context.Context, reference string) (bool, error)
	CreateOrder(ctx context.Context, order models.Order) (*models.Order, error)
}

// DraftStore persists the pending-order draft across the redirect.
type DraftStore interface {
	SavePendingOrder(ctx context.Context, order models.Order) error
	LoadPendingOrder(ctx context.Context) (*models.Order, error)
	DeletePendingOrder(ctx context.Context) error
}

type Flow struct {
	cart     Cart
	identity Identity
	api      PaymentAPI
	store    DraftStore
	log      *slog.Logger

	mu         sync.Mutex
	inProgress bool
}

func NewFlow(cart Cart, identity Identity, paymentAPI PaymentAPI, draftStore DraftStore, log *slog.Logger) *Flow {
	return &Flow{
		cart:     cart,
		identity: identity,
		api:      paymentAPI,
		store:    draftStore,
		log:      log.With("component", "checkout"),
	}
}

// Begin snapshots the cart into a pending draft, persists it, and initializes
// payment. The caller sends the user to the returned authorization URL.
// Duplicate submission while a checkout is in flight is refused.
func (f *Flow) Begin(ctx context.Context, method string) (*api.PaymentInit, error) {
	f.mu.Lock()
	if f.inProgress {
		f.mu.Unlock()
		return nil, fmt.Errorf("checkout already in progress")
	}
	f.inProgress = true
	f.mu.Unlock()

	init, err := f.begin(ctx, method)
	if err != nil {
		f.mu.Lock()
		f.inProgress = false
		f.mu.Unlock()
	}
	return init, err
}

func (f *Flow) begin(ctx context.Context, method string) (*api.PaymentInit, error) {
	profile := f.identity.Profile()
	if profile == nil || profile.Email == "" {
		return nil, ErrNoIdentity
	}
	items := f.cart.Items()
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}

	fee := f.cart.DeliveryFee()
	if method == models.MethodPickup {
		fee = 0
	}
	total := f.cart.Subtotal() - f.cart.Discount() + fee

	draft := models.Order{
		Status:      models.StatusPendingPayment,
		CreatedAt:   time.Now().UTC(),
		Items:       items,
		Total:       total,
		DeliveryFee: fee,
		Method:      method,
		Email:       profile.Email,
		Address:     profile.Address,
		Phone:       profile.Phone,
	}
	if err := f.store.SavePendingOrder(ctx, draft); err != nil {
		return nil, err
	}

	init, err := f.api.InitializePayment(ctx, profile.Email, total, map[string]any{
		"method": method,
	})
	if err != nil {
		// No charge happened; drop the draft so the cart stays retryable.
		f.cleanup(ctx)
		return nil, fmt.Errorf("initialize payment: %w", err)
	}

	f.log.Info("checkout_started", "amount", total, "reference", init.Reference)
	return init, nil
}

// Complete finishes the checkout once the provider redirects back with a
// reference. On any failure the user is sent back to the cart and the stale
// draft is removed regardless.
func (f *Flow) Complete(ctx context.Context, reference string) (*models.Order, error) {
	defer func() {
		f.mu.Lock()
		f.inProgress = false
		f.mu.Unlock()
	}()

	draft, err := f.store.LoadPendingOrder(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNoPendingOrder
		}
		return nil, err
	}

	ok, err := f.api.VerifyPayment(ctx, reference)
	if err != nil || !ok {
		f.cleanup(ctx)
		f.log.Warn("checkout_verify_failed", "reference", reference, "error", err)
		return nil, ErrPaymentFailed
	}

	draft.Status = models.StatusPending
	created, err := f.api.CreateOrder(ctx, *draft)
	if err != nil {
		f.cleanup(ctx)
		f.log.Warn("checkout_create_failed", "reference", reference, "error", err)
		return nil, ErrPaymentFailed
	}

	f.cleanup(ctx)
	if err := f.cart.Clear(ctx); err != nil {
		f.log.Warn("checkout_cart_clear_error", "error", err)
	}
	f.identity.ResyncOrders(ctx)

	f.log.Info("checkout_complete", "order_id", created.ID)
	return created, nil
}

// Abandon discards an in-flight checkout, e.g. when the user cancels on the
// provider page and navigates back.
func (f *Flow) Abandon(ctx context.Context) {
	f.cleanup(ctx)
	f.mu.Lock()
	f.inProgress = false
	f.mu.Unlock()
}

func (f *Flow) cleanup(ctx context.Context) {
	if err := f.store.DeletePendingOrder(ctx); err != nil {
		f.log.Warn("checkout_cleanup_error", "error", err)
	}
}
