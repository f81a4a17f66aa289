package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/chowcity/chowcity-client/internal/models"
)

// PaymentInit is the provider handoff: the client redirects the user to
// AuthorizationURL and later verifies Reference.
type PaymentInit struct {
	AuthorizationURL string `json:"authorizationUrl"`
	Reference        string `json:"reference"`
}

type initPaymentRequest struct {
	Email    string         `json:"email"`
	Amount   float64        `json:"amount"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (c *Client) InitializePayment(ctx context.Context, email string, amount float64, metadata map[string]any) (*PaymentInit, error) {
	var init PaymentInit
	body := initPaymentRequest{Email: email, Amount: amount, Metadata: metadata}
	if err := c.doJSON(ctx, http.MethodPost, "/api/payments/initialize", body, &init); err != nil {
		return nil, err
	}
	return &init, nil
}

// VerifyPayment reports whether the provider confirmed the referenced charge.
func (c *Client) VerifyPayment(ctx context.Context, reference string) (bool, error) {
	var result struct {
		Success bool `json:"success"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/payments/verify/"+url.PathEscape(reference), nil, &result); err != nil {
		return false, err
	}
	return result.Success, nil
}

type validatePromoRequest struct {
	Code  string            `json:"code"`
	Items []models.CartItem `json:"items"`
}

// ValidatePromo checks a code against the current cart contents. A rejected
// code is an error from this call; the cart manager turns it into UI state.
func (c *Client) ValidatePromo(ctx context.Context, code string, items []models.CartItem) (*models.Promo, error) {
	var promo models.Promo
	body := validatePromoRequest{Code: code, Items: items}
	if err := c.doJSON(ctx, http.MethodPost, "/api/promos/validate", body, &promo); err != nil {
		return nil, err
	}
	return &promo, nil
}

func (c *Client) Promos(ctx context.Context) ([]models.Promo, error) {
	var promos []models.Promo
	err := c.doJSON(ctx, http.MethodGet, "/api/promos", nil, &promos)
	return promos, err
}

func (c *Client) CreatePromo(ctx context.Context, p models.Promo) error {
	return c.doJSON(ctx, http.MethodPost, "/api/promos", p, nil)
}

func (c *Client) DeletePromo(ctx context.Context, code string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/promos/"+url.PathEscape(code), nil, nil)
}

// VAPIDKey fetches the server's public key for push subscriptions.
func (c *Client) VAPIDKey(ctx context.Context) (string, error) {
	var result struct {
		Key string `json:"key"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/push/key", nil, &result); err != nil {
		return "", err
	}
	return result.Key, nil
}

// PushSubscription is the opaque endpoint+keys blob the platform hands back
// when the user grants notification permission.
type PushSubscription struct {
	Endpoint string            `json:"endpoint"`
	Keys     map[string]string `json:"keys"`
	Email    string            `json:"email"`
}

func (c *Client) RegisterPushSubscription(ctx context.Context, sub PushSubscription) error {
	return c.doJSON(ctx, http.MethodPost, "/api/push/subscribe", sub, nil)
}

func (c *Client) SubmitRating(ctx context.Context, r models.Rating) error {
	return c.doJSON(ctx, http.MethodPost, "/api/ratings", r, nil)
}

func (c *Client) Ratings(ctx context.Context) ([]models.Rating, error) {
	var ratings []models.Rating
	err := c.doJSON(ctx, http.MethodGet, "/api/ratings", nil, &ratings)
	return ratings, err
}

func (c *Client) Banks(ctx context.Context) ([]models.Bank, error) {
	var banks []models.Bank
	err := c.doJSON(ctx, http.MethodGet, "/api/banks", nil, &banks)
	return banks, err
}

type verifyAccountRequest struct {
	AccountNumber string `json:"accountNumber"`
	BankCode      string `json:"bankCode"`
}

// VerifyAccount resolves a payout account and returns the registered name.
func (c *Client) VerifyAccount(ctx context.Context, accountNumber, bankCode string) (string, error) {
	var result struct {
		AccountName string `json:"accountName"`
	}
	body := verifyAccountRequest{AccountNumber: accountNumber, BankCode: bankCode}
	if err := c.doJSON(ctx, http.MethodPost, "/api/withdrawals/verify-account", body, &result); err != nil {
		return "", err
	}
	return result.AccountName, nil
}

type withdrawRequest struct {
	Amount        float64 `json:"amount"`
	AccountNumber string  `json:"accountNumber"`
	BankCode      string  `json:"bankCode"`
}

func (c *Client) Withdraw(ctx context.Context, amount float64, accountNumber, bankCode string) error {
	body := withdrawRequest{Amount: amount, AccountNumber: accountNumber, BankCode: bankCode}
	return c.doJSON(ctx, http.MethodPost, "/api/withdrawals", body, nil)
}

func (c *Client) Withdrawals(ctx context.Context) ([]models.Withdrawal, error) {
	var list []models.Withdrawal
	err := c.doJSON(ctx, http.MethodGet, "/api/withdrawals", nil, &list)
	return list, err
}
