// Package api is the typed surface of the backend REST collaborator. Shapes
// are backend-defined; this package only owns the call contract.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/chowcity/chowcity-client/internal/models"
)

var (
	ErrUnauthorized = errors.New("api: unauthorized")
	ErrTokenExpired = errors.New("api: session token expired")
)

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// SetToken installs the bearer session token used on authenticated calls.
func (c *Client) SetToken(token string) {
	c.token = token
}

// checkToken rejects authed calls early when the session JWT is already
// expired, instead of burning a round trip on a guaranteed 401.
func (c *Client) checkToken() error {
	if c.token == "" {
		return nil
	}
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(c.token, claims); err != nil {
		return nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	if exp.Before(time.Now()) {
		return ErrTokenExpired
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	if err := c.checkToken(); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s %s failed with status: %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) Products(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	err := c.doJSON(ctx, http.MethodGet, "/api/products", nil, &products)
	return products, err
}

func (c *Client) Product(ctx context.Context, id string) (*models.Product, error) {
	var product models.Product
	if err := c.doJSON(ctx, http.MethodGet, "/api/products/"+url.PathEscape(id), nil, &product); err != nil {
		return nil, err
	}
	return &product, nil
}

func (c *Client) CreateProduct(ctx context.Context, p models.Product) (*models.Product, error) {
	var created models.Product
	if err := c.doJSON(ctx, http.MethodPost, "/api/products", p, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) UpdateProduct(ctx context.Context, p models.Product) error {
	return c.doJSON(ctx, http.MethodPut, "/api/products/"+url.PathEscape(p.ID), p, nil)
}

func (c *Client) DeleteProduct(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/products/"+url.PathEscape(id), nil, nil)
}

// UploadImage posts one image as multipart form data and returns its URL.
func (c *Client) UploadImage(ctx context.Context, filename string, r io.Reader) (string, error) {
	if err := c.checkToken(); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("image", filename)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("copy image: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/upload", &buf)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("upload failed with status: %d", resp.StatusCode)
	}

	var result struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return result.URL, nil
}

func (c *Client) CreateOrder(ctx context.Context, order models.Order) (*models.Order, error) {
	var created models.Order
	if err := c.doJSON(ctx, http.MethodPost, "/api/orders", order, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) OrderHistory(ctx context.Context, email string) ([]models.Order, error) {
	var orders []models.Order
	err := c.doJSON(ctx, http.MethodGet, "/api/orders?email="+url.QueryEscape(email), nil, &orders)
	return orders, err
}

func (c *Client) AllOrders(ctx context.Context) ([]models.Order, error) {
	var orders []models.Order
	err := c.doJSON(ctx, http.MethodGet, "/api/orders/all", nil, &orders)
	return orders, err
}

type statusUpdate struct {
	Status string `json:"status"`
	Actor  string `json:"actor,omitempty"`
}

func (c *Client) UpdateOrderStatus(ctx context.Context, id, status, actor string) error {
	body := statusUpdate{Status: status, Actor: actor}
	return c.doJSON(ctx, http.MethodPut, "/api/orders/"+url.PathEscape(id)+"/status", body, nil)
}

// AcknowledgePing confirms the latest liveness ping on an order.
func (c *Client) AcknowledgePing(ctx context.Context, orderID string) error {
	return c.doJSON(ctx, http.MethodPut, "/api/orders/"+url.PathEscape(orderID)+"/ping-ack", nil, nil)
}

func (c *Client) Riders(ctx context.Context) ([]models.Rider, error) {
	var riders []models.Rider
	err := c.doJSON(ctx, http.MethodGet, "/api/riders", nil, &riders)
	return riders, err
}

func (c *Client) CreateRider(ctx context.Context, r models.Rider) (*models.Rider, error) {
	var created models.Rider
	if err := c.doJSON(ctx, http.MethodPost, "/api/riders", r, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) UpdateRider(ctx context.Context, r models.Rider) error {
	return c.doJSON(ctx, http.MethodPut, "/api/riders/"+url.PathEscape(r.ID), r, nil)
}

func (c *Client) DeleteRider(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/riders/"+url.PathEscape(id), nil, nil)
}

// SetRiderStatus flips a rider between the Available and Offline sentinels.
func (c *Client) SetRiderStatus(ctx context.Context, id, status string) error {
	body := map[string]string{"status": status}
	return c.doJSON(ctx, http.MethodPut, "/api/riders/"+url.PathEscape(id)+"/status", body, nil)
}

func (c *Client) AssignRider(ctx context.Context, orderID, riderID string) error {
	body := map[string]string{"riderId": riderID}
	return c.doJSON(ctx, http.MethodPut, "/api/orders/"+url.PathEscape(orderID)+"/rider", body, nil)
}

func (c *Client) Settings(ctx context.Context) (*models.Settings, error) {
	var settings models.Settings
	if err := c.doJSON(ctx, http.MethodGet, "/api/settings", nil, &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

func (c *Client) UpdateSettings(ctx context.Context, s models.Settings) error {
	return c.doJSON(ctx, http.MethodPut, "/api/settings", s, nil)
}
