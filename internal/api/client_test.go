package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/chowcity/chowcity-client/internal/models"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "ada@chow.city",
		"exp": exp.Unix(),
	})
	s, err := token.SignedString([]byte("secret"))
	require.NoError(t, err)
	return s
}

func TestExpiredTokenRejectedBeforeRoundTrip(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	c.SetToken(signedToken(t, time.Now().Add(-time.Hour)))

	_, err := c.Products(context.Background())
	require.ErrorIs(t, err, ErrTokenExpired)
	require.Zero(t, calls)
}

func TestBearerTokenAttached(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode([]models.Product{})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	token := signedToken(t, time.Now().Add(time.Hour))
	c.SetToken(token)

	_, err := c.Products(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Bearer "+token, auth)
}

func TestOrderHistoryQueriesByIdentity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "ada@chow.city", r.URL.Query().Get("email"))
		json.NewEncoder(w).Encode([]models.Order{{ID: "1", Status: models.StatusPending}})
	}))
	defer srv.Close()

	orders, err := NewClient(srv.URL).OrderHistory(context.Background(), "ada@chow.city")
	require.NoError(t, err)
	require.Len(t, orders, 1)
}

func TestUpdateOrderStatusCarriesActor(t *testing.T) {
	var body statusUpdate
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.True(t, strings.HasSuffix(r.URL.Path, "/orders/ord-1/status"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	}))
	defer srv.Close()

	err := NewClient(srv.URL).UpdateOrderStatus(context.Background(), "ord-1", models.StatusDelivered, "user")
	require.NoError(t, err)
	require.Equal(t, models.StatusDelivered, body.Status)
	require.Equal(t, "user", body.Actor)
}

func TestUnauthorizedMapsToSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Settings(context.Background())
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestNonSuccessStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Products(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "502")
}

func TestValidatePromoSendsCartContents(t *testing.T) {
	var req validatePromoRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		json.NewEncoder(w).Encode(models.Promo{Code: req.Code, Discount: 10})
	}))
	defer srv.Close()

	items := []models.CartItem{{ID: "c1", Name: "Suya", Price: 1500, Quantity: 2}}
	promo, err := NewClient(srv.URL).ValidatePromo(context.Background(), "TENOFF", items)
	require.NoError(t, err)
	require.Equal(t, "TENOFF", req.Code)
	require.Equal(t, items, req.Items)
	require.Equal(t, 10.0, promo.Discount)
}

func TestInitializeAndVerifyPayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/payments/initialize"):
			var req initPaymentRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.Equal(t, 10000.0, req.Amount)
			json.NewEncoder(w).Encode(PaymentInit{AuthorizationURL: "https://pay.example/x", Reference: "ref-1"})
		case strings.HasSuffix(r.URL.Path, "/payments/verify/ref-1"):
			json.NewEncoder(w).Encode(map[string]bool{"success": true})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	init, err := c.InitializePayment(context.Background(), "ada@chow.city", 10000, nil)
	require.NoError(t, err)
	require.Equal(t, "ref-1", init.Reference)

	ok, err := c.VerifyPayment(context.Background(), "ref-1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestUploadImageMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("image")
		require.NoError(t, err)
		defer file.Close()
		require.Equal(t, "suya.png", header.Filename)
		json.NewEncoder(w).Encode(map[string]string{"url": "/uploads/suya.png"})
	}))
	defer srv.Close()

	url, err := NewClient(srv.URL).UploadImage(context.Background(), "suya.png", strings.NewReader("not really a png"))
	require.NoError(t, err)
	require.Equal(t, "/uploads/suya.png", url)
}
