package models

import (
	"time"
)

// Product is the catalog record as served by the backend. The client never
// owns products; it renders them and snapshots parts of them into cart lines.
type Product struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Image       string             `json:"image"`
	Category    string             `json:"category"`
	Prices      map[string]float64 `json:"prices"`
	Extras      []string           `json:"extras"`
	Available   bool               `json:"available"`
}

// ExtraSurcharge is the flat price added per chosen extra on top of the size price.
const ExtraSurcharge = 200

// UnitPrice computes the price of one unit at the given size with the given
// extras, against this product's current price table.
func (p Product) UnitPrice(size string, extras []string) float64 {
	return p.Prices[size] + float64(len(extras))*ExtraSurcharge
}

// CartItem is one line in the cart. ID is cart-scoped and generated locally;
// ProductID points back at the catalog record.
type CartItem struct {
	ID        string   `json:"id"`
	ProductID string   `json:"productId"`
	Name      string   `json:"name"`
	Image     string   `json:"image"`
	Size      string   `json:"size"`
	Price     float64  `json:"price"`
	Extras    []string `json:"extras"`
	Note      string   `json:"note"`
	Quantity  int      `json:"quantity"`
	Category  string   `json:"category"`
}

// SavedAddress is a named delivery address ("home", "work").
type SavedAddress struct {
	Label   string `json:"label"`
	Address string `json:"address"`
}

// UserProfile carries identity and delivery metadata. Email is the only
// cross-session join key; it is not a database id.
type UserProfile struct {
	Email          string         `json:"email"`
	Address        string         `json:"address"`
	Phone          string         `json:"phone,omitempty"`
	Favorites      []string       `json:"favorites"`
	SavedAddresses []SavedAddress `json:"savedAddresses,omitempty"`
}

// Order statuses. The backend owns transitions; the client only renders them.
const (
	StatusPendingPayment = "Pending Payment"
	StatusPending        = "Pending"
	StatusPreparing      = "Preparing"
	StatusReady          = "Ready for Delivery"
	StatusOutForDelivery = "Out for Delivery"
	StatusDelivered      = "Delivered"
)

// Delivery methods.
const (
	MethodDelivery = "Delivery"
	MethodPickup   = "Pick-up"
)

// Rider statuses used on the wire and in the live map.
const (
	RiderAvailable = "Available"
	RiderOnTrip    = "On Trip"
	RiderOffline   = "Offline"
)

// RiderInfo is the rider descriptor embedded in an order once assigned.
type RiderInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Image string `json:"image,omitempty"`
}

// Ping is a liveness/arrival confirmation signal attached to an order.
type Ping struct {
	At           time.Time `json:"at"`
	Acknowledged bool      `json:"acknowledged"`
}

// Order is one placed order. Items are a snapshot taken at purchase time and
// never change afterwards, whatever happens to the catalog.
type Order struct {
	ID          string     `json:"id"`
	ServerID    string     `json:"serverId"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	DeliveredAt *time.Time `json:"deliveredAt,omitempty"`
	Items       []CartItem `json:"items"`
	Total       float64    `json:"total"`
	DeliveryFee float64    `json:"deliveryFee"`
	Method      string     `json:"method"`
	Rider       *RiderInfo `json:"rider,omitempty"`
	Pings       []Ping     `json:"pings,omitempty"`
	Email       string     `json:"email"`
	Address     string     `json:"address"`
	Phone       string     `json:"phone,omitempty"`
}

// Rider is the backend's rider record (admin surface).
type Rider struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Phone  string `json:"phone"`
	Image  string `json:"image,omitempty"`
	Status string `json:"status"`
}

// LatLng is a geographic coordinate pair.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// RiderLocation is the latest known position of a rider as broadcast over the
// event channel. Ephemeral; superseded by every new sample.
type RiderLocation struct {
	RiderID  string    `json:"riderId"`
	Location LatLng    `json:"location"`
	Status   string    `json:"status"`
	Updated  time.Time `json:"updated"`
}

// CustomerLocation is a customer's shared position keyed by email.
type CustomerLocation struct {
	Email     string `json:"email"`
	Location  LatLng `json:"location"`
	IsSharing bool   `json:"isSharing"`
}

// Promo is the result of validating a promo code against the cart. Never
// persisted; must be revalidated after a reload.
type Promo struct {
	Code       string   `json:"code"`
	Discount   float64  `json:"discount"`
	Categories []string `json:"categories"`
}

// Applies reports whether the promo discounts the given category. An empty
// category list means the promo applies everywhere.
func (p Promo) Applies(category string) bool {
	if p.Code == "" {
		return false
	}
	if len(p.Categories) == 0 {
		return true
	}
	for _, c := range p.Categories {
		if c == category {
			return true
		}
	}
	return false
}

// Settings is the storefront configuration served by the backend.
type Settings struct {
	DeliveryFee float64 `json:"deliveryFee"`
	Open        bool    `json:"open"`
	Busy        bool    `json:"busy"`
	OpenHours   string  `json:"openHours,omitempty"`
}

// Bank is one payout destination bank.
type Bank struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

// Withdrawal is one payout record.
type Withdrawal struct {
	ID        string    `json:"id"`
	Amount    float64   `json:"amount"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// Rating is a submitted order rating.
type Rating struct {
	OrderID string `json:"orderId"`
	Stars   int    `json:"stars"`
	Comment string `json:"comment,omitempty"`
}
