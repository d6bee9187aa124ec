package provider

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"fulfillment-sync/internal/status"

	"github.com/shopspring/decimal"
)

// Key identifies a provider family.
type Key string

const (
	FHB       Key = status.ProviderFHB
	European  Key = status.ProviderEuropean
	CartPanda Key = status.ProviderCartPanda
)

// DateLayout is the calendar-day format every supported provider accepts.
const DateLayout = "2006-01-02"

var (
	// ErrUnauthorized indicates the provider rejected the credentials or token.
	ErrUnauthorized = errors.New("provider unauthorized")
	// ErrRateLimited indicates the provider throttled the request.
	ErrRateLimited = errors.New("provider rate limited")
	// ErrUnknownProvider is returned by the registry for unregistered keys.
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrInvalidCredentials indicates an account credential blob is incomplete.
	ErrInvalidCredentials = errors.New("invalid provider credentials")
	// ErrNotFound indicates the provider has no record for the requested id.
	ErrNotFound = errors.New("provider record not found")
)

// Adapter is the uniform contract every carrier integration implements.
type Adapter interface {
	Key() Key
	// Authenticate returns a usable token, reusing a cached one when valid.
	Authenticate(ctx context.Context) (Token, error)
	// FetchOrderHistory lists orders created between from and to (both
	// calendar days, inclusive). page starts at 1.
	FetchOrderHistory(ctx context.Context, from, to time.Time, page int) (Page, error)
	GetOrderStatus(ctx context.Context, externalID string) (*OrderStatus, error)
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error)
	// TestConnection never returns an error; failures are reported in the result.
	TestConnection(ctx context.Context) ConnectionResult
}

// Token is an access credential with its expiry.
type Token struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Valid reports whether the token can still be used at now, keeping a margin
// so a request does not start with a token about to lapse.
func (t Token) Valid(now time.Time) bool {
	return t.Value != "" && now.Add(tokenExpiryMargin).Before(t.ExpiresAt)
}

const tokenExpiryMargin = time.Minute

// Page is one page of the provider's order history listing.
type Page struct {
	Records []RawOrder
	HasMore bool
}

// Recipient is the shipping party as reported by the provider.
type Recipient struct {
	Name       string `json:"name,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Email      string `json:"email,omitempty"`
	City       string `json:"city,omitempty"`
	Street     string `json:"street,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

// LineItem is a single product line on a provider order.
type LineItem struct {
	SKU      string          `json:"sku,omitempty"`
	Name     string          `json:"name,omitempty"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// RawOrder is a provider record decoded at the adapter boundary. Provider
// discriminates which vocabulary Status and Confirmation belong to; Payload
// keeps the verbatim provider document for audit.
type RawOrder struct {
	Provider       Key
	ExternalID     string
	Reference      string
	Status         string
	Confirmation   string
	TrackingNumber string
	Value          decimal.Decimal
	Currency       string
	Recipient      Recipient
	Items          []LineItem
	OrderedAt      time.Time
	Payload        json.RawMessage
}

// Observation returns the status axes for the status mapper.
func (o RawOrder) Observation() status.Observation {
	return status.Observation{Delivery: o.Status, Confirmation: o.Confirmation}
}

// OrderStatus is the answer to a single-order status lookup.
type OrderStatus struct {
	ExternalID     string
	ExternalStatus string
	Confirmation   string
	Status         status.Status
	TrackingNumber string
}

// CreateOrderRequest pushes an internal order to the provider.
type CreateOrderRequest struct {
	Reference string
	Recipient Recipient
	Items     []LineItem
	Value     decimal.Decimal
	Currency  string
	Note      string
}

// CreateOrderResult is the provider's acknowledgement of a created order.
type CreateOrderResult struct {
	ExternalID string
	Status     string
}

// ConnectionResult reports the outcome of TestConnection.
type ConnectionResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Account is what a factory needs to build an adapter for one credentialed connection.
type Account struct {
	ID          string
	Key         Key
	Credentials map[string]any
}

// Credential returns the first non-empty credential among keys.
func (a Account) Credential(keys ...string) string {
	return firstString(a.Credentials, keys...)
}

// ParseKey normalizes a stored provider key.
func ParseKey(raw string) Key {
	return Key(strings.ToLower(strings.TrimSpace(raw)))
}
