// Package cartpanda reads CartPanda store orders through the bearer REST API.
package cartpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"fulfillment-sync/internal/provider"
	"fulfillment-sync/internal/status"
)

// DefaultBaseURL is the CartPanda API endpoint.
const DefaultBaseURL = "https://accounts.cartpanda.com/api/v3"

// Adapter talks to one CartPanda store.
type Adapter struct {
	accountID string
	apiToken  string
	store     string
	client    *provider.Client
	tokens    *provider.TokenSource
	mapper    status.Mapper
	logger    *slog.Logger
	now       func() time.Time
}

var _ provider.Adapter = (*Adapter)(nil)

// New is the provider.Factory for CartPanda stores.
func New(account provider.Account, deps provider.Deps) (provider.Adapter, error) {
	token := account.Credential("api_token", "access_token", "token")
	if token == "" {
		return nil, provider.MissingCredential(provider.CartPanda, "api_token")
	}
	store := account.Credential("store_slug", "shop_slug", "slug")
	if store == "" {
		return nil, provider.MissingCredential(provider.CartPanda, "store_slug")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &Adapter{
		accountID: account.ID,
		apiToken:  token,
		store:     store,
		client:    provider.NewClient(provider.CartPanda, deps.BaseURL(provider.CartPanda, DefaultBaseURL), deps.HTTP, deps.Metrics, logger),
		mapper:    status.ForProvider(string(provider.CartPanda)),
		logger:    logger.With("component", "cartpanda", "account_id", account.ID, "store", store),
		now:       time.Now,
	}
	a.tokens = provider.NewTokenSource(nil, "", a.staticToken)
	return a, nil
}

func (a *Adapter) Key() provider.Key { return provider.CartPanda }

// Authenticate returns the store's personal access token.
func (a *Adapter) Authenticate(ctx context.Context) (provider.Token, error) {
	return a.tokens.Token(ctx)
}

func (a *Adapter) staticToken(context.Context) (provider.Token, error) {
	return provider.Token{Value: a.apiToken, ExpiresAt: a.now().Add(24 * time.Hour)}, nil
}

// FetchOrderHistory lists store orders created between from and to inclusive.
func (a *Adapter) FetchOrderHistory(ctx context.Context, from, to time.Time, page int) (provider.Page, error) {
	if page < 1 {
		page = 1
	}
	query := url.Values{}
	query.Set("created_at_min", from.UTC().Format(provider.DateLayout))
	query.Set("created_at_max", to.UTC().Format(provider.DateLayout))
	query.Set("page", strconv.Itoa(page))
	query.Set("limit", strconv.Itoa(provider.DefaultPageSize))

	var body json.RawMessage
	err := a.tokens.Do(ctx, func(tok provider.Token) error {
		return a.client.Do(ctx, provider.Request{
			Method:   http.MethodGet,
			Endpoint: "orders",
			Path:     a.storePath("/orders"),
			Query:    query,
			Header:   bearer(tok),
		}, &body)
	})
	if err != nil {
		return provider.Page{}, fmt.Errorf("cartpanda list orders page %d: %w", page, err)
	}
	return decodePage(body)
}

// GetOrderStatus looks up one store order.
func (a *Adapter) GetOrderStatus(ctx context.Context, externalID string) (*provider.OrderStatus, error) {
	var body json.RawMessage
	err := a.tokens.Do(ctx, func(tok provider.Token) error {
		return a.client.Do(ctx, provider.Request{
			Method:   http.MethodGet,
			Endpoint: "order",
			Path:     a.storePath("/orders/" + url.PathEscape(externalID)),
			Header:   bearer(tok),
		}, &body)
	})
	if err != nil {
		return nil, fmt.Errorf("cartpanda order %s: %w", externalID, err)
	}
	doc, err := provider.DecodeObject(body)
	if err != nil {
		return nil, err
	}
	if nested := provider.Nested(doc, "order", "data"); nested != nil {
		doc = nested
	}
	rec := decodeOrder(doc)
	if rec.ExternalID == "" {
		rec.ExternalID = externalID
	}
	return &provider.OrderStatus{
		ExternalID:     rec.ExternalID,
		ExternalStatus: rec.Status,
		Confirmation:   rec.Confirmation,
		Status:         a.mapper.Map(rec.Observation()),
		TrackingNumber: rec.TrackingNumber,
	}, nil
}

// CreateOrder creates a store order, used for manual or imported sales.
func (a *Adapter) CreateOrder(ctx context.Context, req provider.CreateOrderRequest) (*provider.CreateOrderResult, error) {
	lines := make([]map[string]any, 0, len(req.Items))
	for _, it := range req.Items {
		lines = append(lines, map[string]any{
			"sku":      it.SKU,
			"title":    it.Name,
			"quantity": it.Quantity,
			"price":    it.Price.StringFixed(2),
		})
	}
	payload := map[string]any{
		"order": map[string]any{
			"reference":   req.Reference,
			"total_price": req.Value.StringFixed(2),
			"currency":    req.Currency,
			"note":        req.Note,
			"email":       req.Recipient.Email,
			"shipping_address": map[string]any{
				"name":     req.Recipient.Name,
				"phone":    req.Recipient.Phone,
				"address1": req.Recipient.Street,
				"city":     req.Recipient.City,
				"zip":      req.Recipient.PostalCode,
				"country":  req.Recipient.Country,
			},
			"line_items": lines,
		},
	}

	var resp map[string]any
	err := a.tokens.Do(ctx, func(tok provider.Token) error {
		return a.client.Do(ctx, provider.Request{
			Method:   http.MethodPost,
			Endpoint: "create_order",
			Path:     a.storePath("/orders"),
			JSON:     payload,
			Header:   bearer(tok),
		}, &resp)
	})
	if err != nil {
		return nil, fmt.Errorf("cartpanda create order %s: %w", req.Reference, err)
	}
	if nested := provider.Nested(resp, "order", "data"); nested != nil {
		resp = nested
	}
	id := provider.FirstString(resp, "id")
	if id == "" {
		return nil, fmt.Errorf("cartpanda create order %s: response carried no id", req.Reference)
	}
	return &provider.CreateOrderResult{
		ExternalID: id,
		Status:     provider.FirstString(resp, "financial_status", "status"),
	}, nil
}

// TestConnection checks the token against the store's order listing.
func (a *Adapter) TestConnection(ctx context.Context) provider.ConnectionResult {
	return provider.CheckConnection(ctx, a, a.now())
}

func (a *Adapter) storePath(suffix string) string {
	return "/" + url.PathEscape(a.store) + suffix
}

func bearer(tok provider.Token) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+tok.Value)
	return h
}
