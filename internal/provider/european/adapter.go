// Package european integrates European-style fulfillment centers exposing a
// lead API. Leads carry two status axes: call-center confirmation and
// delivery.
package european

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

// DefaultBaseURL is the lead API endpoint used when none is configured.
const DefaultBaseURL = "https://api.ecomfulfilment.eu/v1"

// Adapter talks to one lead API account.
type Adapter struct {
	accountID string
	apiKey    string
	client    *provider.Client
	tokens    *provider.TokenSource
	mapper    status.Mapper
	logger    *slog.Logger
	now       func() time.Time
}

var _ provider.Adapter = (*Adapter)(nil)

// New is the provider.Factory for lead API accounts.
func New(account provider.Account, deps provider.Deps) (provider.Adapter, error) {
	apiKey := account.Credential("api_key", "apiKey", "key", "token")
	if apiKey == "" {
		return nil, provider.MissingCredential(provider.European, "api_key")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &Adapter{
		accountID: account.ID,
		apiKey:    apiKey,
		client:    provider.NewClient(provider.European, deps.BaseURL(provider.European, DefaultBaseURL), deps.HTTP, deps.Metrics, logger),
		mapper:    status.ForProvider(string(provider.European)),
		logger:    logger.With("component", "european", "account_id", account.ID),
		now:       time.Now,
	}
	// The API key is the token; it is never written to the shared cache.
	a.tokens = provider.NewTokenSource(nil, "", a.keyToken)
	return a, nil
}

func (a *Adapter) Key() provider.Key { return provider.European }

// Authenticate returns the static API key as a day-long token.
func (a *Adapter) Authenticate(ctx context.Context) (provider.Token, error) {
	return a.tokens.Token(ctx)
}

func (a *Adapter) keyToken(context.Context) (provider.Token, error) {
	return provider.Token{Value: a.apiKey, ExpiresAt: a.now().Add(24 * time.Hour)}, nil
}

// FetchOrderHistory lists leads created between from and to inclusive.
func (a *Adapter) FetchOrderHistory(ctx context.Context, from, to time.Time, page int) (provider.Page, error) {
	if page < 1 {
		page = 1
	}
	query := url.Values{}
	query.Set("date_from", from.UTC().Format(provider.DateLayout))
	query.Set("date_to", to.UTC().Format(provider.DateLayout))
	query.Set("page", strconv.Itoa(page))
	query.Set("per_page", strconv.Itoa(provider.DefaultPageSize))

	var body json.RawMessage
	err := a.tokens.Do(ctx, func(tok provider.Token) error {
		return a.client.Do(ctx, provider.Request{
			Method:   http.MethodGet,
			Endpoint: "leads",
			Path:     "/leads",
			Query:    query,
			Header:   apiKeyHeader(tok),
		}, &body)
	})
	if err != nil {
		return provider.Page{}, fmt.Errorf("european list leads page %d: %w", page, err)
	}
	return decodePage(body, page)
}

// GetOrderStatus looks up one lead.
func (a *Adapter) GetOrderStatus(ctx context.Context, externalID string) (*provider.OrderStatus, error) {
	var body json.RawMessage
	err := a.tokens.Do(ctx, func(tok provider.Token) error {
		return a.client.Do(ctx, provider.Request{
			Method:   http.MethodGet,
			Endpoint: "lead",
			Path:     "/leads/" + url.PathEscape(externalID),
			Header:   apiKeyHeader(tok),
		}, &body)
	})
	if err != nil {
		return nil, fmt.Errorf("european lead %s: %w", externalID, err)
	}
	doc, err := provider.DecodeObject(body)
	if err != nil {
		return nil, err
	}
	if nested := provider.Nested(doc, "data", "lead"); nested != nil {
		doc = nested
	}
	rec := decodeLead(doc)
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

// CreateOrder submits a lead for confirmation and shipping.
func (a *Adapter) CreateOrder(ctx context.Context, req provider.CreateOrderRequest) (*provider.CreateOrderResult, error) {
	products := make([]map[string]any, 0, len(req.Items))
	for _, it := range req.Items {
		products = append(products, map[string]any{
			"sku":      it.SKU,
			"name":     it.Name,
			"quantity": it.Quantity,
			"price":    it.Price.StringFixed(2),
		})
	}
	payload := map[string]any{
		"reference": req.Reference,
		"total":     req.Value.StringFixed(2),
		"currency":  req.Currency,
		"comment":   req.Note,
		"customer": map[string]any{
			"full_name":   req.Recipient.Name,
			"phone":       req.Recipient.Phone,
			"email":       req.Recipient.Email,
			"address":     req.Recipient.Street,
			"city":        req.Recipient.City,
			"postal_code": req.Recipient.PostalCode,
			"country":     req.Recipient.Country,
		},
		"products": products,
	}

	var resp map[string]any
	err := a.tokens.Do(ctx, func(tok provider.Token) error {
		return a.client.Do(ctx, provider.Request{
			Method:   http.MethodPost,
			Endpoint: "create_lead",
			Path:     "/leads",
			JSON:     payload,
			Header:   apiKeyHeader(tok),
		}, &resp)
	})
	if err != nil {
		return nil, fmt.Errorf("european create lead %s: %w", req.Reference, err)
	}
	if nested := provider.Nested(resp, "data", "lead"); nested != nil {
		resp = nested
	}
	id := provider.FirstString(resp, "id", "lead_id")
	if id == "" {
		return nil, fmt.Errorf("european create lead %s: response carried no id", req.Reference)
	}
	a.logger.Info("lead created", "reference", req.Reference, "external_id", id)
	return &provider.CreateOrderResult{
		ExternalID: id,
		Status:     provider.FirstString(resp, "confirmation_status", "status"),
	}, nil
}

// TestConnection checks the API key against the lead listing.
func (a *Adapter) TestConnection(ctx context.Context) provider.ConnectionResult {
	return provider.CheckConnection(ctx, a, a.now())
}

func apiKeyHeader(tok provider.Token) http.Header {
	h := http.Header{}
	h.Set("X-API-KEY", tok.Value)
	return h
}
