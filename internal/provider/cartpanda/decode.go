package cartpanda

import (
	"encoding/json"
	"fmt"
	"strings"

	"fulfillment-sync/internal/provider"
)

// decodePage handles both listing shapes the API returns:
// {"orders": [...], "meta": {...}} and {"orders": {"data": [...], "current_page", "last_page"}}.
func decodePage(body json.RawMessage) (provider.Page, error) {
	doc, err := provider.DecodeObject(body)
	if err != nil {
		return provider.Page{}, fmt.Errorf("cartpanda orders: %w", err)
	}

	var docs []map[string]any
	pager := provider.Nested(doc, "meta")
	if wrapped := provider.Nested(doc, "orders"); wrapped != nil {
		docs = provider.Objects(wrapped, "data")
		pager = wrapped
	} else {
		docs = provider.Objects(doc, "orders")
		if p := provider.Nested(pager, "pagination"); p != nil {
			pager = p
		}
	}

	records := make([]provider.RawOrder, 0, len(docs))
	for _, d := range docs {
		records = append(records, decodeOrder(d))
	}

	hasMore := len(docs) >= provider.DefaultPageSize
	if pager != nil {
		current := provider.FirstInt(pager, "current_page")
		last := provider.FirstInt(pager, "last_page", "total_pages")
		if current > 0 && last > 0 {
			hasMore = current < last
		}
	}
	return provider.Page{Records: records, HasMore: hasMore && len(records) > 0}, nil
}

func decodeOrder(doc map[string]any) provider.RawOrder {
	shipping := provider.Nested(doc, "shipping_address", "billing_address")
	if shipping == nil {
		shipping = map[string]any{}
	}
	customer := provider.Nested(doc, "customer")
	if customer == nil {
		customer = map[string]any{}
	}

	name := provider.FirstString(shipping, "name")
	if name == "" {
		name = strings.TrimSpace(provider.FirstString(customer, "first_name") + " " + provider.FirstString(customer, "last_name"))
	}
	phone := provider.FirstString(shipping, "phone")
	if phone == "" {
		phone = provider.FirstString(customer, "phone")
	}
	email := provider.FirstString(doc, "email", "contact_email")
	if email == "" {
		email = provider.FirstString(customer, "email")
	}

	tracking := provider.FirstString(doc, "tracking_number")
	if tracking == "" {
		for _, f := range provider.Objects(doc, "fulfillments") {
			if tracking = provider.FirstString(f, "tracking_number", "tracking_code"); tracking != "" {
				break
			}
		}
	}

	rec := provider.RawOrder{
		Provider:       provider.CartPanda,
		ExternalID:     provider.FirstString(doc, "id"),
		Reference:      provider.FirstString(doc, "name", "order_number", "number"),
		Status:         provider.FirstString(doc, "fulfillment_status", "shipping_status"),
		Confirmation:   provider.FirstString(doc, "financial_status", "payment_status"),
		TrackingNumber: tracking,
		Value:          provider.FirstDecimal(doc, "total_price", "total"),
		Currency:       provider.FirstString(doc, "currency"),
		OrderedAt:      provider.FirstTime(doc, "created_at", "processed_at"),
		Recipient: provider.Recipient{
			Name:       name,
			Phone:      phone,
			Email:      email,
			City:       provider.FirstString(shipping, "city"),
			Street:     provider.FirstString(shipping, "address1", "address"),
			PostalCode: provider.FirstString(shipping, "zip"),
			Country:    provider.FirstString(shipping, "country", "country_code"),
		},
		Payload: provider.Raw(doc),
	}
	for _, item := range provider.Objects(doc, "line_items") {
		rec.Items = append(rec.Items, provider.LineItem{
			SKU:      provider.FirstString(item, "sku"),
			Name:     provider.FirstString(item, "title", "name"),
			Quantity: provider.FirstInt(item, "quantity"),
			Price:    provider.FirstDecimal(item, "price"),
		})
	}
	return rec
}
