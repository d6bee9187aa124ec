package fhb

import (
	"encoding/json"
	"fmt"
	"strings"

	"fulfillment-sync/internal/provider"
)

// decodePage accepts either a bare array or an object carrying the orders
// under "orders", "data" or "items".
func decodePage(body json.RawMessage) (provider.Page, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || trimmed == "null" {
		return provider.Page{}, nil
	}

	var docs []map[string]any
	hasMore := false
	explicit := false
	if strings.HasPrefix(trimmed, "[") {
		list, err := provider.DecodeObjects(body)
		if err != nil {
			return provider.Page{}, fmt.Errorf("fhb orders: %w", err)
		}
		docs = list
	} else {
		doc, err := provider.DecodeObject(body)
		if err != nil {
			return provider.Page{}, fmt.Errorf("fhb orders: %w", err)
		}
		for _, key := range []string{"orders", "data", "items"} {
			if list := provider.Objects(doc, key); len(list) > 0 {
				docs = list
				break
			}
		}
		if v, ok := doc["has_more"].(bool); ok {
			hasMore, explicit = v, true
		} else if v, ok := doc["next"].(bool); ok {
			hasMore, explicit = v, true
		}
	}

	records := make([]provider.RawOrder, 0, len(docs))
	for _, d := range docs {
		records = append(records, decodeOrder(d))
	}
	if !explicit {
		hasMore = len(docs) >= provider.DefaultPageSize
	}
	return provider.Page{Records: records, HasMore: hasMore && len(records) > 0}, nil
}

func decodeOrder(doc map[string]any) provider.RawOrder {
	recipient := provider.Nested(doc, "recipient", "customer", "address")
	if recipient == nil {
		recipient = map[string]any{}
	}
	rec := provider.RawOrder{
		Provider:       provider.FHB,
		ExternalID:     provider.FirstString(doc, "id", "order_id"),
		Reference:      provider.FirstString(doc, "variable_symbol", "reference", "ref"),
		Status:         provider.FirstString(doc, "status", "state"),
		TrackingNumber: provider.FirstString(doc, "tracking_number", "tracking", "parcel_number"),
		Value:          provider.FirstDecimal(doc, "value", "cod", "total"),
		Currency:       provider.FirstString(doc, "currency"),
		OrderedAt:      provider.FirstTime(doc, "created_at", "created", "date"),
		Recipient: provider.Recipient{
			Name:       provider.FirstString(recipient, "name", "full_name"),
			Phone:      provider.FirstString(recipient, "phone", "tel"),
			Email:      provider.FirstString(recipient, "email"),
			City:       provider.FirstString(recipient, "city"),
			Street:     provider.FirstString(recipient, "street", "address"),
			PostalCode: provider.FirstString(recipient, "psc", "zip", "postal_code"),
			Country:    provider.FirstString(recipient, "country"),
		},
		Payload: provider.Raw(doc),
	}
	for _, item := range provider.Objects(doc, "items") {
		rec.Items = append(rec.Items, provider.LineItem{
			SKU:      provider.FirstString(item, "sku", "product_id"),
			Name:     provider.FirstString(item, "name", "title"),
			Quantity: provider.FirstInt(item, "quantity", "qty"),
			Price:    provider.FirstDecimal(item, "price", "unit_price"),
		})
	}
	return rec
}
