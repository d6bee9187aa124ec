package european

import (
	"encoding/json"
	"fmt"

	"fulfillment-sync/internal/provider"
)

// decodePage reads {"data": [...], "meta": {"current_page", "last_page"}}.
// Without pagination metadata a full page implies more.
func decodePage(body json.RawMessage, requested int) (provider.Page, error) {
	doc, err := provider.DecodeObject(body)
	if err != nil {
		return provider.Page{}, fmt.Errorf("european leads: %w", err)
	}
	leads := provider.Objects(doc, "data")
	if len(leads) == 0 {
		leads = provider.Objects(doc, "leads")
	}

	records := make([]provider.RawOrder, 0, len(leads))
	for _, lead := range leads {
		records = append(records, decodeLead(lead))
	}

	hasMore := len(leads) >= provider.DefaultPageSize
	meta := provider.Nested(doc, "meta", "pagination")
	if meta == nil && provider.FirstInt(doc, "last_page") > 0 {
		meta = doc
	}
	if meta != nil {
		current := provider.FirstInt(meta, "current_page", "page")
		if current == 0 {
			current = requested
		}
		if last := provider.FirstInt(meta, "last_page", "total_pages"); last > 0 {
			hasMore = current < last
		}
	}
	return provider.Page{Records: records, HasMore: hasMore && len(records) > 0}, nil
}

func decodeLead(doc map[string]any) provider.RawOrder {
	customer := provider.Nested(doc, "customer", "client")
	if customer == nil {
		customer = doc
	}
	rec := provider.RawOrder{
		Provider:       provider.European,
		ExternalID:     provider.FirstString(doc, "id", "lead_id"),
		Reference:      provider.FirstString(doc, "reference", "order_number", "external_id"),
		Status:         provider.FirstString(doc, "delivery_status", "shipping_status", "status"),
		Confirmation:   provider.FirstString(doc, "confirmation_status", "call_status"),
		TrackingNumber: provider.FirstString(doc, "tracking_code", "tracking_number"),
		Value:          provider.FirstDecimal(doc, "total", "price", "amount"),
		Currency:       provider.FirstString(doc, "currency"),
		OrderedAt:      provider.FirstTime(doc, "created_at", "date"),
		Recipient: provider.Recipient{
			Name:       provider.FirstString(customer, "full_name", "name"),
			Phone:      provider.FirstString(customer, "phone", "phone_number"),
			Email:      provider.FirstString(customer, "email"),
			City:       provider.FirstString(customer, "city"),
			Street:     provider.FirstString(customer, "address", "street"),
			PostalCode: provider.FirstString(customer, "postal_code", "zip"),
			Country:    provider.FirstString(customer, "country"),
		},
		Payload: provider.Raw(doc),
	}
	for _, item := range provider.Objects(doc, "products") {
		rec.Items = append(rec.Items, provider.LineItem{
			SKU:      provider.FirstString(item, "sku"),
			Name:     provider.FirstString(item, "name"),
			Quantity: provider.FirstInt(item, "quantity"),
			Price:    provider.FirstDecimal(item, "price"),
		})
	}
	return rec
}
