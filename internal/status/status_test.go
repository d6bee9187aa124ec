package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestForProviderMapsKnownVocabulary(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		obs      Observation
		want     Status
	}{
		{"fhb sent", ProviderFHB, Observation{Delivery: "Sent"}, Shipped},
		{"fhb delivered", ProviderFHB, Observation{Delivery: "DELIVERED"}, Delivered},
		{"fhb rejected counts as return", ProviderFHB, Observation{Delivery: "rejected"}, Returned},
		{"fhb storno", ProviderFHB, Observation{Delivery: "storno"}, Cancelled},
		{"european confirmation only", ProviderEuropean, Observation{Confirmation: "confirmed"}, Confirmed},
		{"european delivery outranks confirmation", ProviderEuropean, Observation{Delivery: "delivered", Confirmation: "confirmed"}, Delivered},
		{"european transit outranks processing confirmation", ProviderEuropean, Observation{Delivery: "In Transit", Confirmation: "cancelled"}, Shipped},
		{"european processing outranks confirmation", ProviderEuropean, Observation{Delivery: "preparing", Confirmation: "pending"}, Confirmed},
		{"european cancelled confirmation without delivery", ProviderEuropean, Observation{Confirmation: "duplicate"}, Cancelled},
		{"cartpanda fulfilled", ProviderCartPanda, Observation{Delivery: "fulfilled", Confirmation: "paid"}, Shipped},
		{"cartpanda paid unfulfilled", ProviderCartPanda, Observation{Delivery: "unfulfilled", Confirmation: "paid"}, Confirmed},
		{"cartpanda refunded", ProviderCartPanda, Observation{Confirmation: "refunded"}, Cancelled},
		{"generic passthrough", "other", Observation{Delivery: "returned"}, Returned},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ForProvider(tt.provider).Map(tt.obs))
		})
	}
}

func TestMapUnknownDefaultsToPending(t *testing.T) {
	inputs := []string{"", "   ", "lost in space", "???", "42", "delivered-ish"}
	for _, provider := range []string{ProviderFHB, ProviderEuropean, ProviderCartPanda, "unknown"} {
		mapper := ForProvider(provider)
		for _, in := range inputs {
			got := mapper.Map(Observation{Delivery: in, Confirmation: in})
			assert.Equal(t, Pending, got, "provider=%s input=%q", provider, in)
		}
	}
}

func TestMapAlwaysReturnsValidStatus(t *testing.T) {
	samples := []string{"sent", "paid", "fulfilled", "confirmed", "x", "RETURNED", "on hold", "out-for-delivery"}
	for _, provider := range []string{ProviderFHB, ProviderEuropean, ProviderCartPanda} {
		for _, d := range samples {
			for _, c := range samples {
				got := ForProvider(provider).Map(Observation{Delivery: d, Confirmation: c})
				assert.True(t, got.Valid(), "provider=%s d=%q c=%q got %q", provider, d, c, got)
			}
		}
	}
}

func TestNormalizeCollapsesSeparators(t *testing.T) {
	assert.Equal(t, "out_for_delivery", normalize("  Out - For  Delivery "))
	assert.Equal(t, "in_transit", normalize("In.Transit"))
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, Delivered.IsTerminal())
	assert.True(t, Returned.IsTerminal())
	assert.False(t, Shipped.IsTerminal())
	assert.False(t, Pending.IsTerminal())
}

func TestRegresses(t *testing.T) {
	tests := []struct {
		current string
		next    Status
		want    bool
	}{
		{"shipped", Pending, true},
		{"delivered", Shipped, true},
		{"cancelled", Confirmed, true},
		{"confirmed", Shipped, false},
		{"delivered", Returned, false},
		{"pending", Pending, false},
		{"", Pending, false},
		{"legacy", Pending, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Regresses(tt.current, tt.next), "%s -> %s", tt.current, tt.next)
	}
}
