package status

import "strings"

// Provider keys understood by ForProvider.
const (
	ProviderFHB       = "fhb"
	ProviderEuropean  = "european"
	ProviderCartPanda = "cartpanda"
)

var fhbTable = table{
	delivery: vocabulary(map[entry][]string{
		{Pending, rankUnknown}:      {"pending", "new", "received", "waiting", "on_hold", "imported"},
		{Confirmed, rankProcessing}: {"confirmed", "processing", "accepted", "picking", "picked", "packed", "ready_to_ship"},
		{Shipped, rankTransit}:      {"sent", "shipped", "dispatched", "in_transit", "out_for_delivery", "handed_over"},
		{Delivered, rankTerminal}:   {"delivered", "completed", "picked_up"},
		{Returned, rankTerminal}:    {"returned", "returning", "return_to_sender", "rejected", "refused"},
		{Cancelled, rankTerminal}:   {"cancelled", "canceled", "storno", "deleted"},
	}),
}

var europeanTable = table{
	delivery: vocabulary(map[entry][]string{
		{Confirmed, rankProcessing}: {"preparing", "processing", "packed", "ready", "to_prepare", "prepared"},
		{Shipped, rankTransit}:      {"shipped", "in_transit", "in transit", "out_for_delivery", "with_courier", "dispatched", "unreachable"},
		{Delivered, rankTerminal}:   {"delivered", "livred", "paid"},
		{Returned, rankTerminal}:    {"returned", "return", "rejected", "refused"},
		{Cancelled, rankTerminal}:   {"cancelled", "canceled"},
	}),
	confirmation: vocabulary(map[entry][]string{
		{Pending, rankConfirmation}:   {"pending", "new", "no_answer", "call_later", "postponed"},
		{Confirmed, rankConfirmation}: {"confirmed", "confirm", "accepted"},
		{Cancelled, rankConfirmation}: {"cancelled", "canceled", "duplicate", "wrong", "fake", "declined"},
	}),
}

var cartPandaTable = table{
	delivery: vocabulary(map[entry][]string{
		{Confirmed, rankProcessing}: {"in_progress", "partial", "partially_fulfilled", "scheduled"},
		{Shipped, rankTransit}:      {"fulfilled", "shipped", "in_transit", "out_for_delivery"},
		{Delivered, rankTerminal}:   {"delivered"},
		{Returned, rankTerminal}:    {"returned", "return_to_sender"},
		{Cancelled, rankTerminal}:   {"cancelled", "canceled"},
	}),
	confirmation: vocabulary(map[entry][]string{
		{Pending, rankConfirmation}:   {"pending", "unpaid", "authorized", "open"},
		{Confirmed, rankConfirmation}: {"paid", "partially_paid", "processing"},
		{Cancelled, rankConfirmation}: {"cancelled", "canceled", "refunded", "voided", "chargeback"},
	}),
}

// ForProvider returns the mapper for a provider key. Unknown providers get a
// mapper that only recognizes the internal vocabulary itself.
func ForProvider(providerKey string) Mapper {
	switch strings.ToLower(strings.TrimSpace(providerKey)) {
	case ProviderFHB:
		return fhbTable
	case ProviderEuropean:
		return europeanTable
	case ProviderCartPanda:
		return cartPandaTable
	default:
		return genericTable
	}
}

var genericTable = table{
	delivery: vocabulary(map[entry][]string{
		{Pending, rankUnknown}:      {string(Pending)},
		{Confirmed, rankProcessing}: {string(Confirmed)},
		{Shipped, rankTransit}:      {string(Shipped)},
		{Delivered, rankTerminal}:   {string(Delivered)},
		{Cancelled, rankTerminal}:   {string(Cancelled)},
		{Returned, rankTerminal}:    {string(Returned)},
	}),
}
