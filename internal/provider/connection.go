package provider

import (
	"context"
	"fmt"
	"time"
)

// DefaultPageSize is the page size adapters request from list endpoints.
const DefaultPageSize = 100

// CheckConnection authenticates and lists the first page of today's orders.
// Adapters use it to implement TestConnection.
func CheckConnection(ctx context.Context, a Adapter, now time.Time) ConnectionResult {
	if _, err := a.Authenticate(ctx); err != nil {
		return ConnectionResult{OK: false, Message: fmt.Sprintf("authentication failed: %v", err)}
	}
	day := Day(now)
	page, err := a.FetchOrderHistory(ctx, day, day, 1)
	if err != nil {
		return ConnectionResult{OK: false, Message: fmt.Sprintf("order listing failed: %v", err)}
	}
	return ConnectionResult{OK: true, Message: fmt.Sprintf("connected to %s, %d orders on today's first page", a.Key(), len(page.Records))}
}

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// MissingCredential reports an incomplete credential blob.
func MissingCredential(key Key, field string) error {
	return fmt.Errorf("%w: %s account is missing %q", ErrInvalidCredentials, key, field)
}
