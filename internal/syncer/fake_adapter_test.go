package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fulfillment-sync/internal/provider"
)

// fakeAdapter serves generated records per UTC day with a fixed page size.
type fakeAdapter struct {
	mu       sync.Mutex
	key      provider.Key
	pageSize int
	perDay   map[time.Time]int
	// build customizes the i-th record of day.
	build func(day time.Time, i int) provider.RawOrder
	// fail injects an error for a request.
	fail    func(from, to time.Time, page int) error
	authErr error
	calls   []fetchCall
}

type fetchCall struct {
	from, to time.Time
	page     int
}

func newFakeAdapter(pageSize int) *fakeAdapter {
	return &fakeAdapter{key: provider.FHB, pageSize: pageSize, perDay: make(map[time.Time]int)}
}

func (f *fakeAdapter) Key() provider.Key { return f.key }

func (f *fakeAdapter) Authenticate(context.Context) (provider.Token, error) {
	if f.authErr != nil {
		return provider.Token{}, f.authErr
	}
	return provider.Token{Value: "t", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (f *fakeAdapter) FetchOrderHistory(_ context.Context, from, to time.Time, page int) (provider.Page, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fetchCall{from: from, to: to, page: page})
	f.mu.Unlock()
	if f.fail != nil {
		if err := f.fail(from, to, page); err != nil {
			return provider.Page{}, err
		}
	}

	total := 0
	for d := from; !d.After(to); d = d.Add(day) {
		total += f.perDay[d]
	}
	offset := (page - 1) * f.pageSize
	if offset >= total {
		return provider.Page{}, nil
	}
	limit := min(offset+f.pageSize, total)

	var records []provider.RawOrder
	idx := 0
	for d := from; !d.After(to) && idx < limit; d = d.Add(day) {
		for i := 0; i < f.perDay[d]; i++ {
			if idx >= offset && idx < limit {
				records = append(records, f.record(d, i))
			}
			idx++
		}
	}
	return provider.Page{Records: records, HasMore: limit < total}, nil
}

func (f *fakeAdapter) record(d time.Time, i int) provider.RawOrder {
	if f.build != nil {
		return f.build(d, i)
	}
	return provider.RawOrder{
		Provider:   f.key,
		ExternalID: fmt.Sprintf("%s-%05d", d.Format(provider.DateLayout), i),
		Status:     "shipped",
		OrderedAt:  d.Add(10 * time.Hour),
	}
}

func (f *fakeAdapter) GetOrderStatus(context.Context, string) (*provider.OrderStatus, error) {
	return nil, provider.ErrNotFound
}

func (f *fakeAdapter) CreateOrder(context.Context, provider.CreateOrderRequest) (*provider.CreateOrderResult, error) {
	return nil, fmt.Errorf("not supported")
}

func (f *fakeAdapter) TestConnection(context.Context) provider.ConnectionResult {
	return provider.ConnectionResult{OK: true, Message: "ok"}
}

func (f *fakeAdapter) firstPageStarts() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []time.Time
	for _, c := range f.calls {
		if c.page == 1 {
			out = append(out, c.from)
		}
	}
	return out
}

type openerFunc func(provider.Account) (provider.Adapter, error)

func (fn openerFunc) Open(a provider.Account) (provider.Adapter, error) { return fn(a) }
