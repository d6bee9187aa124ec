package status

import "strings"

// Status is the internal order state carrier updates are translated into.
type Status string

const (
	Pending   Status = "pending"
	Confirmed Status = "confirmed"
	Shipped   Status = "shipped"
	Delivered Status = "delivered"
	Cancelled Status = "cancelled"
	Returned  Status = "returned"
)

// All lists every internal state in lifecycle order.
var All = []Status{Pending, Confirmed, Shipped, Delivered, Cancelled, Returned}

// IsTerminal reports whether no further carrier movement is expected.
func (s Status) IsTerminal() bool {
	switch s {
	case Delivered, Cancelled, Returned:
		return true
	default:
		return false
	}
}

// Valid reports whether s is one of the internal states.
func (s Status) Valid() bool {
	for _, candidate := range All {
		if s == candidate {
			return true
		}
	}
	return false
}

func (s Status) String() string { return string(s) }

// stage is the lifecycle position of s. Terminal states share the last one.
func (s Status) stage() int {
	switch s {
	case Pending:
		return 0
	case Confirmed:
		return 1
	case Shipped:
		return 2
	default:
		return 3
	}
}

// Regresses reports whether writing next over current moves the order back
// in its lifecycle. Values outside the internal vocabulary never block.
func Regresses(current string, next Status) bool {
	cur := Status(current)
	if !cur.Valid() || !next.Valid() {
		return false
	}
	return next.stage() < cur.stage()
}

// Observation carries the provider-native status values of one record.
// Providers with a single vocabulary only fill Delivery.
type Observation struct {
	Delivery     string
	Confirmation string
}

// Mapper translates provider vocabulary into an internal Status.
// Implementations never fail: unrecognized input maps to Pending.
type Mapper interface {
	Map(obs Observation) Status
}

// rank orders how strongly an axis value describes the order's real position.
type rank int

const (
	rankUnknown rank = iota
	rankConfirmation
	rankProcessing
	rankTransit
	rankTerminal
)

type entry struct {
	status Status
	rank   rank
}

// table is a provider vocabulary for both status axes.
type table struct {
	delivery     map[string]entry
	confirmation map[string]entry
}

// Map resolves both axes and keeps the highest ranked result. Ties go to the
// delivery axis.
func (t table) Map(obs Observation) Status {
	best := entry{status: Pending, rank: rankUnknown}
	if e, ok := t.delivery[normalize(obs.Delivery)]; ok {
		best = e
	}
	if e, ok := t.confirmation[normalize(obs.Confirmation)]; ok && e.rank > best.rank {
		best = e
	}
	return best.status
}

func normalize(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer("-", "_", " ", "_", ".", "_").Replace(s)
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	return strings.Trim(s, "_")
}

func vocabulary(groups map[entry][]string) map[string]entry {
	out := make(map[string]entry)
	for e, words := range groups {
		for _, w := range words {
			out[normalize(w)] = e
		}
	}
	return out
}
