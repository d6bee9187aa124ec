package syncer

import (
	"sort"
	"strings"
	"unicode"

	"fulfillment-sync/internal/repo"
)

// MatchRule names the cascade step that linked a staging row to an order.
type MatchRule string

const (
	RuleReference MatchRule = "reference"
	RulePhone     MatchRule = "phone"
	RuleEmail     MatchRule = "email"
	RuleNameCity  MatchRule = "name_city"
)

// Rules in cascade order.
var Rules = []MatchRule{RuleReference, RulePhone, RuleEmail, RuleNameCity}

const (
	phoneSuffixDigits = 9
	minPhoneDigits    = 6
)

// Matcher links staging rows to candidate orders of one account's linked
// operations. It holds no store and is safe to reuse across rows of a batch.
type Matcher struct {
	links    []repo.OperationLink
	defaults map[string]bool

	byID       map[string]*candidate
	byRef      map[string][]*candidate
	byPhone    map[string][]*candidate
	byEmail    map[string][]*candidate
	byNameCity map[string][]*candidate
}

type candidate struct {
	order repo.Order
	refs  []string
}

// NewMatcher indexes orders by every key the cascade compares.
func NewMatcher(links []repo.OperationLink, orders []repo.Order) *Matcher {
	m := &Matcher{
		defaults:   make(map[string]bool),
		byID:       make(map[string]*candidate, len(orders)),
		byRef:      make(map[string][]*candidate),
		byPhone:    make(map[string][]*candidate),
		byEmail:    make(map[string][]*candidate),
		byNameCity: make(map[string][]*candidate),
	}
	for _, l := range links {
		if l.IsDefault {
			m.defaults[l.OperationID] = true
		}
		if strings.TrimSpace(l.ReferencePrefix) != "" {
			m.links = append(m.links, l)
		}
	}
	// Longest prefix first so scope detection picks the most specific one.
	sort.SliceStable(m.links, func(i, j int) bool {
		return len(m.links[i].ReferencePrefix) > len(m.links[j].ReferencePrefix)
	})
	for _, o := range orders {
		c := &candidate{order: o, refs: m.referenceKeys(o.ExternalReference)}
		m.byID[o.ID] = c
		for _, ref := range c.refs {
			m.byRef[ref] = append(m.byRef[ref], c)
		}
		if k := PhoneKey(o.CustomerPhone); k != "" {
			m.byPhone[k] = append(m.byPhone[k], c)
		}
		if k := EmailKey(o.CustomerEmail); k != "" {
			m.byEmail[k] = append(m.byEmail[k], c)
		}
		if k := NameCityKey(o.CustomerName, o.CustomerCity); k != "" {
			m.byNameCity[k] = append(m.byNameCity[k], c)
		}
	}
	return m
}

// Match runs the cascade for row. The first rule with at least one eligible
// candidate wins; ties inside a rule are broken by pick. Only the reference
// rule may take an order already linked to another external order.
func (m *Matcher) Match(row repo.StagingOrder) (repo.Order, MatchRule, bool) {
	operation, scoped := m.scope(row.Reference)

	for _, rule := range Rules {
		var hits []*candidate
		seen := make(map[*candidate]bool)
		for _, c := range m.lookup(rule, row) {
			if seen[c] || (scoped && c.order.OperationID != operation) {
				continue
			}
			seen[c] = true
			if rule != RuleReference && !freeFor(c, row) {
				continue
			}
			hits = append(hits, c)
		}
		if len(hits) == 0 {
			continue
		}
		best := m.pick(hits, row)
		return best.order, rule, true
	}
	return repo.Order{}, "", false
}

// lookup returns the indexed candidates sharing row's key for rule. The
// result aliases index storage and must not be reordered.
func (m *Matcher) lookup(rule MatchRule, row repo.StagingOrder) []*candidate {
	switch rule {
	case RuleReference:
		keys := m.referenceKeys(row.Reference)
		if len(keys) == 1 {
			return m.byRef[keys[0]]
		}
		var out []*candidate
		for _, k := range keys {
			out = append(out, m.byRef[k]...)
		}
		return out
	case RulePhone:
		if k := PhoneKey(row.Recipient.Phone); k != "" {
			return m.byPhone[k]
		}
	case RuleEmail:
		if k := EmailKey(row.Recipient.Email); k != "" {
			return m.byEmail[k]
		}
	case RuleNameCity:
		if k := NameCityKey(row.Recipient.Name, row.Recipient.City); k != "" {
			return m.byNameCity[k]
		}
	}
	return nil
}

// Record updates the in-memory candidate after a successful match so later
// rows of the same batch see its new match state.
func (m *Matcher) Record(orderID, accountID, externalID string) {
	c, ok := m.byID[orderID]
	if !ok {
		return
	}
	acc, ext := accountID, externalID
	c.order.MatchedAccountID = &acc
	c.order.MatchedExternalID = &ext
}

// scope reports the operation owning the longest prefix of reference.
// Without a prefix hit every linked operation is in scope.
func (m *Matcher) scope(reference string) (string, bool) {
	ref := normalizeReference(reference)
	if ref == "" {
		return "", false
	}
	for _, l := range m.links {
		if prefix := normalizeReference(l.ReferencePrefix); prefix != "" && strings.HasPrefix(ref, prefix) {
			return l.OperationID, true
		}
	}
	return "", false
}

// pick prefers an order not already linked to another external order, then
// one in a default operation, then the newest. hits is sorted in place.
func (m *Matcher) pick(hits []*candidate, row repo.StagingOrder) *candidate {
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if fa, fb := freeFor(a, row), freeFor(b, row); fa != fb {
			return fa
		}
		if da, db := m.defaults[a.order.OperationID], m.defaults[b.order.OperationID]; da != db {
			return da
		}
		if !a.order.CreatedAt.Equal(b.order.CreatedAt) {
			return a.order.CreatedAt.After(b.order.CreatedAt)
		}
		return a.order.ID < b.order.ID
	})
	return hits[0]
}

// freeFor reports whether c is unlinked or already linked to row itself.
func freeFor(c *candidate, row repo.StagingOrder) bool {
	if c.order.MatchedExternalID == nil || *c.order.MatchedExternalID == "" {
		return true
	}
	if c.order.MatchedAccountID != nil && *c.order.MatchedAccountID != row.AccountID {
		return false
	}
	return *c.order.MatchedExternalID == row.ExternalOrderID
}

// referenceKeys returns the comparable forms of a reference: as-is and with
// every known prefix stripped, upper-cased, without a leading '#'.
func (m *Matcher) referenceKeys(reference string) []string {
	base := normalizeReference(reference)
	if base == "" {
		return nil
	}
	keys := []string{base}
	for _, l := range m.links {
		prefix := normalizeReference(l.ReferencePrefix)
		if prefix == "" || !strings.HasPrefix(base, prefix) {
			continue
		}
		stripped := strings.TrimLeft(strings.TrimPrefix(base, prefix), "-_ #")
		if stripped != "" && stripped != base {
			keys = append(keys, stripped)
		}
	}
	return keys
}

func normalizeReference(ref string) string {
	s := strings.ToUpper(strings.TrimSpace(ref))
	s = strings.TrimLeft(s, "#")
	return strings.TrimSpace(s)
}

// PhoneKey keeps the last nine digits of a phone number. Numbers with fewer
// than six digits yield no key.
func PhoneKey(phone string) string {
	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	if len(d) < minPhoneDigits {
		return ""
	}
	if len(d) > phoneSuffixDigits {
		d = d[len(d)-phoneSuffixDigits:]
	}
	return d
}

// EmailKey lower-cases a trimmed address; values without '@' yield no key.
func EmailKey(email string) string {
	e := strings.ToLower(strings.TrimSpace(email))
	if !strings.Contains(e, "@") {
		return ""
	}
	return e
}

// NameCityKey combines name and city when both are present.
func NameCityKey(name, city string) string {
	n, c := collapse(name), collapse(city)
	if n == "" || c == "" {
		return ""
	}
	return n + "|" + c
}

func collapse(s string) string {
	return strings.ToLower(strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " "))
}
