package rules

import (
	"strings"

	"github.com/miekg/dns"
)

// Sentinel is the reserved pattern that matches any query name. Its ten
// wildcard labels guarantee it sorts after every specific pattern.
const Sentinel = "*.*.*.*.*.*.*.*.*.*"

// Entry is the cooked-answer specification stored for one (type, pattern)
// pair. A negative entry means "match, but forward this query upstream".
type Entry struct {
	Spec     string
	Negative bool
}

// Table maps RR types to pattern sub-maps. It is built once during startup
// and read-only thereafter, so handlers may share it without locking.
type Table struct {
	types   []uint16
	entries map[uint16]map[string]Entry
}

// supportedTypes lists every RR type the encoder can cook, in the order
// ANY expansion iterates them.
var supportedTypes = []uint16{
	dns.TypeA,
	dns.TypeAAAA,
	dns.TypeMX,
	dns.TypeCNAME,
	dns.TypeNS,
	dns.TypeSOA,
	dns.TypeTXT,
	dns.TypePTR,
	dns.TypeSRV,
	dns.TypeNAPTR,
	dns.TypeDNSKEY,
	dns.TypeRRSIG,
}

// New creates an empty table with a sub-map per supported RR type.
func New() *Table {
	t := &Table{
		types:   supportedTypes,
		entries: make(map[uint16]map[string]Entry, len(supportedTypes)),
	}
	for _, qtype := range supportedTypes {
		t.entries[qtype] = make(map[string]Entry)
	}
	return t
}

// Supports reports whether qtype has a sub-map in the table.
func (t *Table) Supports(qtype uint16) bool {
	_, ok := t.entries[qtype]
	return ok
}

// Types returns the RR types in their fixed iteration order.
func (t *Table) Types() []uint16 {
	return t.types
}

// Add inserts or replaces a cooked-answer spec for (qtype, pattern).
// Patterns are trimmed and lowercased at insert time so the matcher never
// has to normalize them per query.
func (t *Table) Add(qtype uint16, pattern, spec string) {
	sub, ok := t.entries[qtype]
	if !ok {
		return
	}
	sub[normalizePattern(pattern)] = Entry{Spec: spec}
}

// AddNegative inserts a negative marker for (qtype, pattern).
func (t *Table) AddNegative(qtype uint16, pattern string) {
	sub, ok := t.entries[qtype]
	if !ok {
		return
	}
	sub[normalizePattern(pattern)] = Entry{Negative: true}
}

// Lookup matches qname against the sub-map for qtype. The name must
// already be lowercased with any trailing dot removed.
func (t *Table) Lookup(qtype uint16, qname string) (Entry, bool) {
	sub, ok := t.entries[qtype]
	if !ok {
		return Entry{}, false
	}
	return Match(qname, sub)
}

// Empty reports whether no sub-map holds any entry, i.e. the proxy is in
// pure-forward mode.
func (t *Table) Empty() bool {
	for _, sub := range t.entries {
		if len(sub) > 0 {
			return false
		}
	}
	return true
}

func normalizePattern(pattern string) string {
	return strings.ToLower(strings.TrimSpace(pattern))
}
