// Package capability parses and renders the pkt-line capability list
// exchanged during git's ref discovery, shared by both protocol v1
// (trailing the first ref line, NUL-separated) and v2 (one key=value
// pair per line). See specification §4.7.
package capability

import "strings"

// List is an ordered, name-keyed capability set. Order is preserved
// since a handful of capabilities (notably agent/symref) are
// conventionally emitted last by real servers, and round-tripping
// advertisement text verbatim is useful for tests and debugging.
type List struct {
	names  []string
	values map[string]string
}

// New returns an empty List.
func New() *List {
	return &List{values: make(map[string]string)}
}

// Set adds or replaces a capability. A value of "" means a bare
// capability (no "=value" suffix is rendered).
func (l *List) Set(name, value string) {
	if _, ok := l.values[name]; !ok {
		l.names = append(l.names, name)
	}
	l.values[name] = value
}

// Has reports whether name is present (with or without a value).
func (l *List) Has(name string) bool {
	_, ok := l.values[name]
	return ok
}

// Get returns the value of name, or "" with ok=false if absent.
func (l *List) Get(name string) (string, bool) {
	v, ok := l.values[name]
	return v, ok
}

// Names returns capability names in the order they were added.
func (l *List) Names() []string {
	out := make([]string, len(l.names))
	copy(out, l.names)
	return out
}

// String renders the capability list as git's v1 wire form: space
// separated, "name" or "name=value".
func (l *List) String() string {
	var parts []string
	for _, n := range l.names {
		v := l.values[n]
		if v == "" {
			parts = append(parts, n)
		} else {
			parts = append(parts, n+"="+v)
		}
	}
	return strings.Join(parts, " ")
}

// Parse parses a space-separated capability string (the v1 form, or a
// v2 "key=value" single entry when used per-line by the caller).
func Parse(s string) *List {
	l := New()
	for _, tok := range strings.Fields(s) {
		if eq := strings.IndexByte(tok, '='); eq >= 0 {
			l.Set(tok[:eq], tok[eq+1:])
		} else {
			l.Set(tok, "")
		}
	}
	return l
}

// Well-known capability names this module's transport negotiates.
const (
	SideBand64k  = "side-band-64k"
	SideBand     = "side-band"
	MultiACK     = "multi_ack"
	MultiACKDet  = "multi_ack_detailed"
	OFSDelta     = "ofs-delta"
	ThinPack     = "thin-pack"
	Agent        = "agent"
	Shallow      = "shallow"
	DeepenSince  = "deepen-since"
	DeepenNot    = "deepen-not"
	FilterCap    = "filter"
	SymrefCap    = "symref"
	ObjectFormat = "object-format"
)
