// Package hostauth decides whether a connecting peer may open a session.
//
// An AllowList is an immutable set of host entries (names or literal
// addresses). An empty list permits every peer. Entries are resolved at
// check time so a name whose addresses change is honoured without a reload.
package hostauth

import (
	"strings"
)

// sep is the separator set accepted between allow-list entries.
const sep = " ,;\n\r\t"

// AllowList is a parsed host allow-list. The zero value and nil both allow all.
type AllowList struct {
	entries []string
}

// Parse splits text into allow-list entries. A '#' starts a comment that runs
// to the end of the line. Duplicate entries are kept once.
func Parse(text string) *AllowList {
	var entries []string
	seen := make(map[string]struct{})
	for _, line := range strings.Split(text, "\n") {
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		for _, e := range strings.FieldsFunc(line, func(r rune) bool { return strings.ContainsRune(sep, r) }) {
			if _, dup := seen[e]; dup {
				continue
			}
			seen[e] = struct{}{}
			entries = append(entries, e)
		}
	}
	return &AllowList{entries: entries}
}

// Merge returns a list holding the entries of every argument, in order.
func Merge(lists ...*AllowList) *AllowList {
	var b strings.Builder
	for _, l := range lists {
		for _, e := range l.Entries() {
			b.WriteString(e)
			b.WriteByte('\n')
		}
	}
	return Parse(b.String())
}

// Entries returns a copy of the entries in parse order.
func (l *AllowList) Entries() []string {
	if l == nil {
		return nil
	}
	out := make([]string, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *AllowList) Len() int {
	if l == nil {
		return 0
	}
	return len(l.entries)
}

// Empty reports whether the list allows every peer.
func (l *AllowList) Empty() bool { return l.Len() == 0 }
