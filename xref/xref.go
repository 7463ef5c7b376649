// Package xref locates and merges PDF cross-reference data. A file carries
// one cross-reference section per revision, each in classic table form or
// compressed stream form, chained oldest-ward through /Prev. Resolve walks
// that chain newest first and folds it into a single Table holding the
// winning record per object number, with freed numbers tombstoned.
package xref

import (
	"sort"

	"github.com/ykcoatepe/pdfcos/ir/raw"
)

type EntryType int

const (
	// EntryInUse records a byte offset of a directly-addressed object.
	EntryInUse EntryType = iota
	// EntryCompressed records an object packed inside an object stream.
	EntryCompressed
)

// Entry is one winning cross-reference record after the revision merge.
type Entry struct {
	Type      EntryType
	Offset    int64 // byte offset, EntryInUse only
	Gen       int
	StreamNum int // container object number, EntryCompressed only
	StreamIdx int // index within the container, EntryCompressed only
}

// Table is the merged, final-revision cross-reference view.
type Table struct {
	entries   map[int]Entry
	free      map[int]struct{}
	trailer   *raw.DictObj
	revisions int
}

func newTable() *Table {
	return &Table{
		entries: make(map[int]Entry),
		free:    make(map[int]struct{}),
	}
}

// Lookup returns the winning entry for an object number.
func (t *Table) Lookup(objNum int) (Entry, bool) {
	e, ok := t.entries[objNum]
	return e, ok
}

// Objects returns all live object numbers in ascending order.
func (t *Table) Objects() []int {
	out := make([]int, 0, len(t.entries))
	for n := range t.entries {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// IsFree reports whether an object number was tombstoned by any revision.
func (t *Table) IsFree(objNum int) bool {
	_, ok := t.free[objNum]
	return ok
}

// Trailer returns the merged trailer dictionary: the newest revision's
// trailer, with keys it lacks filled in from older revisions.
func (t *Table) Trailer() *raw.DictObj { return t.trailer }

// Len returns the number of live entries.
func (t *Table) Len() int { return len(t.entries) }

// Revisions returns how many sections the chain walk visited.
func (t *Table) Revisions() int { return t.revisions }

// merge folds one section into the table. Sections arrive newest first, so
// presence wins: a number already merged (or tombstoned) ignores older
// definitions, and a freed number stays dead for every older revision.
func (t *Table) merge(sec *section) {
	for _, n := range sec.free {
		delete(t.entries, n)
		t.free[n] = struct{}{}
	}
	for n, e := range sec.entries {
		if _, dead := t.free[n]; dead {
			continue
		}
		if _, ok := t.entries[n]; ok {
			continue
		}
		t.entries[n] = e
	}
	// The merged trailer is a table-owned copy; section dictionaries stay
	// untouched.
	if sec.trailer != nil {
		if t.trailer == nil {
			t.trailer = raw.Dict()
		}
		for k, v := range sec.trailer.KV {
			if _, ok := t.trailer.KV[k]; !ok {
				t.trailer.KV[k] = v
			}
		}
	}
	t.revisions++
}
