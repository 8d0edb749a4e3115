// Package pagemap implements the copy-on-write linear-memory snapshot store
// consumed by the sandbox manager: a mapping from 4 KiB host-page index to
// page bytes, grouped 16-to-1 into 64 KiB Wasm pages.
package pagemap

import (
	"sort"
	"sync/atomic"
)

// PageSize is the host page granularity: 4 KiB.
const PageSize = 4096

// WasmPageSize is the Wasm linear-memory page granularity: 64 KiB.
const WasmPageSize = 65536

// HostPagesPerWasmPage is the fixed ratio between the two units.
const HostPagesPerWasmPage = WasmPageSize / PageSize

// allocatedPages is a process-wide count of pages allocated so far across
// all allocators. It only ever increases: pages dropped later are not
// subtracted. It is advisory only: nothing correctness-critical depends on its exact
// value, so relaxed atomic ops are sufficient (mirrors the source's
// ALLOCATED_PAGES counter).
var allocatedPages int64

// AllocatedPages returns the process-wide count of pages allocated so far,
// summed across every Allocator regardless of backing strategy.
func AllocatedPages() int64 {
	return atomic.LoadInt64(&allocatedPages)
}

// PageBytes is the fixed-size contents of one host page.
type PageBytes = [PageSize]byte

// Page is a clonable, logically-immutable handle to one page's contents. It
// is reference-counted implicitly via Go's GC; the only way to obtain one is
// through an Allocator.
type Page struct {
	bytes *PageBytes
}

// Contents returns the page's bytes. Callers must not mutate the returned
// array: pages are shared across every snapshot that references them.
func (p Page) Contents() *PageBytes {
	return p.bytes
}

// PageMap is a copy-on-write mapping from page index to page contents. Its
// zero value is an empty, valid map. PageMap is safe to read concurrently;
// producing a new PageMap (via WithPages) never mutates an existing one.
type PageMap struct {
	pages map[uint64]Page
}

// Empty returns a PageMap with no pages.
func Empty() PageMap {
	return PageMap{pages: nil}
}

// Get returns the page at index, or the zero Page and false if absent (an
// absent page reads as all-zero).
func (m PageMap) Get(index uint64) (Page, bool) {
	p, ok := m.pages[index]
	return p, ok
}

// Len reports how many pages this map holds, all-zero pages included.
func (m PageMap) Len() int {
	return len(m.pages)
}

// Clone returns a shallow copy of the PageMap. Because Page values are
// immutable shared handles, cloning is O(page count) in map bookkeeping only
// — never a byte copy. This is the "snapshot clone is cheap" property the
// sandbox manager relies on when dispatching an execution.
func (m PageMap) Clone() PageMap {
	if len(m.pages) == 0 {
		return Empty()
	}
	out := make(map[uint64]Page, len(m.pages))
	for k, v := range m.pages {
		out[k] = v
	}
	return PageMap{pages: out}
}

// WithPages returns a new PageMap with the given (index, page) pairs
// overlaid on top of the receiver. The receiver is not modified.
func (m PageMap) WithPages(updates []IndexedPage) PageMap {
	out := m.Clone()
	if out.pages == nil {
		out.pages = make(map[uint64]Page, len(updates))
	}
	for _, u := range updates {
		out.pages[u.Index] = u.Page
	}
	return out
}

// IndexedPage pairs a page index with its contents, the unit produced by a
// Allocator and consumed when building/updating a PageMap.
type IndexedPage struct {
	Index uint64
	Page  Page
}

// Pages returns every (index, page) pair in the map, in ascending index
// order. Used by the engine to materialize a snapshot into guest linear
// memory before an execution starts.
func (m PageMap) Pages() []IndexedPage {
	out := make([]IndexedPage, 0, len(m.pages))
	for idx, p := range m.pages {
		out = append(out, IndexedPage{Index: idx, Page: p})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Delta is the list of page indices an execution touched, used both to
// build StateModifications and to serialize only the changed pages back to
// the controller.
type Delta []uint64
