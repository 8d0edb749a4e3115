package pagemap

import "sync/atomic"

// HeapAllocator backs pages with ordinary Go heap allocations. It is the
// default strategy: simple, GC-managed, and fast for the common case of a
// modest number of dirty pages per execution.
type HeapAllocator struct{}

// NewHeapAllocator returns the heap-backed Allocator strategy.
func NewHeapAllocator() *HeapAllocator {
	return &HeapAllocator{}
}

func (*HeapAllocator) Allocate(pages []IndexedPageData) []IndexedPage {
	out := make([]IndexedPage, len(pages))
	for i, p := range pages {
		b := p.Bytes // copy into a fresh backing array owned by this Page
		out[i] = IndexedPage{Index: p.Index, Page: Page{bytes: &b}}
	}
	atomic.AddInt64(&allocatedPages, int64(len(pages)))
	return out
}

func (*HeapAllocator) Serialize() Descriptor {
	return Descriptor{Strategy: "heap"}
}

func (*HeapAllocator) SerializeDelta(m PageMap, delta Delta) Descriptor {
	pages := make([]IndexedPageData, 0, len(delta))
	for _, idx := range delta {
		if p, ok := m.Get(idx); ok {
			pages = append(pages, IndexedPageData{Index: idx, Bytes: *p.Contents()})
		}
	}
	return Descriptor{Strategy: "heap", Pages: pages}
}
