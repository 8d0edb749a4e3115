package pagemap

// Allocator is the capability a PageMap is built through. It is polymorphic
// over two strategies: heap-backed (plain Go memory, the default) and
// mmap-backed (a memory-mapped file, for large page counts where the OS
// should manage residency). Both satisfy this same interface so callers
// never need to know which one backs a given snapshot.
type Allocator interface {
	// Allocate produces fresh, independently-owned pages for each
	// (index, contents) pair. The returned IndexedPages are ready to fold
	// into a PageMap via WithPages.
	Allocate(pages []IndexedPageData) []IndexedPage

	// Serialize returns a descriptor naming this allocator's strategy. It
	// carries no pages; use SerializeDelta to ship page contents.
	Serialize() Descriptor

	// SerializeDelta returns only the pages named by delta, keyed the same
	// way as Serialize but restricted to the changed set.
	SerializeDelta(m PageMap, delta Delta) Descriptor
}

// IndexedPageData is the input to Allocate: a page index and the bytes it
// should contain.
type IndexedPageData struct {
	Index uint64
	Bytes PageBytes
}

// Descriptor is a serialization-friendly description of a set of pages,
// shipped to the controller alongside execution results. The concrete shape
// is opaque to callers of this package (wire encoding is out of scope here,
// per the RPC transport boundary); it is a plain data record either
// allocator strategy can produce and consume.
type Descriptor struct {
	// Strategy names which allocator produced this descriptor, so the
	// receiving side can deserialize with the matching implementation.
	Strategy string
	Pages    []IndexedPageData
}

// Deserialize rebuilds a PageMap from a Descriptor using the given
// allocator to own the resulting pages.
func Deserialize(a Allocator, d Descriptor) PageMap {
	updates := a.Allocate(d.Pages)
	return Empty().WithPages(updates)
}
