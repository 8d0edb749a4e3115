//go:build !linux

package pagemap

// MmapAllocator is unavailable outside Linux (mmap-backed pages rely on
// memfd_create); on other platforms it degrades transparently to the
// heap-backed strategy, mirroring the source's own
// "#[cfg(not(target_os = \"linux\"))] default_implementation" fallback.
type MmapAllocator struct {
	heap HeapAllocator
}

func NewMmapAllocator(string) *MmapAllocator {
	return &MmapAllocator{}
}

func (a *MmapAllocator) Allocate(pages []IndexedPageData) []IndexedPage {
	return a.heap.Allocate(pages)
}

func (a *MmapAllocator) Serialize() Descriptor {
	return Descriptor{Strategy: "mmap-unavailable"}
}

func (a *MmapAllocator) SerializeDelta(m PageMap, delta Delta) Descriptor {
	return a.heap.SerializeDelta(m, delta)
}
