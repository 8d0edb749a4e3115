//go:build linux

package pagemap

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// MmapAllocator backs pages with a memory-mapped anonymous file (via
// memfd_create), the strategy the source reserves for canisters with large
// working sets so the OS — not the Go heap — owns page residency and
// eviction. Linux-only, mirroring the source's own
// "#[cfg(target_os = \"linux\")] mod mmap" restriction.
type MmapAllocator struct {
	label string
}

// NewMmapAllocator returns the mmap-backed Allocator strategy. label is
// used only for the memfd's debug name.
func NewMmapAllocator(label string) *MmapAllocator {
	if label == "" {
		label = "sandbox-pagemap"
	}
	return &MmapAllocator{label: label}
}

func (a *MmapAllocator) Allocate(pages []IndexedPageData) []IndexedPage {
	out := make([]IndexedPage, 0, len(pages))
	for _, p := range pages {
		b := p.Bytes
		page, err := a.mapOnePage(&b)
		if err != nil {
			// Fall back to a heap-backed page rather than failing the whole
			// batch: mmap exhaustion should degrade, not crash the sandbox.
			heapCopy := p.Bytes
			page = Page{bytes: &heapCopy}
		}
		out = append(out, IndexedPage{Index: p.Index, Page: page})
	}
	atomic.AddInt64(&allocatedPages, int64(len(pages)))
	return out
}

func (a *MmapAllocator) mapOnePage(contents *PageBytes) (Page, error) {
	fd, err := unix.MemfdCreate(a.label, 0)
	if err != nil {
		return Page{}, fmt.Errorf("pagemap: memfd_create: %w", err)
	}
	defer unix.Close(fd)

	if err := unix.Ftruncate(fd, PageSize); err != nil {
		return Page{}, fmt.Errorf("pagemap: ftruncate: %w", err)
	}

	region, err := unix.Mmap(fd, 0, PageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return Page{}, fmt.Errorf("pagemap: mmap: %w", err)
	}

	copy(region, contents[:])
	page := (*PageBytes)(region)

	runtime.SetFinalizer(page, func(b *PageBytes) {
		_ = unix.Munmap((*b)[:])
	})

	return Page{bytes: page}, nil
}

func (a *MmapAllocator) Serialize() Descriptor {
	return Descriptor{Strategy: "mmap"}
}

func (a *MmapAllocator) SerializeDelta(m PageMap, delta Delta) Descriptor {
	pages := make([]IndexedPageData, 0, len(delta))
	for _, idx := range delta {
		if p, ok := m.Get(idx); ok {
			pages = append(pages, IndexedPageData{Index: idx, Bytes: *p.Contents()})
		}
	}
	return Descriptor{Strategy: "mmap", Pages: pages}
}
