package instrument

import (
	"fmt"
	"sort"

	"github.com/harry-0909/ic/internal/pagemap"
)

const wasmPageSizeBytes = pagemap.WasmPageSize

// chunk is one (offset, bytes) heap data chunk extracted from the data
// section before it is deleted from the instrumented module.
type chunk struct {
	offset int
	bytes  []byte
}

// segments is the full set of chunks pulled from a module's data section.
type segments []chunk

func segmentsFromData(data []DataSegment) segments {
	out := make(segments, 0, len(data))
	for _, d := range data {
		out = append(out, chunk{offset: int(uint32(d.Offset)), bytes: d.Bytes})
	}
	return out
}

// validate checks every chunk lands fully inside the module's initial
// memory size.
func (s segments) validate(initialWasmPages uint32) error {
	initialMemorySize := int(initialWasmPages) * wasmPageSizeBytes
	for _, c := range s {
		end := c.offset + len(c.bytes)
		if end < c.offset || end > initialMemorySize {
			return &Error{Kind: KindInvalidDataSegment, Msg: fmt.Sprintf("data segment at offset %d, len %d exceeds initial memory size %d", c.offset, len(c.bytes), initialMemorySize)}
		}
	}
	return nil
}

// asPages splits every chunk at 4 KiB page boundaries and folds the result
// into a page_index -> page_image map, zero-filling untouched bytes.
func (s segments) asPages() []pagemap.IndexedPageData {
	pages := make(map[uint64]*pagemap.PageBytes)

	place := func(offset int, bytes []byte) {
		pageNum := uint64(offset / pagemap.PageSize)
		localOffset := offset % pagemap.PageSize
		page, ok := pages[pageNum]
		if !ok {
			page = &pagemap.PageBytes{}
			pages[pageNum] = page
		}
		copy(page[localOffset:localOffset+len(bytes)], bytes)
	}

	for _, c := range s {
		firstChunkSize := pagemap.PageSize - (c.offset % pagemap.PageSize)
		if firstChunkSize > len(c.bytes) {
			firstChunkSize = len(c.bytes)
		}
		place(c.offset, c.bytes[:firstChunkSize])
		rest := c.bytes[firstChunkSize:]
		for i := 0; i < len(rest); i += pagemap.PageSize {
			end := i + pagemap.PageSize
			if end > len(rest) {
				end = len(rest)
			}
			place(c.offset+firstChunkSize+i, rest[i:end])
		}
	}

	indices := make([]uint64, 0, len(pages))
	for idx := range pages {
		indices = append(indices, idx)
	}
	// Deterministic emission order: map iteration is not, so every caller
	// observing this output byte-for-byte (the content-addressed compile
	// cache) needs a stable sort here.
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	out := make([]pagemap.IndexedPageData, 0, len(indices))
	for _, idx := range indices {
		out = append(out, pagemap.IndexedPageData{Index: idx, Bytes: *pages[idx]})
	}
	return out
}
