package transfer

import "math/bits"

// chunkBitmap records which chunk indices of a transfer have been written.
type chunkBitmap struct {
	words []uint64
	size  uint32
	count int
}

func newChunkBitmap(size uint32) chunkBitmap {
	return chunkBitmap{
		words: make([]uint64, (uint64(size)+63)/64),
		size:  size,
	}
}

func (b *chunkBitmap) has(i uint32) bool {
	if i >= b.size {
		return false
	}
	return b.words[i/64]&(1<<(i%64)) != 0
}

// set marks i and reports whether it was newly set.
func (b *chunkBitmap) set(i uint32) bool {
	if i >= b.size || b.has(i) {
		return false
	}
	b.words[i/64] |= 1 << (i % 64)
	b.count++
	return true
}

// missing returns up to limit unset indices in ascending order; limit <= 0
// means no limit. Fully set words are skipped without scanning their bits.
func (b *chunkBitmap) missing(limit int) []uint32 {
	want := int(b.size) - b.count
	if limit > 0 && limit < want {
		want = limit
	}
	out := make([]uint32, 0, want)
	for w, word := range b.words {
		free := ^word
		for free != 0 && len(out) < want {
			i := uint32(w)*64 + uint32(bits.TrailingZeros64(free))
			if i >= b.size {
				break
			}
			out = append(out, i)
			free &= free - 1
		}
		if len(out) == want {
			break
		}
	}
	return out
}
