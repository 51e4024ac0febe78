// Package dictionary implements the Z-machine dictionary: parsing the
// word-separator/entry-size/entry-count header and looking up encoded
// words via binary search, since entries are stored in ascending order
// by their packed Z-character encoding (spec.md §4.D).
package dictionary

import (
	"bytes"

	"github.com/duskforge/grue/internal/zcore"
	"github.com/duskforge/grue/internal/zstring"
)

type Header struct {
	InputCodes  []uint8
	EntryLength uint8
	EntryCount  int16
}

type Entry struct {
	Address     uint16
	EncodedWord []uint8
	DecodedWord string
	Data        []uint8
}

type Dictionary struct {
	Header  Header
	entries []Entry
}

// ParseDictionary reads the dictionary table at baseAddress.
func ParseDictionary(baseAddress uint32, core *zcore.Core, alphabets *zstring.Alphabets) *Dictionary {
	numInputCodes := core.ReadByte(baseAddress)
	inputCodes := append([]uint8(nil), core.ReadSlice(baseAddress+1, baseAddress+1+uint32(numInputCodes))...)

	entryLength := core.ReadByte(baseAddress + 1 + uint32(numInputCodes))
	entryCount := int16(core.ReadHalfWord(baseAddress + 2 + uint32(numInputCodes)))

	header := Header{
		InputCodes:  inputCodes,
		EntryLength: entryLength,
		EntryCount:  entryCount,
	}

	encodedWordLength := uint32(4)
	if core.Version > 3 {
		encodedWordLength = 6
	}

	entryPtr := baseAddress + 4 + uint32(numInputCodes)
	entries := make([]Entry, entryCount)
	for ix := 0; ix < int(entryCount); ix++ {
		encodedWord := append([]uint8(nil), core.ReadSlice(entryPtr, entryPtr+encodedWordLength)...)
		decodedWord, _ := zstring.Decode(core.ReadSlice(entryPtr, core.MemoryLength()), 0, core.Version, alphabets, core.AbbreviationTableBase)

		entries[ix] = Entry{
			Address:     uint16(entryPtr),
			EncodedWord: encodedWord,
			DecodedWord: decodedWord,
			Data:        core.ReadSlice(entryPtr+encodedWordLength, entryPtr+uint32(entryLength)),
		}

		entryPtr += uint32(entryLength)
	}

	return &Dictionary{Header: header, entries: entries}
}

// Find returns the dictionary address of the entry whose encoded word
// matches zstr, or 0 if the word isn't in the dictionary. Entries are
// sorted in ascending byte order by construction (Inform and every other
// Z-machine compiler emits them this way), so lookup is a binary search
// rather than the linear scan a naive port would reach for.
func (d *Dictionary) Find(zstr []uint8) uint16 {
	lo, hi := 0, len(d.entries)
	for lo < hi {
		mid := (lo + hi) / 2
		switch bytes.Compare(d.entries[mid].EncodedWord, zstr) {
		case 0:
			return d.entries[mid].Address
		case -1:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return 0
}
