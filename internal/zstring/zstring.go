// Package zstring implements the ZSCII text codec: alphabet-table
// decoding of packed 5-bit Z-characters, abbreviation expansion, the
// ZSCII escape sequence, and the encoder used to build dictionary lookup
// keys.
package zstring

import (
	"encoding/binary"

	"github.com/duskforge/grue/internal/zcore"
)

var a0Default = [...]uint8{'a', 'b', 'c', 'd', 'e', 'f', 'g', 'h', 'i', 'j', 'k', 'l', 'm', 'n', 'o', 'p', 'q', 'r', 's', 't', 'u', 'v', 'w', 'x', 'y', 'z'}
var a1Default = [...]uint8{'A', 'B', 'C', 'D', 'E', 'F', 'G', 'H', 'I', 'J', 'K', 'L', 'M', 'N', 'O', 'P', 'Q', 'R', 'S', 'T', 'U', 'V', 'W', 'X', 'Y', 'Z'}
var a2v1 = [...]uint8{'0', '1', '2', '3', '4', '5', '6', '7', '8', '9', '.', ',', '!', '?', '_', '#', '\'', '"', '/', '\\', '<', '-', ':', '(', ')'}
var a2v2Default = [...]uint8{'\n', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9', '.', ',', '!', '?', '_', '#', '\'', '"', '/', '\\', '-', ':', '(', ')'}

type alphabet int

const (
	a0 alphabet = 0
	a1 alphabet = 1
	a2 alphabet = 2
)

// maxAbbreviationDepth bounds abbreviation-within-abbreviation recursion;
// the standard forbids an abbreviation string from itself referencing an
// abbreviation, but interpreters conventionally guard against malformed
// story files looping forever.
const maxAbbreviationDepth = 3

// Alphabets holds the three 26-entry alphabet tables a story uses to
// decode Z-characters 6-31. V5+ stories may supply a custom table via the
// header's alphabet-table-address field; earlier versions always use the
// built-in defaults.
type Alphabets struct {
	version uint8
	a0      [26]uint8
	a1      [26]uint8
	a2      [26]uint8
}

// LoadAlphabets builds the alphabet tables for a story, consulting the
// header's custom alphabet table address when the story declares one.
func LoadAlphabets(core *zcore.Core) *Alphabets {
	alphabets := &Alphabets{version: core.Version}

	if core.Version >= 5 && core.AlternativeCharSetBaseAddress != 0 {
		base := uint32(core.AlternativeCharSetBaseAddress)
		for i := 0; i < 26; i++ {
			alphabets.a0[i] = core.ReadByte(base + uint32(i))
			alphabets.a1[i] = core.ReadByte(base + 26 + uint32(i))
			alphabets.a2[i] = core.ReadByte(base + 52 + uint32(i))
		}
		return alphabets
	}

	copy(alphabets.a0[:], a0Default[:])
	copy(alphabets.a1[:], a1Default[:])
	if core.Version == 1 {
		copy(alphabets.a2[:], a2v1[:])
	} else {
		copy(alphabets.a2[:], a2v2Default[:])
	}
	return alphabets
}

// DefaultAlphabets builds the built-in alphabet tables for version with
// no custom alphabet table, for callers that don't yet have a story
// image to consult (e.g. the code generator, which writes a story
// rather than reading one).
func DefaultAlphabets(version uint8) *Alphabets {
	alphabets := &Alphabets{version: version}
	copy(alphabets.a0[:], a0Default[:])
	copy(alphabets.a1[:], a1Default[:])
	if version == 1 {
		copy(alphabets.a2[:], a2v1[:])
	} else {
		copy(alphabets.a2[:], a2v2Default[:])
	}
	return alphabets
}

func (a *Alphabets) lookup(which alphabet, zchr uint8) uint8 {
	switch which {
	case a0:
		return a.a0[zchr-6]
	case a1:
		return a.a1[zchr-6]
	default:
		return a.a2[zchr-7]
	}
}

// Decode reads a Z-character string starting at addr and returns the
// decoded text plus the number of bytes consumed (always a multiple of
// 2, since Z-strings are packed 3 characters per 16-bit word).
// An abbreviationTableBase of 0 disables abbreviation expansion; nested
// abbreviations are expanded up to maxAbbreviationDepth levels deep.
func Decode(memory []uint8, addr uint32, version uint8, alphabets *Alphabets, abbreviationTableBase uint16) (string, uint16) {
	return decode(memory, addr, version, alphabets, abbreviationTableBase, 0)
}

func decode(memory []uint8, addr uint32, version uint8, alphabets *Alphabets, abbreviationTableBase uint16, depth int) (string, uint16) {
	bytesRead := uint16(0)
	ptr := addr
	baseAlphabet := a0
	currentAlphabet := a0
	nextAlphabet := a0

	var zchrStream []uint8

	for {
		halfWord := binary.BigEndian.Uint16(memory[ptr : ptr+2])
		bytesRead += 2
		ptr += 2
		isLastHalfWord := (halfWord >> 15) == 1

		zchrStream = append(zchrStream, uint8((halfWord>>10)&0b11111))
		zchrStream = append(zchrStream, uint8((halfWord>>5)&0b11111))
		zchrStream = append(zchrStream, uint8(halfWord&0b11111))

		if isLastHalfWord || int(ptr) >= len(memory)-1 {
			break
		}
	}

	var chrStream []byte

	for i := 0; i < len(zchrStream); i++ {
		zchr := zchrStream[i]
		currentAlphabet = nextAlphabet
		nextAlphabet = baseAlphabet

		switch {
		case zchr == 0:
			chrStream = append(chrStream, ' ')

		case zchr >= 1 && zchr <= 3:
			// Abbreviations in v2+; newline (z=1) / alphabet shift (z=2,3) in v1.
			if version == 1 {
				if zchr == 1 {
					chrStream = append(chrStream, '\n')
				} else {
					nextAlphabet = alphabet((int(nextAlphabet) + int(zchr) - 1) % 3)
				}
				continue
			}
			if abbreviationTableBase == 0 || depth >= maxAbbreviationDepth {
				// Either no abbreviation table was given, or recursion is
				// too deep: treat as a no-op rather than crash.
				if i+1 < len(zchrStream) {
					i++
				}
				continue
			}
			x := zchrStream[i+1]
			i++
			chrStream = append(chrStream, []byte(decodeAbbreviation(memory, version, alphabets, abbreviationTableBase, zchr, x, depth))...)

		case zchr == 4:
			if version >= 3 {
				nextAlphabet = alphabet((int(nextAlphabet) + 1) % 3)
			} else {
				baseAlphabet = alphabet((int(baseAlphabet) + 1) % 3)
				nextAlphabet = baseAlphabet
			}

		case zchr == 5:
			if version >= 3 {
				nextAlphabet = alphabet((int(nextAlphabet) + 2) % 3)
			} else {
				baseAlphabet = alphabet((int(baseAlphabet) + 2) % 3)
				nextAlphabet = baseAlphabet
			}

		case currentAlphabet == a2 && zchr == 6:
			// ZSCII escape: the next two Z-characters form a 10-bit ZSCII
			// code, high 5 bits first.
			if i+2 < len(zchrStream) {
				hi := zchrStream[i+1]
				lo := zchrStream[i+2]
				i += 2
				chrStream = append(chrStream, byte((hi<<5)|lo))
			}

		default:
			chrStream = append(chrStream, alphabets.lookup(currentAlphabet, zchr))
		}
	}

	return string(chrStream), bytesRead
}

func decodeAbbreviation(memory []uint8, version uint8, alphabets *Alphabets, abbreviationTableBase uint16, z uint8, x uint8, depth int) string {
	abbrIx := 32*(z-1) + x
	entryAddr := uint32(abbreviationTableBase) + 2*uint32(abbrIx)
	strAddr := 2 * uint32(binary.BigEndian.Uint16(memory[entryAddr:entryAddr+2]))

	str, _ := decode(memory, strAddr, version, alphabets, abbreviationTableBase, depth+1)
	return str
}

// Encode converts a word into the packed Z-character form used as a
// dictionary lookup key: 2 words (6 Z-characters) on V1-3, 3 words (9
// Z-characters) on V4+, returned as big-endian bytes ready to compare
// against a dictionary entry's encoded word. Characters with no
// alphabet-0/1/2 entry fall back to the ZSCII escape sequence via
// alphabet 2's shift-6 code. Words too long for the fixed slot are
// truncated, per spec.md §4.D.
func Encode(word []rune, version uint8, alphabets *Alphabets) []uint8 {
	numWords := 2
	numZchars := 6
	if version >= 4 {
		numWords = 3
		numZchars = 9
	}

	zchrs := make([]uint8, 0, numZchars)
	for _, r := range word {
		if len(zchrs) >= numZchars {
			break
		}
		zchrs = append(zchrs, encodeRune(uint8(r), alphabets)...)
	}
	for len(zchrs) < numZchars {
		zchrs = append(zchrs, 5) // pad with shift-5 (a no-op filler in A2)
	}
	zchrs = zchrs[:numZchars]

	result := make([]uint8, numWords*2)
	for w := 0; w < numWords; w++ {
		z0, z1, z2 := zchrs[w*3], zchrs[w*3+1], zchrs[w*3+2]
		value := uint16(z0)<<10 | uint16(z1)<<5 | uint16(z2)
		if w == numWords-1 {
			value |= 0x8000 // terminator bit on the final word
		}
		result[w*2] = uint8(value >> 8)
		result[w*2+1] = uint8(value)
	}
	return result
}

func encodeRune(r uint8, alphabets *Alphabets) []uint8 {
	for i, c := range alphabets.a0 {
		if c == r {
			return []uint8{uint8(i) + 6}
		}
	}
	for i, c := range alphabets.a1 {
		if c == r {
			return []uint8{4, uint8(i) + 6}
		}
	}
	for i, c := range alphabets.a2 {
		if c == r {
			return []uint8{5, uint8(i) + 7}
		}
	}
	// Fall through to the ZSCII escape: shift to A2, escape code 6, then
	// the 10-bit ZSCII value split hi/lo across two Z-characters.
	return []uint8{5, 6, r >> 5, r & 0b11111}
}
