// Package codegen implements the Grue code generator: laying out the
// seven memory spaces a compiled story occupies, lowering gir.Module into
// bytes within them, resolving forward references once every space's
// size is known, and assembling the final story file.
//
// The byte-writing idiom here (explicit offset bookkeeping,
// big-endian field writes via encoding/binary) follows
// internal/zmachine's save-state serializer and internal/zcore's header
// access; the Generator/Lowerer struct shape (current module/function,
// a bump allocator, one Generate entry point walking the IR) follows
// the same pattern as a traditional assembly-targeting code generator.
package codegen

import "encoding/binary"

// SpaceID names one of the seven growable regions a compiled image is
// assembled from, laid out in this order in the final file.
type SpaceID int

const (
	SpaceHeader SpaceID = iota
	SpaceGlobals
	SpaceAbbreviations
	SpaceObjects
	SpaceDictionary
	SpaceStrings
	SpaceCode
	numSpaces
)

// HeaderSize and GlobalsSize are fixed per the Z-machine format: a
// 64-byte header and a 240-entry (480-byte) globals table.
const (
	HeaderSize  = 64
	GlobalsSize = 480
)

// Space is one growable byte buffer with a stable offset-to-allocation
// mapping: once Allocate returns an offset, that offset never changes
// even as later allocations grow the buffer, since space offsets are
// relative to the space's own final base address, not to each other.
type Space struct {
	ID   SpaceID
	buf  []uint8
}

// Allocate reserves n zero bytes at the end of the space and returns
// their offset within it.
func (s *Space) Allocate(n uint32) uint32 {
	offset := uint32(len(s.buf))
	s.buf = append(s.buf, make([]uint8, n)...)
	return offset
}

// Len reports how many bytes have been allocated in the space so far.
func (s *Space) Len() uint32 { return uint32(len(s.buf)) }

// WriteByteAt writes a single byte at offset, which must already be
// within an allocated range.
func (s *Space) WriteByteAt(offset uint32, v uint8) {
	s.buf[offset] = v
}

// WriteWordAt writes a big-endian 16-bit word at offset.
func (s *Space) WriteWordAt(offset uint32, v uint16) {
	binary.BigEndian.PutUint16(s.buf[offset:offset+2], v)
}

// AppendByte allocates and writes one byte in a single step, returning
// its offset.
func (s *Space) AppendByte(v uint8) uint32 {
	off := s.Allocate(1)
	s.WriteByteAt(off, v)
	return off
}

// AppendWord allocates and writes one big-endian word, returning the
// offset of its first byte.
func (s *Space) AppendWord(v uint16) uint32 {
	off := s.Allocate(2)
	s.WriteWordAt(off, v)
	return off
}

// AppendBytes allocates and copies a byte slice, returning its offset.
func (s *Space) AppendBytes(data []uint8) uint32 {
	off := s.Allocate(uint32(len(data)))
	copy(s.buf[off:], data)
	return off
}

// Spaces holds all seven memory regions a Module lowers into.
type Spaces struct {
	regions [numSpaces]*Space
}

// NewSpaces returns an empty Spaces with the header and globals regions
// pre-sized to their fixed lengths.
func NewSpaces() *Spaces {
	s := &Spaces{}
	for id := SpaceID(0); id < numSpaces; id++ {
		s.regions[id] = &Space{ID: id}
	}
	s.regions[SpaceHeader].Allocate(HeaderSize)
	s.regions[SpaceGlobals].Allocate(GlobalsSize)
	return s
}

// Space returns the region for id.
func (s *Spaces) Space(id SpaceID) *Space { return s.regions[id] }

// spaceOrder is the layout order final addresses are assigned in,
// per the assembly rule in assemble.go.
var spaceOrder = [...]SpaceID{
	SpaceHeader, SpaceGlobals, SpaceAbbreviations, SpaceObjects,
	SpaceDictionary, SpaceStrings, SpaceCode,
}
