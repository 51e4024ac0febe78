package codegen

import (
	"encoding/binary"

	"github.com/duskforge/grue/internal/gir"
	"github.com/duskforge/grue/internal/zstring"
)

// Assemble lowers module and produces a complete story file, per §4.K:
// lay out the seven spaces in order, resolve every forward reference
// against the concatenated image, patch the header's address fields,
// and write the final checksum.
func Assemble(module *gir.Module, version uint8) ([]byte, error) {
	spaces := NewSpaces()
	resolver := NewResolver()
	alphabets := zstring.DefaultAlphabets(version)

	lowerer := NewLowerer(spaces, resolver, version, alphabets)
	if err := lowerer.Generate(module); err != nil {
		return nil, err
	}

	bases, image := layout(spaces, version)

	if err := resolver.Resolve(spaces, bases, version); err != nil {
		return nil, err
	}
	// Re-copy the code space into the laid-out image: Resolve patches
	// spaces.regions[SpaceCode].buf in place, and layout already copied
	// the pre-patch bytes, so copy the patched bytes over now.
	copy(image[bases[SpaceCode]:], spaces.Space(SpaceCode).buf)

	// Pad to a whole number of packed-address units so the scaled
	// file-length field covers every byte the checksum sums.
	for uint32(len(image))%packedScale(version) != 0 {
		image = append(image, 0)
	}

	entryOffset, entryFound := lowerer.EntryOffset()
	patchHeader(image, bases, version, entryOffset, entryFound)
	writeLengthAndChecksum(image, version)

	return image, nil
}

// layout concatenates the seven spaces into one byte slice in the fixed
// order §4.K specifies, padding the code space's start so it begins at
// an address divisible by the packed-routine scale, and returns each
// space's resulting base address.
func layout(spaces *Spaces, version uint8) (spaceBase, []byte) {
	bases := make(spaceBase, numSpaces)
	var image []byte

	for _, id := range spaceOrder {
		if id == SpaceCode {
			scale := packedScale(version)
			for uint32(len(image))%scale != 0 {
				image = append(image, 0)
			}
		}
		bases[id] = uint32(len(image))
		image = append(image, spaces.Space(id).buf...)
	}

	return bases, image
}

func patchHeader(image []byte, bases spaceBase, version uint8, entryOffset uint32, entryFound bool) {
	image[0x00] = version
	binary.BigEndian.PutUint16(image[0x0e:], uint16(bases[SpaceDictionary])) // static memory base: dictionary onward is read-only to the VM
	binary.BigEndian.PutUint16(image[0x04:], uint16(bases[SpaceStrings]))    // high memory base: strings onward

	initialPC := bases[SpaceCode]
	if entryFound {
		initialPC += entryOffset
	}
	binary.BigEndian.PutUint16(image[0x06:], uint16(initialPC)) // initial PC: entry routine's first real instruction, past its locals block

	binary.BigEndian.PutUint16(image[0x0a:], uint16(bases[SpaceObjects]))
	binary.BigEndian.PutUint16(image[0x0c:], uint16(bases[SpaceGlobals]))
	binary.BigEndian.PutUint16(image[0x08:], uint16(bases[SpaceDictionary]))
	binary.BigEndian.PutUint16(image[0x18:], uint16(bases[SpaceAbbreviations]))
}

func writeLengthAndChecksum(image []byte, version uint8) {
	scale := packedScale(version)
	scaledLen := uint16(uint32(len(image)) / scale)
	binary.BigEndian.PutUint16(image[0x1a:], scaledLen)

	var sum uint16
	for i := 0x40; i < len(image); i++ {
		sum += uint16(image[i])
	}
	binary.BigEndian.PutUint16(image[0x1c:], sum)
}
