// Package ztable implements the table-manipulation opcodes shared by
// scan_table, copy_table and print_table: each walks a fixed-stride
// region of memory rather than any structured record type, so the three
// live together here instead of inside the object or dictionary models.
package ztable

import (
	"strings"

	"github.com/duskforge/grue/internal/zcore"
)

func PrintTable(core *zcore.Core, baddr uint32, width uint16, height uint16, skip uint16) string {
	numBytes := core.ReadByte(baddr)
	s := strings.Builder{}

	for i := uint16(0); i < uint16(numBytes); i++ {
		row := i / width
		col := i % width

		if col == 0 {
			if row != 0 {
				s.WriteByte('\n')

				if row == height {
					break
				}
			}
		}

		s.WriteByte(core.ReadByte(baddr + uint32(i) + uint32(skip*row)))
	}

	return s.String()
}

func ScanTable(core *zcore.Core, test uint16, baddr uint32, length uint16, form uint16) uint32 {
	ptr := baddr
	fieldSize := form & 0b0111_1111
	checkWord := form&0b1000_0000 == 0b1000_0000
	if fieldSize == 0 {
		return 0 // a zero field length can't step forward; avoid looping forever
	}

	for i := uint16(0); i < length; i++ {
		if !checkWord {
			if uint16(core.ReadByte(ptr)) == test {
				return ptr
			}
		} else {
			if core.ReadHalfWord(ptr) == test {
				return ptr
			}
		}

		ptr += uint32(fieldSize)
	}

	return 0
}

func CopyTable(core *zcore.Core, first uint16, second uint16, size int16) {
	sizeAbs := uint16(size)
	if size < 0 {
		sizeAbs = uint16(-1 * size)
	}

	switch {
	case second == 0: // special case used to zero a table
		for i := uint16(0); i < sizeAbs; i++ {
			core.WriteByte(uint32(first)+uint32(i), 0)
		}

	case size >= 0: // copy via a temp buffer so overlapping ranges don't corrupt mid-copy
		tmp := make([]uint8, sizeAbs)
		for i := uint16(0); i < sizeAbs; i++ {
			tmp[i] = core.ReadByte(uint32(first) + uint32(i))
		}
		for i := uint16(0); i < sizeAbs; i++ {
			core.WriteByte(uint32(second)+uint32(i), tmp[i])
		}

	case size < 0: // allow corruption of the source range as the copy proceeds
		for i := uint16(0); i < sizeAbs; i++ {
			core.WriteByte(uint32(second)+uint32(i), core.ReadByte(uint32(first)+uint32(i)))
		}
	}
}
