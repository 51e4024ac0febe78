package zobject

import (
	"fmt"

	"github.com/duskforge/grue/internal/zcore"
)

// Property is a decoded view of one property list entry.
type Property struct {
	Id                   uint8
	Length               uint8
	Data                 []uint8
	PropertyHeaderLength uint8
	Address              uint32
	DataAddress          uint32
}

// GetPropertyLength works backwards from the address of a property's
// first data byte to recover its length, per spec.md §4.C's two size-byte
// formats (V3's single descending-length byte vs V4+'s one-or-two-byte
// form). addr==0 is the sentinel some story files pass to mean "no
// property," which legally yields a length of 0.
func GetPropertyLength(core *zcore.Core, addr uint32) uint16 {
	if addr == 0 {
		return 0
	}

	prevByte := core.ReadByte(addr - 1)
	if core.Version <= 3 {
		return uint16(prevByte>>5) + 1
	}
	if prevByte&0b1000_0000 != 0 {
		length := prevByte & 0b0011_1111
		if length == 0 {
			return 64
		}
		return uint16(length)
	}
	return uint16((prevByte>>6)&1) + 1
}

func (o *Object) propertyListStart(core *zcore.Core) uint32 {
	nameLength := core.ReadByte(uint32(o.PropertyPointer))
	return uint32(o.PropertyPointer) + 1 + uint32(nameLength)*2
}

// GetPropertyByAddress decodes the property list entry whose size byte(s)
// sit at propertyAddr.
func (o *Object) GetPropertyByAddress(propertyAddr uint32, core *zcore.Core) Property {
	sizeByte := core.ReadByte(propertyAddr)
	var length uint8
	var id uint8
	headerLength := uint8(1)

	if core.Version <= 3 {
		length = (sizeByte >> 5) + 1
		id = sizeByte & 0b0001_1111
	} else if sizeByte&0b1000_0000 != 0 {
		length = core.ReadByte(propertyAddr+1) & 0b0011_1111
		if length == 0 {
			length = 64
		}
		id = sizeByte & 0b0011_1111
		headerLength = 2
	} else {
		length = ((sizeByte >> 6) & 1) + 1
		id = sizeByte & 0b0011_1111
	}

	dataAddr := propertyAddr + uint32(headerLength)
	return Property{
		Id:                   id,
		Length:               length,
		Data:                 core.ReadSlice(dataAddr, dataAddr+uint32(length)),
		PropertyHeaderLength: headerLength,
		Address:              propertyAddr,
		DataAddress:          dataAddr,
	}
}

// GetProperty returns the named property, or the story's property
// default (from the object table's property-defaults section) if the
// object's own property list doesn't include it.
func (o *Object) GetProperty(propertyId uint8, core *zcore.Core) Property {
	ptr := o.propertyListStart(core)

	for {
		sizeByte := core.ReadByte(ptr)
		if sizeByte == 0 {
			break
		}

		property := o.GetPropertyByAddress(ptr, core)
		if property.Id == propertyId {
			return property
		}
		if property.Id < propertyId {
			// Properties are stored in strictly descending id order.
			break
		}

		ptr += uint32(property.PropertyHeaderLength) + uint32(property.Length)
	}

	defaultAddr := uint32(core.ObjectTableBase) + 2*uint32(propertyId-1)
	return Property{
		Id:          propertyId,
		Length:      2,
		Data:        core.ReadSlice(defaultAddr, defaultAddr+2),
		DataAddress: defaultAddr,
	}
}

// SetProperty overwrites an existing property's value in place. The
// property must already be on the object (properties can't be added at
// runtime), matching the standard's requirement that put_prop only
// targets existing 1- or 2-byte properties.
func (o *Object) SetProperty(propertyId uint8, value uint16, core *zcore.Core) {
	ptr := o.propertyListStart(core)

	for {
		sizeByte := core.ReadByte(ptr)
		if sizeByte == 0 {
			break
		}

		property := o.GetPropertyByAddress(ptr, core)
		if property.Id == propertyId {
			switch property.Length {
			case 1:
				core.WriteByte(property.DataAddress, uint8(value))
			case 2:
				core.WriteHalfWord(property.DataAddress, value)
			default:
				panic(fmt.Sprintf("zobject: put_prop on property %d with length %d", propertyId, property.Length))
			}
			return
		}

		ptr += uint32(property.PropertyHeaderLength) + uint32(property.Length)
	}

	panic(fmt.Sprintf("zobject: put_prop for property %d not present on object %d", propertyId, o.Id))
}

// GetNextProperty implements get_next_prop: propertyId==0 means "return
// the first property id," otherwise return the id following propertyId.
func (o *Object) GetNextProperty(propertyId uint8, core *zcore.Core) uint16 {
	if propertyId == 0 {
		ptr := o.propertyListStart(core)
		if core.ReadByte(ptr) == 0 {
			return 0
		}
		return uint16(o.GetPropertyByAddress(ptr, core).Id)
	}

	property := o.GetProperty(propertyId, core)
	if property.DataAddress == 0 {
		panic(fmt.Sprintf("zobject: get_next_prop called with invalid property id %d on object %d", propertyId, o.Id))
	}

	nextPtr := property.DataAddress + uint32(property.Length)
	if core.ReadByte(nextPtr) == 0 {
		return 0
	}
	return uint16(o.GetPropertyByAddress(nextPtr, core).Id)
}
