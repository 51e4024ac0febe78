package dictionary_test

import (
	"testing"

	"github.com/duskforge/grue/internal/dictionary"
	"github.com/duskforge/grue/internal/zcore"
	"github.com/duskforge/grue/internal/zstring"
)

// buildV3Dictionary writes a minimal dictionary table with two entries,
// "north" and "south", encoded and sorted the way a real compiler emits
// them (ascending by encoded-word bytes).
func buildV3Dictionary(t *testing.T) (*zcore.Core, uint32) {
	t.Helper()

	const base = 0x40
	mem := make([]uint8, base+64)
	mem[0x00] = 3
	mem[0x0e], mem[0x0f] = 0xff, 0xff

	mem[base] = 3 // number of input codes
	mem[base+1], mem[base+2], mem[base+3] = '.', ',', '"'
	mem[base+4] = 7 // entry length: 4 bytes encoded word + 3 bytes data
	mem[base+5], mem[base+6] = 0, 2 // entry count

	core := zcore.LoadCore(mem)
	alphabets := zstring.LoadAlphabets(&core)

	entryPtr := base + 7
	north := zstring.Encode([]rune("north"), core.Version, alphabets)
	south := zstring.Encode([]rune("south"), core.Version, alphabets)

	first, second := north, south
	if string(south) < string(north) {
		first, second = south, north
	}
	copy(mem[entryPtr:], first)
	copy(mem[entryPtr+7:], second)

	core = zcore.LoadCore(mem)
	return &core, base
}

func TestParseDictionaryFind(t *testing.T) {
	core, base := buildV3Dictionary(t)
	alphabets := zstring.LoadAlphabets(core)
	d := dictionary.ParseDictionary(uint32(base), core, alphabets)

	north := zstring.Encode([]rune("north"), core.Version, alphabets)
	if addr := d.Find(north); addr == 0 {
		t.Fatalf("expected to find 'north' in the dictionary")
	}

	missing := zstring.Encode([]rune("xyzzy"), core.Version, alphabets)
	if addr := d.Find(missing); addr != 0 {
		t.Fatalf("expected 'xyzzy' to be absent, got address %d", addr)
	}
}

func TestParseDictionaryHeader(t *testing.T) {
	core, base := buildV3Dictionary(t)
	alphabets := zstring.LoadAlphabets(core)
	d := dictionary.ParseDictionary(uint32(base), core, alphabets)

	if len(d.Header.InputCodes) != 3 {
		t.Fatalf("expected 3 input codes, got %d", len(d.Header.InputCodes))
	}
	if d.Header.EntryLength != 7 {
		t.Fatalf("expected entry length 7, got %d", d.Header.EntryLength)
	}
	if d.Header.EntryCount != 2 {
		t.Fatalf("expected entry count 2, got %d", d.Header.EntryCount)
	}
}
