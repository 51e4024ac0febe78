package zstring

import (
	"testing"

	"github.com/duskforge/grue/internal/zcore"
)

func v3Core(t *testing.T) *zcore.Core {
	t.Helper()
	mem := make([]uint8, 0x100)
	mem[0x00] = 3
	mem[0x0e], mem[0x0f] = 0xff, 0xff
	core := zcore.LoadCore(mem)
	return &core
}

func v3Alphabets() *Alphabets {
	a := &Alphabets{version: 3}
	copy(a.a0[:], a0Default[:])
	copy(a.a1[:], a1Default[:])
	copy(a.a2[:], a2v2Default[:])
	return a
}

func v1Alphabets() *Alphabets {
	a := &Alphabets{version: 1}
	copy(a.a0[:], a0Default[:])
	copy(a.a1[:], a1Default[:])
	copy(a.a2[:], a2v1[:])
	return a
}

var zstringDecodingTests = []struct {
	name      string
	in        []uint8
	out       string
	bytesRead uint16
	version   uint8
}{
	{"zscii escape", []uint8{12, 193, 248, 165}, ">", 4, 1},
}

func TestZStringDecoding(t *testing.T) {
	for _, tt := range zstringDecodingTests {
		t.Run(tt.name, func(t *testing.T) {
			zstr, bytesRead := Decode(tt.in, 0, tt.version, v1Alphabets(), 0)

			if tt.out != zstr {
				t.Fatalf(`zstr read incorrectly expected=%q, actual=%q`, tt.out, zstr)
			}
			if tt.bytesRead != bytesRead {
				t.Fatalf(`zstr read incorrect number of bytes expected=%d, actual=%d`, tt.bytesRead, bytesRead)
			}
		})
	}
}

func TestZStringRoundTrip(t *testing.T) {
	alphabets := v3Alphabets()
	core := v3Core(t)
	buf := Encode([]rune("frotz"), core.Version, alphabets)
	if len(buf) != 4 {
		t.Fatalf("expected 4 bytes for a v3 encode, got %d", len(buf))
	}
	if buf[2]&0x80 == 0 {
		t.Fatalf("expected terminator bit set on final word")
	}

	decoded, bytesRead := Decode(buf, 0, 3, alphabets, 0)
	if bytesRead != 4 {
		t.Fatalf("expected 4 bytes read, got %d", bytesRead)
	}
	if decoded[:5] != "frotz" {
		t.Fatalf("round trip mismatch: got %q", decoded)
	}
}

func TestAbbreviationRecursionGuardDoesNotPanic(t *testing.T) {
	// Z-char 1 (abbreviation escape) with no abbreviation table configured
	// must not panic; it should be treated as a no-op.
	buf := []uint8{0b0000_0100, 0b0110_0110} // zchrs: 1, 3, 6 -> abbreviation z=1,x=3 ignored
	_, bytesRead := Decode(buf, 0, 3, v3Alphabets(), 0)
	if bytesRead != 2 {
		t.Fatalf("expected 2 bytes read, got %d", bytesRead)
	}
}
