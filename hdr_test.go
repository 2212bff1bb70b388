package intrinsichdr

import (
	"math"
	"path/filepath"
	"testing"
)

func TestRGBERoundTrip(t *testing.T) {
	src := hdrTestImage(41, 23)
	data, err := EncodeHDR(src)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeHDR(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.W != src.W || got.H != src.H {
		t.Fatalf("dims mismatch: got %dx%d want %dx%d", got.W, got.H, src.W, src.H)
	}
	for i := range src.Pix {
		want := float64(src.Pix[i])
		diff := math.Abs(float64(got.Pix[i]) - want)
		// The shared exponent leaves ~8 bits of mantissa per channel.
		if diff > math.Max(2e-3, want*0.02) {
			t.Fatalf("pixel %d: got %g want %g", i, got.Pix[i], want)
		}
	}
}

func TestRGBEZeroStaysZero(t *testing.T) {
	src := NewImage(4, 4)
	data, err := EncodeHDR(src)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeHDR(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for i, v := range got.Pix {
		if v != 0 {
			t.Fatalf("pixel %d: got %g want 0", i, v)
		}
	}
}

func TestDecodeHDRRejectsGarbage(t *testing.T) {
	if _, err := DecodeHDR([]byte("#?NOPE\n")); err == nil {
		t.Fatal("expected error for bad header")
	}
	if _, err := DecodeHDR(nil); err == nil {
		t.Fatal("expected error for empty data")
	}
}

func TestWriteHDRFileThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.hdr")
	src := hdrTestImage(16, 8)
	if err := WriteHDRFile(path, src); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := LoadImage(path, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.W != 16 || got.H != 8 {
		t.Fatalf("dims mismatch: %dx%d", got.W, got.H)
	}
}
