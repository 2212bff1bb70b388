package intrinsichdr

import (
	"math"
	"testing"
)

func blendTestMask(w, h int, v float32) *Plane {
	p := &Plane{W: w, H: h, Pix: make([]float32, w*h)}
	for i := range p.Pix {
		p.Pix[i] = v
	}
	return p
}

func TestBlendIdenticalImagesIsIdentity(t *testing.T) {
	ldr := hdrTestImage(24, 16)
	out, err := blendHighlights(ldr, ldr, blendTestMask(24, 16, 0))
	if err != nil {
		t.Fatalf("blend: %v", err)
	}
	for i := range ldr.Pix {
		if math.Abs(float64(out.Pix[i]-ldr.Pix[i])) > 1e-5 {
			t.Fatalf("pixel %d: got %g want %g", i, out.Pix[i], ldr.Pix[i])
		}
	}
}

func TestBlendUnitMaskReturnsHDR(t *testing.T) {
	ldr := hdrTestImage(24, 16)
	hdr := ldr.Clone()
	for i := range hdr.Pix {
		hdr.Pix[i] *= 4
	}
	out, err := blendHighlights(ldr, hdr, blendTestMask(24, 16, 1))
	if err != nil {
		t.Fatalf("blend: %v", err)
	}
	for i := range hdr.Pix {
		if out.Pix[i] != hdr.Pix[i] {
			t.Fatalf("pixel %d: got %g want %g", i, out.Pix[i], hdr.Pix[i])
		}
	}
}

func TestBlendZeroMaskScalesLDR(t *testing.T) {
	ldr := hdrTestImage(24, 16)
	hdr := ldr.Clone()
	out, err := blendHighlights(ldr, hdr, blendTestMask(24, 16, 0))
	if err != nil {
		t.Fatalf("blend: %v", err)
	}
	scale := lightnessScale(ldr, hdr)
	for i := range ldr.Pix {
		want := ldr.Pix[i] * scale
		if math.Abs(float64(out.Pix[i]-want)) > 1e-6 {
			t.Fatalf("pixel %d: got %g want %g", i, out.Pix[i], want)
		}
	}
}

func TestLightnessScaleIdentity(t *testing.T) {
	img := hdrTestImage(16, 16)
	if s := lightnessScale(img, img); math.Abs(float64(s)-1) > 1e-6 {
		t.Fatalf("scale for identical images = %g, want 1", s)
	}
}

func TestLightnessScaleDarkImageFallsBack(t *testing.T) {
	dark := NewImage(8, 8)
	if s := lightnessScale(dark, dark); s != 1 {
		t.Fatalf("scale for black image = %g, want 1", s)
	}
}

func TestBlendShapeMismatch(t *testing.T) {
	if _, err := blendHighlights(hdrTestImage(8, 8), hdrTestImage(8, 9), blendTestMask(8, 8, 0)); err == nil {
		t.Fatal("expected error for image shape mismatch")
	}
	if _, err := blendHighlights(hdrTestImage(8, 8), hdrTestImage(8, 8), blendTestMask(4, 4, 0)); err == nil {
		t.Fatal("expected error for mask shape mismatch")
	}
}
