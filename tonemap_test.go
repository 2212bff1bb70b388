package intrinsichdr

import (
	"math"
	"testing"
)

func hdrTestImage(w, h int) *Image {
	img := NewImage(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := 0.05 + 8.0*float32(x*y)/float32(w*h)
			img.set(x, y, rgb{r: v, g: v * 0.7, b: v * 0.4})
		}
	}
	return img
}

func meanPix(img *Image) float64 {
	var sum float64
	for _, v := range img.Pix {
		sum += float64(v)
	}
	return sum / float64(len(img.Pix))
}

func TestTonemapOutputRange(t *testing.T) {
	out := Tonemap(hdrTestImage(32, 32), nil)
	for i, v := range out.Pix {
		if v < 0 || v > 1 {
			t.Fatalf("pixel %d out of display range: %g", i, v)
		}
	}
}

func TestTonemapBrightnessOrdered(t *testing.T) {
	// With a fixed exposure scale, scaling the radiance up must brighten the
	// output: tonemap(k·I) is a brightness-ordered family in k.
	base := hdrTestImage(32, 32)
	opt := &TonemapOptions{Scale: 1}
	prev := -1.0
	for _, k := range []float32{0.25, 0.5, 1, 2, 4, 8} {
		scaled := NewImage(base.W, base.H)
		for i, v := range base.Pix {
			scaled.Pix[i] = v * k
		}
		mean := meanPix(Tonemap(scaled, opt))
		if mean <= prev {
			t.Fatalf("k=%g: mean %g not greater than previous %g", k, mean, prev)
		}
		prev = mean
	}
}

func TestTonemapExposureNormalization(t *testing.T) {
	// The derived scale maps the median onto the key, so globally rescaled
	// radiance tone-maps to (nearly) the same display image.
	base := hdrTestImage(32, 32)
	scaled := NewImage(base.W, base.H)
	for i, v := range base.Pix {
		scaled.Pix[i] = v * 16
	}
	a := Tonemap(base, nil)
	b := Tonemap(scaled, nil)
	for i := range a.Pix {
		if diff := math.Abs(float64(a.Pix[i] - b.Pix[i])); diff > 1e-4 {
			t.Fatalf("pixel %d: %g vs %g", i, a.Pix[i], b.Pix[i])
		}
	}
}

func TestTonemapPure(t *testing.T) {
	img := hdrTestImage(16, 16)
	a := Tonemap(img, nil)
	b := Tonemap(img, nil)
	if !float32SliceEqual(a.Pix, b.Pix) {
		t.Fatal("tonemap is not deterministic")
	}
}

func TestTonemapScaleMonotonicInKey(t *testing.T) {
	img := hdrTestImage(16, 16)
	if TonemapScale(img, 0.09) >= TonemapScale(img, 0.36) {
		t.Fatal("scale not increasing with key")
	}
}
