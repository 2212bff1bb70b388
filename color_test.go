package intrinsichdr

import (
	"math"
	"testing"
)

func TestSRGBTransferRoundTrip(t *testing.T) {
	for i := 0; i <= 100; i++ {
		v := float32(i) / 100
		got := srgbOetf(srgbInvOetf(v))
		if math.Abs(float64(got-v)) > 1e-5 {
			t.Fatalf("round trip of %g gives %g", v, got)
		}
	}
}

func TestSRGBTransferEndpoints(t *testing.T) {
	if srgbInvOetf(0) != 0 || srgbOetf(0) != 0 {
		t.Fatal("zero must map to zero")
	}
	if math.Abs(float64(srgbInvOetf(1))-1) > 1e-6 {
		t.Fatalf("srgbInvOetf(1) = %g", srgbInvOetf(1))
	}
	if math.Abs(float64(srgbOetf(1))-1) > 1e-6 {
		t.Fatalf("srgbOetf(1) = %g", srgbOetf(1))
	}
}

func TestLuminanceWeights(t *testing.T) {
	if got := luminance(rgb{r: 1, g: 1, b: 1}); math.Abs(float64(got)-1) > 1e-5 {
		t.Fatalf("luminance of white = %g", got)
	}
	if luminance(rgb{g: 1}) <= luminance(rgb{r: 1}) {
		t.Fatal("green must dominate red")
	}
	if luminance(rgb{r: 1}) <= luminance(rgb{b: 1}) {
		t.Fatal("red must dominate blue")
	}
}

func TestLabLightness(t *testing.T) {
	white := labLightness(rgb{r: 1, g: 1, b: 1})
	if math.Abs(float64(white)-100) > 0.1 {
		t.Fatalf("L* of white = %g, want 100", white)
	}
	if got := labLightness(rgb{}); math.Abs(float64(got)) > 1e-4 {
		t.Fatalf("L* of black = %g, want 0", got)
	}
	mid := labLightness(rgb{r: 0.18, g: 0.18, b: 0.18})
	if mid <= 0 || mid >= white {
		t.Fatalf("L* of mid gray = %g", mid)
	}
}

func TestMax3(t *testing.T) {
	if max3(1, 2, 3) != 3 || max3(3, 2, 1) != 3 || max3(2, 3, 1) != 3 {
		t.Fatal("max3 order dependence")
	}
	if max3(-1, -2, -3) != -1 {
		t.Fatal("max3 of negatives")
	}
}
