package intrinsichdr

import (
	"math"
	"testing"
)

func TestProcessingSizeAligned(t *testing.T) {
	cases := []struct {
		w, h, maxRes   int
		wantW, wantH   int
	}{
		{1920, 1080, 4096, 1920, 1088},
		{100, 75, 4096, 96, 64},
		{8192, 4096, 4096, 4096, 2048},
		{5000, 3000, 1024, 1024, 608},
		{10, 10, 4096, 32, 32},
		{640, 480, 0, 640, 480},
	}
	for _, c := range cases {
		gotW, gotH := processingSize(c.w, c.h, c.maxRes)
		if gotW != c.wantW || gotH != c.wantH {
			t.Fatalf("processingSize(%d, %d, %d) = %d, %d, want %d, %d",
				c.w, c.h, c.maxRes, gotW, gotH, c.wantW, c.wantH)
		}
		if gotW%modelAlign != 0 || gotH%modelAlign != 0 {
			t.Fatalf("processingSize(%d, %d, %d) = %d, %d, not aligned to %d",
				c.w, c.h, c.maxRes, gotW, gotH, modelAlign)
		}
	}
}

func TestResizeImageDims(t *testing.T) {
	src := hdrTestImage(100, 60)
	for _, interp := range []Interpolation{
		InterpolationNearest,
		InterpolationBilinear,
		InterpolationBicubic,
		InterpolationMitchellNetravali,
		InterpolationLanczos2,
		InterpolationLanczos3,
	} {
		out := resizeImage(src, 64, 32, interp)
		if out.W != 64 || out.H != 32 {
			t.Fatalf("interp %d: got %dx%d", interp, out.W, out.H)
		}
		if len(out.Pix) != 64*32*3 {
			t.Fatalf("interp %d: pix len %d", interp, len(out.Pix))
		}
	}
}

func TestResizeImageSameSizeCopies(t *testing.T) {
	src := hdrTestImage(20, 20)
	out := resizeImage(src, 20, 20, InterpolationBilinear)
	if &out.Pix[0] == &src.Pix[0] {
		t.Fatal("same-size resize must not alias the source buffer")
	}
	for i := range src.Pix {
		if out.Pix[i] != src.Pix[i] {
			t.Fatalf("pixel %d: got %g want %g", i, out.Pix[i], src.Pix[i])
		}
	}
}

func TestResizePreservesFlatField(t *testing.T) {
	src := NewImage(50, 40)
	for i := range src.Pix {
		src.Pix[i] = 0.5
	}
	out := resizeImage(src, 96, 64, InterpolationBilinear)
	for i, v := range out.Pix {
		if math.Abs(float64(v)-0.5) > 1e-5 {
			t.Fatalf("pixel %d: got %g want 0.5", i, v)
		}
	}
	down := resizeImage(src, 32, 32, InterpolationLanczos3)
	for i, v := range down.Pix {
		if math.Abs(float64(v)-0.5) > 1e-4 {
			t.Fatalf("downscaled pixel %d: got %g want 0.5", i, v)
		}
	}
}

func TestResizePlaneDims(t *testing.T) {
	src := &Plane{W: 30, H: 20, Pix: make([]float32, 30*20)}
	for i := range src.Pix {
		src.Pix[i] = float32(i) / float32(len(src.Pix))
	}
	out := resizePlane(src, 64, 48, InterpolationBilinear)
	if out.W != 64 || out.H != 48 || len(out.Pix) != 64*48 {
		t.Fatalf("got %dx%d len %d", out.W, out.H, len(out.Pix))
	}
}

func TestRoundAlign(t *testing.T) {
	cases := []struct {
		in   float64
		want int
	}{
		{1, 32},
		{31, 32},
		{47, 32},
		{48, 64},
		{383.9, 384},
		{4096, 4096},
	}
	for _, c := range cases {
		if got := roundAlign(c.in); got != c.want {
			t.Fatalf("roundAlign(%g) = %d, want %d", c.in, got, c.want)
		}
	}
}
