package intrinsichdr

import (
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func writeTestPNG(t *testing.T, path string, w, h int) {
	t.Helper()
	src := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			src.Set(x, y, color.RGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 128, A: 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, src); err != nil {
		t.Fatalf("encode: %v", err)
	}
}

func TestLoadImagePNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.png")
	writeTestPNG(t, path, 20, 10)
	img, err := LoadImage(path, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if img.W != 20 || img.H != 10 {
		t.Fatalf("dims: %dx%d", img.W, img.H)
	}
	// Blue channel is constant 128 across the test image.
	want := 128.0 / 255.0
	for i := 0; i < img.W*img.H; i++ {
		if math.Abs(float64(img.Pix[i*3+2])-want) > 1e-3 {
			t.Fatalf("pixel %d blue = %g, want %g", i, img.Pix[i*3+2], want)
		}
	}
}

func TestLoadImagePreScales(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.png")
	writeTestPNG(t, path, 200, 100)
	img, err := LoadImage(path, &LoadOptions{MaxRes: 50})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if img.W > 50 || img.H > 50 {
		t.Fatalf("dims after pre-scale: %dx%d", img.W, img.H)
	}
	if img.W != 50 || img.H != 25 {
		t.Fatalf("aspect not preserved: %dx%d", img.W, img.H)
	}
}

func TestLoadImageMissingFile(t *testing.T) {
	if _, err := LoadImage(filepath.Join(t.TempDir(), "nope.png"), nil); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestImageToFloatRange(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 2, 1))
	src.Set(0, 0, color.RGBA{A: 255})
	src.Set(1, 0, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	img := imageToFloat(src)
	if img.Pix[0] != 0 || img.Pix[1] != 0 || img.Pix[2] != 0 {
		t.Fatalf("black pixel = %v", img.Pix[:3])
	}
	for c := 0; c < 3; c++ {
		if math.Abs(float64(img.Pix[3+c])-1) > 1e-6 {
			t.Fatalf("white pixel channel %d = %g", c, img.Pix[3+c])
		}
	}
}

func TestSavePreviewRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := NewImage(8, 8)
	for i := range src.Pix {
		src.Pix[i] = 0.25
	}
	for _, name := range []string{"out.png", "out.jpg"} {
		path := filepath.Join(dir, name)
		if err := SavePreview(path, src); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		got, err := LoadImage(path, nil)
		if err != nil {
			t.Fatalf("%s: reload: %v", name, err)
		}
		if got.W != 8 || got.H != 8 {
			t.Fatalf("%s: dims %dx%d", name, got.W, got.H)
		}
		if math.Abs(float64(got.Pix[0])-0.25) > 0.02 {
			t.Fatalf("%s: pixel 0 = %g, want ~0.25", name, got.Pix[0])
		}
	}
}

func TestFloatToByteClamps(t *testing.T) {
	cases := []struct {
		in   float32
		want uint8
	}{
		{-1, 0},
		{0, 0},
		{0.5, 128},
		{1, 255},
		{4, 255},
	}
	for _, c := range cases {
		if got := floatToByte(c.in); got != c.want {
			t.Fatalf("floatToByte(%g) = %d, want %d", c.in, got, c.want)
		}
	}
}
