package intrinsichdr

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	_ "image/gif" // register GIF decoder

	"github.com/nfnt/resize"
	"github.com/pkg/errors"

	_ "golang.org/x/image/tiff" // register TIFF decoder
	_ "golang.org/x/image/webp" // register WebP decoder
)

// LoadOptions controls LDR image loading.
type LoadOptions struct {
	// MaxRes pre-scales inputs whose longest side exceeds it before float
	// conversion. Zero disables pre-scaling.
	MaxRes int
}

// LoadImage reads an image file into a float RGB buffer.
//
// 8-bit formats (JPEG, PNG, GIF, TIFF, WebP) are returned gamma-encoded in
// [0,1]; OpenEXR inputs are returned as-is (already linear).
func LoadImage(path string, opt *LoadOptions) (*Image, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, errors.Wrap(err, "read image")
	}
	if isEXRData(data) {
		img, err := DecodeEXR(data)
		if err != nil {
			return nil, errors.Wrapf(err, "decode %s", path)
		}
		return img, nil
	}
	if bytes.HasPrefix(data, []byte("#?")) {
		img, err := DecodeHDR(data)
		if err != nil {
			return nil, errors.Wrapf(err, "decode %s", path)
		}
		return img, nil
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	if opt != nil && opt.MaxRes > 0 {
		b := src.Bounds()
		if b.Dx() > opt.MaxRes || b.Dy() > opt.MaxRes {
			src = resize.Thumbnail(uint(opt.MaxRes), uint(opt.MaxRes), src, resize.Lanczos3)
		}
	}
	return imageToFloat(src), nil
}

// isEXRData reports whether data starts with the OpenEXR magic number.
func isEXRData(data []byte) bool {
	return len(data) >= 4 && binary.LittleEndian.Uint32(data[:4]) == exrMagic
}

// imageToFloat converts an 8/16-bit image to interleaved float RGB in [0,1]
// without touching the transfer function.
func imageToFloat(src image.Image) *Image {
	b := src.Bounds()
	out := NewImage(b.Dx(), b.Dy())
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bb, _ := src.At(x, y).RGBA()
			// RGBA returns 16-bit values in [0, 65535].
			out.Pix[i] = float32(r) / 65535.0
			out.Pix[i+1] = float32(g) / 65535.0
			out.Pix[i+2] = float32(bb) / 65535.0
			i += 3
		}
	}
	return out
}

// floatToImage converts a display-referred buffer (values in [0,1]) to an
// 8-bit RGBA image.
func floatToImage(src *Image) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, src.W, src.H))
	n := src.W * src.H
	for i := 0; i < n; i++ {
		out.Pix[i*4] = floatToByte(src.Pix[i*3])
		out.Pix[i*4+1] = floatToByte(src.Pix[i*3+1])
		out.Pix[i*4+2] = floatToByte(src.Pix[i*3+2])
		out.Pix[i*4+3] = 0xFF
	}
	return out
}

func floatToByte(v float32) uint8 {
	v = clamp01(v) * 255.0
	return uint8(v + 0.5)
}

// SavePreview writes a display-referred buffer as PNG or JPEG, chosen by the
// output extension.
func SavePreview(path string, img *Image) error {
	var buf bytes.Buffer
	rgba := floatToImage(img)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		if err := jpeg.Encode(&buf, rgba, &jpeg.Options{Quality: 95}); err != nil {
			return errors.Wrap(err, "encode preview")
		}
	default:
		if err := png.Encode(&buf, rgba); err != nil {
			return errors.Wrap(err, "encode preview")
		}
	}
	return errors.Wrap(os.WriteFile(filepath.Clean(path), buf.Bytes(), 0o644), "write preview")
}
