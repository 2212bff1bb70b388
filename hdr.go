package intrinsichdr

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Radiance RGBE (.hdr) support. Files are written with flat (uncompressed)
// scanlines; both flat and new-style RLE scanlines are read.

const radianceHeader = "#?RADIANCE\nFORMAT=32-bit_rle_rgbe\n\n"

// EncodeHDR serializes a linear image as Radiance RGBE.
func EncodeHDR(img *Image) ([]byte, error) {
	if img == nil || img.W <= 0 || img.H <= 0 {
		return nil, errors.New("invalid image")
	}
	var buf bytes.Buffer
	buf.WriteString(radianceHeader)
	fmt.Fprintf(&buf, "-Y %d +X %d\n", img.H, img.W)
	for y := 0; y < img.H; y++ {
		for x := 0; x < img.W; x++ {
			px := toRGBE(img.at(x, y))
			buf.Write(px[:])
		}
	}
	return buf.Bytes(), nil
}

// DecodeHDR parses a Radiance RGBE file into a linear image.
func DecodeHDR(data []byte) (*Image, error) {
	r := bufio.NewReader(bytes.NewReader(data))
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, errors.Wrap(err, "read radiance header")
	}
	if !strings.HasPrefix(line, "#?") {
		return nil, errors.New("not a Radiance file")
	}
	formatOK := false
	for {
		line, err = r.ReadString('\n')
		if err != nil {
			return nil, errors.Wrap(err, "read radiance header")
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		if line == "FORMAT=32-bit_rle_rgbe" {
			formatOK = true
		}
	}
	if !formatOK {
		return nil, errors.New("unsupported Radiance format")
	}
	line, err = r.ReadString('\n')
	if err != nil {
		return nil, errors.Wrap(err, "read radiance resolution")
	}
	var h, w int
	if _, err := fmt.Sscanf(strings.TrimSpace(line), "-Y %d +X %d", &h, &w); err != nil {
		return nil, errors.New("unsupported Radiance orientation")
	}
	if w <= 0 || h <= 0 {
		return nil, errors.New("invalid Radiance dimensions")
	}

	img := NewImage(w, h)
	row := make([]byte, w*4)
	for y := 0; y < h; y++ {
		if err := readRGBEScanline(r, row, w); err != nil {
			return nil, errors.Wrapf(err, "scanline %d", y)
		}
		for x := 0; x < w; x++ {
			img.set(x, y, fromRGBE(row[x*4], row[x*4+1], row[x*4+2], row[x*4+3]))
		}
	}
	return img, nil
}

func readRGBEScanline(r *bufio.Reader, row []byte, w int) error {
	var head [4]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return err
	}
	if head[0] == 2 && head[1] == 2 && int(head[2])<<8|int(head[3]) == w {
		// New-style RLE: four separate component streams.
		for c := 0; c < 4; c++ {
			x := 0
			for x < w {
				count, err := r.ReadByte()
				if err != nil {
					return err
				}
				if count > 128 {
					v, err := r.ReadByte()
					if err != nil {
						return err
					}
					n := int(count) - 128
					if x+n > w {
						return errors.New("RLE run overflow")
					}
					for i := 0; i < n; i++ {
						row[(x+i)*4+c] = v
					}
					x += n
				} else {
					n := int(count)
					if n == 0 || x+n > w {
						return errors.New("invalid RLE literal run")
					}
					for i := 0; i < n; i++ {
						v, err := r.ReadByte()
						if err != nil {
							return err
						}
						row[(x+i)*4+c] = v
					}
					x += n
				}
			}
		}
		return nil
	}
	// Flat scanline: head already holds the first pixel.
	copy(row[:4], head[:])
	_, err := io.ReadFull(r, row[4:w*4])
	return err
}

func toRGBE(c rgb) [4]byte {
	m := max3(c.r, c.g, c.b)
	if m < 1e-32 {
		return [4]byte{}
	}
	frac, exp := math.Frexp(float64(m))
	scale := float32(frac) * 256.0 / m
	return [4]byte{
		rgbeByte(c.r * scale),
		rgbeByte(c.g * scale),
		rgbeByte(c.b * scale),
		byte(exp + 128),
	}
}

func rgbeByte(v float32) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}

func fromRGBE(r, g, b, e byte) rgb {
	if e == 0 {
		return rgb{}
	}
	f := float32(math.Ldexp(1, int(e)-(128+8)))
	return rgb{
		r: (float32(r) + 0.5) * f,
		g: (float32(g) + 0.5) * f,
		b: (float32(b) + 0.5) * f,
	}
}

// WriteHDRFile encodes img as Radiance RGBE and writes it to path.
func WriteHDRFile(path string, img *Image) error {
	data, err := EncodeHDR(img)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Clean(path), data, 0o644)
}
