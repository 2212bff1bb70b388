package intrinsichdr

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// blendHighlights composites reconstructed highlights onto the input.
//
// The LDR image is first brought onto the HDR intensity scale with a
// least-squares fit of its CIELAB lightness against the HDR lightness, then
// the two are mixed by the highlight mask: reconstructed content where
// highlights were clipped, scaled original everywhere else.
func blendHighlights(ldr, hdr *Image, mask *Plane) (*Image, error) {
	if !ldr.sameShape(hdr) {
		return nil, errors.New("blend: image shapes do not match")
	}
	if mask.W != ldr.W || mask.H != ldr.H {
		return nil, errors.New("blend: mask shape does not match")
	}

	scale := lightnessScale(ldr, hdr)

	out := NewImage(ldr.W, ldr.H)
	n := ldr.W * ldr.H
	for i := 0; i < n; i++ {
		m := mask.Pix[i]
		for c := 0; c < 3; c++ {
			out.Pix[i*3+c] = m*hdr.Pix[i*3+c] + (1-m)*ldr.Pix[i*3+c]*scale
		}
	}
	return out, nil
}

// lightnessScale solves min_s ||s·L_ldr − L_hdr||² in closed form.
func lightnessScale(ldr, hdr *Image) float32 {
	lLDR := lightnessPlane(ldr)
	lHDR := lightnessPlane(hdr)

	a := make([]float64, len(lLDR.Pix))
	b := make([]float64, len(lHDR.Pix))
	for i := range lLDR.Pix {
		a[i] = float64(lLDR.Pix[i])
		b[i] = float64(lHDR.Pix[i])
	}
	den := floats.Dot(a, a)
	if den < lumEps {
		return 1
	}
	return float32(floats.Dot(a, b) / den)
}
