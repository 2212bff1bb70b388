package intrinsichdr

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// TonemapOptions controls the display compression of HDR radiance.
type TonemapOptions struct {
	// Key is the target middle-gray; the exposure scale maps the image's
	// median luminance onto it. Zero uses the photographic default 0.18.
	Key float32
	// Scale overrides the derived exposure scale when positive.
	Scale float32
}

// Tonemap compresses HDR radiance to a displayable [0,1] buffer with a
// Reinhard curve followed by the sRGB transfer. It is a pure function of its
// inputs: no state is kept between calls.
func Tonemap(img *Image, opt *TonemapOptions) *Image {
	key := float32(defaultTonemapKey)
	scale := float32(0)
	if opt != nil {
		if opt.Key > 0 {
			key = opt.Key
		}
		if opt.Scale > 0 {
			scale = opt.Scale
		}
	}
	if scale <= 0 {
		scale = TonemapScale(img, key)
	}

	out := NewImage(img.W, img.H)
	for i, v := range img.Pix {
		out.Pix[i] = srgbOetf(reinhard(v, scale))
	}
	return out
}

// TonemapScale derives the exposure scale mapping the median luminance of img
// onto the given key.
func TonemapScale(img *Image, key float32) float32 {
	if key <= 0 {
		key = defaultTonemapKey
	}
	n := img.W * img.H
	lums := make([]float64, n)
	for i := 0; i < n; i++ {
		c := rgb{r: img.Pix[i*3], g: img.Pix[i*3+1], b: img.Pix[i*3+2]}
		lums[i] = float64(luminance(c))
	}
	sort.Float64s(lums)
	median := stat.Quantile(0.5, stat.Empirical, lums, nil)
	if median < lumEps {
		median = lumEps
	}
	return key / float32(median)
}

// reinhard is the per-channel compression curve: s·v / (1 + s·v).
func reinhard(v, scale float32) float32 {
	if v < 0 {
		v = 0
	}
	sv := scale * v
	return sv / (1 + sv)
}
