package intrinsichdr

import (
	"math"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// decompose splits a linear image into an inverse-shading plane and an albedo
// image. The ordinal network is evaluated at a coarse base scale and at full
// processing scale; the merge network reconciles both estimates into the final
// inverse shading. Shading is exchanged in inverse form 1/(s+1), so a value of
// 1 means black and values near 0 mean very bright.
func decompose(linear *Image, ord, mrg Model, baseRes int) (*Plane, *Image, error) {
	if ord == nil || mrg == nil {
		return nil, nil, errors.New("decompose: missing models")
	}
	w, h := linear.W, linear.H
	if w%modelAlign != 0 || h%modelAlign != 0 {
		return nil, nil, errors.Errorf("decompose: dimensions %dx%d not aligned to %d", w, h, modelAlign)
	}
	if baseRes <= 0 {
		baseRes = defaultBaseRes
	}

	clamped := NewImage(w, h)
	for i, v := range linear.Pix {
		clamped.Pix[i] = clamp01(v)
	}

	klog.V(1).Infof("decompose: ordinal estimate at %dx%d", w, h)
	fullEst, err := runOrdinal(clamped, ord, w, h)
	if err != nil {
		return nil, nil, err
	}

	bw, bh := baseSize(w, h, baseRes)
	klog.V(1).Infof("decompose: ordinal estimate at base %dx%d", bw, bh)
	baseIn := resizeImage(clamped, bw, bh, InterpolationBilinear)
	baseEst, err := runOrdinal(baseIn, ord, bw, bh)
	if err != nil {
		return nil, nil, err
	}
	baseUp := resizePlane(baseEst, w, h, InterpolationBilinear)

	r, g, b := imagePlanes(clamped)
	merged, err := mrg.Run(packNCHW(w, h, r, g, b, baseUp.Pix, fullEst.Pix))
	if err != nil {
		return nil, nil, errors.Wrap(err, "decompose: merge")
	}
	invShading, err := tensorPlane(merged, w, h)
	if err != nil {
		return nil, nil, errors.Wrap(err, "decompose: merge")
	}
	for i, v := range invShading.Pix {
		invShading.Pix[i] = clampRange(v, shadingEps, 1)
	}

	albedo := albedoFromShading(linear, invShading)
	return invShading, albedo, nil
}

func runOrdinal(img *Image, ord Model, w, h int) (*Plane, error) {
	r, g, b := imagePlanes(img)
	out, err := ord.Run(packNCHW(w, h, r, g, b))
	if err != nil {
		return nil, errors.Wrap(err, "decompose: ordinal")
	}
	p, err := tensorPlane(out, w, h)
	if err != nil {
		return nil, errors.Wrap(err, "decompose: ordinal")
	}
	return p, nil
}

// baseSize scales the longest side to baseRes and aligns both dimensions.
func baseSize(w, h, baseRes int) (int, int) {
	longest := math.Max(float64(w), float64(h))
	s := float64(baseRes) / longest
	return roundAlign(float64(w) * s), roundAlign(float64(h) * s)
}

// albedoFromShading derives albedo = linear / shading with shading recovered
// from its inverse form.
func albedoFromShading(linear *Image, invShading *Plane) *Image {
	out := NewImage(linear.W, linear.H)
	n := linear.W * linear.H
	for i := 0; i < n; i++ {
		sh := 1.0/invShading.Pix[i] - 1.0
		if sh < shadingEps {
			sh = shadingEps
		}
		out.Pix[i*3] = linear.Pix[i*3] / sh
		out.Pix[i*3+1] = linear.Pix[i*3+1] / sh
		out.Pix[i*3+2] = linear.Pix[i*3+2] / sh
	}
	return out
}

func clampRange(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
