package intrinsichdr

import (
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
	"k8s.io/klog/v2"
)

// reconstruction carries the extended-range intrinsics at processing
// resolution before they are resampled back to the input size.
type reconstruction struct {
	hdr           *Image
	albedoHDR     *Image
	invShadingHDR *Plane
	albedoLDR     *Image
	invShadingLDR *Plane
	mask          *Plane
}

// reconstruct extends the dynamic range of albedo and shading independently
// and recombines them, refining the product with a third network.
func reconstruct(ldr *Image, albedoRaw *Image, invShadingRaw *Plane, albedoM, shadingM, refineM Model, procScale float32) (*reconstruction, error) {
	if albedoM == nil || shadingM == nil || refineM == nil {
		return nil, errors.New("reconstruct: missing models")
	}
	w, h := ldr.W, ldr.H
	if !ldr.sameShape(albedoRaw) || invShadingRaw.W != w || invShadingRaw.H != h {
		return nil, errors.New("reconstruct: component shapes do not match")
	}
	if procScale <= 0 {
		procScale = 1
	}

	n := w * h
	clamped := NewImage(w, h)
	for i, v := range ldr.Pix {
		clamped.Pix[i] = clamp01(v * procScale)
	}

	// Highlight guide: ramps from 0 at the knee to 1 at clipping.
	mask := NewPlane(w, h)
	for i := 0; i < n; i++ {
		m := max3(
			highlightRamp(clamped.Pix[i*3]),
			highlightRamp(clamped.Pix[i*3+1]),
			highlightRamp(clamped.Pix[i*3+2]),
		)
		mask.Pix[i] = m
	}

	// The decomposition is scale-ambiguous; normalize albedo so its 95%
	// quantile lands at 0.95 and fold the inverse into the shading.
	albScale := albedoQuantileTarget / quantile(albedoRaw.Pix, albedoQuantile)
	albedoLDR := NewImage(w, h)
	for i, v := range albedoRaw.Pix {
		albedoLDR.Pix[i] = v * albScale
	}
	invShadingLDR := NewPlane(w, h)
	for i, v := range invShadingRaw.Pix {
		sh := 1.0/v - 1.0
		invShadingLDR.Pix[i] = 1.0 / (sh/albScale + 1.0)
	}

	lr, lg, lb := imagePlanes(clamped)
	ar, ag, ab := imagePlanes(albedoLDR)

	klog.V(1).Infof("reconstruct: extending albedo range")
	albedoOut, err := albedoM.Run(packNCHW(w, h, lr, lg, lb, ar, ag, ab, mask.Pix))
	if err != nil {
		return nil, errors.Wrap(err, "reconstruct: albedo")
	}
	albedoHDR, err := tensorImage(albedoOut, w, h)
	if err != nil {
		return nil, errors.Wrap(err, "reconstruct: albedo")
	}

	klog.V(1).Infof("reconstruct: extending shading range")
	shadingOut, err := shadingM.Run(packNCHW(w, h, lr, lg, lb, invShadingLDR.Pix))
	if err != nil {
		return nil, errors.Wrap(err, "reconstruct: shading")
	}
	invShadingHDR, err := tensorPlane(shadingOut, w, h)
	if err != nil {
		return nil, errors.Wrap(err, "reconstruct: shading")
	}
	for i, v := range invShadingHDR.Pix {
		invShadingHDR.Pix[i] = clampRange(v, shadingEps, 1)
	}

	// Recombine: HDR = albedo_hdr × shading_hdr, networks exchange HDR in
	// inverse form 1/(x+1).
	product := NewImage(w, h)
	invProduct := NewImage(w, h)
	for i := 0; i < n; i++ {
		sh := 1.0/invShadingHDR.Pix[i] - 1.0
		for c := 0; c < 3; c++ {
			v := albedoHDR.Pix[i*3+c] * sh
			product.Pix[i*3+c] = v
			invProduct.Pix[i*3+c] = 1.0 / (v + 1.0)
		}
	}

	klog.V(1).Infof("reconstruct: refining")
	ir, ig, ib := imagePlanes(invProduct)
	hr, hg, hb := imagePlanes(albedoHDR)
	refineOut, err := refineM.Run(packNCHW(w, h, lr, lg, lb, ir, ig, ib, hr, hg, hb, invShadingHDR.Pix))
	if err != nil {
		return nil, errors.Wrap(err, "reconstruct: refine")
	}
	refined, err := tensorImage(refineOut, w, h)
	if err != nil {
		return nil, errors.Wrap(err, "reconstruct: refine")
	}
	hdr := NewImage(w, h)
	for i, v := range refined.Pix {
		if v < shadingEps {
			v = shadingEps
		}
		hdr.Pix[i] = 1.0/v - 1.0
	}

	return &reconstruction{
		hdr:           hdr,
		albedoHDR:     albedoHDR,
		invShadingHDR: invShadingHDR,
		albedoLDR:     albedoLDR,
		invShadingLDR: invShadingLDR,
		mask:          mask,
	}, nil
}

func highlightRamp(v float32) float32 {
	return clamp01(v-highlightKnee) / (1 - highlightKnee)
}

// quantile returns the p-quantile of vals without mutating them.
func quantile(vals []float32, p float64) float32 {
	sorted := make([]float64, len(vals))
	for i, v := range vals {
		sorted[i] = float64(v)
	}
	sort.Float64s(sorted)
	q := stat.Quantile(p, stat.Empirical, sorted, nil)
	if q <= 0 {
		q = 1
	}
	return float32(q)
}
