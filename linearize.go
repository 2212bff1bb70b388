package intrinsichdr

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Linearize converts a gamma-encoded buffer in [0,1] to scene-linear radiance.
//
// With a dequantization model the network first undoes 8-bit quantization
// banding; the inverse sRGB transfer is applied afterwards. Without a model
// the analytic inverse transfer alone is used. The output always has the
// input's spatial dimensions.
func Linearize(img *Image, m Model) (*Image, error) {
	if img == nil || img.W <= 0 || img.H <= 0 {
		return nil, errors.New("linearize: empty image")
	}
	if len(img.Pix) != img.W*img.H*3 {
		return nil, errors.New("linearize: image buffer size mismatch")
	}

	dequantized := img
	if m != nil {
		klog.V(1).Infof("linearize: dequantizing %dx%d", img.W, img.H)
		r, g, b := imagePlanes(img)
		out, err := m.Run(packNCHW(img.W, img.H, r, g, b))
		if err != nil {
			return nil, errors.Wrap(err, "linearize")
		}
		dequantized, err = tensorImage(out, img.W, img.H)
		if err != nil {
			return nil, errors.Wrap(err, "linearize")
		}
	}

	out := NewImage(img.W, img.H)
	for i, v := range dequantized.Pix {
		out.Pix[i] = srgbInvOetf(clamp01(v))
	}
	return out, nil
}
