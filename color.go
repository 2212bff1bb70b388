package intrinsichdr

import "math"

type rgb struct {
	r, g, b float32
}

func log2f(v float32) float32 { return float32(math.Log2(float64(v))) }
func exp2f(v float32) float32 { return float32(math.Exp2(float64(v))) }

func srgbInvOetf(v float32) float32 {
	if v <= 0.04045 {
		return v / 12.92
	}
	return float32(math.Pow(float64((v+0.055)/1.055), 2.4))
}

func srgbOetf(v float32) float32 {
	if v <= 0.0031308 {
		return 12.92 * v
	}
	return 1.055*float32(math.Pow(float64(v), 1.0/2.4)) - 0.055
}

// luminance is BT.709 relative luminance of linear RGB.
func luminance(c rgb) float32 {
	return 0.2126*c.r + 0.7152*c.g + 0.0722*c.b
}

// D65 reference white.
const (
	labXn = 0.95047
	labYn = 1.0
	labZn = 1.08883
)

func rgbToXYZ(v rgb) (float32, float32, float32) {
	// sRGB D65 linear RGB -> XYZ.
	return 0.4123908*v.r + 0.35758433*v.g + 0.1804808*v.b,
		0.212639*v.r + 0.71516865*v.g + 0.07219232*v.b,
		0.019330818*v.r + 0.11919478*v.g + 0.95053214*v.b
}

func labF(t float64) float64 {
	const delta = 6.0 / 29.0
	if t > delta*delta*delta {
		return math.Cbrt(t)
	}
	return t/(3*delta*delta) + 4.0/29.0
}

// labLightness returns the CIELAB L* channel (0..100) of linear RGB.
func labLightness(c rgb) float32 {
	_, y, _ := rgbToXYZ(c)
	return float32(116*labF(float64(y)/labYn) - 16)
}

// lightnessPlane computes L* for every pixel of a linear image.
func lightnessPlane(img *Image) *Plane {
	out := NewPlane(img.W, img.H)
	n := img.W * img.H
	for i := 0; i < n; i++ {
		c := rgb{r: img.Pix[i*3], g: img.Pix[i*3+1], b: img.Pix[i*3+2]}
		out.Pix[i] = labLightness(c)
	}
	return out
}

func clampRGB01(c rgb) rgb {
	return rgb{r: clamp01(c.r), g: clamp01(c.g), b: clamp01(c.b)}
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func max3(a, b, c float32) float32 {
	if a >= b && a >= c {
		return a
	}
	if b >= a && b >= c {
		return b
	}
	return c
}
