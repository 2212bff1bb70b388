package intrinsichdr

// Image stores an RGB image as interleaved float32 triplets.
// Gamma-encoded inputs live in [0,1]; linear radiance is unbounded above.
type Image struct {
	W, H int
	Pix  []float32 // len == W*H*3
}

// NewImage allocates a zeroed W×H RGB image.
func NewImage(w, h int) *Image {
	return &Image{W: w, H: h, Pix: make([]float32, w*h*3)}
}

func (m *Image) at(x, y int) rgb {
	if x < 0 {
		x = 0
	}
	if y < 0 {
		y = 0
	}
	if x >= m.W {
		x = m.W - 1
	}
	if y >= m.H {
		y = m.H - 1
	}
	i := (y*m.W + x) * 3
	return rgb{r: m.Pix[i], g: m.Pix[i+1], b: m.Pix[i+2]}
}

func (m *Image) set(x, y int, c rgb) {
	i := (y*m.W + x) * 3
	m.Pix[i] = c.r
	m.Pix[i+1] = c.g
	m.Pix[i+2] = c.b
}

// Clone returns a deep copy.
func (m *Image) Clone() *Image {
	out := &Image{W: m.W, H: m.H, Pix: make([]float32, len(m.Pix))}
	copy(out.Pix, m.Pix)
	return out
}

func (m *Image) sameShape(o *Image) bool {
	return o != nil && m.W == o.W && m.H == o.H
}

// Plane stores a single-channel float32 buffer (masks, shading).
type Plane struct {
	W, H int
	Pix  []float32 // len == W*H
}

// NewPlane allocates a zeroed W×H plane.
func NewPlane(w, h int) *Plane {
	return &Plane{W: w, H: h, Pix: make([]float32, w*h)}
}

func (p *Plane) at(x, y int) float32 {
	if x < 0 {
		x = 0
	}
	if y < 0 {
		y = 0
	}
	if x >= p.W {
		x = p.W - 1
	}
	if y >= p.H {
		y = p.H - 1
	}
	return p.Pix[y*p.W+x]
}

// Clone returns a deep copy.
func (p *Plane) Clone() *Plane {
	out := &Plane{W: p.W, H: p.H, Pix: make([]float32, len(p.Pix))}
	copy(out.Pix, p.Pix)
	return out
}

// Result carries the reconstructed HDR radiance and the intrinsic components
// produced along the way.
type Result struct {
	HDR *Image // blended HDR radiance, input resolution

	// Extended-range intrinsics, input resolution.
	AlbedoHDR  *Image
	ShadingHDR *Plane

	// LDR-range intrinsics from the decomposition, input resolution.
	AlbedoLDR  *Image
	ShadingLDR *Plane

	Mask *Plane // highlight mask used for blending
}
