package intrinsichdr

import (
	"path/filepath"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/vearutop/intrinsichdr/internal/nn"
)

// Conventional weight file names inside a weights directory.
const (
	WeightDequantize = "dequantize.onnx"
	WeightOrdinal    = "intrinsic_ord.onnx"
	WeightMerge      = "intrinsic_mrg.onnx"
	WeightAlbedo     = "albedo_hdr.onnx"
	WeightShading    = "shading_hdr.onnx"
	WeightRefine     = "refinement.onnx"
)

// Models groups the pretrained networks the pipeline chains together.
// Dequantize is optional; the analytic inverse transfer is used without it.
type Models struct {
	Dequantize Model
	Ordinal    Model
	Merge      Model
	Albedo     Model
	Shading    Model
	Refine     Model
}

// PipelineOptions controls pipeline geometry and exposure.
type PipelineOptions struct {
	// MaxRes caps the longest side during model processing. Default 4096.
	MaxRes int
	// BaseRes is the coarse scale for the ordinal shading estimate. Default 384.
	BaseRes int
	// ProcScale multiplies exposure before the reconstruction networks. Default 1.
	ProcScale float32
	// Interpolation used for pipeline resampling. Default bilinear.
	Interpolation Interpolation
}

// PipelineConfig adds runtime settings to PipelineOptions for NewPipeline.
type PipelineConfig struct {
	PipelineOptions

	// ORTLibrary overrides the ONNX Runtime shared library path.
	ORTLibrary string
	// DisableGPU forces CPU execution even when CUDA is available.
	DisableGPU bool
	// IntraOpThreads caps per-op parallelism inside the runtime.
	IntraOpThreads int
	// NoDequantize skips loading the dequantization network.
	NoDequantize bool
}

// Pipeline chains the linearization, decomposition and reconstruction stages.
// It owns the loaded models; Close releases them.
type Pipeline struct {
	models Models
	opt    PipelineOptions
	rt     *nn.Runtime
}

// NewPipeline loads the weight files from dir and prepares the runtime.
// All weight files are validated to exist before any session is created.
func NewPipeline(dir string, cfg *PipelineConfig) (*Pipeline, error) {
	if cfg == nil {
		cfg = &PipelineConfig{}
	}
	rt, err := nn.Open(nn.Config{
		LibraryPath:    cfg.ORTLibrary,
		DisableGPU:     cfg.DisableGPU,
		IntraOpThreads: cfg.IntraOpThreads,
	})
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("pipeline: CUDA enabled: %v", rt.CUDAEnabled())

	p := &Pipeline{opt: cfg.PipelineOptions, rt: rt}
	load := func(dst *Model, file string) error {
		sess, err := rt.Load(filepath.Join(dir, file))
		if err != nil {
			return err
		}
		*dst = &ortModel{name: file, sess: sess}
		return nil
	}
	files := []struct {
		dst  *Model
		file string
	}{
		{&p.models.Ordinal, WeightOrdinal},
		{&p.models.Merge, WeightMerge},
		{&p.models.Albedo, WeightAlbedo},
		{&p.models.Shading, WeightShading},
		{&p.models.Refine, WeightRefine},
	}
	if !cfg.NoDequantize {
		files = append(files, struct {
			dst  *Model
			file string
		}{&p.models.Dequantize, WeightDequantize})
	}
	for _, f := range files {
		if err := load(f.dst, f.file); err != nil {
			p.Close()
			return nil, err
		}
	}
	return p, nil
}

// NewPipelineFromModels builds a pipeline on already-loaded models. Useful
// for tests and for callers that manage model lifecycles themselves.
func NewPipelineFromModels(m Models, opt *PipelineOptions) *Pipeline {
	p := &Pipeline{models: m}
	if opt != nil {
		p.opt = *opt
	}
	return p
}

// Close releases all loaded models.
func (p *Pipeline) Close() error {
	for _, m := range []Model{
		p.models.Dequantize, p.models.Ordinal, p.models.Merge,
		p.models.Albedo, p.models.Shading, p.models.Refine,
	} {
		if m != nil {
			_ = m.Close()
		}
	}
	p.models = Models{}
	if p.rt != nil {
		_ = p.rt.Close()
		p.rt = nil
	}
	return nil
}

// Process reconstructs HDR radiance from a gamma-encoded LDR buffer in [0,1].
//
// The input is resampled to an aligned processing size, pushed through
// linearization, decomposition and reconstruction, resampled back and blended
// with the input's highlights. All outputs have the input's dimensions.
func (p *Pipeline) Process(input *Image) (*Result, error) {
	if input == nil || input.W <= 0 || input.H <= 0 {
		return nil, errors.New("pipeline: empty input")
	}
	if len(input.Pix) != input.W*input.H*3 {
		return nil, errors.New("pipeline: input buffer size mismatch")
	}
	if p.models.Ordinal == nil || p.models.Merge == nil ||
		p.models.Albedo == nil || p.models.Shading == nil || p.models.Refine == nil {
		return nil, errors.New("pipeline: models not loaded")
	}

	opt := p.opt
	if opt.MaxRes <= 0 {
		opt.MaxRes = defaultMaxRes
	}
	if opt.BaseRes <= 0 {
		opt.BaseRes = defaultBaseRes
	}
	if opt.ProcScale <= 0 {
		opt.ProcScale = 1
	}
	if opt.Interpolation == InterpolationNearest {
		opt.Interpolation = InterpolationBilinear
	}

	w, h := input.W, input.H
	clamped := NewImage(w, h)
	for i, v := range input.Pix {
		clamped.Pix[i] = clamp01(v)
	}

	procW, procH := processingSize(w, h, opt.MaxRes)
	klog.V(1).Infof("pipeline: processing %dx%d at %dx%d", w, h, procW, procH)
	proc := resizeImage(clamped, procW, procH, opt.Interpolation)

	linear, err := Linearize(proc, p.models.Dequantize)
	if err != nil {
		return nil, err
	}

	invShading, albedo, err := decompose(linear, p.models.Ordinal, p.models.Merge, opt.BaseRes)
	if err != nil {
		return nil, err
	}

	rec, err := reconstruct(linear, albedo, invShading,
		p.models.Albedo, p.models.Shading, p.models.Refine, opt.ProcScale)
	if err != nil {
		return nil, err
	}

	// Back to input resolution; blend reconstructed highlights onto the
	// linearized input.
	hdr := resizeImage(rec.hdr, w, h, opt.Interpolation)
	mask := resizePlane(rec.mask, w, h, opt.Interpolation)
	linearFull := NewImage(w, h)
	for i, v := range clamped.Pix {
		linearFull.Pix[i] = srgbInvOetf(v)
	}
	blended, err := blendHighlights(linearFull, hdr, mask)
	if err != nil {
		return nil, err
	}

	return &Result{
		HDR:        blended,
		AlbedoHDR:  resizeImage(rec.albedoHDR, w, h, opt.Interpolation),
		ShadingHDR: shadingFromInverse(resizePlane(rec.invShadingHDR, w, h, opt.Interpolation)),
		AlbedoLDR:  resizeImage(rec.albedoLDR, w, h, opt.Interpolation),
		ShadingLDR: shadingFromInverse(resizePlane(rec.invShadingLDR, w, h, opt.Interpolation)),
		Mask:       mask,
	}, nil
}

// shadingFromInverse converts an inverse-shading plane 1/(s+1) back to s.
func shadingFromInverse(inv *Plane) *Plane {
	out := NewPlane(inv.W, inv.H)
	for i, v := range inv.Pix {
		if v < shadingEps {
			v = shadingEps
		}
		out.Pix[i] = 1.0/v - 1.0
	}
	return out
}
