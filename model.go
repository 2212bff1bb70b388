package intrinsichdr

import (
	"github.com/pkg/errors"

	"github.com/vearutop/intrinsichdr/internal/nn"
)

// Tensor is a dense float32 NCHW tensor exchanged with models.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// Model is the narrow contract a pipeline stage has with a pretrained
// network: one concatenated input tensor in, one output tensor out. The
// network internals are opaque.
type Model interface {
	Run(in *Tensor) (*Tensor, error)
	Close() error
}

type ortModel struct {
	name string
	sess *nn.Session
	rt   *nn.Runtime // set only for standalone models; closed with the session
}

func (m *ortModel) Run(in *Tensor) (*Tensor, error) {
	outs, err := m.sess.Run([]*nn.Tensor{{Shape: in.Shape, Data: in.Data}})
	if err != nil {
		return nil, errors.Wrap(err, m.name)
	}
	if len(outs) < 1 {
		return nil, errors.Errorf("%s produced no outputs", m.name)
	}
	return &Tensor{Shape: outs[0].Shape, Data: outs[0].Data}, nil
}

func (m *ortModel) Close() error {
	err := m.sess.Close()
	if m.rt != nil {
		_ = m.rt.Close()
		m.rt = nil
	}
	return err
}

// LoadModelFile opens a single ONNX model for standalone stage use, such as
// running the linearization network on its own. Closing the model releases
// its runtime resources.
func LoadModelFile(path string, cfg *PipelineConfig) (Model, error) {
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
	sess, err := rt.Load(path)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	return &ortModel{name: path, sess: sess, rt: rt}, nil
}

// packNCHW assembles a [1,C,H,W] tensor from planar channels of length w*h.
func packNCHW(w, h int, chans ...[]float32) *Tensor {
	data := make([]float32, 0, len(chans)*w*h)
	for _, c := range chans {
		data = append(data, c...)
	}
	return &Tensor{Shape: []int64{1, int64(len(chans)), int64(h), int64(w)}, Data: data}
}

// imagePlanes splits interleaved RGB into three planar channels.
func imagePlanes(img *Image) (r, g, b []float32) {
	n := img.W * img.H
	r = make([]float32, n)
	g = make([]float32, n)
	b = make([]float32, n)
	for i := 0; i < n; i++ {
		r[i] = img.Pix[i*3]
		g[i] = img.Pix[i*3+1]
		b[i] = img.Pix[i*3+2]
	}
	return r, g, b
}

// tensorImage interprets a [1,3,H,W] tensor as an interleaved RGB image.
func tensorImage(t *Tensor, w, h int) (*Image, error) {
	if err := checkTensorShape(t, 3, w, h); err != nil {
		return nil, err
	}
	n := w * h
	out := NewImage(w, h)
	for i := 0; i < n; i++ {
		out.Pix[i*3] = t.Data[i]
		out.Pix[i*3+1] = t.Data[n+i]
		out.Pix[i*3+2] = t.Data[2*n+i]
	}
	return out, nil
}

// tensorPlane interprets a [1,1,H,W] tensor as a single-channel plane.
func tensorPlane(t *Tensor, w, h int) (*Plane, error) {
	if err := checkTensorShape(t, 1, w, h); err != nil {
		return nil, err
	}
	out := NewPlane(w, h)
	copy(out.Pix, t.Data)
	return out, nil
}

func checkTensorShape(t *Tensor, c, w, h int) error {
	if t == nil {
		return errors.New("nil tensor")
	}
	if len(t.Shape) != 4 || t.Shape[0] != 1 || t.Shape[1] != int64(c) ||
		t.Shape[2] != int64(h) || t.Shape[3] != int64(w) {
		return errors.Errorf("unexpected tensor shape %v, want [1 %d %d %d]", t.Shape, c, h, w)
	}
	if len(t.Data) != c*w*h {
		return errors.Errorf("tensor data length %d does not match shape", len(t.Data))
	}
	return nil
}
