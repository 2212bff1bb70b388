// Package nn wraps ONNX Runtime sessions behind a small float32 NCHW API.
package nn

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"k8s.io/klog/v2"
)

// Config controls runtime initialization.
type Config struct {
	// LibraryPath overrides the onnxruntime shared library location.
	// Empty uses the loader default (or ONNXRUNTIME_SHARED_LIBRARY_PATH).
	LibraryPath string
	// DisableGPU skips the CUDA execution provider probe.
	DisableGPU bool
	// IntraOpThreads limits intra-op parallelism; zero keeps the runtime default.
	IntraOpThreads int
}

// Tensor is a dense float32 tensor in NCHW layout.
type Tensor struct {
	Shape []int64
	Data  []float32
}

var (
	envOnce sync.Once
	envErr  error
)

func initEnvironment(libraryPath string) error {
	envOnce.Do(func() {
		if libraryPath == "" {
			libraryPath = os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")
		}
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		envErr = ort.InitializeEnvironment()
	})
	return envErr
}

// Runtime owns the session options shared by all loaded models.
type Runtime struct {
	opts    *ort.SessionOptions
	useCUDA bool
}

// Open initializes the ONNX Runtime environment and probes for CUDA.
// The CUDA execution provider is enabled when available; otherwise execution
// stays on CPU.
func Open(cfg Config) (*Runtime, error) {
	if err := initEnvironment(cfg.LibraryPath); err != nil {
		return nil, errors.Wrap(err, "initialize onnxruntime")
	}
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "session options")
	}
	if cfg.IntraOpThreads > 0 {
		if err := opts.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
			opts.Destroy()
			return nil, errors.Wrap(err, "set intra-op threads")
		}
	}
	rt := &Runtime{opts: opts}
	if !cfg.DisableGPU {
		cudaOpts, err := ort.NewCUDAProviderOptions()
		if err == nil {
			if err := opts.AppendExecutionProviderCUDA(cudaOpts); err == nil {
				rt.useCUDA = true
			} else {
				klog.V(1).Infof("CUDA provider unavailable, using CPU: %v", err)
			}
			cudaOpts.Destroy()
		} else {
			klog.V(1).Infof("CUDA provider options unavailable, using CPU: %v", err)
		}
	}
	return rt, nil
}

// CUDAEnabled reports whether sessions will run on the CUDA provider.
func (rt *Runtime) CUDAEnabled() bool { return rt.useCUDA }

// Close releases the shared session options. Loaded sessions stay valid.
func (rt *Runtime) Close() error {
	if rt.opts != nil {
		rt.opts.Destroy()
		rt.opts = nil
	}
	return nil
}

// Session is a loaded ONNX model.
type Session struct {
	path    string
	inputs  []string
	outputs []string
	sess    *ort.DynamicAdvancedSession
}

// Load opens the model at path, discovering its input and output names.
func (rt *Runtime) Load(path string) (*Session, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrap(err, "model file")
	}
	inputsInfo, outputsInfo, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, errors.Wrapf(err, "inspect %s", path)
	}
	inputs := make([]string, len(inputsInfo))
	for i, info := range inputsInfo {
		inputs[i] = info.Name
	}
	outputs := make([]string, len(outputsInfo))
	for i, info := range outputsInfo {
		outputs[i] = info.Name
	}
	sess, err := ort.NewDynamicAdvancedSession(path, inputs, outputs, rt.opts)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", path)
	}
	return &Session{path: path, inputs: inputs, outputs: outputs, sess: sess}, nil
}

// Run executes the model on the given inputs, returning copies of all outputs.
func (s *Session) Run(inputs []*Tensor) ([]*Tensor, error) {
	if len(inputs) != len(s.inputs) {
		return nil, errors.Errorf("%s expects %d inputs, got %d", s.path, len(s.inputs), len(inputs))
	}
	ortInputs := make([]ort.Value, len(inputs))
	for i, in := range inputs {
		t, err := ort.NewTensor(ort.NewShape(in.Shape...), in.Data)
		if err != nil {
			for _, v := range ortInputs[:i] {
				v.Destroy()
			}
			return nil, errors.Wrap(err, "input tensor")
		}
		ortInputs[i] = t
	}
	defer func() {
		for _, v := range ortInputs {
			v.Destroy()
		}
	}()

	ortOutputs := make([]ort.Value, len(s.outputs))
	if err := s.sess.Run(ortInputs, ortOutputs); err != nil {
		return nil, errors.Wrapf(err, "run %s", s.path)
	}
	defer func() {
		for _, v := range ortOutputs {
			if v != nil {
				v.Destroy()
			}
		}
	}()

	out := make([]*Tensor, len(ortOutputs))
	for i, v := range ortOutputs {
		t, ok := v.(*ort.Tensor[float32])
		if !ok {
			return nil, errors.Errorf("%s output %d is not float32", s.path, i)
		}
		shape := t.GetShape()
		data := make([]float32, len(t.GetData()))
		copy(data, t.GetData())
		out[i] = &Tensor{Shape: append([]int64(nil), shape...), Data: data}
	}
	return out, nil
}

// Close releases the session.
func (s *Session) Close() error {
	if s.sess != nil {
		s.sess.Destroy()
		s.sess = nil
	}
	return nil
}
