package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"

	"github.com/vearutop/intrinsichdr"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	switch os.Args[1] {
	case "run":
		if err := runPipeline(os.Args[2:]); err != nil {
			fail(err)
		}
	case "linearize":
		if err := runLinearize(os.Args[2:]); err != nil {
			fail(err)
		}
	case "tonemap":
		if err := runTonemap(os.Args[2:]); err != nil {
			fail(err)
		}
	case "fetch-weights":
		if err := runFetchWeights(os.Args[2:]); err != nil {
			fail(err)
		}
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: ihdrtool <command> [args]")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  run           -in <file|dir|glob> -out <dir> -weights <dir> [-res 4096] [-scale 1.0]")
	fmt.Fprintln(os.Stderr, "                [-format exr|hdr] [-intrinsics] [-preview] [-cpu] [-no-dequant] [-v N]")
	fmt.Fprintln(os.Stderr, "  linearize     -in <file|dir|glob> -out <dir> -weights <dir> [-cpu] [-v N]")
	fmt.Fprintln(os.Stderr, "  tonemap       -in input.exr -out preview.png [-key 0.18] [-tm-scale S]")
	fmt.Fprintln(os.Stderr, "  fetch-weights -dir <dir> [-manifest manifest.json] [-v N]")
}

func runPipeline(args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	inPath := fs.String("in", "", "input image file, directory or glob")
	outDir := fs.String("out", "", "output directory")
	weightsDir := fs.String("weights", "", "weights directory")
	res := fs.Int("res", 0, "maximum processing resolution")
	scale := fs.Float64("scale", 1.0, "exposure scale during processing")
	format := fs.String("format", "exr", "output format: exr or hdr")
	intrinsics := fs.Bool("intrinsics", false, "store intrinsic components")
	preview := fs.Bool("preview", false, "store tone-mapped preview PNG")
	cpu := fs.Bool("cpu", false, "force CPU execution")
	noDequant := fs.Bool("no-dequant", false, "skip the dequantization network")
	ortLib := fs.String("ort-lib", "", "onnxruntime shared library path")
	verbosity := fs.Int("v", 0, "log verbosity")
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *inPath == "" || *outDir == "" || *weightsDir == "" {
		return errors.New("missing required arguments")
	}
	if *format != "exr" && *format != "hdr" {
		return errors.New("format must be exr or hdr")
	}
	setVerbosity(*verbosity)

	images, err := listImages(*inPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		return err
	}

	p, err := intrinsichdr.NewPipeline(*weightsDir, &intrinsichdr.PipelineConfig{
		PipelineOptions: intrinsichdr.PipelineOptions{
			MaxRes:    *res,
			ProcScale: float32(*scale),
		},
		ORTLibrary:   *ortLib,
		DisableGPU:   *cpu,
		NoDequantize: *noDequant,
	})
	if err != nil {
		return err
	}
	defer p.Close()

	bar := progressbar.Default(int64(len(images)))
	for _, img := range images {
		if err := processOne(p, img, *outDir, *format, *intrinsics, *preview); err != nil {
			return fmt.Errorf("%s: %w", img, err)
		}
		_ = bar.Add(1)
	}
	return nil
}

func processOne(p *intrinsichdr.Pipeline, path, outDir, format string, intrinsics, preview bool) error {
	in, err := intrinsichdr.LoadImage(path, nil)
	if err != nil {
		return err
	}
	res, err := p.Process(in)
	if err != nil {
		return err
	}

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	out := filepath.Join(outDir, stem+"."+format)
	if format == "hdr" {
		err = intrinsichdr.WriteHDRFile(out, res.HDR)
	} else {
		err = intrinsichdr.WriteEXRFile(out, res.HDR)
	}
	if err != nil {
		return err
	}

	if preview {
		tm := intrinsichdr.Tonemap(res.HDR, nil)
		if err := intrinsichdr.SavePreview(filepath.Join(outDir, stem+"_preview.png"), tm); err != nil {
			return err
		}
	}
	if !intrinsics {
		return nil
	}
	writes := []struct {
		suffix string
		img    *intrinsichdr.Image
	}{
		{"_alb_hdr.exr", res.AlbedoHDR},
		{"_sh_hdr.exr", planeImage(res.ShadingHDR)},
		{"_alb_ldr.exr", res.AlbedoLDR},
		{"_sh_ldr.exr", planeImage(res.ShadingLDR)},
	}
	for _, w := range writes {
		if err := intrinsichdr.WriteEXRFile(filepath.Join(outDir, stem+w.suffix), w.img); err != nil {
			return err
		}
	}
	return intrinsichdr.SavePreview(filepath.Join(outDir, stem+"_mask.png"), planeImage(res.Mask))
}

func planeImage(p *intrinsichdr.Plane) *intrinsichdr.Image {
	out := intrinsichdr.NewImage(p.W, p.H)
	for i, v := range p.Pix {
		out.Pix[i*3] = v
		out.Pix[i*3+1] = v
		out.Pix[i*3+2] = v
	}
	return out
}

func runLinearize(args []string) error {
	fs := flag.NewFlagSet("linearize", flag.ContinueOnError)
	inPath := fs.String("in", "", "input image file, directory or glob")
	outDir := fs.String("out", "", "output directory")
	weightsDir := fs.String("weights", "", "weights root directory")
	cpu := fs.Bool("cpu", false, "force CPU execution")
	ortLib := fs.String("ort-lib", "", "onnxruntime shared library path")
	verbosity := fs.Int("v", 0, "log verbosity")
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *inPath == "" || *outDir == "" || *weightsDir == "" {
		return errors.New("missing required arguments")
	}
	setVerbosity(*verbosity)

	images, err := listImages(*inPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		return err
	}

	model, err := intrinsichdr.LoadModelFile(
		filepath.Join(*weightsDir, intrinsichdr.WeightDequantize),
		&intrinsichdr.PipelineConfig{DisableGPU: *cpu, ORTLibrary: *ortLib},
	)
	if err != nil {
		return err
	}
	defer model.Close()

	bar := progressbar.Default(int64(len(images)))
	for _, path := range images {
		in, err := intrinsichdr.LoadImage(path, nil)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		linear, err := intrinsichdr.Linearize(in, model)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		if err := intrinsichdr.WriteEXRFile(filepath.Join(*outDir, stem+".exr"), linear); err != nil {
			return err
		}
		_ = bar.Add(1)
	}
	return nil
}

func runTonemap(args []string) error {
	fs := flag.NewFlagSet("tonemap", flag.ContinueOnError)
	inPath := fs.String("in", "", "input HDR image (EXR or Radiance)")
	outPath := fs.String("out", "", "output preview (PNG or JPEG)")
	key := fs.Float64("key", 0, "target middle-gray for exposure")
	tmScale := fs.Float64("tm-scale", 0, "fixed exposure scale, overrides -key")
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *inPath == "" || *outPath == "" {
		return errors.New("missing required arguments")
	}
	img, err := intrinsichdr.LoadImage(*inPath, nil)
	if err != nil {
		return err
	}
	tm := intrinsichdr.Tonemap(img, &intrinsichdr.TonemapOptions{
		Key:   float32(*key),
		Scale: float32(*tmScale),
	})
	return intrinsichdr.SavePreview(*outPath, tm)
}

func runFetchWeights(args []string) error {
	fs := flag.NewFlagSet("fetch-weights", flag.ContinueOnError)
	dir := fs.String("dir", "", "destination directory")
	manifestPath := fs.String("manifest", "", "manifest JSON, defaults to the release manifest")
	verbosity := fs.Int("v", 0, "log verbosity")
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dir == "" {
		return errors.New("missing required arguments")
	}
	setVerbosity(*verbosity)

	var manifest *intrinsichdr.WeightsManifest
	if *manifestPath != "" {
		m, err := intrinsichdr.LoadManifest(*manifestPath)
		if err != nil {
			return err
		}
		manifest = m
	}
	return intrinsichdr.FetchWeights(context.Background(), manifest, *dir)
}

func listImages(in string) ([]string, error) {
	var files []string
	if st, err := os.Stat(in); err == nil && st.IsDir() {
		entries, err := os.ReadDir(in)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			switch strings.ToLower(filepath.Ext(e.Name())) {
			case ".jpg", ".jpeg", ".png", ".gif", ".tif", ".tiff", ".webp", ".exr", ".hdr":
				files = append(files, filepath.Join(in, e.Name()))
			}
		}
	} else {
		matches, err := filepath.Glob(in)
		if err != nil {
			return nil, err
		}
		files = matches
	}
	if len(files) == 0 {
		return nil, errors.New("no input images found")
	}
	sort.Strings(files)
	return files, nil
}

func setVerbosity(level int) {
	if level <= 0 {
		return
	}
	var fs flag.FlagSet
	klog.InitFlags(&fs)
	_ = fs.Set("v", strconv.Itoa(level))
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
