package intrinsichdr

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// weightsReleaseURL is the fixed release the pretrained weights are fetched
// from at setup time. There are no network calls during inference.
const weightsReleaseURL = "https://github.com/vearutop/intrinsichdr/releases/download/weights-v1"

// ModelWeight describes one downloadable weight file.
type ModelWeight struct {
	Name   string `json:"name"`
	File   string `json:"file"`
	URL    string `json:"url"`
	SHA256 string `json:"sha256,omitempty"`
}

// WeightsManifest lists the weight files a pipeline needs.
type WeightsManifest struct {
	Version string        `json:"version"`
	Models  []ModelWeight `json:"models"`
}

// DefaultManifest returns the manifest for the published release weights.
func DefaultManifest() *WeightsManifest {
	files := []struct{ name, file string }{
		{"dequantization", WeightDequantize},
		{"ordinal shading", WeightOrdinal},
		{"shading merge", WeightMerge},
		{"albedo extension", WeightAlbedo},
		{"shading extension", WeightShading},
		{"refinement", WeightRefine},
	}
	m := &WeightsManifest{Version: "weights-v1"}
	for _, f := range files {
		m.Models = append(m.Models, ModelWeight{
			Name: f.name,
			File: f.file,
			URL:  fmt.Sprintf("%s/%s", weightsReleaseURL, f.file),
		})
	}
	return m
}

// LoadManifest reads a manifest from a JSON file.
func LoadManifest(path string) (*WeightsManifest, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, errors.Wrap(err, "read manifest")
	}
	var m WeightsManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "parse manifest")
	}
	if len(m.Models) == 0 {
		return nil, errors.New("manifest lists no models")
	}
	return &m, nil
}

// FetchWeights downloads all manifest entries into dir, skipping files that
// already exist and pass digest verification. Downloads go to a temporary
// file first and are renamed only after verification.
func FetchWeights(ctx context.Context, m *WeightsManifest, dir string) error {
	if m == nil {
		m = DefaultManifest()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "create weights dir")
	}
	for _, mw := range m.Models {
		dst := filepath.Join(dir, mw.File)
		if st, err := os.Stat(dst); err == nil {
			if mw.SHA256 == "" || verifyFile(dst, mw.SHA256) == nil {
				klog.V(1).Infof("weights: %s present (%s), skipping", mw.File, humanize.Bytes(uint64(st.Size())))
				continue
			}
			klog.V(1).Infof("weights: %s failed verification, refetching", mw.File)
		}
		if err := fetchOne(ctx, mw, dst); err != nil {
			return errors.Wrapf(err, "fetch %s", mw.Name)
		}
	}
	return nil
}

func fetchOne(ctx context.Context, mw ModelWeight, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mw.URL, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("GET %s: %s", mw.URL, resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	bar := progressbar.DefaultBytes(resp.ContentLength, mw.File)
	_, err = io.Copy(io.MultiWriter(tmp, bar), resp.Body)
	closeErr := tmp.Close()
	if err != nil {
		return err
	}
	if closeErr != nil {
		return closeErr
	}
	if mw.SHA256 != "" {
		if err := verifyFile(tmp.Name(), mw.SHA256); err != nil {
			return err
		}
	}
	return os.Rename(tmp.Name(), dst)
}

func verifyFile(path, wantHex string) error {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return err
	}
	got := hex.EncodeToString(h.Sum(nil))
	if got != wantHex {
		return errors.Errorf("sha256 mismatch for %s: got %s want %s", filepath.Base(path), got, wantHex)
	}
	return nil
}

// VerifyWeights checks that every manifest file exists in dir and matches its
// digest when one is present.
func VerifyWeights(m *WeightsManifest, dir string) error {
	if m == nil {
		m = DefaultManifest()
	}
	for _, mw := range m.Models {
		dst := filepath.Join(dir, mw.File)
		if _, err := os.Stat(dst); err != nil {
			return errors.Wrapf(err, "weight %s", mw.Name)
		}
		if mw.SHA256 != "" {
			if err := verifyFile(dst, mw.SHA256); err != nil {
				return err
			}
		}
	}
	return nil
}
