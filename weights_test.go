package intrinsichdr

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultManifest(t *testing.T) {
	m := DefaultManifest()
	if len(m.Models) != 6 {
		t.Fatalf("%d models, want 6", len(m.Models))
	}
	seen := map[string]bool{}
	for _, mw := range m.Models {
		if !strings.HasPrefix(mw.URL, weightsReleaseURL+"/") {
			t.Fatalf("URL %q not under release", mw.URL)
		}
		if seen[mw.File] {
			t.Fatalf("duplicate file %q", mw.File)
		}
		seen[mw.File] = true
	}
	for _, f := range []string{WeightDequantize, WeightOrdinal, WeightMerge, WeightAlbedo, WeightShading, WeightRefine} {
		if !seen[f] {
			t.Fatalf("manifest missing %q", f)
		}
	}
}

func TestLoadManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.json")
	data, err := json.Marshal(DefaultManifest())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if m.Version != "weights-v1" || len(m.Models) != 6 {
		t.Fatalf("got version %q, %d models", m.Version, len(m.Models))
	}

	empty := filepath.Join(t.TempDir(), "empty.json")
	if err := os.WriteFile(empty, []byte(`{"version":"x"}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadManifest(empty); err == nil {
		t.Fatal("expected error for manifest without models")
	}
}

func testManifest(url string, withSum bool) (*WeightsManifest, map[string][]byte) {
	payloads := map[string][]byte{
		"a.onnx": []byte("weights for a"),
		"b.onnx": []byte("weights for b"),
	}
	m := &WeightsManifest{Version: "test"}
	for file, body := range payloads {
		mw := ModelWeight{Name: file, File: file, URL: url + "/" + file}
		if withSum {
			sum := sha256.Sum256(body)
			mw.SHA256 = hex.EncodeToString(sum[:])
		}
		m.Models = append(m.Models, mw)
	}
	return m, payloads
}

func TestFetchWeights(t *testing.T) {
	var hits int
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_, payloads := testManifest(srv.URL, false)
		body, ok := payloads[filepath.Base(r.URL.Path)]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	m, payloads := testManifest(srv.URL, true)
	dir := t.TempDir()
	if err := FetchWeights(context.Background(), m, dir); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	for file, body := range payloads {
		got, err := os.ReadFile(filepath.Join(dir, file))
		if err != nil {
			t.Fatalf("read %s: %v", file, err)
		}
		if string(got) != string(body) {
			t.Fatalf("%s: got %q want %q", file, got, body)
		}
	}
	if err := VerifyWeights(m, dir); err != nil {
		t.Fatalf("verify: %v", err)
	}

	// Verified files are not fetched again.
	before := hits
	if err := FetchWeights(context.Background(), m, dir); err != nil {
		t.Fatalf("refetch: %v", err)
	}
	if hits != before {
		t.Fatalf("%d extra requests for present files", hits-before)
	}
}

func TestFetchWeightsRejectsCorruptDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("tampered payload"))
	}))
	defer srv.Close()

	m, _ := testManifest(srv.URL, true)
	dir := t.TempDir()
	if err := FetchWeights(context.Background(), m, dir); err == nil {
		t.Fatal("expected digest mismatch error")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".tmp") {
			t.Fatalf("corrupt download left behind: %s", e.Name())
		}
	}
}

func TestFetchWeightsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	m, _ := testManifest(srv.URL, false)
	if err := FetchWeights(context.Background(), m, t.TempDir()); err == nil {
		t.Fatal("expected error for 404 response")
	}
}

func TestVerifyWeightsMissingFile(t *testing.T) {
	m, _ := testManifest("http://invalid", false)
	if err := VerifyWeights(m, t.TempDir()); err == nil {
		t.Fatal("expected error for missing weight files")
	}
}
