package cargo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"krypton/internal/domain"

	"go.uber.org/zap"
)

func TestSafeRelPath(t *testing.T) {
	cases := map[string]string{
		"plugins/map.jar":       filepath.Join("plugins", "map.jar"),
		"../../etc/passwd":      filepath.Join("etc", "passwd"),
		"/absolute/file":        filepath.Join("absolute", "file"),
		"a/../b":                "b",
		"..":                    ".",
		"nested/../../escaping": "escaping",
	}
	for in, want := range cases {
		if got := SafeRelPath(in); got != want {
			t.Errorf("SafeRelPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestShipDownloadsAndAppliesMode(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("cargo-bytes"))
	}))
	defer ts.Close()

	volume := t.TempDir()
	f := NewFetcher(zap.NewNop())

	cargo := []domain.CargoFile{
		{URL: ts.URL, TargetPath: "plugins/map.jar"},
		{URL: ts.URL, TargetPath: "config/locked.yml", Properties: domain.CargoProperties{Readonly: true}},
	}

	var sunk []string
	sink := func(line string) { sunk = append(sunk, line) }

	if err := f.Ship(context.Background(), volume, cargo, sink); err != nil {
		t.Fatalf("Ship failed: %v", err)
	}

	if len(sunk) != 2 {
		t.Fatalf("Expected one sink line per cargo file, got %d: %v", len(sunk), sunk)
	}
	if !strings.Contains(sunk[0], "plugins/map.jar") {
		t.Errorf("Sink line must name the shipped file, got %q", sunk[0])
	}

	data, err := os.ReadFile(filepath.Join(volume, "plugins", "map.jar"))
	if err != nil {
		t.Fatalf("Expected downloaded file: %v", err)
	}
	if string(data) != "cargo-bytes" {
		t.Errorf("Expected streamed content, got %q", data)
	}

	info, err := os.Stat(filepath.Join(volume, "config", "locked.yml"))
	if err != nil {
		t.Fatalf("Expected readonly file: %v", err)
	}
	if info.Mode().Perm() != 0444 {
		t.Errorf("Expected mode 0444, got %v", info.Mode().Perm())
	}
}

func TestShipEscapingPathStaysInVolume(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	defer ts.Close()

	volume := t.TempDir()
	f := NewFetcher(zap.NewNop())

	err := f.Ship(context.Background(), volume, []domain.CargoFile{
		{URL: ts.URL, TargetPath: "../../outside.txt"},
	}, nil)
	if err != nil {
		t.Fatalf("Ship failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(volume, "outside.txt")); err != nil {
		t.Errorf("Expected traversal-stripped file inside volume: %v", err)
	}
	if _, err := os.Stat(filepath.Join(volume, "..", "..", "outside.txt")); err == nil {
		t.Errorf("File must never land outside the volume")
	}
}

func TestShipReportsHTTPFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	f := NewFetcher(zap.NewNop())
	err := f.Ship(context.Background(), t.TempDir(), []domain.CargoFile{
		{URL: ts.URL, TargetPath: "missing.jar"},
	}, nil)
	if err == nil {
		t.Fatalf("Expected error for 404 download")
	}
}
