package cargo

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"krypton/internal/domain"

	"go.uber.org/zap"
)

const downloadTimeout = 30 * time.Second

// Fetcher streams cargo artifacts into a server volume.
type Fetcher struct {
	httpClient *http.Client
	log        *zap.Logger
}

func NewFetcher(log *zap.Logger) *Fetcher {
	return &Fetcher{
		httpClient: &http.Client{},
		log:        log.Named("cargo"),
	}
}

// SafeRelPath normalizes a cargo target path: cleaned, separators
// unified, and any leading parent traversal stripped so the result
// always lands inside the volume.
func SafeRelPath(target string) string {
	cleaned := filepath.Clean(filepath.FromSlash(target))
	cleaned = strings.TrimPrefix(cleaned, string(filepath.Separator))
	for strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		cleaned = strings.TrimPrefix(cleaned, ".."+string(filepath.Separator))
	}
	if cleaned == ".." {
		cleaned = "."
	}
	return cleaned
}

// Ship downloads every cargo entry into the volume, applying the
// readonly file-mode policy. Hidden/noDelete/customProperties are not
// acted on here and are not written to the server record.
// Each shipped file is reported to sink so consoles attached during
// an install see the cargo land alongside the script output.
func (f *Fetcher) Ship(ctx context.Context, volumePath string, cargo []domain.CargoFile, sink func(line string)) error {
	for _, entry := range cargo {
		if err := f.fetchOne(ctx, volumePath, entry); err != nil {
			return fmt.Errorf("cargo %q: %w", entry.TargetPath, err)
		}
		if sink != nil {
			sink(fmt.Sprintf("Shipped cargo file %s", entry.TargetPath))
		}
		f.log.Info("shipped cargo file",
			zap.String("target", entry.TargetPath),
			zap.Bool("readonly", entry.Properties.Readonly))
	}
	return nil
}

func (f *Fetcher) fetchOne(ctx context.Context, volumePath string, entry domain.CargoFile) error {
	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	dest := filepath.Join(volumePath, SafeRelPath(entry.TargetPath))
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("could not create parent directory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, entry.URL, nil)
	if err != nil {
		return err
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download error: status %d", resp.StatusCode)
	}

	out, err := os.Create(dest)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		return fmt.Errorf("download error: %w", err)
	}
	if err := out.Close(); err != nil {
		return err
	}

	if entry.Properties.Readonly {
		if err := os.Chmod(dest, 0444); err != nil {
			return fmt.Errorf("could not mark %s readonly: %w", dest, err)
		}
	}
	return nil
}
