package pdf

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
)

const defaultDPI = 300

// Rasterizer renders single pages to PNG with poppler's pdftoppm.
type Rasterizer struct {
	binary string
	dpi    int
}

func NewRasterizer(binary string, dpi int) *Rasterizer {
	if binary == "" {
		binary = "pdftoppm"
	}
	if dpi <= 0 {
		dpi = defaultDPI
	}
	return &Rasterizer{binary: binary, dpi: dpi}
}

// RasterizePage implements document.Rasterizer. The process is killed when
// ctx is done.
func (r *Rasterizer) RasterizePage(ctx context.Context, data []byte, page int) ([]byte, error) {
	dir, err := os.MkdirTemp("", "raster-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	src := filepath.Join(dir, "in.pdf")
	if err := os.WriteFile(src, data, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write pdf: %w", err)
	}

	root := filepath.Join(dir, "page")
	n := strconv.Itoa(page)
	cmd := exec.CommandContext(ctx, r.binary,
		"-f", n, "-l", n,
		"-r", strconv.Itoa(r.dpi),
		"-png", "-singlefile",
		src, root,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("pdftoppm page %d: %w: %s", page, err, bytes.TrimSpace(stderr.Bytes()))
	}

	img, err := os.ReadFile(root + ".png")
	if err != nil {
		return nil, fmt.Errorf("failed to read rendered page %d: %w", page, err)
	}
	return img, nil
}
