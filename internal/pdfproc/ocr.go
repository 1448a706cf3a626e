package pdfproc

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/resolve-works/insight-worker/internal/domain"
)

// OCROptions is the fixed OCR configuration record — a dynamic config
// object collapsed into enumerated, always-applied options.
type OCROptions struct {
	// Binary is the ocrmypdf-compatible executable to invoke.
	Binary string
}

// DefaultOCROptions points at the ocrmypdf binary on PATH.
var DefaultOCROptions = OCROptions{Binary: "ocrmypdf"}

// Run OCRs and lossless-optimizes src into dst in an isolated child
// process, so a native-library crash or memory leak in the OCR engine
// cannot poison the worker. The flag set below is fixed policy, not
// per-call configuration: skip pages with an existing text layer, preserve
// layout, invalidate digital signatures, single-threaded, uncompressed
// web-linearized output (not PDF/A — the front-end needs byte-range
// requests).
func Run(ctx context.Context, opts OCROptions, src, dst string) error {
	args := []string{
		"--output-type", "pdf",
		"--color-conversion-strategy", "RGB",
		"--jobs", "1",
		"--skip-text",
		"--optimize", "2",
		"--invalidate-digital-signatures",
		"--continue-on-soft-render-error",
		src, dst,
	}

	cmd := exec.CommandContext(ctx, opts.Binary, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return domain.Corrupted(fmt.Errorf("ocr process failed: %w: %s", err, out))
	}
	return nil
}
