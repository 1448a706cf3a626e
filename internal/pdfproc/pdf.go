// Package pdfproc is the PDF toolchain: MIME validation, structural repair,
// page-range slicing, OCR (via an isolated child process), and per-page text
// extraction — the critical path of the ingest handler.
package pdfproc

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"unicode"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/resolve-works/insight-worker/internal/domain"
)

// SniffMIME reports the content-sniffed MIME type of a local file's first
// bytes. net/http.DetectContentType recognizes the %PDF- magic prefix
// directly, so no third-party sniffing library is needed for this one
// signature.
func SniffMIME(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %q: %w", path, err)
	}
	defer f.Close()

	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read %q: %w", path, err)
	}
	return http.DetectContentType(buf[:n]), nil
}

// PageCount opens path and returns its page count, or a domain.Corrupted
// error if the page count cannot be read.
func PageCount(path string) (int, error) {
	ctx, err := api.ReadContextFile(path)
	if err != nil {
		return 0, domain.Corrupted(fmt.Errorf("read context: %w", err))
	}
	if ctx.PageCount <= 0 {
		return 0, domain.Corrupted(fmt.Errorf("page count is %d", ctx.PageCount))
	}
	return ctx.PageCount, nil
}

// Repair streams src through a "print to new PDF" structural-repair pass,
// writing the recovered document to dst. This is the only step that can
// recover damaged-but-openable PDFs.
func Repair(src, dst string) error {
	conf := model.NewDefaultConfiguration()
	if err := api.OptimizeFile(src, dst, conf); err != nil {
		return domain.Corrupted(fmt.Errorf("repair pdf: %w", err))
	}
	return nil
}

// Slice trims path in place to the half-open window [from, to) of 0-based
// page indices. pdfcpu's page selection is 1-based and inclusive, so the
// conversion below is from+1..to (to is exclusive in our model, inclusive
// in pdfcpu's selector written as "from-to").
func Slice(path string, from, to int) error {
	if from == 0 && to <= 0 {
		return nil // nothing to trim
	}
	selector := fmt.Sprintf("%d-%d", from+1, to)
	conf := model.NewDefaultConfiguration()

	tmp := path + ".sliced"
	f, err := os.Open(path)
	if err != nil {
		return domain.Corrupted(fmt.Errorf("open for slice: %w", err))
	}
	out, err := os.Create(tmp)
	if err != nil {
		f.Close()
		return fmt.Errorf("create sliced output: %w", err)
	}

	err = api.Trim(f, out, []string{selector}, conf)
	f.Close()
	out.Close()
	if err != nil {
		os.Remove(tmp)
		return domain.Corrupted(fmt.Errorf("slice pdf to %s: %w", selector, err))
	}
	return os.Rename(tmp, path)
}

// ExtractText returns the per-page text of path, in reading order, one
// entry per page. pdfcpu has no high-level text extraction API, so each
// page's raw content stream is walked for text-showing operators.
func ExtractText(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", path, err)
	}
	defer f.Close()

	conf := model.NewDefaultConfiguration()
	ctx, err := api.ReadValidateAndOptimize(f, conf)
	if err != nil {
		return nil, fmt.Errorf("pdfcpu read: %w", err)
	}

	pages := make([]string, ctx.PageCount)
	for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
		pages[pageNr-1] = extractPageText(ctx, pageNr)
	}
	return pages, nil
}

func extractPageText(ctx *model.Context, pageNr int) string {
	r, err := pdfcpu.ExtractPageContent(ctx, pageNr)
	if err != nil {
		return ""
	}
	data, err := io.ReadAll(r)
	if err != nil || len(data) == 0 {
		return ""
	}
	return extractTextFromStream(data)
}

// pdfStringRe matches PDF string literals in parentheses: (text here).
var pdfStringRe = regexp.MustCompile(`\(([^)]*)\)`)

// extractTextFromStream parses PDF content-stream operators for text.
func extractTextFromStream(data []byte) string {
	var sb strings.Builder

	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		switch {
		case bytes.HasSuffix(line, []byte("Tj")), bytes.HasSuffix(line, []byte("TJ")):
			for _, m := range pdfStringRe.FindAllSubmatch(line, -1) {
				if text := decodePDFString(m[1]); text != "" {
					sb.WriteString(text)
				}
			}
		case bytes.HasSuffix(line, []byte("'")) && bytes.Contains(line, []byte("(")):
			for _, m := range pdfStringRe.FindAllSubmatch(line, -1) {
				if text := decodePDFString(m[1]); text != "" {
					sb.WriteByte('\n')
					sb.WriteString(text)
				}
			}
		case bytes.HasSuffix(line, []byte("Td")), bytes.HasSuffix(line, []byte("TD")):
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
		case bytes.Equal(line, []byte("T*")):
			sb.WriteByte('\n')
		}
	}

	return cleanText(sb.String())
}

func decodePDFString(raw []byte) string {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] == '\\' && i+1 < len(raw) {
			i++
			switch raw[i] {
			case 'n':
				sb.WriteByte('\n')
			case 'r':
				sb.WriteByte('\r')
			case 't':
				sb.WriteByte('\t')
			case '\\':
				sb.WriteByte('\\')
			case '(':
				sb.WriteByte('(')
			case ')':
				sb.WriteByte(')')
			default:
				if raw[i] >= '0' && raw[i] <= '7' {
					val := int(raw[i] - '0')
					for j := 0; j < 2 && i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7'; j++ {
						i++
						val = val*8 + int(raw[i]-'0')
					}
					sb.WriteByte(byte(val))
				} else {
					sb.WriteByte(raw[i])
				}
			}
		} else {
			sb.WriteByte(raw[i])
		}
	}
	return sb.String()
}

// cleanText normalizes whitespace and strips NUL bytes / non-printable
// runes from extracted text, matching the page-upsert contract's "contents
// with NUL bytes stripped".
func cleanText(text string) string {
	var sb strings.Builder
	prevSpace := false
	for _, r := range text {
		if r == 0 {
			continue
		}
		if unicode.IsSpace(r) {
			if !prevSpace && sb.Len() > 0 {
				sb.WriteByte(' ')
				prevSpace = true
			}
		} else if unicode.IsPrint(r) {
			sb.WriteRune(r)
			prevSpace = false
		}
	}
	return strings.TrimSpace(sb.String())
}
