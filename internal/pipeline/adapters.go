package pipeline

import (
	"context"

	"github.com/resolve-works/insight-worker/internal/domain"
	"github.com/resolve-works/insight-worker/internal/pdfproc"
	"github.com/resolve-works/insight-worker/internal/search"
)

// pdfToolchainAdapter satisfies PDFToolchain against the package-level
// pdfproc functions, fixing the OCR policy to pdfproc.DefaultOCROptions.
type pdfToolchainAdapter struct {
	ocrOpts pdfproc.OCROptions
}

// NewPDFToolchain builds the adapter cmd/insight-worker wires into the
// pipeline.
func NewPDFToolchain(ocrOpts pdfproc.OCROptions) PDFToolchain {
	return pdfToolchainAdapter{ocrOpts: ocrOpts}
}

func (a pdfToolchainAdapter) SniffMIME(path string) (string, error)  { return pdfproc.SniffMIME(path) }
func (a pdfToolchainAdapter) PageCount(path string) (int, error)     { return pdfproc.PageCount(path) }
func (a pdfToolchainAdapter) Repair(src, dst string) error           { return pdfproc.Repair(src, dst) }
func (a pdfToolchainAdapter) Slice(path string, from, to int) error  { return pdfproc.Slice(path, from, to) }
func (a pdfToolchainAdapter) ExtractText(path string) ([]string, error) {
	return pdfproc.ExtractText(path)
}
func (a pdfToolchainAdapter) RunOCR(ctx context.Context, src, dst string) error {
	return pdfproc.Run(ctx, a.ocrOpts, src, dst)
}

// searchIndexAdapter satisfies SearchIndex against the concrete OpenSearch
// client, translating between pipeline's transport-agnostic SearchDocument
// and search.Document.
type searchIndexAdapter struct {
	idx *search.Index
}

// NewSearchIndex builds the adapter cmd/insight-worker wires into the
// pipeline.
func NewSearchIndex(idx *search.Index) SearchIndex {
	return searchIndexAdapter{idx: idx}
}

func (a searchIndexAdapter) CreateIndex(ctx context.Context) error { return a.idx.CreateIndex(ctx) }
func (a searchIndexAdapter) DeleteIndex(ctx context.Context) error { return a.idx.DeleteIndex(ctx) }

func (a searchIndexAdapter) Upsert(ctx context.Context, inodeID int64, doc SearchDocument) error {
	pages := make([]search.PageDoc, len(doc.Pages))
	for i, p := range doc.Pages {
		pages[i] = search.PageDoc{Index: p.Index, Contents: p.Contents}
	}
	return a.idx.Upsert(ctx, inodeID, search.Document{
		Path:       doc.Path,
		Type:       doc.Type,
		Folder:     doc.Folder,
		Filename:   doc.Filename,
		OwnerID:    doc.OwnerID,
		IsPublic:   doc.IsPublic,
		ReadableBy: doc.ReadableBy,
		Pages:      pages,
	})
}

func (a searchIndexAdapter) Delete(ctx context.Context, inodeID int64) error {
	return a.idx.Delete(ctx, inodeID)
}

// buildSearchDocument converts an inode + its pages into the pipeline's
// transport-agnostic SearchDocument, reusing search.BuildDocument's
// path/folder/filename derivation.
func buildSearchDocument(inode domain.Inode, pages []domain.Page, readableBy []string) SearchDocument {
	doc := search.BuildDocument(inode, pages, readableBy)
	out := SearchDocument{
		Path:       doc.Path,
		Type:       doc.Type,
		Folder:     doc.Folder,
		Filename:   doc.Filename,
		OwnerID:    doc.OwnerID,
		IsPublic:   doc.IsPublic,
		ReadableBy: doc.ReadableBy,
		Pages:      make([]SearchPage, len(doc.Pages)),
	}
	for i, p := range doc.Pages {
		out.Pages[i] = SearchPage{Index: p.Index, Contents: p.Contents}
	}
	return out
}
