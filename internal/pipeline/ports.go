// Package pipeline holds the task dispatcher, the six stage handlers, and
// the fan-out/notification orchestration that ties them together. It
// depends only on the narrow ports below, not on the concrete adapters, so
// handler logic can be tested with fakes.
package pipeline

import (
	"context"

	"github.com/google/uuid"

	"github.com/resolve-works/insight-worker/internal/domain"
)

// Store is the relational adapter surface the pipeline needs.
type Store interface {
	GetInode(ctx context.Context, id int64) (domain.Inode, error)
	SetIngestResult(ctx context.Context, id int64, toPage *int, errCode domain.ErrorCode) error
	SetEmbedded(ctx context.Context, id int64) error
	SetIndexed(ctx context.Context, id int64) error
	SetIndexedFalseAll(ctx context.Context) error
	ListAllInodeIDs(ctx context.Context) ([]int64, error)
	InodePath(ctx context.Context, id int64) (string, error)
	SetPath(ctx context.Context, id int64, path string) error
	UpsertPages(ctx context.Context, inodeID int64, fromPage int, contents []string) error
	PagesForEmbed(ctx context.Context, inodeID int64, from, to int) ([]domain.Page, error)
	SetPageEmbedding(ctx context.Context, pageID int64, embedding []float32) error
	PagesForIndex(ctx context.Context, inodeID int64) ([]domain.Page, error)
	ReadableBy(ctx context.Context, inodeID int64) ([]uuid.UUID, error)
}

// ObjectStore is the object store adapter surface the pipeline needs.
type ObjectStore interface {
	DownloadToFile(ctx context.Context, key, localPath string) error
	UploadFromFile(ctx context.Context, key, localPath string) error
	Move(ctx context.Context, srcKey, dstKey string) error
	SetPublicTag(ctx context.Context, key string, public bool) error
	DeleteMany(ctx context.Context, keys []string) error
}

// SearchIndex is the search adapter surface the pipeline needs.
type SearchIndex interface {
	CreateIndex(ctx context.Context) error
	DeleteIndex(ctx context.Context) error
	Upsert(ctx context.Context, inodeID int64, doc SearchDocument) error
	Delete(ctx context.Context, inodeID int64) error
}

// SearchDocument is the shape the index handler builds and the search port
// accepts; kept local to pipeline so handler tests don't need to import the
// concrete OpenSearch client package.
type SearchDocument = searchDocument

type searchDocument struct {
	Path       string
	Type       string
	Folder     string
	Filename   string
	OwnerID    string
	IsPublic   bool
	ReadableBy []string
	Pages      []SearchPage
}

// SearchPage is one nested page entry in a SearchDocument.
type SearchPage struct {
	Index    int
	Contents string
}

// Embedder is the embedding provider surface the pipeline needs.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// PDFToolchain is the PDF processing surface the pipeline needs.
type PDFToolchain interface {
	SniffMIME(path string) (string, error)
	PageCount(path string) (int, error)
	Repair(src, dst string) error
	Slice(path string, from, to int) error
	RunOCR(ctx context.Context, src, dst string) error
	ExtractText(path string) ([]string, error)
}

// Publisher is the broker adapter surface the pipeline needs.
type Publisher interface {
	PublishJSON(ctx context.Context, exchange, routingKey string, payload any) error
}
