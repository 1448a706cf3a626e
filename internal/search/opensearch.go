// Package search is the full-text/vector search adapter: index lifecycle
// and per-inode document upsert/delete against OpenSearch.
package search

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	opensearch "github.com/opensearch-project/opensearch-go/v4"
	"github.com/opensearch-project/opensearch-go/v4/opensearchapi"

	"github.com/resolve-works/insight-worker/internal/domain"
	"github.com/resolve-works/insight-worker/pkg/resilience"
)

const indexName = "inodes"

// Config describes the OpenSearch endpoint to connect to.
type Config struct {
	Endpoint string
	User     string
	Password string
	CACert   string
}

// Index wraps an opensearchapi.Client scoped to the worker's single index.
type Index struct {
	client  *opensearchapi.Client
	breaker *resilience.Breaker
	limiter *resilience.Limiter
}

// defaultLimiterOpts keeps bulk reindex passes from saturating the cluster's
// bulk thread pool.
var defaultLimiterOpts = resilience.LimiterOpts{Rate: 50, Burst: 10}

// New builds an Index client. CACert, when non-empty, is appended to the
// transport's trust store instead of disabling verification.
func New(cfg Config) (*Index, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.CACert != "" {
		pool := tlsCertPool(cfg.CACert)
		transport.TLSClientConfig = &tls.Config{RootCAs: pool}
	}

	client, err := opensearchapi.NewClient(opensearchapi.Config{
		Client: opensearch.Config{
			Addresses: []string{cfg.Endpoint},
			Username:  cfg.User,
			Password:  cfg.Password,
			Transport: transport,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("new opensearch client: %w", err)
	}
	return &Index{
		client:  client,
		breaker: resilience.NewBreaker(resilience.DefaultBreakerOpts),
		limiter: resilience.NewLimiter(defaultLimiterOpts),
	}, nil
}

// Document is the nested, embedding-free search document for one inode. The
// database remains the sole store consulted for vector search.
type Document struct {
	Path       string    `json:"path"`
	Type       string    `json:"type"`
	Folder     string    `json:"folder"`
	Filename   string    `json:"filename"`
	OwnerID    string    `json:"owner_id"`
	IsPublic   bool      `json:"is_public"`
	ReadableBy []string  `json:"readable_by"`
	Pages      []PageDoc `json:"pages"`
}

// PageDoc is one nested page entry: index plus contents, no embedding.
type PageDoc struct {
	Index    int    `json:"index"`
	Contents string `json:"contents"`
}

// BuildDocument assembles the nested document from an inode row and its
// pages, per the fixed mapping in the index.
func BuildDocument(inode domain.Inode, pages []domain.Page, readableBy []string) Document {
	folder := inode.Path
	if idx := strings.LastIndex(inode.Path, "/"); idx >= 0 {
		folder = inode.Path[:idx]
	}
	filename := inode.Path
	if idx := strings.LastIndex(inode.Path, "/"); idx >= 0 {
		filename = inode.Path[idx+1:]
	}

	pageDocs := make([]PageDoc, len(pages))
	for i, p := range pages {
		pageDocs[i] = PageDoc{Index: p.Index - inode.FromPage, Contents: p.Contents}
	}

	return Document{
		Path:       inode.Path,
		Type:       string(inode.Type),
		Folder:     folder,
		Filename:   filename,
		OwnerID:    inode.OwnerID.String(),
		IsPublic:   inode.IsPublic,
		ReadableBy: readableBy,
		Pages:      pageDocs,
	}
}

// mapping is the fixed index mapping/settings described in the worker's
// interface contract: a path_hierarchy analyzer on folder, and
// term-vector-enabled nested page contents for highlighting.
const mapping = `{
  "settings": {
    "analysis": {
      "analyzer": {
        "path_analyzer": {
          "tokenizer": "path_hierarchy"
        }
      }
    }
  },
  "mappings": {
    "properties": {
      "path": {"type": "keyword"},
      "type": {"type": "keyword"},
      "folder": {
        "type": "text",
        "analyzer": "path_analyzer",
        "fielddata": true
      },
      "filename": {"type": "text"},
      "owner_id": {"type": "keyword"},
      "is_public": {"type": "boolean"},
      "readable_by": {"type": "keyword"},
      "pages": {
        "type": "nested",
        "properties": {
          "index": {"type": "integer"},
          "contents": {
            "type": "text",
            "term_vector": "with_positions_offsets"
          }
        }
      }
    }
  }
}`

// CreateIndex creates the inodes index with its fixed mapping. A 400
// resource_already_exists_exception is treated as success, matching the
// contract for idempotent first-time creation.
func (idx *Index) CreateIndex(ctx context.Context) error {
	err := idx.breaker.Call(ctx, func(ctx context.Context) error {
		_, err := idx.client.Indices.Create(ctx, opensearchapi.IndicesCreateReq{
			Index: indexName,
			Body:  strings.NewReader(mapping),
		})
		return err
	})
	if err != nil && !strings.Contains(err.Error(), "resource_already_exists_exception") {
		return fmt.Errorf("create index: %w", err)
	}
	return nil
}

// DeleteIndex removes the inodes index. Missing-index is treated as success.
func (idx *Index) DeleteIndex(ctx context.Context) error {
	err := idx.breaker.Call(ctx, func(ctx context.Context) error {
		_, err := idx.client.Indices.Delete(ctx, opensearchapi.IndicesDeleteReq{
			Indices: []string{indexName},
		})
		return err
	})
	if err != nil && !strings.Contains(err.Error(), "index_not_found_exception") {
		return fmt.Errorf("delete index: %w", err)
	}
	return nil
}

// Upsert writes (creating or overwriting) the document for one inode.
// Unconditional: repeated application yields an unchanged document.
func (idx *Index) Upsert(ctx context.Context, inodeID int64, doc Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document for inode %d: %w", inodeID, err)
	}
	err = idx.limiter.CallWait(ctx, func(ctx context.Context) error {
		return idx.breaker.Call(ctx, func(ctx context.Context) error {
			_, err := idx.client.Document.Create(ctx, opensearchapi.DocumentCreateReq{
				Index:      indexName,
				DocumentID: strconv.FormatInt(inodeID, 10),
				Body:       bytes.NewReader(body),
				Params: opensearchapi.DocumentCreateParams{
					OpType: "index", // create-or-replace, not create-if-absent
				},
			})
			return err
		})
	})
	if err != nil {
		return fmt.Errorf("upsert document for inode %d: %w", inodeID, err)
	}
	return nil
}

// Delete removes the document for one inode. Missing document is success.
func (idx *Index) Delete(ctx context.Context, inodeID int64) error {
	err := idx.limiter.CallWait(ctx, func(ctx context.Context) error {
		return idx.breaker.Call(ctx, func(ctx context.Context) error {
			_, err := idx.client.Document.Delete(ctx, opensearchapi.DocumentDeleteReq{
				Index:      indexName,
				DocumentID: strconv.FormatInt(inodeID, 10),
			})
			return err
		})
	})
	if err != nil && !strings.Contains(err.Error(), "not_found") {
		return fmt.Errorf("delete document for inode %d: %w", inodeID, err)
	}
	return nil
}
