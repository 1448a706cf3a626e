package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/resolve-works/insight-worker/internal/broker"
	"github.com/resolve-works/insight-worker/internal/domain"
	"github.com/resolve-works/insight-worker/internal/objectstore"
	"github.com/resolve-works/insight-worker/pkg/fn"
)

// Handlers implements the six stage contracts (C8) against the ports above.
type Handlers struct {
	Store     Store
	Objects   ObjectStore
	Search    SearchIndex
	Embedder  Embedder
	PDF       PDFToolchain
	Publisher Publisher
	Log       *slog.Logger
}

// scratchDir acquires an ephemeral directory for one ingest run, freed on
// all exit paths by the caller's defer.
func scratchDir() (string, func(), error) {
	dir, err := os.MkdirTemp("", "insight-ingest-*")
	if err != nil {
		return "", func() {}, fmt.Errorf("create scratch dir: %w", err)
	}
	return dir, func() { os.RemoveAll(dir) }, nil
}

// Ingest implements C8.ingest: the critical path described in §4.2.
func (h *Handlers) Ingest(ctx context.Context, inodeID int64) error {
	inode, err := h.Store.GetInode(ctx, inodeID)
	if err != nil {
		return fmt.Errorf("ingest: load inode %d: %w", inodeID, err)
	}

	dir, cleanup, err := scratchDir()
	if err != nil {
		return fmt.Errorf("ingest inode %d: %w", inodeID, err)
	}
	defer cleanup()

	originalKey := objectstore.ObjectKey(inode.OwnerID, inode.Path)
	optimizedKey := objectstore.OptimizedObjectKey(inode.OwnerID, inode.Path)
	originalPath := filepath.Join(dir, "original.pdf")
	repairedPath := filepath.Join(dir, "repaired.pdf")
	optimizedPath := filepath.Join(dir, "optimized.pdf")

	var toPage *int
	var termErr domain.ErrorCode
	var extractedPages []string

	// The finalizer below always runs regardless of which step below fails:
	// steps 3-4 set a typed error and stop early; steps 5-7 map any error to
	// corrupted_file; any other exception (download, upload, extraction) is
	// logged here and still leaves is_ingested=true, a deliberate choice to
	// avoid retrying a pipeline stuck on one ill-formed inode forever.
	if err := func() error {
		if err := h.Objects.DownloadToFile(ctx, originalKey, originalPath); err != nil {
			return fmt.Errorf("download original: %w", err)
		}

		mime, err := h.PDF.SniffMIME(originalPath)
		if err != nil {
			return fmt.Errorf("sniff mime: %w", err)
		}
		if mime != "application/pdf" {
			termErr = domain.ErrUnsupportedFileType
			return nil
		}

		from, to := inode.PageWindow()
		if inode.ToPage == nil {
			count, err := h.PDF.PageCount(originalPath)
			if err != nil {
				termErr = domain.ErrCorruptedFile
				return nil
			}
			to = count
			toPage = &to
		}

		if err := h.PDF.Repair(originalPath, repairedPath); err != nil {
			termErr = domain.ErrCorruptedFile
			return nil
		}
		if err := h.PDF.Slice(repairedPath, from, to); err != nil {
			termErr = domain.ErrCorruptedFile
			return nil
		}
		if err := h.PDF.RunOCR(ctx, repairedPath, optimizedPath); err != nil {
			termErr = domain.ErrCorruptedFile
			return nil
		}

		if err := h.Objects.UploadFromFile(ctx, optimizedKey, optimizedPath); err != nil {
			return fmt.Errorf("upload optimized: %w", err)
		}
		if inode.IsPublic {
			if err := h.Objects.SetPublicTag(ctx, optimizedKey, true); err != nil {
				return fmt.Errorf("tag optimized public: %w", err)
			}
		}

		pages, err := h.PDF.ExtractText(optimizedPath)
		if err != nil {
			return fmt.Errorf("extract text: %w", err)
		}
		extractedPages = pages
		return nil
	}(); err != nil {
		h.Log.Error("ingest step failed, marking ingested anyway", "inode_id", inodeID, "error", err)
	}

	if termErr == "" && len(extractedPages) > 0 {
		from, _ := inode.PageWindow()
		if err := h.Store.UpsertPages(ctx, inodeID, from, extractedPages); err != nil {
			return fmt.Errorf("ingest inode %d: %w", inodeID, err)
		}
	}

	if err := h.Store.SetIngestResult(ctx, inodeID, toPage, termErr); err != nil {
		return fmt.Errorf("ingest inode %d: %w", inodeID, err)
	}

	if err := h.Publisher.PublishJSON(ctx, broker.TaskExchange, broker.RoutingEmbed, afterPayload(inodeID)); err != nil {
		h.Log.Error("publish embed_inode follow-up failed", "inode_id", inodeID, "error", err)
	}
	if err := h.Publisher.PublishJSON(ctx, broker.TaskExchange, broker.RoutingIndex, afterPayload(inodeID)); err != nil {
		h.Log.Error("publish index_inode follow-up failed", "inode_id", inodeID, "error", err)
	}

	return h.notifyIfTerminal(ctx, inodeID, broker.RoutingIngest)
}

// Embed implements C8.embed.
func (h *Handlers) Embed(ctx context.Context, inodeID int64) error {
	inode, err := h.Store.GetInode(ctx, inodeID)
	if err != nil {
		return fmt.Errorf("embed: load inode %d: %w", inodeID, err)
	}
	if inode.Error != "" {
		return fmt.Errorf("embed: inode %d has terminal error %q, refusing to embed", inodeID, inode.Error)
	}

	from, to := inode.PageWindow()
	pages, err := h.Store.PagesForEmbed(ctx, inodeID, from, to)
	if err != nil {
		return fmt.Errorf("embed inode %d: %w", inodeID, err)
	}

	if len(pages) > 0 {
		for _, batch := range fn.Chunk(pages, 64) {
			texts := make([]string, len(batch))
			for i, p := range batch {
				texts[i] = p.Contents
			}
			vectors, err := h.Embedder.EmbedBatch(ctx, texts)
			if err != nil {
				return fmt.Errorf("embed inode %d: %w", inodeID, err)
			}
			for i, p := range batch {
				if err := h.Store.SetPageEmbedding(ctx, p.ID, vectors[i]); err != nil {
					return fmt.Errorf("embed inode %d: %w", inodeID, err)
				}
			}
		}
	}

	if err := h.Store.SetEmbedded(ctx, inodeID); err != nil {
		return fmt.Errorf("embed inode %d: %w", inodeID, err)
	}

	if err := h.Publisher.PublishJSON(ctx, broker.TaskExchange, broker.RoutingIndex, afterPayload(inodeID)); err != nil {
		h.Log.Error("publish index_inode follow-up failed", "inode_id", inodeID, "error", err)
	}

	return h.notifyIfTerminal(ctx, inodeID, broker.RoutingEmbed)
}

// Index implements C8.index.
func (h *Handlers) Index(ctx context.Context, inodeID int64) error {
	inode, err := h.Store.GetInode(ctx, inodeID)
	if err != nil {
		return fmt.Errorf("index: load inode %d: %w", inodeID, err)
	}

	pages, err := h.Store.PagesForIndex(ctx, inodeID)
	if err != nil {
		return fmt.Errorf("index inode %d: %w", inodeID, err)
	}

	owners, err := h.Store.ReadableBy(ctx, inodeID)
	if err != nil {
		return fmt.Errorf("index inode %d: %w", inodeID, err)
	}
	readableBy := make([]string, len(owners))
	for i, o := range owners {
		readableBy[i] = o.String()
	}

	doc := buildSearchDocument(inode, pages, readableBy)
	if err := h.Search.Upsert(ctx, inodeID, doc); err != nil {
		return fmt.Errorf("index inode %d: %w", inodeID, err)
	}

	if err := h.Store.SetIndexed(ctx, inodeID); err != nil {
		return fmt.Errorf("index inode %d: %w", inodeID, err)
	}

	return h.notifyIfTerminal(ctx, inodeID, broker.RoutingIndex)
}

// Move implements C8.move.
func (h *Handlers) Move(ctx context.Context, inodeID int64) error {
	inode, err := h.Store.GetInode(ctx, inodeID)
	if err != nil {
		return fmt.Errorf("move: load inode %d: %w", inodeID, err)
	}

	newPath, err := h.Store.InodePath(ctx, inodeID)
	if err != nil {
		return fmt.Errorf("move inode %d: %w", inodeID, err)
	}
	if newPath == inode.Path {
		return nil
	}

	if inode.Type == domain.TypeFile {
		oldOriginal := objectstore.ObjectKey(inode.OwnerID, inode.Path)
		newOriginal := objectstore.ObjectKey(inode.OwnerID, newPath)
		oldOptimized := objectstore.OptimizedObjectKey(inode.OwnerID, inode.Path)
		newOptimized := objectstore.OptimizedObjectKey(inode.OwnerID, newPath)

		if err := h.Objects.Move(ctx, oldOriginal, newOriginal); err != nil {
			return fmt.Errorf("move inode %d original object: %w", inodeID, err)
		}
		if err := h.Objects.Move(ctx, oldOptimized, newOptimized); err != nil {
			return fmt.Errorf("move inode %d optimized object: %w", inodeID, err)
		}
	}

	if err := h.Store.SetPath(ctx, inodeID, newPath); err != nil {
		return fmt.Errorf("move inode %d: %w", inodeID, err)
	}

	if err := h.Publisher.PublishJSON(ctx, broker.TaskExchange, broker.RoutingIndex, afterPayload(inodeID)); err != nil {
		h.Log.Error("publish index_inode follow-up failed", "inode_id", inodeID, "error", err)
	}
	return nil
}

// Share implements C8.share.
func (h *Handlers) Share(ctx context.Context, inodeID int64) error {
	inode, err := h.Store.GetInode(ctx, inodeID)
	if err != nil {
		return fmt.Errorf("share: load inode %d: %w", inodeID, err)
	}

	if inode.Type == domain.TypeFile {
		originalKey := objectstore.ObjectKey(inode.OwnerID, inode.Path)
		optimizedKey := objectstore.OptimizedObjectKey(inode.OwnerID, inode.Path)
		if err := h.Objects.SetPublicTag(ctx, originalKey, inode.IsPublic); err != nil {
			return fmt.Errorf("share inode %d: %w", inodeID, err)
		}
		if err := h.Objects.SetPublicTag(ctx, optimizedKey, inode.IsPublic); err != nil {
			return fmt.Errorf("share inode %d: %w", inodeID, err)
		}
	}

	if err := h.Publisher.PublishJSON(ctx, broker.TaskExchange, broker.RoutingIndex, afterPayload(inodeID)); err != nil {
		h.Log.Error("publish index_inode follow-up failed", "inode_id", inodeID, "error", err)
	}
	return nil
}

// Delete implements C8.delete. The row is already gone, so every field the
// handler needs arrives in the event payload.
func (h *Handlers) Delete(ctx context.Context, inodeID int64, ownerID uuid.UUID, path string, inodeType domain.InodeType) error {
	if inodeType == domain.TypeFile {
		originalKey := objectstore.ObjectKey(ownerID, path)
		optimizedKey := objectstore.OptimizedObjectKey(ownerID, path)
		if err := h.Objects.DeleteMany(ctx, []string{originalKey, optimizedKey}); err != nil {
			h.Log.Error("delete objects failed", "inode_id", inodeID, "error", err)
		}
	}

	if err := h.Search.Delete(ctx, inodeID); err != nil {
		h.Log.Error("delete search document failed", "inode_id", inodeID, "error", err)
	}
	return nil
}

// notifyIfTerminal re-reads the inode and publishes a user notification only
// if it has reached a terminal state (ready or errored). The source
// re-reads inside the finalizer because other stages may have completed
// concurrently between this stage's mutation and the notification decision.
func (h *Handlers) notifyIfTerminal(ctx context.Context, inodeID int64, task string) error {
	inode, err := h.Store.GetInode(ctx, inodeID)
	if err != nil {
		return fmt.Errorf("notify: reload inode %d: %w", inodeID, err)
	}
	if !inode.IsReady() && inode.Error == "" {
		return nil
	}

	routingKey := "user-" + inode.OwnerID.String()
	if inode.IsPublic {
		routingKey = "public"
	}

	notification := broker.Notification{ID: inodeID, Task: task}
	if err := h.Publisher.PublishJSON(ctx, broker.NotificationExchange, routingKey, notification); err != nil {
		h.Log.Error("publish notification failed", "inode_id", inodeID, "error", err)
	}
	return nil
}

func afterPayload(id int64) broker.AfterEvent {
	var e broker.AfterEvent
	e.After.ID = id
	return e
}
