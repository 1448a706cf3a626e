// Package store is the relational adapter: inode/page persistence against
// Postgres with the pgvector extension, built on pgx/v5's pool.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/resolve-works/insight-worker/internal/domain"
)

const (
	maxConnectRetries = 10
	retryBaseWait     = 1 * time.Second
	retryMaxWait      = 10 * time.Second
)

var requiredExtensions = []string{"vector"}
var requiredTables = []string{"inodes", "pages"}

// Store wraps a pgxpool.Pool with the inode/page queries the pipeline needs.
type Store struct {
	pool *pgxpool.Pool
}

// Connect creates a pgx connection pool with retry logic, matching the
// worker's tolerance for a database that is still starting up alongside it
// in the same compose/orchestration unit.
func Connect(ctx context.Context, uri string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(uri)
	if err != nil {
		return nil, fmt.Errorf("parse postgres uri: %w", err)
	}

	var pool *pgxpool.Pool
	wait := retryBaseWait
	for attempt := 1; attempt <= maxConnectRetries; attempt++ {
		pool, err = pgxpool.NewWithConfig(ctx, cfg)
		if err == nil {
			if pingErr := pool.Ping(ctx); pingErr == nil {
				slog.Info("postgres connected", "attempt", attempt)
				return &Store{pool: pool}, nil
			} else {
				err = pingErr
				pool.Close()
			}
		}

		if attempt == maxConnectRetries {
			return nil, fmt.Errorf("postgres connection failed after %d attempts: %w", maxConnectRetries, err)
		}
		slog.Warn("postgres connection failed, retrying", "attempt", attempt, "wait", wait, "error", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
		if wait > retryMaxWait {
			wait = retryMaxWait
		}
	}
	return nil, fmt.Errorf("postgres connection failed: %w", err)
}

// Close releases the underlying pool.
func (s *Store) Close() { s.pool.Close() }

// CheckSchema verifies the vector extension and the inodes/pages tables
// exist. Schema migration itself is out of scope for the worker.
func (s *Store) CheckSchema(ctx context.Context) error {
	for _, ext := range requiredExtensions {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM pg_extension WHERE extname = $1)`, ext,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check extension %q: %w", ext, err)
		}
		if !exists {
			return fmt.Errorf("required extension %q is not installed", ext)
		}
	}
	for _, table := range requiredTables {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM information_schema.tables WHERE table_name = $1)`, table,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check table %q: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("required table %q does not exist", table)
		}
	}
	return nil
}

// ErrNotFound is returned when an inode id does not resolve to a row.
var ErrNotFound = errors.New("inode not found")

// GetInode loads a single inode row by id.
func (s *Store) GetInode(ctx context.Context, id int64) (domain.Inode, error) {
	var inode domain.Inode
	var errCode *string
	err := s.pool.QueryRow(ctx, `
		SELECT id, owner_id, parent_id, type, name, path,
		       is_indexed, is_uploaded, is_ingested, is_embedded, is_public, should_move,
		       from_page, to_page, error
		FROM inodes WHERE id = $1`, id,
	).Scan(
		&inode.ID, &inode.OwnerID, &inode.ParentID, &inode.Type, &inode.Name, &inode.Path,
		&inode.IsIndexed, &inode.IsUploaded, &inode.IsIngested, &inode.IsEmbedded, &inode.IsPublic, &inode.ShouldMove,
		&inode.FromPage, &inode.ToPage, &errCode,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Inode{}, ErrNotFound
	}
	if err != nil {
		return domain.Inode{}, fmt.Errorf("get inode %d: %w", id, err)
	}
	if errCode != nil {
		inode.Error = domain.ErrorCode(*errCode)
	}
	return inode, nil
}

// SetIngestResult persists the outcome of the ingest handler: to_page (if
// newly resolved), any terminal error, and is_ingested=true. Always runs as
// the ingest finalizer, regardless of which step failed.
func (s *Store) SetIngestResult(ctx context.Context, id int64, toPage *int, errCode domain.ErrorCode) error {
	var errVal *string
	if errCode != "" {
		v := string(errCode)
		errVal = &v
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE inodes SET to_page = COALESCE($2, to_page), is_ingested = true, error = $3
		WHERE id = $1`, id, toPage, errVal)
	if err != nil {
		return fmt.Errorf("set ingest result for inode %d: %w", id, err)
	}
	return nil
}

// SetEmbedded marks an inode is_embedded=true.
func (s *Store) SetEmbedded(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE inodes SET is_embedded = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("set embedded for inode %d: %w", id, err)
	}
	return nil
}

// SetIndexed marks an inode is_indexed=true.
func (s *Store) SetIndexed(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE inodes SET is_indexed = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("set indexed for inode %d: %w", id, err)
	}
	return nil
}

// SetIndexedFalseAll marks every inode is_indexed=false, for rebuild-index.
func (s *Store) SetIndexedFalseAll(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `UPDATE inodes SET is_indexed = false`)
	if err != nil {
		return fmt.Errorf("reset is_indexed: %w", err)
	}
	return nil
}

// ListAllInodeIDs returns every inode id, used to re-dispatch index_inode
// during rebuild-index.
func (s *Store) ListAllInodeIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM inodes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list inode ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan inode id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// InodePath returns the database's canonical, trigger/function-derived path
// for an inode. The worker treats this as authoritative whenever
// should_move is set.
func (s *Store) InodePath(ctx context.Context, id int64) (string, error) {
	var path string
	err := s.pool.QueryRow(ctx, `SELECT inode_path($1)`, id).Scan(&path)
	if err != nil {
		return "", fmt.Errorf("inode_path(%d): %w", id, err)
	}
	return path, nil
}

// SetPath updates inode.path and clears should_move, the move handler's
// final step once the object-store copy has succeeded.
func (s *Store) SetPath(ctx context.Context, id int64, path string) error {
	_, err := s.pool.Exec(ctx, `UPDATE inodes SET path = $1, should_move = false WHERE id = $2`, path, id)
	if err != nil {
		return fmt.Errorf("set path for inode %d: %w", id, err)
	}
	return nil
}

// UpsertPages writes extracted page text, keyed by (inode_id, index);
// repeated ingest runs converge on the same rows instead of duplicating
// them.
func (s *Store) UpsertPages(ctx context.Context, inodeID int64, fromPage int, contents []string) error {
	batch := &pgx.Batch{}
	for i, text := range contents {
		batch.Queue(`
			INSERT INTO pages (inode_id, index, contents)
			VALUES ($1, $2, $3)
			ON CONFLICT (inode_id, index) DO UPDATE SET contents = EXCLUDED.contents`,
			inodeID, fromPage+i, text)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range contents {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upsert page for inode %d: %w", inodeID, err)
		}
	}
	return nil
}

// PagesForEmbed returns pages within [from, to) with non-empty contents and
// a null embedding — the set the embed handler must (re)compute.
func (s *Store) PagesForEmbed(ctx context.Context, inodeID int64, from, to int) ([]domain.Page, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, inode_id, index, contents
		FROM pages
		WHERE inode_id = $1 AND index >= $2 AND index < $3
		  AND contents <> '' AND embedding IS NULL
		ORDER BY index`, inodeID, from, to)
	if err != nil {
		return nil, fmt.Errorf("select pages for embed: %w", err)
	}
	defer rows.Close()

	var pages []domain.Page
	for rows.Next() {
		var p domain.Page
		if err := rows.Scan(&p.ID, &p.InodeID, &p.Index, &p.Contents); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// SetPageEmbedding stores the embedding vector for one page.
func (s *Store) SetPageEmbedding(ctx context.Context, pageID int64, embedding []float32) error {
	_, err := s.pool.Exec(ctx, `UPDATE pages SET embedding = $1 WHERE id = $2`,
		pgvector.NewVector(embedding), pageID)
	if err != nil {
		return fmt.Errorf("set embedding for page %d: %w", pageID, err)
	}
	return nil
}

// PagesForIndex returns every non-empty-contents page for an inode, in page
// order, for building the nested search document.
func (s *Store) PagesForIndex(ctx context.Context, inodeID int64) ([]domain.Page, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, inode_id, index, contents
		FROM pages
		WHERE inode_id = $1 AND contents <> ''
		ORDER BY index`, inodeID)
	if err != nil {
		return nil, fmt.Errorf("select pages for index: %w", err)
	}
	defer rows.Close()

	var pages []domain.Page
	for rows.Next() {
		var p domain.Page
		if err := rows.Scan(&p.ID, &p.InodeID, &p.Index, &p.Contents); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// ReadableBy returns the set of owner ids who may read the inode: the owner
// plus every sharee, for the search document's readable_by field.
func (s *Store) ReadableBy(ctx context.Context, inodeID int64) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT i.owner_id
		FROM inodes i WHERE i.id = $1
		UNION
		SELECT s.owner_id FROM shares s WHERE s.inode_id = $1`, inodeID)
	if err != nil {
		return nil, fmt.Errorf("readable_by for inode %d: %w", inodeID, err)
	}
	defer rows.Close()

	var owners []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan readable_by owner: %w", err)
		}
		owners = append(owners, id)
	}
	return owners, rows.Err()
}
