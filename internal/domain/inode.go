// Package domain holds the core inode/page entities and the typed errors
// the pipeline persists back onto them.
package domain

import "github.com/google/uuid"

// InodeType distinguishes folders from files in the namespace tree.
type InodeType string

const (
	TypeFolder InodeType = "folder"
	TypeFile   InodeType = "file"
)

// Inode is a node in the user-visible hierarchical namespace.
type Inode struct {
	ID         int64
	OwnerID    uuid.UUID
	ParentID   *int64
	Type       InodeType
	Name       string
	Path       string
	IsIndexed  bool
	IsUploaded bool
	IsIngested bool
	IsEmbedded bool
	IsPublic   bool
	ShouldMove bool
	FromPage   int
	ToPage     *int
	Error      ErrorCode
}

// IsReady reports whether every pipeline flag has settled and no error was
// recorded. Readiness and errors are mutually exclusive terminal states.
func (i Inode) IsReady() bool {
	return i.IsIndexed && i.IsUploaded && i.IsIngested && i.IsEmbedded && i.Error == ""
}

// IsTerminal reports whether the inode has reached a state the pipeline will
// not advance past without external intervention: ready, or carrying an
// unrecoverable error.
func (i Inode) IsTerminal() bool {
	return i.IsReady() || i.Error != ""
}

// PageWindow returns the half-open page range [from, to) this inode's pages
// are restricted to. ToPage must have been resolved (non-nil) by the time
// this is called; callers resolve it during ingest.
func (i Inode) PageWindow() (from, to int) {
	from = i.FromPage
	if i.ToPage != nil {
		to = *i.ToPage
	}
	return from, to
}
