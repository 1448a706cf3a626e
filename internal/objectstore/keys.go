package objectstore

import (
	"path"
	"strings"

	"github.com/google/uuid"
)

// ObjectKey returns the original upload's key: users/{owner}{path}.
func ObjectKey(owner uuid.UUID, inodePath string) string {
	return "users/" + owner.String() + inodePath
}

// OptimizedObjectKey returns the OCR'd, linearized derivative's key:
// users/{owner}{parent}/{name}_optimized{ext}.
func OptimizedObjectKey(owner uuid.UUID, inodePath string) string {
	dir := path.Dir(inodePath)
	base := path.Base(inodePath)
	ext := path.Ext(base)
	name := strings.TrimSuffix(base, ext)

	parent := dir
	if parent == "." || parent == "/" {
		parent = ""
	}
	return "users/" + owner.String() + parent + "/" + name + "_optimized" + ext
}
