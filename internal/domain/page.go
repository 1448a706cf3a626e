package domain

// Page is one page of extracted text (and, after embed, a vector) belonging
// to a file inode. Index is 0-based and unique per inode.
type Page struct {
	ID        int64
	InodeID   int64
	Index     int
	Contents  string
	Embedding []float32 // nil until embed_inode assigns it
}

// EmbeddingDimension is the fixed vector length the database column and the
// configured embedding model both agree on.
const EmbeddingDimension = 1536
