package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/resolve-works/insight-worker/internal/domain"
)

// fakeStore is an in-memory Store used to exercise handler logic without a
// database.
type fakeStore struct {
	mu     sync.Mutex
	inodes map[int64]domain.Inode
	pages  map[int64][]domain.Page // keyed by inode id
	nextID int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{inodes: map[int64]domain.Inode{}, pages: map[int64][]domain.Page{}}
}

func (s *fakeStore) GetInode(_ context.Context, id int64) (domain.Inode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.inodes[id]
	if !ok {
		return domain.Inode{}, fmt.Errorf("inode %d not found", id)
	}
	return i, nil
}

func (s *fakeStore) SetIngestResult(_ context.Context, id int64, toPage *int, errCode domain.ErrorCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.inodes[id]
	if toPage != nil {
		i.ToPage = toPage
	}
	i.IsIngested = true
	i.Error = errCode
	s.inodes[id] = i
	return nil
}

func (s *fakeStore) SetEmbedded(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.inodes[id]
	i.IsEmbedded = true
	s.inodes[id] = i
	return nil
}

func (s *fakeStore) SetIndexed(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.inodes[id]
	i.IsIndexed = true
	s.inodes[id] = i
	return nil
}

func (s *fakeStore) SetIndexedFalseAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, i := range s.inodes {
		i.IsIndexed = false
		s.inodes[id] = i
	}
	return nil
}

func (s *fakeStore) ListAllInodeIDs(_ context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for id := range s.inodes {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *fakeStore) InodePath(_ context.Context, id int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inodes[id].Path, nil
}

func (s *fakeStore) SetPath(_ context.Context, id int64, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.inodes[id]
	i.Path = path
	i.ShouldMove = false
	s.inodes[id] = i
	return nil
}

func (s *fakeStore) UpsertPages(_ context.Context, inodeID int64, fromPage int, contents []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := map[int]int{} // index -> slice position
	for pos, p := range s.pages[inodeID] {
		existing[p.Index] = pos
	}
	for i, text := range contents {
		index := fromPage + i
		if pos, ok := existing[index]; ok {
			s.pages[inodeID][pos].Contents = text
			continue
		}
		s.pages[inodeID] = append(s.pages[inodeID], domain.Page{
			ID:       s.nextPageID(),
			InodeID:  inodeID,
			Index:    index,
			Contents: text,
		})
	}
	return nil
}

func (s *fakeStore) nextPageID() int64 {
	s.nextID++
	return s.nextID
}

func (s *fakeStore) PagesForEmbed(_ context.Context, inodeID int64, from, to int) ([]domain.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Page
	for _, p := range s.pages[inodeID] {
		if p.Index >= from && p.Index < to && p.Contents != "" && p.Embedding == nil {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakeStore) SetPageEmbedding(_ context.Context, pageID int64, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for inodeID, pages := range s.pages {
		for i, p := range pages {
			if p.ID == pageID {
				s.pages[inodeID][i].Embedding = embedding
				return nil
			}
		}
	}
	return fmt.Errorf("page %d not found", pageID)
}

func (s *fakeStore) PagesForIndex(_ context.Context, inodeID int64) ([]domain.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Page
	for _, p := range s.pages[inodeID] {
		if p.Contents != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakeStore) ReadableBy(_ context.Context, inodeID int64) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return []uuid.UUID{s.inodes[inodeID].OwnerID}, nil
}

// fakeObjectStore is an in-memory ObjectStore.
type fakeObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	tags    map[string]bool
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: map[string][]byte{}, tags: map[string]bool{}}
}

func (f *fakeObjectStore) DownloadToFile(_ context.Context, key, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[key]; !ok {
		return fmt.Errorf("object %q not found", key)
	}
	return nil
}

func (f *fakeObjectStore) UploadFromFile(_ context.Context, key, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = []byte("uploaded")
	return nil
}

func (f *fakeObjectStore) Move(_ context.Context, srcKey, dstKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.objects[srcKey]
	if !ok {
		return fmt.Errorf("object %q not found", srcKey)
	}
	f.objects[dstKey] = v
	delete(f.objects, srcKey)
	return nil
}

func (f *fakeObjectStore) SetPublicTag(_ context.Context, key string, public bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tags[key] = public
	return nil
}

func (f *fakeObjectStore) DeleteMany(_ context.Context, keys []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.objects, k)
	}
	return nil
}

func (f *fakeObjectStore) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok
}

// fakeSearchIndex is an in-memory SearchIndex.
type fakeSearchIndex struct {
	mu   sync.Mutex
	docs map[int64]SearchDocument
}

func newFakeSearchIndex() *fakeSearchIndex {
	return &fakeSearchIndex{docs: map[int64]SearchDocument{}}
}

func (f *fakeSearchIndex) CreateIndex(context.Context) error { return nil }
func (f *fakeSearchIndex) DeleteIndex(context.Context) error { return nil }

func (f *fakeSearchIndex) Upsert(_ context.Context, inodeID int64, doc SearchDocument) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[inodeID] = doc
	return nil
}

func (f *fakeSearchIndex) Delete(_ context.Context, inodeID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.docs, inodeID)
	return nil
}

// fakeEmbedder is an Embedder that counts calls and returns fixed vectors.
type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, domain.EmbeddingDimension)
		v[0] = float32(i + 1)
		out[i] = v
	}
	return out, nil
}

// fakePDF is a PDFToolchain with controllable outcomes.
type fakePDF struct {
	mime         string
	pageCount    int
	pageCountErr error
	pages        []string
	failRepair   bool
}

func (f *fakePDF) SniffMIME(string) (string, error) { return f.mime, nil }
func (f *fakePDF) PageCount(string) (int, error)    { return f.pageCount, f.pageCountErr }

func (f *fakePDF) Repair(string, string) error {
	if f.failRepair {
		return fmt.Errorf("repair failed")
	}
	return nil
}

func (f *fakePDF) Slice(string, int, int) error                 { return nil }
func (f *fakePDF) RunOCR(context.Context, string, string) error { return nil }
func (f *fakePDF) ExtractText(string) ([]string, error)         { return f.pages, nil }

// fakePublisher records every published message.
type fakePublisher struct {
	mu        sync.Mutex
	published []publishedMessage
}

type publishedMessage struct {
	Exchange   string
	RoutingKey string
	Payload    any
}

func (f *fakePublisher) PublishJSON(_ context.Context, exchange, routingKey string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publishedMessage{exchange, routingKey, payload})
	return nil
}

func (f *fakePublisher) routingKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.published {
		out = append(out, m.RoutingKey)
	}
	return out
}
