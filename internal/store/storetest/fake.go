// Package storetest provides an in-memory Store used by tests that do
// not have Postgres available.
package storetest

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/compoundkb/compoundmcp/internal/store"
	"github.com/compoundkb/compoundmcp/internal/tenant"
)

// Fake is an in-memory Store implementation. Zero value is not usable;
// call New.
type Fake struct {
	mu sync.Mutex

	docs      map[string]*store.Document // tenant+path key -> document
	chunks    map[string][]*store.Chunk  // document id -> chunks
	extDocs   map[string]*store.Document
	extChunks map[string][]*store.Chunk

	worktrees map[string]string // path_hash -> project name
	projects  map[string]bool   // project|branch

	// Dims is reported by VectorColumnDims for every collection.
	Dims int

	// Err, when set, is returned from every operation; used to test
	// failure paths.
	Err error

	// PingErr is returned from Ping only.
	PingErr error
}

var _ store.Store = (*Fake)(nil)

// New returns an empty fake store.
func New() *Fake {
	return &Fake{
		docs:      make(map[string]*store.Document),
		chunks:    make(map[string][]*store.Chunk),
		extDocs:   make(map[string]*store.Document),
		extChunks: make(map[string][]*store.Chunk),
		worktrees: make(map[string]string),
		projects:  make(map[string]bool),
	}
}

func docKey(key tenant.Key, relativePath string) string {
	return key.ProjectName + "|" + key.BranchName + "|" + key.PathHash + "|" + relativePath
}

func (f *Fake) EnsureSchema(ctx context.Context) error { return f.Err }

func (f *Fake) UpsertDocument(ctx context.Context, doc *store.Document) (string, error) {
	return f.upsert(f.docs, doc)
}

func (f *Fake) UpsertExternalDocument(ctx context.Context, doc *store.Document) (string, error) {
	return f.upsert(f.extDocs, doc)
}

func (f *Fake) upsert(docs map[string]*store.Document, doc *store.Document) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return "", f.Err
	}

	k := docKey(doc.Tenant, doc.RelativePath)
	copied := *doc
	if existing, ok := docs[k]; ok {
		copied.ID = existing.ID
		copied.CreatedAt = existing.CreatedAt
	} else {
		if copied.ID == "" {
			copied.ID = uuid.NewString()
		}
		copied.CreatedAt = time.Now()
	}
	if copied.Promotion == "" {
		copied.Promotion = "standard"
	}
	copied.UpdatedAt = time.Now()
	docs[k] = &copied
	return copied.ID, nil
}

func (f *Fake) UpsertChunks(ctx context.Context, documentID string, chunks []*store.Chunk) error {
	return f.replaceChunks(f.chunks, documentID, chunks)
}

func (f *Fake) UpsertExternalChunks(ctx context.Context, documentID string, chunks []*store.Chunk) error {
	return f.replaceChunks(f.extChunks, documentID, chunks)
}

func (f *Fake) replaceChunks(all map[string][]*store.Chunk, documentID string, chunks []*store.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}

	replaced := make([]*store.Chunk, 0, len(chunks))
	for _, c := range chunks {
		copied := *c
		if copied.ID == "" {
			copied.ID = uuid.NewString()
		}
		copied.DocumentID = documentID
		replaced = append(replaced, &copied)
	}
	all[documentID] = replaced
	return nil
}

func (f *Fake) DeleteDocumentByPath(ctx context.Context, key tenant.Key, relativePath string) error {
	return f.delete(f.docs, f.chunks, key, relativePath)
}

func (f *Fake) DeleteExternalDocumentByPath(ctx context.Context, key tenant.Key, relativePath string) error {
	return f.delete(f.extDocs, f.extChunks, key, relativePath)
}

func (f *Fake) delete(docs map[string]*store.Document, chunks map[string][]*store.Chunk, key tenant.Key, relativePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}

	k := docKey(key, relativePath)
	if doc, ok := docs[k]; ok {
		delete(chunks, doc.ID)
		delete(docs, k)
	}
	return nil
}

func (f *Fake) GetDocumentByPath(ctx context.Context, key tenant.Key, relativePath string) (*store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}

	doc, ok := f.docs[docKey(key, relativePath)]
	if !ok {
		return nil, nil
	}
	copied := *doc
	return &copied, nil
}

func (f *Fake) GetDocumentsByIDs(ctx context.Context, key tenant.Key, ids []string) ([]*store.Document, error) {
	return f.getBy(f.docs, key, func(d *store.Document) string { return d.ID }, ids)
}

func (f *Fake) GetExternalDocumentsByIDs(ctx context.Context, key tenant.Key, ids []string) ([]*store.Document, error) {
	return f.getBy(f.extDocs, key, func(d *store.Document) string { return d.ID }, ids)
}

func (f *Fake) GetDocumentsByPaths(ctx context.Context, key tenant.Key, relativePaths []string) ([]*store.Document, error) {
	return f.getBy(f.docs, key, func(d *store.Document) string { return d.RelativePath }, relativePaths)
}

func (f *Fake) getBy(docs map[string]*store.Document, key tenant.Key, field func(*store.Document) string, values []string) ([]*store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}

	wanted := make(map[string]bool, len(values))
	for _, v := range values {
		wanted[v] = true
	}

	var out []*store.Document
	for _, d := range docs {
		if d.Tenant == key && wanted[field(d)] {
			copied := *d
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RelativePath < out[j].RelativePath })
	return out, nil
}

func (f *Fake) ListDocumentMeta(ctx context.Context, key tenant.Key) ([]store.DocumentMeta, error) {
	return f.listMeta(f.docs, key)
}

func (f *Fake) ListExternalDocumentMeta(ctx context.Context, key tenant.Key) ([]store.DocumentMeta, error) {
	return f.listMeta(f.extDocs, key)
}

func (f *Fake) listMeta(docs map[string]*store.Document, key tenant.Key) ([]store.DocumentMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}

	var out []store.DocumentMeta
	for _, d := range docs {
		if d.Tenant == key {
			out = append(out, store.DocumentMeta{ID: d.ID, RelativePath: d.RelativePath, ContentHash: d.ContentHash})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RelativePath < out[j].RelativePath })
	return out, nil
}

func (f *Fake) SearchDocuments(ctx context.Context, key tenant.Key, queryVec []float32, k int) ([]store.DocumentHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	return searchDocs(f.docs, key, queryVec, k), nil
}

func (f *Fake) SearchExternalDocuments(ctx context.Context, key tenant.Key, queryVec []float32, k int) ([]store.DocumentHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	return searchDocs(f.extDocs, key, queryVec, k), nil
}

func searchDocs(docs map[string]*store.Document, key tenant.Key, queryVec []float32, k int) []store.DocumentHit {
	var hits []store.DocumentHit
	for _, d := range docs {
		if d.Tenant != key || d.Embedding == nil {
			continue
		}
		copied := *d
		hits = append(hits, store.DocumentHit{Document: copied, Score: cosine(queryVec, d.Embedding)})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

func (f *Fake) SearchChunks(ctx context.Context, key tenant.Key, queryVec []float32, k int) ([]store.ChunkHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	return searchChunks(f.chunks, key, queryVec, k), nil
}

func (f *Fake) SearchExternalChunks(ctx context.Context, key tenant.Key, queryVec []float32, k int) ([]store.ChunkHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	return searchChunks(f.extChunks, key, queryVec, k), nil
}

func searchChunks(all map[string][]*store.Chunk, key tenant.Key, queryVec []float32, k int) []store.ChunkHit {
	var hits []store.ChunkHit
	for _, chunks := range all {
		for _, c := range chunks {
			if c.Tenant != key || c.Embedding == nil {
				continue
			}
			copied := *c
			hits = append(hits, store.ChunkHit{Chunk: copied, Score: cosine(queryVec, c.Embedding)})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

func (f *Fake) UpdatePromotion(ctx context.Context, key tenant.Key, documentID, level string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}

	for _, d := range f.docs {
		if d.ID == documentID && d.Tenant == key {
			d.Promotion = level
			for _, c := range f.chunks[documentID] {
				c.Promotion = level
			}
			return nil
		}
	}
	return store.ErrNotFound
}

func (f *Fake) UpsertWorktree(ctx context.Context, pathHash, repoRoot, projectName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.worktrees[pathHash] = projectName
	return nil
}

func (f *Fake) UpsertProjectRecord(ctx context.Context, projectName, branchName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.projects[projectName+"|"+branchName] = true
	return nil
}

func (f *Fake) TouchTenantRecords(ctx context.Context, key tenant.Key) error {
	return f.Err
}

func (f *Fake) VectorColumnDims(ctx context.Context) (map[string]int, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	if f.Dims == 0 {
		return map[string]int{}, nil
	}
	return map[string]int{
		store.CollectionDocuments:      f.Dims,
		store.CollectionChunks:         f.Dims,
		store.CollectionExternalDocs:   f.Dims,
		store.CollectionExternalChunks: f.Dims,
	}, nil
}

func (f *Fake) Ping(ctx context.Context) error {
	if f.PingErr != nil {
		return f.PingErr
	}
	return f.Err
}

func (f *Fake) Close() {}

// DocumentCount reports the number of stored project documents.
func (f *Fake) DocumentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.docs)
}

// ChunkCount reports the chunk count for one document.
func (f *Fake) ChunkCount(documentID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chunks[documentID])
}

// MustGet fetches a document by tenant and path, failing the calling
// test via panic when absent.
func (f *Fake) MustGet(key tenant.Key, relativePath string) *store.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[docKey(key, relativePath)]
	if !ok {
		panic(fmt.Sprintf("document %q not stored", relativePath))
	}
	copied := *doc
	return &copied
}

// Chunks returns the stored chunks for a document id.
func (f *Fake) Chunks(documentID string) []*store.Chunk {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*store.Chunk, 0, len(f.chunks[documentID]))
	for _, c := range f.chunks[documentID] {
		copied := *c
		out = append(out, &copied)
	}
	return out
}

// HasProjectRecord reports whether the (project, branch) record exists.
func (f *Fake) HasProjectRecord(projectName, branchName string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.projects[projectName+"|"+branchName]
}

// WorktreeRecord returns the project name recorded for a path hash.
func (f *Fake) WorktreeRecord(pathHash string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name, ok := f.worktrees[pathHash]
	return name, ok
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
