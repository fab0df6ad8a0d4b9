// Package localindex implements the local document index (C4): a
// chunked, bleve-backed full-text index over plain text, markdown and
// PDF files, searchable alongside web backends in the fusion stage.
package localindex

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"

	apperrors "go-aigateway/internal/errors"
	"go-aigateway/pkg/searchtypes"
)

// Config configures ingestion and search, per spec.md §4.4's defaults.
type Config struct {
	IndexPath          string // empty builds an in-memory index
	DocumentsPath      string
	ChunkSize          int
	ChunkOverlap       int
	SupportedExtensions map[string]struct{}
	LockPath           string
}

// DefaultConfig mirrors local_docs.py's DocumentConfig defaults.
func DefaultConfig() Config {
	return Config{
		ChunkSize:    1000,
		ChunkOverlap: 100,
		SupportedExtensions: map[string]struct{}{
			".pdf": {}, ".txt": {}, ".md": {}, ".rst": {},
		},
	}
}

// Chunk is one indexed unit of a document, per spec.md §4.4's chunk
// record fields.
type Chunk struct {
	ID          string
	Path        string
	FileName    string
	Title       string
	Content     string
	PageNumber  int // 0 when not applicable
	ChunkIndex  int
	TotalChunks int
	FileKind    string
	IngestedAt  time.Time
}

// bleveDoc is the document shape stored in the index; search fields are
// a subset of Chunk kept for highlighting and filtering.
type bleveDoc struct {
	Path        string `json:"path"`
	FileName    string `json:"file_name"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	PageNumber  int    `json:"page_number"`
	ChunkIndex  int    `json:"chunk_index"`
	TotalChunks int    `json:"total_chunks"`
	FileKind    string `json:"file_kind"`
}

// Index owns the bleve index, a lock against concurrent re-indexing by
// another process, and an optional directory watcher.
type Index struct {
	cfg   Config
	index bleve.Index

	mu     sync.RWMutex
	lock   *flock.Flock
	closed bool
	now    func() time.Time
}

// New opens or creates the bleve index at cfg.IndexPath (in-memory when
// empty, matching amanmcp's BleveBM25Index.NewBleveBM25Index).
func New(cfg Config) (*Index, error) {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1000
	}
	if cfg.ChunkOverlap <= 0 {
		cfg.ChunkOverlap = 100
	}
	if cfg.SupportedExtensions == nil {
		cfg.SupportedExtensions = DefaultConfig().SupportedExtensions
	}

	mapping := bleve.NewIndexMapping()

	var idx bleve.Index
	var err error
	var lock *flock.Flock

	if cfg.IndexPath == "" {
		idx, err = bleve.NewMemOnly(mapping)
	} else {
		if dir := filepath.Dir(cfg.IndexPath); dir != "." {
			if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
				return nil, apperrors.Wrap(apperrors.CodeInternal, "create index directory", mkErr)
			}
		}

		lockPath := cfg.LockPath
		if lockPath == "" {
			lockPath = cfg.IndexPath + ".lock"
		}
		lock = flock.New(lockPath)
		locked, lockErr := lock.TryLock()
		if lockErr != nil || !locked {
			return nil, apperrors.New(apperrors.CodeInternal, "local index already locked by another process")
		}

		idx, err = bleve.Open(cfg.IndexPath)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(cfg.IndexPath, mapping)
		}
	}
	if err != nil {
		if lock != nil {
			_ = lock.Unlock()
		}
		return nil, apperrors.Wrap(apperrors.CodeInternal, "open local index", err)
	}

	return &Index{cfg: cfg, index: idx, lock: lock, now: time.Now}, nil
}

// Close releases the bleve index and its cross-process lock.
func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.closed {
		return nil
	}
	ix.closed = true
	if ix.lock != nil {
		_ = ix.lock.Unlock()
	}
	return ix.index.Close()
}

// chunkID is a stable hash of path:index, per spec.md §4.4, so
// re-indexing the same path twice overwrites rather than duplicates.
func chunkID(path string, index int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", path, index)))
	return hex.EncodeToString(sum[:])[:16]
}

func titleFromFileName(name string) string {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	stem = strings.ReplaceAll(stem, "_", " ")
	stem = strings.ReplaceAll(stem, "-", " ")
	return strings.Title(strings.ToLower(stem))
}

// chunkText splits text into overlapping chunks, attempting to break at
// a sentence or line boundary after the midpoint, per spec.md §4.4 /
// local_docs.py's _chunk_text.
func chunkText(text string, size, overlap int) []string {
	var chunks []string
	start := 0
	for start < len(text) {
		end := start + size
		if end > len(text) {
			end = len(text)
		}
		piece := text[start:end]

		if end < len(text) {
			lastPeriod := strings.LastIndex(piece, ".")
			lastNewline := strings.LastIndex(piece, "\n")
			breakPoint := lastPeriod
			if lastNewline > breakPoint {
				breakPoint = lastNewline
			}
			if breakPoint > size/2 {
				piece = piece[:breakPoint+1]
				end = start + breakPoint + 1
			}
		}

		trimmed := strings.TrimSpace(piece)
		if trimmed != "" {
			chunks = append(chunks, trimmed)
		}
		if end >= len(text) {
			break
		}
		start = end - overlap
		if start < 0 {
			start = end
		}
	}
	return chunks
}

// IngestFile indexes one file, returning the number of chunks written.
// Re-ingesting the same path overwrites its prior chunks at identical
// chunk IDs (idempotent), per spec.md §4.4.
func (ix *Index) IngestFile(ctx context.Context, path string) (int, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := ix.cfg.SupportedExtensions[ext]; !ok {
		return 0, nil
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	fileName := filepath.Base(abs)
	title := titleFromFileName(fileName)
	kind := strings.TrimPrefix(ext, ".")

	var chunks []Chunk
	if ext == ".pdf" {
		pages, err := extractPDFPages(abs)
		if err != nil {
			return 0, apperrors.Wrap(apperrors.CodeInternal, "extract pdf text", err)
		}
		idx := 0
		for _, page := range pages {
			pieces := chunkText(page.content, ix.cfg.ChunkSize, ix.cfg.ChunkOverlap)
			for i, piece := range pieces {
				chunks = append(chunks, Chunk{
					ID:          chunkID(abs, idx),
					Path:        abs,
					FileName:    fileName,
					Title:       fmt.Sprintf("%s - Page %d", title, page.number),
					Content:     piece,
					PageNumber:  page.number,
					ChunkIndex:  i,
					TotalChunks: len(pieces),
					FileKind:    kind,
					IngestedAt:  ix.now(),
				})
				idx++
			}
		}
	} else {
		content, err := os.ReadFile(abs)
		if err != nil {
			return 0, apperrors.Wrap(apperrors.CodeInternal, "read document", err)
		}
		pieces := chunkText(string(content), ix.cfg.ChunkSize, ix.cfg.ChunkOverlap)
		for i, piece := range pieces {
			chunks = append(chunks, Chunk{
				ID:          chunkID(abs, i),
				Path:        abs,
				FileName:    fileName,
				Title:       title,
				Content:     piece,
				ChunkIndex:  i,
				TotalChunks: len(pieces),
				FileKind:    kind,
				IngestedAt:  ix.now(),
			})
		}
	}

	if len(chunks) == 0 {
		return 0, nil
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.closed {
		return 0, apperrors.New(apperrors.CodeInternal, "local index is closed")
	}

	batch := ix.index.NewBatch()
	for _, c := range chunks {
		doc := bleveDoc{
			Path: c.Path, FileName: c.FileName, Title: c.Title, Content: c.Content,
			PageNumber: c.PageNumber, ChunkIndex: c.ChunkIndex, TotalChunks: c.TotalChunks,
			FileKind: c.FileKind,
		}
		if err := batch.Index(c.ID, doc); err != nil {
			return 0, apperrors.Wrap(apperrors.CodeInternal, "batch index chunk", err)
		}
	}
	if err := ix.index.Batch(batch); err != nil {
		return 0, apperrors.Wrap(apperrors.CodeInternal, "execute index batch", err)
	}
	return len(chunks), nil
}

// IngestDirectory walks dir indexing every supported file, returning a
// path-to-chunk-count map.
func (ix *Index) IngestDirectory(ctx context.Context, dir string) (map[string]int, error) {
	results := make(map[string]int)
	err := filepath.Walk(dir, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() {
			return nil
		}
		count, err := ix.IngestFile(ctx, path)
		if err != nil {
			return err
		}
		if count > 0 {
			results[path] = count
		}
		return nil
	})
	if err != nil {
		return results, apperrors.Wrap(apperrors.CodeInternal, "ingest directory", err)
	}
	return results, nil
}

// Watch indexes dir once, then re-indexes any file written or created
// under it until ctx is cancelled, using fsnotify, grounded on the same
// directory-watch idiom the pack's config-reload packages use.
func (ix *Index) Watch(ctx context.Context, dir string) error {
	if _, err := ix.IngestDirectory(ctx, dir); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "create directory watcher", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "watch directory", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				_, _ = ix.IngestFile(ctx, ev.Name)
			}
		case <-watcher.Errors:
			// Best-effort: a watch error does not stop indexing already in place.
		}
	}
}

// SearchParams configures a local-index query, per spec.md §4.4.
type SearchParams struct {
	Query    string
	TopN     int
	FileKind string // optional filter
}

// SearchResult is one match, carrying a synthetic file:// URL so it can
// enter the fusion pipeline alongside web results.
type SearchResult struct {
	Title      string
	Content    string
	Path       string
	FileName   string
	PageNumber int
	Score      float64
	URL        string
	Highlights map[string][]string
}

// Search matches the query against each chunk's title, content and file
// name, applying an optional file-kind filter and returning up to TopN
// hits with matched-term highlights.
func (ix *Index) Search(ctx context.Context, p SearchParams) ([]SearchResult, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.closed {
		return nil, apperrors.New(apperrors.CodeInternal, "local index is closed")
	}
	if strings.TrimSpace(p.Query) == "" {
		return nil, nil
	}

	topN := p.TopN
	if topN <= 0 {
		topN = 10
	}

	titleQuery := bleve.NewMatchQuery(p.Query)
	titleQuery.SetField("title")
	contentQuery := bleve.NewMatchQuery(p.Query)
	contentQuery.SetField("content")
	fileNameQuery := bleve.NewMatchQuery(p.Query)
	fileNameQuery.SetField("file_name")
	textQuery := bleve.NewDisjunctionQuery(titleQuery, contentQuery, fileNameQuery)

	var query = bleve.Query(textQuery)
	if p.FileKind != "" {
		kindQuery := bleve.NewTermQuery(p.FileKind)
		kindQuery.SetField("file_kind")
		conj := bleve.NewConjunctionQuery(textQuery, kindQuery)
		query = conj
	}

	req := bleve.NewSearchRequest(query)
	req.Size = topN
	req.IncludeLocations = true
	req.Fields = []string{"path", "file_name", "title", "content", "page_number"}
	req.Highlight = bleve.NewHighlight()

	result, err := ix.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "local index search", err)
	}

	out := make([]SearchResult, 0, len(result.Hits))
	for _, hit := range result.Hits {
		path, _ := hit.Fields["path"].(string)
		fileName, _ := hit.Fields["file_name"].(string)
		title, _ := hit.Fields["title"].(string)
		content, _ := hit.Fields["content"].(string)
		pageNumber := 0
		if pn, ok := hit.Fields["page_number"].(float64); ok {
			pageNumber = int(pn)
		}

		url := "file://" + path
		if pageNumber > 0 {
			url = fmt.Sprintf("%s#page=%d", url, pageNumber)
		}

		highlights := make(map[string][]string)
		for field, fragments := range hit.Fragments {
			highlights[field] = fragments
		}

		out = append(out, SearchResult{
			Title: title, Content: content, Path: path, FileName: fileName,
			PageNumber: pageNumber, Score: hit.Score, URL: url, Highlights: highlights,
		})
	}
	return out, nil
}

// ToRawResult converts a local search hit into a RawResult tagged with
// source=local, so C5's fusion stage can merge it alongside web results
// (the orchestrator applies the local-join score boost, per spec.md §4.8).
func (r SearchResult) ToRawResult() searchtypes.RawResult {
	return searchtypes.RawResult{
		URL:      r.URL,
		Title:    r.Title,
		Snippet:  r.Content,
		Backend:  "local_docs",
		Score:    r.Score,
		HasScore: true,
		Category: searchtypes.CategoryGeneral,
	}
}

type pdfPage struct {
	number  int
	content string
}

// extractPDFPages performs a best-effort extraction of text from a PDF's
// content streams. No PDF parsing library appears anywhere in the
// example pack (checked every repo's go.mod/go.sum); this stdlib-only
// scanner pulls the literal strings inside `(...) Tj`/`TJ` show-text
// operators, which covers simple, uncompressed text PDFs and degrades to
// zero pages for scanned or compressed-stream documents rather than
// failing ingestion outright.
func extractPDFPages(path string) ([]pdfPage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	raw := string(data)
	streams := strings.Split(raw, "endstream")
	var pages []pdfPage
	for i, chunk := range streams {
		text := extractShowTextOperators(chunk)
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, pdfPage{number: i + 1, content: text})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].number < pages[j].number })
	return pages, nil
}

// extractShowTextOperators pulls the contents of parenthesized strings
// preceding a Tj/TJ PDF show-text operator.
func extractShowTextOperators(stream string) string {
	var b strings.Builder
	depth := 0
	var current strings.Builder
	for i := 0; i < len(stream); i++ {
		c := stream[i]
		switch c {
		case '(':
			depth++
			if depth == 1 {
				current.Reset()
				continue
			}
		case ')':
			depth--
			if depth == 0 {
				current.WriteByte(' ')
				b.WriteString(current.String())
				continue
			}
		case '\\':
			if depth > 0 && i+1 < len(stream) {
				i++
				current.WriteByte(stream[i])
				continue
			}
		}
		if depth > 0 {
			current.WriteByte(c)
		}
	}
	return b.String()
}
