package rag

import (
	"context"
	"crypto/md5"
	"fmt"
	"regexp"
	"strings"

	"github.com/calldeck/copilot/logger"
	"github.com/pkg/errors"
)

// Document is a source text before chunking.
type Document struct {
	Content  string
	Source   string
	Title    string
	DocType  string
	Metadata map[string]string
}

// Chunk is one indexed span of a document. Its id is a deterministic hash of
// source, position, and content, so re-ingesting identical content is
// idempotent.
type Chunk struct {
	ID        string
	Content   string
	Source    string
	Title     string
	Index     int
	Total     int
	StartChar int
	EndChar   int
	Metadata  map[string]string
	Embedding []float32
}

// Pipeline chunks documents, embeds them, and stores them in the index.
type Pipeline struct {
	index    Index
	embedder Embedder
	chunker  *Chunker
}

// NewPipeline wires an ingestion pipeline.
func NewPipeline(index Index, embedder Embedder, chunker *Chunker) *Pipeline {
	if chunker == nil {
		chunker = NewChunker()
	}
	return &Pipeline{index: index, embedder: embedder, chunker: chunker}
}

var h1Pattern = regexp.MustCompile(`(?m)^#\s+(.+)$`)

// IngestText ingests raw text under a source identifier.
func (p *Pipeline) IngestText(ctx context.Context, text, source, title string) ([]Chunk, error) {
	doc := Document{Content: text, Source: source, Title: title, DocType: "text"}
	if doc.Title == "" {
		doc.Title = source
	}
	return p.IngestDocument(ctx, doc)
}

// IngestMarkdown ingests markdown, lifting the first H1 as the title when
// none is set.
func (p *Pipeline) IngestMarkdown(ctx context.Context, content, source string) ([]Chunk, error) {
	doc := Document{Content: content, Source: source, DocType: "markdown"}
	if m := h1Pattern.FindStringSubmatch(content); m != nil {
		doc.Title = strings.TrimSpace(m[1])
	}
	if doc.Title == "" {
		doc.Title = source
	}
	return p.IngestDocument(ctx, doc)
}

// IngestDocument chunks, embeds, and upserts one document. Chunks whose
// embedding fails are skipped; the rest still land in the index.
func (p *Pipeline) IngestDocument(ctx context.Context, doc Document) ([]Chunk, error) {
	pieces := p.chunker.Split(doc.Content)
	if len(pieces) == 0 {
		logger.Warn("no chunks created for document", "source", doc.Source)
		return nil, nil
	}

	chunks := make([]Chunk, 0, len(pieces))
	for i, piece := range pieces {
		meta := map[string]string{
			"title":    doc.Title,
			"source":   doc.Source,
			"doc_type": doc.DocType,
		}
		for k, v := range doc.Metadata {
			meta[k] = v
		}
		chunks = append(chunks, Chunk{
			ID:        chunkID(doc.Source, i, piece.Text),
			Content:   piece.Text,
			Source:    doc.Source,
			Title:     doc.Title,
			Index:     i,
			Total:     len(pieces),
			StartChar: piece.Start,
			EndChar:   piece.End,
			Metadata:  meta,
		})
	}

	contents := make([]string, len(chunks))
	for i, c := range chunks {
		contents[i] = c.Content
	}
	vectors, err := p.embedder.EmbedBatch(ctx, contents)
	if err != nil {
		return nil, errors.Wrap(err, "ingest embeddings")
	}

	ids := make([]string, 0, len(chunks))
	validVectors := make([][]float32, 0, len(chunks))
	validContents := make([]string, 0, len(chunks))
	metadata := make([]map[string]string, 0, len(chunks))
	stored := chunks[:0:0]

	for i := range chunks {
		if vectors[i] == nil {
			logger.Warn("skipping chunk with failed embedding", "chunk", chunks[i].ID)
			continue
		}
		chunks[i].Embedding = vectors[i]
		ids = append(ids, chunks[i].ID)
		validVectors = append(validVectors, vectors[i])
		validContents = append(validContents, chunks[i].Content)
		metadata = append(metadata, chunks[i].Metadata)
		stored = append(stored, chunks[i])
	}

	if len(stored) == 0 {
		return nil, errors.Wrap(ErrEmbeddingFailure, "no valid embeddings for document "+doc.Source)
	}

	if err := p.index.Upsert(ctx, ids, validVectors, validContents, metadata); err != nil {
		return nil, errors.Wrap(err, "ingest upsert")
	}

	logger.Info("ingested document", "source", doc.Source, "title", doc.Title, "chunks", len(stored))
	return stored, nil
}

func chunkID(source string, index int, content string) string {
	contentHash := fmt.Sprintf("%x", md5.Sum([]byte(content)))[:8]
	sourceHash := fmt.Sprintf("%x", md5.Sum([]byte(source)))[:8]
	return fmt.Sprintf("%s_%d_%s", sourceHash, index, contentHash)
}
