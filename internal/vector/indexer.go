package vector

import (
	"context"
	"fmt"

	"github.com/auditgraph/auditgraph-backend/internal/pkg/ctxutil"
	"github.com/auditgraph/auditgraph-backend/internal/platform/logger"
)

// Embedder is the slice of the provider client the indexer needs.
type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

// Chunk is unembedded indexable text with its payload.
type Chunk struct {
	ID      string
	Payload Payload
}

// Indexer embeds chunk text and upserts the result into the active store.
type Indexer struct {
	log       *logger.Logger
	embedder  Embedder
	store     Store
	batchSize int
}

func NewIndexer(log *logger.Logger, embedder Embedder, store Store, batchSize int) (*Indexer, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder required")
	}
	if store == nil {
		return nil, fmt.Errorf("vector store required")
	}
	if batchSize <= 0 {
		batchSize = 64
	}
	return &Indexer{
		log:       log.With("service", "VectorIndexer"),
		embedder:  embedder,
		store:     store,
		batchSize: batchSize,
	}, nil
}

func (ix *Indexer) Store() Store { return ix.store }

// IndexChunks embeds and upserts chunks in batches. Empty-text chunks are
// skipped. Returns the number of chunks indexed.
func (ix *Indexer) IndexChunks(ctx context.Context, chunks []Chunk) (int, error) {
	ctx = ctxutil.Default(ctx)

	usable := make([]Chunk, 0, len(chunks))
	for _, ch := range chunks {
		if ch.ID == "" || ch.Payload.Text == "" {
			continue
		}
		usable = append(usable, ch)
	}
	if len(usable) == 0 {
		return 0, nil
	}

	indexed := 0
	for start := 0; start < len(usable); start += ix.batchSize {
		end := start + ix.batchSize
		if end > len(usable) {
			end = len(usable)
		}
		batch := usable[start:end]

		texts := make([]string, len(batch))
		for i, ch := range batch {
			texts[i] = ch.Payload.Text
		}
		vecs, err := ix.embedder.Embed(ctx, texts)
		if err != nil {
			return indexed, fmt.Errorf("embed batch: %w", err)
		}
		if len(vecs) != len(batch) {
			return indexed, fmt.Errorf("embed batch: want=%d vectors got=%d", len(batch), len(vecs))
		}

		docs := make([]Document, len(batch))
		for i, ch := range batch {
			docs[i] = Document{ID: ch.ID, Vector: vecs[i], Payload: ch.Payload}
		}
		if err := ix.store.UpsertDocuments(ctx, docs); err != nil {
			return indexed, fmt.Errorf("upsert batch: %w", err)
		}
		indexed += len(batch)
	}

	ix.log.Debug("indexed chunks", "count", indexed, "store", ix.store.Name())
	return indexed, nil
}
