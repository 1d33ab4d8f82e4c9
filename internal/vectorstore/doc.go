// Package vectorstore provides vector storage abstraction for the RAG pipeline.
//
// The package offers a unified Store interface with four provider
// implementations: an in-memory store for tests and ephemeral workloads, an
// embedded persistent store (chromem-go), an external Qdrant service over
// gRPC, and PostgreSQL with the pgvector extension.
//
// # Ingestion Semantics
//
// AddDocuments embeds and stores documents in one call. Documents that
// already carry an embedding are stored as-is; documents with content but no
// embedding are embedded together in a single batch call to the Embedder;
// documents with neither content nor embedding are skipped with a warning
// and do not abort the batch. An embedding failure aborts the whole batch
// so ingested data is never silently dropped. Document IDs are upsert keys:
// re-adding an ID replaces the previous entry. Empty IDs are assigned UUIDs.
//
// # Similarity Scores
//
// SimilaritySearch returns raw cosine similarity in [-1, 1]. No backend
// rescales scores. Thresholding layers (see the retriever) assume embeddings
// whose cosine lands in [0, 1], which holds for typical normalized text
// embedding models.
//
// # Retries
//
// Base stores never retry internally; a failed operation surfaces
// immediately as a wrapped sentinel error. Callers that want retries wrap
// the store with NewRetryStore, which retries transient failures (as
// classified by IsTransientError, or a custom classifier) with exponential
// backoff.
//
// # Usage
//
//	store, err := vectorstore.NewStore(ctx, cfg, embedder, logger)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	ids, err := store.AddDocuments(ctx, docs)
//	results, err := store.SimilaritySearch(ctx, queryVec, 5,
//	    vectorstore.WithFilter(map[string]any{"source": "handbook"}))
//
// Provider selection via config:
//
//	vectorstore:
//	  provider: memory  # "memory", "chromem", "qdrant", or "pgvector"
package vectorstore
