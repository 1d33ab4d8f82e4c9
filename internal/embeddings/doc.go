// Package embeddings provides embedding generation via multiple providers.
//
// Supports OpenAI-compatible APIs (through langchaingo) and TEI
// (Text Embeddings Inference) servers. Factory pattern enables provider
// selection at runtime with automatic dimension detection for common
// models.
//
// Providers satisfy vectorstore.Embedder, so they plug directly into the
// stores and the retriever. An optional client-side rate limit smooths
// bursts against metered APIs; it is a pacing aid, not a retry mechanism,
// and provider errors surface to the caller unchanged.
package embeddings
