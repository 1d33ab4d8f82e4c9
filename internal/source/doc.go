// Package source provides ingestion sources that load documents from
// JSONL corpus files, directory trees, or fixed in-memory slices.
//
// Every source produces vectorstore.Document values ready for the
// pipeline's ingest path; embedding and secret redaction happen
// downstream, never here.
package source
