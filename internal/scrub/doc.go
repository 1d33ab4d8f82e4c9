// Package scrub detects and redacts credentials from document content
// before it enters the vector store.
//
// Ingested documents often come from scraped pages, wikis, and source
// trees, which is exactly where keys and connection strings leak. Scrubbing
// runs once at ingestion; query text is never scrubbed. Findings carry rule
// IDs and positions but never the matched value, so results are safe to log
// and return to callers.
package scrub
