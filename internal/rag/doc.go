// Package rag orchestrates retrieval-augmented generation: retrieve
// context for a query, build a grounded prompt, generate an answer.
//
// When retrieval produces no context the pipeline returns a fixed
// no-information answer and never invokes the generator, so an
// unanswerable query costs no tokens and cannot surface an ungrounded
// completion as a grounded one.
package rag
