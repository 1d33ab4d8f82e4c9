// Package generator wraps text generation behind a small contract: one-shot
// Generate and chunk-streaming GenerateStream. The concrete adapter speaks
// the OpenAI chat API through langchaingo, which covers hosted OpenAI and
// any OpenAI-compatible local server (Ollama, LM Studio, vLLM).
//
// The layer adds no retries and no prompt handling of its own; provider
// errors surface to the caller wrapped in ErrGenerationFailed. Streams are
// finite and single-consumer: the chunk channel closes when generation
// completes, and the buffered error channel carries at most one terminal
// error. Abandoning a stream is legal: cancel the context and the
// producing goroutine exits at the next chunk boundary.
package generator
