// Package memory provides the conversational memory core for the legal
// assistant: a short-term session buffer, a durable long-term store, and
// a manager facade coordinating the two.
//
// Architecture:
//   - Embedder: text-to-vector conversion (ONNX MiniLM locally, hosted
//     APIs in production)
//   - VectorStore: similarity search over named collections (chromem-go
//     embedded, pgvector for production)
//   - RecordStore: structured storage for profiles, interaction records
//     and legal concepts (SQLite)
//   - ShortTermMemory: bounded per-session buffer with semantic lookup,
//     session context and TTL scratch space
//   - LongTermMemory: cross-session profiles, interaction history and a
//     legal-concept knowledge base
//   - Manager: single entry point the agent layer talks to
//
// Failure policy: configuration errors are fatal at construction; storage
// failures degrade — a turn that cannot be persisted long-term is still
// retained in the session buffer, and a search backend that fails
// contributes empty results instead of aborting the request.
package memory
