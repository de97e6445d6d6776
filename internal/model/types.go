// Package model defines the core entities of the retrieval system: knowledge
// bases, documents, chunks, conversation turns, and the transient types
// produced by a single retrieval request.
package model

import "time"

// DocumentStatus is the lifecycle state of a Document.
type DocumentStatus string

const (
	DocumentPending    DocumentStatus = "pending"
	DocumentProcessing DocumentStatus = "processing"
	DocumentCompleted  DocumentStatus = "completed"
	DocumentFailed     DocumentStatus = "failed"
)

// CanTransitionTo reports whether s -> next is a legal status transition.
//
// pending -> processing -> {completed, failed}; any status can go back to
// pending via a reprocess request.
func (s DocumentStatus) CanTransitionTo(next DocumentStatus) bool {
	if next == DocumentPending {
		return true
	}
	switch s {
	case DocumentPending:
		return next == DocumentProcessing
	case DocumentProcessing:
		return next == DocumentCompleted || next == DocumentFailed
	default:
		return false
	}
}

// KnowledgeBase is a logical, independently searchable collection of documents.
type KnowledgeBase struct {
	ID             string
	Name           string
	Description    string
	EmbeddingModel string
	ChunkSize      int
	ChunkOverlap   int
	Active         bool
}

// Document is a single ingested source file within a KnowledgeBase.
type Document struct {
	ID         string
	KBID       string
	FolderID   string
	Filename   string
	Status     DocumentStatus
	ChunkCount int
	TokenCount int
	Version    int
}

// Chunk is the unit of retrieval: one contiguous span of a Document's text.
//
// VectorID is stored separately from ID because the vector-store backend may
// assign its own identifier on insert; deletion must address the backend by
// the identifier it actually indexed, not the repository's chunk ID.
type Chunk struct {
	ID            string
	DocID         string
	KBID          string
	Index         int
	Content       string
	TokenCount    int
	Page          int
	SectionTitle  string
	VectorID      string
}

// Role identifies the speaker of a ConversationTurn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationTurn is one exchange in a multi-turn conversation.
type ConversationTurn struct {
	Role    Role
	Content string
	TS      time.Time
}

// RewriteResult is the output of the Query Rewriter for a single query.
// It is transient and never persisted.
type RewriteResult struct {
	Original   string
	Rewritten  string
	Variants   []string
	Confidence float64
}

// SearchHit is one ranked result returned from the retrieval engine.
type SearchHit struct {
	ChunkID     string
	DocID       string
	KBID        string
	ChunkIndex  int
	Content     string
	RawScore    float64
	FusedScore  float64
	RerankScore *float64
	Page        int
	Section     string
}

// FinalScore returns the rerank score if present, otherwise the fused score.
func (h SearchHit) FinalScore() float64 {
	if h.RerankScore != nil {
		return *h.RerankScore
	}
	return h.FusedScore
}

// SourceReference attributes part of a generated answer to a retrieval hit.
type SourceReference struct {
	ChunkID   string
	DocID     string
	Relevance float64
	Citation  string
}
