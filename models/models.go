package models

import "time"

// Article is a cleaned news item produced during ingestion. It is immutable
// once embedded; re-ingestion replaces the indexed copy wholesale.
type Article struct {
	ID          uint64 `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Content     string `json:"content"`
	Link        string `json:"link"`
	PublishedAt string `json:"published_at"`
	Source      string `json:"source"`
}

// Document is the (id, vector, payload) triple stored in the vector
// collection. Payload content is truncated independently of Article content.
type Document struct {
	ID      uint64    `json:"id"`
	Vector  []float32 `json:"vector"`
	Payload Payload   `json:"payload"`
}

// Payload is the metadata stored alongside a vector.
type Payload struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Content     string `json:"content"`
	Link        string `json:"link"`
	PublishedAt string `json:"published_at"`
	Source      string `json:"source"`
	IngestedAt  string `json:"ingested_at"`
}

// SearchResult is a single similarity hit. Score is cosine similarity in
// [0,1]. Tie order between equal scores is undefined.
type SearchResult struct {
	ID      uint64  `json:"id"`
	Score   float32 `json:"score"`
	Payload Payload `json:"payload"`
}

// ChatMessage is one user/bot exchange in a session's history.
type ChatMessage struct {
	User      string    `json:"user"`
	Bot       string    `json:"bot"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionInfo is the metadata kept per session.
type SessionInfo struct {
	LastActivity time.Time `json:"last_activity"`
	MessageCount int64     `json:"message_count"`
}
