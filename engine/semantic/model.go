package semantic

// Payload field names written with every point. The sync engine reads
// "fingerprint" back to decide whether a post needs re-embedding.
const (
	FieldRecipientID = "recipient_id"
	FieldUsername    = "username"
	FieldPostID      = "post_id"
	FieldContent     = "content"
	FieldCaption     = "caption"
	FieldTimestamp   = "timestamp"
	FieldFingerprint = "fingerprint"
)

// Hit is a single vector search result.
type Hit struct {
	ID          string  `json:"id"`
	Score       float32 `json:"score"`
	RecipientID string  `json:"recipient_id"`
	Username    string  `json:"username"`
	PostID      string  `json:"post_id"`
	Content     string  `json:"content"`
	Caption     string  `json:"caption"`
	Timestamp   int64   `json:"timestamp"`
}

// Record is a single vector to store.
type Record struct {
	ID        string
	Embedding []float32
	Payload   map[string]any // recipient_id, username, post_id, content, caption, timestamp, fingerprint
}
