package semantic

// Payload keys of an indexed passage.
const (
	KeyContent = "content"
	KeyTitle   = "title"
	KeyPage    = "page"
	KeyUserID  = "user_id"
	KeyScope   = "scope"
	KeyMake    = "car_make"
	KeyModel   = "car_model"
	KeyYear    = "car_year"
	KeyDocID   = "doc_id"
	KeyChunk   = "chunk_index"
)

// ScopeSystem marks shared manuals visible to every user.
const ScopeSystem = "system"

// VectorRecord is one passage to index: its point id, embedding and payload.
type VectorRecord struct {
	ID        string
	Embedding []float32
	Payload   map[string]any
}

// Hit is a single vector search hit with its decoded payload.
type Hit struct {
	ID      string  `json:"id"`
	Score   float32 `json:"score"`
	Content string  `json:"content"`
	Title   string  `json:"title"`
	Page    int     `json:"page,omitempty"`
	UserID  string  `json:"user_id,omitempty"`
	Scope   string  `json:"scope,omitempty"`
	Make    string  `json:"car_make,omitempty"`
	Model   string  `json:"car_model,omitempty"`
	Year    int     `json:"car_year,omitempty"`
}
