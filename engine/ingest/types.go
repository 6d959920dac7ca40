package ingest

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// Upload is a document submitted for indexing: an owner manual, a service
// bulletin, or the user's own notes.
type Upload struct {
	UserID  string `json:"user_id"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Make    string `json:"car_make,omitempty"`
	Model   string `json:"car_model,omitempty"`
	Year    int    `json:"car_year,omitempty"`
	// System uploads are shared manuals visible to every user. They are
	// not charged to UserID's plan.
	System bool `json:"system,omitempty"`
}

// Result describes an indexed document.
type Result struct {
	DocID  string `json:"doc_id"`
	Chunks int    `json:"chunks"`
}

type parsedDoc struct {
	Upload
	ID        string
	Sentences []string
}

type chunkedDoc struct {
	parsedDoc
	Chunks []Chunk
}

// Chunk is a passage of a document ready for embedding.
type Chunk struct {
	Text  string
	Index int
}

type embeddedDoc struct {
	chunkedDoc
	Embeddings [][]float32
}

// DocID is the stable id of an upload: re-uploading the same title for the
// same owner replaces the earlier passages.
func DocID(u Upload) string {
	owner := "user:" + u.UserID
	if u.System {
		owner = "system"
	}
	return owner + ":" + slug(u.Title)
}

func pointID(docID string, chunk int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s#%d", docID, chunk))).String()
}

func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
