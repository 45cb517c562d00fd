package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultNote     ResultType = "note"
	ResultThread   ResultType = "thread"
	ResultResource ResultType = "resource"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type     ResultType `json:"type"`
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	Snippet  string     `json:"snippet"`
	FamilyID string     `json:"familyId,omitempty"`
	Category string     `json:"category,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text           string
	FilterType     ResultType // empty = all types
	FilterFamilyID string
	Limit          int
	Offset         int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexNote(n NoteRecord) error
	IndexThread(t ThreadRecord) error
	IndexResource(r ResourceRecord) error
	DeleteNote(id string) error
	DeleteThread(id string) error
	DeleteResource(id string) error
}

// NoteRecord is the data we index for a care note. Body is the plain-text
// rendering of the note content, not the raw editor JSON.
type NoteRecord struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	FamilyID string `json:"familyId"`
}

// ThreadRecord is the data we index for a forum thread.
type ThreadRecord struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	Category string `json:"category"`
}

// ResourceRecord is the data we index for a resource page.
type ResourceRecord struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	Category string `json:"category"`
}
