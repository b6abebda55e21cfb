package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Snippet    string `json:"snippet"`
	CreatorID  string `json:"creatorId"`
	IsArchived bool   `json:"isArchived"`
}

// Query describes a search request. UserID scopes the results to notes the
// user can see: ones they created or that are shared with them.
type Query struct {
	Text            string
	UserID          string
	IncludeArchived bool
	Limit           int
	Offset          int
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

// NoteRecord is the data we index for a note. SharedWith carries user ids so
// the visibility predicate can run inside the engine.
type NoteRecord struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	CreatorID  string   `json:"creatorId"`
	SharedWith []string `json:"sharedWith"`
	IsArchived bool     `json:"isArchived"`
}
