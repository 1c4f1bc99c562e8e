package search

// Result is a single annotation search hit returned to the caller.
type Result struct {
	AnnotationID string `json:"annotationId"`
	DocumentID   string `json:"documentId"`
	PageNumber   int    `json:"pageNumber"`
	Color        string `json:"color"`
	Snippet      string `json:"snippet"`
}

// Query describes an annotation search request.
type Query struct {
	Text             string
	FilterDocumentID string
	FilterColor      string
	Limit            int
	Offset           int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search over annotation notes.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push annotations into a search index.
type Indexer interface {
	IndexAnnotation(a AnnotationRecord) error
	DeleteAnnotation(id string) error
}

// AnnotationRecord is the data we index for an annotation.
type AnnotationRecord struct {
	ID         string `json:"id"`
	Note       string `json:"note"`
	DocumentID string `json:"documentId"`
	PageNumber int    `json:"pageNumber"`
	Color      string `json:"color"`
}
