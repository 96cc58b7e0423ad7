package models

// These structs define the JSON payloads for HTTP requests and responses
// between Cloud Workflows and the Cloud Functions.

// ChunkerRequest is the input for the chunker function. With Async set only
// the OCR job is submitted; a later request with Poll set completes it.
type ChunkerRequest struct {
	Bucket string `json:"bucket"`
	Object string `json:"object"`
	Async  bool   `json:"async,omitempty"`
	Poll   bool   `json:"poll,omitempty"`
}

// ChunkerResponse is the output of the chunker function.
type ChunkerResponse struct {
	Status        string   `json:"status"`
	OperationName string   `json:"operationName,omitempty"`
	PageCount     int      `json:"pageCount,omitempty"`
	SpanCount     int      `json:"spanCount,omitempty"`
	Languages     []string `json:"languages,omitempty"`
}

const (
	ChunkerStatusSuccess   = "success"
	ChunkerStatusSubmitted = "submitted"
	ChunkerStatusPending   = "pending"
)

// IndexerRequest is the input for the indexer function.
type IndexerRequest struct {
	Object string `json:"object"`
}

// IndexerResponse is the output of the indexer function.
type IndexerResponse struct {
	Status       Status `json:"status"`
	IndexedCount int    `json:"indexedCount"`
	BatchCount   int    `json:"batchCount"`
	Remaining    int    `json:"remaining"`
}

// QueryRequest is the input for the query function.
type QueryRequest struct {
	Query string `json:"query"`
}

// QuerySource is one retrieved span backing an answer.
type QuerySource struct {
	Source  string  `json:"source"`
	Page    int     `json:"page"`
	Content string  `json:"content"`
	Score   float32 `json:"score"`
}

// QueryResponse is the output of the query function.
type QueryResponse struct {
	Answer  string        `json:"answer"`
	Sources []QuerySource `json:"sources"`
}

// WorkflowArgument is handed to the ingest workflow by the upload trigger.
type WorkflowArgument struct {
	Bucket    string `json:"bucket"`
	Object    string `json:"object"`
	PageCount int    `json:"pageCount,omitempty"`
}
