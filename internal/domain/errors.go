package domain

import "fmt"

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain error codes
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeRetrievalFailed  = "RETRIEVAL_FAILED"
	ErrCodeRerankFailed     = "RERANK_FAILED"
	ErrCodeIngestionFailed  = "INGESTION_FAILED"
	ErrCodePayloadParse     = "PAYLOAD_PARSE_FAILED"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeInvalidOperation = "INVALID_OPERATION"
)

// Validation errors
var (
	ErrEmptyQuestion        = NewDomainError(ErrCodeValidation, "question cannot be empty")
	ErrEmptyDocument        = NewDomainError(ErrCodeValidation, "document content is empty")
	ErrUnsupportedSource    = NewDomainError(ErrCodeValidation, "unsupported source type")
	ErrMissingRequiredField = NewDomainError(ErrCodeValidation, "missing required field")
)

// Not found errors
var (
	ErrSessionNotFound = NewDomainError(ErrCodeNotFound, "session not found")
	ErrChunkNotFound   = NewDomainError(ErrCodeNotFound, "knowledge chunk not found")
)

// Retrieval errors. These never surface to the caller as fatal: the
// router converts them into a web fallback carrying a decision reason.
var (
	ErrKnowledgeUnavailable = NewDomainError(ErrCodeRetrievalFailed, "knowledge store search failed")
	ErrNoSimilarityScores   = NewDomainError(ErrCodeRetrievalFailed, "search results carried no similarity scores")
	ErrRerankUnavailable    = NewDomainError(ErrCodeRerankFailed, "reranker call failed")
)

// Ingestion errors
var (
	ErrNoChunksProduced = NewDomainError(ErrCodeIngestionFailed, "chunking produced zero chunks")
)
