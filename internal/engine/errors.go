package engine

import (
	"fmt"
	"net/http"
)

// Kind tags an engine error with the category used to select an HTTP
// status code at the transport boundary.
type Kind int

const (
	KindBucketNotFound Kind = iota
	KindNotFound
	KindBucketExists
	KindDuplicateContent
	KindHolderHasReferences
	KindInvalidKey
	KindInvalidETag
	KindInvalidCustomMetadata
	KindInvalidDedupMode
	KindInvalidMultipart
	KindPayloadTooLarge
	KindIoError
	KindCorruptMetadata
)

// Status returns the HTTP status code a Kind maps to.
func (k Kind) Status() int {
	switch k {
	case KindBucketNotFound, KindNotFound:
		return http.StatusNotFound
	case KindBucketExists, KindDuplicateContent, KindHolderHasReferences:
		return http.StatusConflict
	case KindInvalidKey, KindInvalidETag, KindInvalidCustomMetadata, KindInvalidDedupMode, KindInvalidMultipart:
		return http.StatusBadRequest
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindIoError, KindCorruptMetadata:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func (k Kind) String() string {
	switch k {
	case KindBucketNotFound:
		return "BucketNotFound"
	case KindNotFound:
		return "NotFound"
	case KindBucketExists:
		return "BucketExists"
	case KindDuplicateContent:
		return "DuplicateContent"
	case KindHolderHasReferences:
		return "HolderHasReferences"
	case KindInvalidKey:
		return "InvalidKey"
	case KindInvalidETag:
		return "InvalidETag"
	case KindInvalidCustomMetadata:
		return "InvalidCustomMetadata"
	case KindInvalidDedupMode:
		return "InvalidDedupMode"
	case KindInvalidMultipart:
		return "InvalidMultipart"
	case KindPayloadTooLarge:
		return "PayloadTooLarge"
	case KindIoError:
		return "IoError"
	case KindCorruptMetadata:
		return "CorruptMetadata"
	default:
		return "Unknown"
	}
}

// Error is the error type returned by every public engine operation.
type Error struct {
	Kind    Kind
	Message string
	Err     error // underlying cause, logged but never sent to the caller for IoError/CorruptMetadata
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func wrapErr(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}
