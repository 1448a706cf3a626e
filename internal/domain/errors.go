package domain

import "fmt"

// ErrorCode is the closed set of terminal, persisted inode errors. Any value
// outside this set is a programmer error, not an inode error.
type ErrorCode string

const (
	ErrUnsupportedFileType ErrorCode = "unsupported_file_type"
	ErrCorruptedFile       ErrorCode = "corrupted_file"
)

// IngestError is returned by the PDF toolchain (pdfproc) when an inode's
// upload cannot be carried through the pipeline. The ingest handler records
// the matching ErrorCode in inode.error instead of returning an error, so it
// never reaches the dispatcher as a message rejection.
type IngestError struct {
	Code  ErrorCode
	Cause error
}

func (e *IngestError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Cause)
	}
	return string(e.Code)
}

func (e *IngestError) Unwrap() error { return e.Cause }

// Unsupported wraps cause (if any) as an unsupported_file_type ingest error.
func Unsupported(cause error) *IngestError {
	return &IngestError{Code: ErrUnsupportedFileType, Cause: cause}
}

// Corrupted wraps cause as a corrupted_file ingest error.
func Corrupted(cause error) *IngestError {
	return &IngestError{Code: ErrCorruptedFile, Cause: cause}
}
