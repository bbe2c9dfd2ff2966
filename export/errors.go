package export

import (
	"errors"
	"fmt"
)

var (
	// ErrDocumentSaveFailed matches every error returned by Pipeline.Invoke.
	ErrDocumentSaveFailed = errors.New("document save failed")

	ErrRenderFailed    = errors.New("render failed")
	ErrRecognizeFailed = errors.New("recognize failed")
	ErrReadFailed      = errors.New("read failed")
	ErrNoPages         = errors.New("no pages to export")
)

// DocumentSaveError is the single failure surface of an export. Cause keeps
// the underlying error inspectable with errors.Is and errors.As.
type DocumentSaveError struct {
	Op    string
	Cause error
}

func (e *DocumentSaveError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrDocumentSaveFailed, e.Cause)
}

func (e *DocumentSaveError) Unwrap() []error { return []error{ErrDocumentSaveFailed, e.Cause} }

func saveError(op string, err error) error {
	if err == nil {
		return nil
	}
	var dse *DocumentSaveError
	if errors.As(err, &dse) {
		return err
	}
	return &DocumentSaveError{Op: op, Cause: err}
}
