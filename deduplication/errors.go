package deduplication

import "errors"

// Error kinds returned by the deduplication engine. All of them are fatal to a run;
// callers classify with errors.Is.
var (
	// ErrInputCorrupt marks a corpus file that is not a well-formed JSON array of articles.
	ErrInputCorrupt = errors.New("input corrupt")

	// ErrCorruptIndex marks a persisted index that cannot be read back.
	ErrCorruptIndex = errors.New("corrupt index")

	// ErrModelMismatch marks an index written with a different embedding model.
	// It is also an ErrCorruptIndex.
	ErrModelMismatch = &kindError{msg: "embedding model mismatch", parent: ErrCorruptIndex}

	// ErrEmbeddingFailure marks a provider error or an unusable vector.
	ErrEmbeddingFailure = errors.New("embedding failure")

	// ErrPersistFailure marks a failed index or output write. The previous file is left intact.
	ErrPersistFailure = errors.New("persist failure")
)

type kindError struct {
	msg    string
	parent error
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() error { return e.parent }
