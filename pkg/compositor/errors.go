package compositor

import (
	"errors"
	"fmt"
)

var (
	// ErrCorruptInput means the source bytes are not a PDF this package can update.
	ErrCorruptInput = errors.New("pdf: corrupt or unsupported input")
	// ErrEncrypted is a corrupt-input case: incremental updates to encrypted
	// files would have to be encrypted too.
	ErrEncrypted = fmt.Errorf("%w: encrypted documents are not supported", ErrCorruptInput)
	// ErrPageOutOfRange is returned before any output is produced.
	ErrPageOutOfRange = errors.New("pdf: page out of range")
	// ErrInvalidPlacement rejects non-finite coordinates.
	ErrInvalidPlacement = errors.New("pdf: invalid placement")
	// ErrInvalidImage covers undecodable or oversized signature images.
	ErrInvalidImage = errors.New("pdf: invalid signature image")
)

// PageRangeError carries the selector and the page count the compositor saw.
type PageRangeError struct {
	Page      int
	PageCount int
}

func (e *PageRangeError) Error() string {
	return fmt.Sprintf("%v: page %d of %d", ErrPageOutOfRange, e.Page, e.PageCount)
}

func (e *PageRangeError) Is(target error) bool { return target == ErrPageOutOfRange }
