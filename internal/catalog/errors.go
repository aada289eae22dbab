package catalog

import (
	"errors"
	"fmt"
)

// NotFoundError reports a 4xx answer for an ASIN: the catalog does not know
// the book. Callers fall through to the next source or skip gracefully.
type NotFoundError struct {
	ASIN   string
	Source string
	Status int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: asin %s not found (status %d)", e.Source, e.ASIN, e.Status)
}

// IsNotFound reports whether err is a catalog not-found.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
