package store

import "github.com/acksell/entities/types"

// NewETag returns a fresh opaque etag. Etags are random, never derived from
// row content, so rewriting identical content still changes the etag.
func NewETag() string {
	return types.NewSlugID()
}
