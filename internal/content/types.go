package content

import "errors"

var ErrContentNotFound = errors.New("content not found")

// Store is a write-once blob store addressed by content hash.
type Store interface {
	// Store saves content if it is not already present and returns its hash.
	Store(content []byte) (string, error)
	Get(hash string) ([]byte, error)
	Exists(hash string) (bool, error)
}

// FileStore keeps one file per blob under root/<hash[:2]>/<hash[2:]>.
type FileStore struct {
	root string
}
