// internal/safe/safe.go
package safe

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"waltz/internal/content"
	werrors "waltz/internal/errors"
	"waltz/internal/storage"
	"waltz/shared/utils"

	"github.com/dgraph-io/badger/v4"
	lru "github.com/hashicorp/golang-lru/v2"
)

var ErrInvalidHash = errors.New("invalid content hash")

// ContentMeta stores metadata about stored content
type ContentMeta struct {
	Hash      string    `json:"hash"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

func (m *ContentMeta) GetID() string { return m.Hash }

// Safe is the repository content store: blobs on disk, an index of known
// hashes in badger and a read cache in front of both.
type Safe struct {
	blobs *content.FileStore
	index *storage.BadgerStore[*ContentMeta]
	cache *lru.Cache[string, []byte]
	mu    sync.Mutex // serializes Store
}

// Options configures Safe behavior
type Options struct {
	Root      string // Root directory for blob files
	CacheSize int    // Number of blobs to cache
}

var _ content.Store = (*Safe)(nil)

// New creates a new Safe instance
func New(db *badger.DB, opts Options) (*Safe, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("root directory is required")
	}
	if opts.CacheSize == 0 {
		opts.CacheSize = 1024
	}

	blobs, err := content.NewFileStore(opts.Root)
	if err != nil {
		return nil, err
	}

	cache, err := lru.New[string, []byte](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating cache: %w", err)
	}

	return &Safe{
		blobs: blobs,
		index: storage.NewBadgerStore[*ContentMeta](db, "content"),
		cache: cache,
	}, nil
}

// Store saves content and returns its hash. Content already held is not
// written again; an indexed hash whose blob file has disappeared is restored.
func (s *Safe) Store(data []byte) (string, error) {
	hash := utils.HashContent(data)

	s.mu.Lock()
	defer s.mu.Unlock()

	indexed, err := s.index.Has(hash)
	if err != nil {
		return "", fmt.Errorf("checking index: %w", err)
	}
	onDisk, err := s.blobs.Exists(hash)
	if err != nil {
		return "", err
	}

	switch {
	case indexed && onDisk:
		return hash, nil
	case indexed:
		if _, err := s.blobs.Rewrite(data); err != nil {
			return "", err
		}
	default:
		if _, err := s.blobs.Store(data); err != nil {
			return "", err
		}
		meta := &ContentMeta{
			Hash:      hash,
			Size:      int64(len(data)),
			CreatedAt: time.Now().UTC(),
		}
		// A blob without an index entry is an orphan and harmless.
		if _, err := s.index.PutIfAbsent(meta); err != nil {
			return "", fmt.Errorf("storing metadata: %w", err)
		}
	}

	s.cache.Add(hash, data)
	return hash, nil
}

// Get retrieves content by hash, verifying it against the hash. Missing
// or damaged blobs are reported as ContentMissing errors.
func (s *Safe) Get(hash string) ([]byte, error) {
	if !utils.IsValidHash(hash) {
		return nil, werrors.ContentMissing(hash, "is not a valid content hash")
	}

	if data, ok := s.cache.Get(hash); ok {
		return data, nil
	}

	data, err := s.blobs.Get(hash)
	if err != nil {
		if errors.Is(err, content.ErrContentNotFound) {
			return nil, werrors.ContentMissing(hash, "is not in the content store")
		}
		return nil, werrors.IO("reading content", hash, err)
	}

	if utils.HashContent(data) != hash {
		return nil, werrors.ContentMissing(hash, "is corrupt (hash mismatch)")
	}

	s.cache.Add(hash, data)
	return data, nil
}

// Exists checks if the blob for hash is present on disk.
func (s *Safe) Exists(hash string) (bool, error) {
	if !utils.IsValidHash(hash) {
		return false, ErrInvalidHash
	}
	return s.blobs.Exists(hash)
}

// Verify checks content integrity
func (s *Safe) Verify(hash string) error {
	s.cache.Remove(hash)
	_, err := s.Get(hash)
	return err
}

// Stats summarizes the index.
type Stats struct {
	Blobs int
	Bytes int64
}

func (s *Safe) Stats() (Stats, error) {
	var st Stats
	err := s.index.Each(func(m *ContentMeta) error {
		st.Blobs++
		st.Bytes += m.Size
		return nil
	})
	if err != nil {
		return Stats{}, err
	}
	return st, nil
}
