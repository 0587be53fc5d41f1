// Package props implements the (scope, subject, name) -> value property
// store: a bbolt bucket shared with the object store's database file, plus
// best-effort mime-type sniffing for content a client PUTs without an
// explicit svn:mime-type proppatch.
package props

import (
	"fmt"

	"github.com/h2non/filetype"
	bolt "go.etcd.io/bbolt"
)

var bucketProps = []byte("properties")

// Scope is which kind of subject a property is attached to.
type Scope string

const (
	ScopeRevision Scope = "revision"
	ScopePath     Scope = "path"
)

// Standard SVN property names this server recognizes without special
// validation; all others are still accepted and stored as opaque UTF-8.
const (
	PropLog          = "svn:log"
	PropAuthor       = "svn:author"
	PropDate         = "svn:date"
	PropExecutable   = "svn:executable"
	PropMimeType     = "svn:mime-type"
	PropIgnore       = "svn:ignore"
	PropEOLStyle     = "svn:eol-style"
	PropKeywords     = "svn:keywords"
	PropNeedsLock    = "svn:needs-lock"
)

// Store is the property map, opened against an existing bbolt handle shared
// with pkg/objectstore so the repository's on-disk state stays in one file.
type Store struct {
	db *bolt.DB
}

// Open creates the properties bucket if absent and returns a Store bound to
// db.
func Open(db *bolt.DB) (*Store, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketProps)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("props: create bucket: %w", err)
	}
	return &Store{db: db}, nil
}

func key(scope Scope, subject, name string) []byte {
	return []byte(string(scope) + "|" + subject + "|" + name)
}

// Get returns the value set for (scope, subject, name), or ok=false if unset.
func (s *Store) Get(scope Scope, subject, name string) (value string, ok bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketProps).Get(key(scope, subject, name))
		if v != nil {
			value = string(v)
			ok = true
		}
		return nil
	})
	return value, ok, err
}

// Set stores value for (scope, subject, name), overwriting any prior value.
func (s *Store) Set(scope Scope, subject, name, value string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProps).Put(key(scope, subject, name), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("props: set %s/%s/%s: %w", scope, subject, name, err)
	}
	return nil
}

// Remove deletes (scope, subject, name) if present; removing an absent key
// is not an error.
func (s *Store) Remove(scope Scope, subject, name string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProps).Delete(key(scope, subject, name))
	})
	if err != nil {
		return fmt.Errorf("props: remove %s/%s/%s: %w", scope, subject, name, err)
	}
	return nil
}

// List returns the property names set on (scope, subject), in bucket order.
func (s *Store) List(scope Scope, subject string) ([]string, error) {
	prefix := []byte(string(scope) + "|" + subject + "|")
	var names []string
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketProps).Cursor()
		for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
			names = append(names, string(k[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("props: list %s/%s: %w", scope, subject, err)
	}
	return names, nil
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

// DetectMimeType sniffs content's mime type from its leading bytes, falling
// back to "application/octet-stream" when filetype recognizes nothing (the
// common case for plain text, which filetype deliberately does not claim).
func DetectMimeType(content []byte) string {
	head := content
	if len(head) > 261 {
		head = head[:261]
	}
	kind, err := filetype.Match(head)
	if err != nil || kind == filetype.Unknown {
		return "application/octet-stream"
	}
	return kind.MIME.Value
}
