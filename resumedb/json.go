package resumedb

import (
	"encoding/json"
	"log"
	"net/url"
	"time"

	"github.com/ndlib/zeroinstall-store/store"
)

// jsonDB is the default DB backend: every entry is serialized as JSON
// into store.Store, keyed by the URL query-escaped with net/url (store
// keys may not contain '/'). Grounded on
// fragment/json.go's JSONStore technique (deserialize-on-Open,
// delete-then-recreate on Save) generalized from an in-memory
// interface{} value to the fixed Entry shape resumedb needs.
type jsonDB struct {
	s store.Store
}

// NewJSON creates a DB backed by s, a generic key-value store (normally
// a store.FileSystem rooted at a scratch directory next to the main
// implementation store).
func NewJSON(s store.Store) DB {
	return &jsonDB{s: s}
}

func (db *jsonDB) Get(rawURL string) (int64, bool, error) {
	key := keyFor(rawURL)
	r, _, err := db.s.Open(key)
	if err != nil {
		return 0, false, nil
	}
	defer r.Close()
	var e Entry
	dec := json.NewDecoder(store.NewReader(r))
	if err := dec.Decode(&e); err != nil {
		return 0, false, err
	}
	return e.Offset, true, nil
}

func (db *jsonDB) Set(rawURL string, offset int64) error {
	key := keyFor(rawURL)
	if err := db.s.Delete(key); err != nil {
		return err
	}
	w, err := db.s.Create(key)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	err = enc.Encode(Entry{URL: rawURL, Offset: offset, Updated: time.Now()})
	closeErr := w.Close()
	if err == nil {
		err = closeErr
	} else if closeErr != nil {
		log.Println("resumedb: closing", key, ":", closeErr)
	}
	return err
}

func (db *jsonDB) Delete(rawURL string) error {
	return db.s.Delete(keyFor(rawURL))
}

func (db *jsonDB) Close() error {
	return nil
}

// keyFor turns an arbitrary URL into a store key containing no slashes,
// using the same percent-style escaping net/url already provides rather
// than hand-rolling a hash.
func keyFor(rawURL string) string {
	return url.QueryEscape(rawURL)
}
