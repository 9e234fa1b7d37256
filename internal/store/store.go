package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"agentsim/internal/trace"
)

// CollectionParseError reports an existing collection file that does not
// conform to the Collection shape. The file is left untouched.
type CollectionParseError struct {
	Path string
	Err  error
}

func (e *CollectionParseError) Error() string {
	return fmt.Sprintf("collection %s: %v", e.Path, e.Err)
}

func (e *CollectionParseError) Unwrap() error { return e.Err }

// Collection is the persisted, appendable set of artifacts for one target.
type Collection struct {
	CollectionID string           `json:"collectionId"`
	Name         string           `json:"name"`
	Description  string           `json:"description"`
	CreatedAt    int64            `json:"createdAt"`
	Artifacts    []trace.Artifact `json:"artifacts"`
}

// Store persists artifacts into collection files. Single-writer: concurrent
// exports to the same path are unsupported.
type Store struct {
	Now func() time.Time
}

func New() Store {
	return Store{Now: time.Now}
}

func (st Store) now() time.Time {
	if st.Now != nil {
		return st.Now()
	}
	return time.Now()
}

// Append adds an artifact to the collection at path, creating the collection
// (and parent directories) if absent. An existing file is parsed in full,
// appended to, and rewritten whole; artifact order is append order.
func (st Store) Append(path string, artifact trace.Artifact) error {
	col, err := st.load(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		col = Collection{
			CollectionID: uuid.New().String(),
			Name:         collectionName(path),
			Description:  "",
			CreatedAt:    st.now().UTC().Unix(),
			Artifacts:    []trace.Artifact{},
		}
	}
	col.Artifacts = append(col.Artifacts, artifact)
	return st.write(path, col)
}

// Load reads and validates the collection at path.
func (st Store) Load(path string) (Collection, error) {
	return st.load(path)
}

func (st Store) load(path string) (Collection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Collection{}, err
	}
	var col Collection
	if err := json.Unmarshal(data, &col); err != nil {
		return Collection{}, &CollectionParseError{Path: path, Err: err}
	}
	if col.CollectionID == "" {
		return Collection{}, &CollectionParseError{Path: path, Err: fmt.Errorf("missing collectionId")}
	}
	if col.Artifacts == nil {
		return Collection{}, &CollectionParseError{Path: path, Err: fmt.Errorf("missing artifacts")}
	}
	return col, nil
}

// write rewrites the whole file via a temp file and rename, so readers never
// observe a partial collection.
func (st Store) write(path string, col Collection) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(col, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func collectionName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
