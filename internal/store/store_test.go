package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"agentsim/internal/trace"
)

func artifact(id string) trace.Artifact {
	return trace.Artifact{
		ArtifactID:      id,
		UserQuery:       "q",
		ToolInvocations: []trace.Invocation{},
		ToolResults:     []trace.ToolResult{},
		CreatedAt:       1700000000,
	}
}

func TestAppendCreatesCollection(t *testing.T) {
	st := Store{Now: func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }}
	path := filepath.Join(t.TempDir(), "evalcases.json")

	if err := st.Append(path, artifact("calc_agent_20250301T120000Z")); err != nil {
		t.Fatal(err)
	}
	col, err := st.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if col.CollectionID == "" {
		t.Error("collection id not assigned")
	}
	if col.Name != "evalcases" {
		t.Errorf("name = %q", col.Name)
	}
	if col.CreatedAt != time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC).Unix() {
		t.Errorf("createdAt = %d", col.CreatedAt)
	}
	if len(col.Artifacts) != 1 || col.Artifacts[0].ArtifactID != "calc_agent_20250301T120000Z" {
		t.Errorf("artifacts = %+v", col.Artifacts)
	}
}

func TestAppendPreservesExisting(t *testing.T) {
	st := New()
	path := filepath.Join(t.TempDir(), "cases.json")

	if err := st.Append(path, artifact("first")); err != nil {
		t.Fatal(err)
	}
	before, err := st.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Append(path, artifact("second")); err != nil {
		t.Fatal(err)
	}
	if err := st.Append(path, artifact("third")); err != nil {
		t.Fatal(err)
	}

	after, err := st.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if after.CollectionID != before.CollectionID {
		t.Error("collection identity changed on append")
	}
	if after.CreatedAt != before.CreatedAt {
		t.Error("createdAt changed on append")
	}
	if len(after.Artifacts) != 3 {
		t.Fatalf("artifact count = %d", len(after.Artifacts))
	}
	for i, want := range []string{"first", "second", "third"} {
		if after.Artifacts[i].ArtifactID != want {
			t.Errorf("artifact %d = %s, want %s", i, after.Artifacts[i].ArtifactID, want)
		}
	}
}

func TestAppendCreatesParentDirs(t *testing.T) {
	st := New()
	path := filepath.Join(t.TempDir(), "out", "nested", "cases.json")

	if err := st.Append(path, artifact("a")); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("collection not written: %v", err)
	}
}

func TestAppendRefusesCorruptFile(t *testing.T) {
	st := New()
	path := filepath.Join(t.TempDir(), "cases.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	err := st.Append(path, artifact("a"))
	var parseErr *CollectionParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected CollectionParseError, got %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "{not json" {
		t.Errorf("corrupt file was rewritten: %q", data)
	}
}

func TestAppendRefusesWrongShape(t *testing.T) {
	st := New()
	path := filepath.Join(t.TempDir(), "cases.json")
	if err := os.WriteFile(path, []byte(`{"name":"x"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	var parseErr *CollectionParseError
	if err := st.Append(path, artifact("a")); !errors.As(err, &parseErr) {
		t.Fatalf("expected CollectionParseError, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	st := New()
	_, err := st.Load(filepath.Join(t.TempDir(), "absent.json"))
	if !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}
