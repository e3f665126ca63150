package charlm

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates a new temp-file SQLite database and a Store for
// testing. It uses t.Cleanup to ensure resources are released.
func setupTestDB(t *testing.T) (*sql.DB, *Store) {
	t.Helper()
	dbFile := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite3", dbFile+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := SetupSchema(db); err != nil {
		t.Fatalf("failed to set up schema: %v", err)
	}

	s, err := NewStore(db)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	t.Cleanup(s.Close)

	return db, s
}

// testCorpus is the tiny joke corpus most store tests train on.
var testCorpus = []string{
	"why did the gopher cross the road",
	"to get to the other goroutine",
}

// setupTestStoreWithTraining is a convenience helper that builds and saves a
// vocabulary from testCorpus and trains a default model on it.
func setupTestStoreWithTraining(t *testing.T) (context.Context, *Store, *Vocabulary, ModelInfo) {
	t.Helper()
	_, s := setupTestDB(t)
	ctx := context.Background()

	vocab := BuildVocabulary(testCorpus)
	if err := s.SaveVocabulary(ctx, vocab); err != nil {
		t.Fatalf("setup: SaveVocabulary() failed: %v", err)
	}

	model := ModelInfo{Name: "test_model", Window: 3}
	if err := s.InsertModel(ctx, model); err != nil {
		t.Fatalf("setup: InsertModel() failed: %v", err)
	}
	model, err := s.GetModelInfo(ctx, model.Name)
	if err != nil {
		t.Fatalf("setup: GetModelInfo() failed: %v", err)
	}

	if _, err := s.TrainCorpus(ctx, model, vocab, testCorpus); err != nil {
		t.Fatalf("setup: TrainCorpus() failed: %v", err)
	}
	return ctx, s, vocab, model
}

// mustEncode encodes a string against a vocabulary, failing the test on any
// unknown character.
func mustEncode(t *testing.T, v *Vocabulary, s string) []int {
	t.Helper()
	codes, err := v.EncodeString(s)
	if err != nil {
		t.Fatalf("EncodeString(%q) failed: %v", s, err)
	}
	return codes
}
