package charlm

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"slices"
)

// SetupSchema initializes the tables and sentinel vocabulary rows in the
// provided database. Call it once on a new database before any other
// operation. It is idempotent and safe on an already-initialized database.
func SetupSchema(db *sql.DB) error {

	const (
		schemaVocab = `
CREATE TABLE IF NOT EXISTS charlm_vocabulary (
    code INTEGER PRIMARY KEY,
    char TEXT NOT NULL UNIQUE
);
`
		schemaModels = `
CREATE TABLE IF NOT EXISTS charlm_models (
    model_id INTEGER PRIMARY KEY,
    model_name TEXT NOT NULL UNIQUE,
    window_size INTEGER NOT NULL
);
`
		schemaContexts = `
CREATE TABLE IF NOT EXISTS charlm_contexts (
    context_id INTEGER PRIMARY KEY,
    context_text TEXT NOT NULL UNIQUE
);
`
		schemaTransitions = `
CREATE TABLE IF NOT EXISTS charlm_transitions (
    model_id INTEGER NOT NULL,
    context_id INTEGER NOT NULL,
    next_code INTEGER NOT NULL,
    frequency INTEGER NOT NULL DEFAULT 1,
    PRIMARY KEY (model_id, context_id, next_code)
);
`
	)

	sentinels := fmt.Sprintf(`INSERT OR IGNORE INTO charlm_vocabulary (code, char) VALUES (%d, '%s'), (%d, '%s'), (%d, '%s');`,
		PadID, PadText, StartID, StartText, EndID, EndText)

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	// If the transaction succeeds, tx.Commit() runs first and this rollback
	// does nothing; if it fails, this cleans up.
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	for _, schema := range []string{schemaVocab, schemaModels, schemaContexts, schemaTransitions} {
		if _, err = tx.Exec(schema); err != nil {
			return fmt.Errorf("could not create schema: %w", err)
		}
	}

	if _, err = tx.Exec(sentinels); err != nil {
		return fmt.Errorf("could not insert sentinel rows: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}

	return nil
}

// Store is the persistence layer for vocabularies and trained count models.
// It holds the database connection and prepared SQL statements for the hot
// lookup paths.
type Store struct {
	db                     *sql.DB
	stmtGetModelInfo       *sql.Stmt
	stmtGetModels          *sql.Stmt
	stmtAddModel           *sql.Stmt
	stmtDeleteModel        *sql.Stmt
	stmtPruneModel         *sql.Stmt
	stmtModelTransitions   *sql.Stmt
	stmtModelFreq          *sql.Stmt
	stmtGetContextID       *sql.Stmt
	stmtGetOrInsertContext *sql.Stmt
	stmtGetTransitions     *sql.Stmt
	stmtInsertTransition   *sql.Stmt
	stmtVocabLen           *sql.Stmt
	stmtContextLen         *sql.Stmt
	stmtInsertVocab        *sql.Stmt
	stmtGetVocab           *sql.Stmt
	logger                 *slog.Logger
}

// NewStore creates a Store over an initialized database, pre-compiling all
// statements. It returns an error if any preparation fails.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{
		db:     db,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	prepared := []struct {
		dst   **sql.Stmt
		query string
	}{
		{&s.stmtGetModelInfo, `SELECT model_id, window_size FROM charlm_models WHERE model_name = ?;`},
		{&s.stmtGetModels, `SELECT model_id, model_name, window_size FROM charlm_models;`},
		{&s.stmtAddModel, `INSERT INTO charlm_models (model_name, window_size) VALUES (?, ?);`},
		{&s.stmtDeleteModel, `DELETE FROM charlm_models WHERE model_id = ?;`},
		{&s.stmtPruneModel, `DELETE FROM charlm_transitions WHERE model_id = ? AND frequency <= ?;`},
		{&s.stmtModelTransitions, `SELECT COUNT(*) FROM charlm_transitions WHERE model_id = ?;`},
		{&s.stmtModelFreq, `SELECT coalesce(SUM(frequency), 0) FROM charlm_transitions WHERE model_id = ?;`},
		{&s.stmtGetContextID, `SELECT context_id FROM charlm_contexts WHERE context_text = ?;`},
		{&s.stmtGetOrInsertContext, `INSERT INTO charlm_contexts (context_text) VALUES (?) ON CONFLICT(context_text) DO UPDATE SET context_text=excluded.context_text RETURNING context_id;`},
		{&s.stmtGetTransitions, `SELECT next_code, frequency FROM charlm_transitions WHERE model_id = ? AND context_id = ?;`},
		{&s.stmtInsertTransition, `INSERT INTO charlm_transitions (model_id, context_id, next_code) VALUES (?, ?, ?) ON CONFLICT DO UPDATE SET frequency = frequency + 1;`},
		{&s.stmtVocabLen, `SELECT COUNT(*) FROM charlm_vocabulary;`},
		{&s.stmtContextLen, `SELECT COUNT(*) FROM charlm_contexts;`},
		{&s.stmtInsertVocab, `INSERT INTO charlm_vocabulary (code, char) VALUES (?, ?);`},
		{&s.stmtGetVocab, `SELECT code, char FROM charlm_vocabulary ORDER BY code;`},
	}
	for _, p := range prepared {
		stmt, err := db.Prepare(p.query)
		if err != nil {
			return nil, err
		}
		*p.dst = stmt
	}

	return s, nil
}

// Close releases all prepared SQL statements held by the Store.
func (s *Store) Close() {
	_ = s.stmtGetModelInfo.Close()
	_ = s.stmtGetModels.Close()
	_ = s.stmtAddModel.Close()
	_ = s.stmtDeleteModel.Close()
	_ = s.stmtPruneModel.Close()
	_ = s.stmtModelTransitions.Close()
	_ = s.stmtModelFreq.Close()
	_ = s.stmtGetContextID.Close()
	_ = s.stmtGetOrInsertContext.Close()
	_ = s.stmtGetTransitions.Close()
	_ = s.stmtInsertTransition.Close()
	_ = s.stmtVocabLen.Close()
	_ = s.stmtContextLen.Close()
	_ = s.stmtInsertVocab.Close()
	_ = s.stmtGetVocab.Close()
}

// SetLogger sets the logger for the Store. By default, all logs are
// discarded.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SaveVocabulary persists a built vocabulary. Stored transitions reference
// codes positionally, so a code that moves silently retargets every trained
// model; saving is therefore write-once. Re-saving an identical vocabulary
// is a no-op, a differing vocabulary is only written while no models exist,
// and is refused with ErrVocabMismatch otherwise.
func (s *Store) SaveVocabulary(ctx context.Context, v *Vocabulary) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	stored, err := storedCorpusChars(ctx, tx)
	if err != nil {
		return err
	}
	if len(stored) > 0 {
		if slices.Equal(stored, v.Chars()) {
			return nil
		}
		var models int
		if err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM charlm_models`).Scan(&models); err != nil {
			return fmt.Errorf("could not count models: %w", err)
		}
		if models > 0 {
			return fmt.Errorf("stored vocabulary differs and %d trained model(s) reference it: %w", models, ErrVocabMismatch)
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM charlm_vocabulary WHERE code >= ?`, numReserved); err != nil {
			return fmt.Errorf("could not clear stored vocabulary: %w", err)
		}
	}

	stmtInsert := tx.StmtContext(ctx, s.stmtInsertVocab)
	for code, r := range v.Chars() {
		if _, err = stmtInsert.ExecContext(ctx, code+numReserved, string(r)); err != nil {
			return fmt.Errorf("could not store vocabulary entry %q: %w", r, err)
		}
	}

	s.logger.InfoContext(ctx, "vocabulary saved",
		slog.Int("size", v.Size()),
	)

	return tx.Commit()
}

// storedCorpusChars reads the persisted corpus characters (codes >= 3) in
// code order.
func storedCorpusChars(ctx context.Context, tx *sql.Tx) ([]rune, error) {
	rows, err := tx.QueryContext(ctx, `SELECT char FROM charlm_vocabulary WHERE code >= ? ORDER BY code`, numReserved)
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var chars []rune
	for rows.Next() {
		var char string
		if err = rows.Scan(&char); err != nil {
			return nil, err
		}
		rs := []rune(char)
		if len(rs) != 1 {
			return nil, fmt.Errorf("stored vocabulary entry %q is not a single character: %w", char, ErrVocabMismatch)
		}
		chars = append(chars, rs[0])
	}
	return chars, rows.Err()
}

// LoadVocabulary reads the persisted vocabulary back. It verifies the shape
// on the way in: the three sentinel rows must be present and every stored
// code must land exactly where construction would have put it, so the code
// range stays contiguous. Any deviation is reported as ErrVocabMismatch.
func (s *Store) LoadVocabulary(ctx context.Context) (*Vocabulary, error) {
	rows, err := s.stmtGetVocab.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	v := &Vocabulary{charToID: make(map[rune]int)}

	next := 0
	for rows.Next() {
		var code int
		var char string
		if err = rows.Scan(&code, &char); err != nil {
			return nil, err
		}
		if code != next {
			return nil, fmt.Errorf("stored vocabulary has a gap at code %d: %w", next, ErrVocabMismatch)
		}

		switch code {
		case PadID, StartID, EndID:
			if char != sentinelText(code) {
				return nil, fmt.Errorf("stored sentinel %d is %q, want %q: %w", code, char, sentinelText(code), ErrVocabMismatch)
			}
			v.idToChar = append(v.idToChar, sentinelRune(code))
		default:
			rs := []rune(char)
			if len(rs) != 1 {
				return nil, fmt.Errorf("stored vocabulary entry %d is %q, not a single character: %w", code, char, ErrVocabMismatch)
			}
			v.idToChar = append(v.idToChar, rs[0])
			v.charToID[rs[0]] = code
		}
		next++
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	if next < numReserved {
		return nil, fmt.Errorf("stored vocabulary is missing sentinel rows: %w", ErrVocabMismatch)
	}

	return v, nil
}

// sentinelRune maps a sentinel code to its reserved rune.
func sentinelRune(code int) rune {
	switch code {
	case StartID:
		return StartRune
	case EndID:
		return EndRune
	}
	return PadRune
}

// ModelInfo holds the metadata for a stored count model: its unique ID, its
// name, and the window width its transitions were built with.
type ModelInfo struct {
	Id     int
	Name   string
	Window int
}

// GetModelInfos retrieves metadata for all models currently in the database,
// keyed by model name.
func (s *Store) GetModelInfos(ctx context.Context) (map[string]ModelInfo, error) {
	rows, err := s.stmtGetModels.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	models := make(map[string]ModelInfo)
	for rows.Next() {
		var model ModelInfo
		if err = rows.Scan(&model.Id, &model.Name, &model.Window); err != nil {
			return nil, err
		}
		models[model.Name] = model
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return models, nil
}

// GetModelInfo retrieves the metadata for a single model by name.
func (s *Store) GetModelInfo(ctx context.Context, modelName string) (ModelInfo, error) {
	var id, window int
	err := s.stmtGetModelInfo.QueryRowContext(ctx, modelName).Scan(&id, &window)
	if err != nil {
		return ModelInfo{}, err
	}
	return ModelInfo{
		Id:     id,
		Name:   modelName,
		Window: window,
	}, nil
}

// InsertModel creates a new model entry in the database.
func (s *Store) InsertModel(ctx context.Context, model ModelInfo) error {
	_, err := s.stmtAddModel.ExecContext(ctx, model.Name, model.Window)
	return err
}

// RemoveModel deletes a model and all of its transitions. The operation is
// performed within a transaction.
func (s *Store) RemoveModel(ctx context.Context, model ModelInfo) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	if _, err = tx.ExecContext(ctx, "DELETE FROM charlm_transitions WHERE model_id = ?", model.Id); err != nil {
		return fmt.Errorf("failed to remove transitions for model %d: %w", model.Id, err)
	}

	if _, err = tx.ExecContext(ctx, "DELETE FROM charlm_models WHERE model_id = ?", model.Id); err != nil {
		return fmt.Errorf("failed to remove model %d: %w", model.Id, err)
	}

	s.logger.InfoContext(ctx, "model removed",
		slog.String("model_name", model.Name),
		slog.Int("model_id", model.Id),
	)

	return tx.Commit()
}
