package charlm

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// ExportedModel is the serializable representation of a trained count model,
// used for JSON-based import and export. The vocabulary travels with the
// model as an ordered list of characters whose position encodes the code,
// because a model is only meaningful against the exact vocabulary it was
// trained with.
type ExportedModel struct {
	Name        string               `json:"name"`
	Window      int                  `json:"window"`
	Vocabulary  []string             `json:"vocabulary"`
	Transitions []ExportedTransition `json:"transitions"`
}

// ExportedTransition is the serializable representation of a single
// transition count, keyed by the canonical context text.
type ExportedTransition struct {
	Context   string `json:"context"`
	NextCode  int    `json:"next_code"`
	Frequency int    `json:"frequency"`
}

// exportVocabulary renders the full code table, sentinels included, as an
// ordered list of display strings.
func exportVocabulary(v *Vocabulary) []string {
	out := make([]string, v.Size())
	out[PadID] = PadText
	out[StartID] = StartText
	out[EndID] = EndText
	for i, r := range v.Chars() {
		out[i+numReserved] = string(r)
	}
	return out
}

// ExportModel serializes a model and the stored vocabulary into JSON and
// writes it to w. Useful for backups or for transferring a trained model to
// another database.
func (s *Store) ExportModel(ctx context.Context, model ModelInfo, w io.Writer) error {
	vocab, err := s.LoadVocabulary(ctx)
	if err != nil {
		return fmt.Errorf("could not load vocabulary for export: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.context_text, t.next_code, t.frequency
		FROM charlm_transitions t JOIN charlm_contexts c ON t.context_id = c.context_id
		WHERE t.model_id = ?`, model.Id)
	if err != nil {
		return fmt.Errorf("could not query transitions for export: %w", err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var transitions []ExportedTransition
	for rows.Next() {
		var t ExportedTransition
		if err = rows.Scan(&t.Context, &t.NextCode, &t.Frequency); err != nil {
			return err
		}
		transitions = append(transitions, t)
	}
	if err = rows.Err(); err != nil {
		return err
	}

	exported := ExportedModel{
		Name:        model.Name,
		Window:      model.Window,
		Vocabulary:  exportVocabulary(vocab),
		Transitions: transitions,
	}

	s.logger.InfoContext(ctx, "model exported",
		slog.String("model_name", model.Name),
		slog.Int("model_id", model.Id),
		slog.Int("vocab_size", len(exported.Vocabulary)),
		slog.Int("transitions_exported", len(transitions)),
	)

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(exported)
}

// ImportModel reads a JSON model representation from r and merges its
// transition counts into the database. The embedded vocabulary must match
// the stored one exactly; codes are positional, so any divergence would
// silently retarget every transition, and that is a correctness bug rather
// than a degraded result. If the model name does not exist it is created;
// existing transition frequencies are added to, not overwritten.
func (s *Store) ImportModel(ctx context.Context, r io.Reader) error {
	var imported ExportedModel
	if err := json.NewDecoder(r).Decode(&imported); err != nil {
		return fmt.Errorf("failed to decode json model: %w", err)
	}

	vocab, err := s.LoadVocabulary(ctx)
	if err != nil {
		return fmt.Errorf("could not load vocabulary for import: %w", err)
	}
	stored := exportVocabulary(vocab)
	if len(stored) != len(imported.Vocabulary) {
		return fmt.Errorf("imported vocabulary has %d codes, database has %d: %w",
			len(imported.Vocabulary), len(stored), ErrVocabMismatch)
	}
	for code := range stored {
		if stored[code] != imported.Vocabulary[code] {
			return fmt.Errorf("imported vocabulary disagrees at code %d (%q vs %q): %w",
				code, imported.Vocabulary[code], stored[code], ErrVocabMismatch)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction for import: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	var modelID int
	err = tx.QueryRowContext(ctx, "SELECT model_id FROM charlm_models WHERE model_name = ?", imported.Name).Scan(&modelID)
	if errors.Is(err, sql.ErrNoRows) {
		res, err := tx.ExecContext(ctx, "INSERT INTO charlm_models (model_name, window_size) VALUES (?, ?)", imported.Name, imported.Window)
		if err != nil {
			return fmt.Errorf("failed to insert new model '%s': %w", imported.Name, err)
		}
		newID, _ := res.LastInsertId()
		modelID = int(newID)
	} else if err != nil {
		return fmt.Errorf("failed to query for model '%s': %w", imported.Name, err)
	}

	stmtGetOrInsertContext := tx.StmtContext(ctx, s.stmtGetOrInsertContext)

	// Merge, don't overwrite, when a transition already exists.
	stmtInsert, err := tx.PrepareContext(ctx, `
		INSERT INTO charlm_transitions (model_id, context_id, next_code, frequency) VALUES (?, ?, ?, ?)
		ON CONFLICT(model_id, context_id, next_code) DO UPDATE SET frequency = frequency + excluded.frequency;
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare transition insert statement: %w", err)
	}
	defer func(stmtInsert *sql.Stmt) {
		_ = stmtInsert.Close()
	}(stmtInsert)

	contextCache := make(map[string]int)
	for _, t := range imported.Transitions {
		if t.NextCode < 0 || t.NextCode >= len(stored) {
			return fmt.Errorf("imported transition targets code %d: %w", t.NextCode, ErrUnknownCode)
		}
		contextID, ok := contextCache[t.Context]
		if !ok {
			if err = stmtGetOrInsertContext.QueryRowContext(ctx, t.Context).Scan(&contextID); err != nil {
				return fmt.Errorf("failed to get or insert context '%s': %w", t.Context, err)
			}
			contextCache[t.Context] = contextID
		}
		if _, err = stmtInsert.ExecContext(ctx, modelID, contextID, t.NextCode, t.Frequency); err != nil {
			return fmt.Errorf("failed to insert transition (%s -> %d): %w", t.Context, t.NextCode, err)
		}
	}

	s.logger.InfoContext(ctx, "model imported",
		slog.String("model_name", imported.Name),
		slog.Int("target_model_id", modelID),
		slog.Int("transitions_merged", len(imported.Transitions)),
	)

	return tx.Commit()
}
