package charlm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
)

// Transition represents one possible next code after a given context,
// together with how often it was observed during training.
type Transition struct {
	Code int
	Freq int
}

// contextKey renders a window of codes as the canonical context key used in
// the contexts table: decimal codes joined by single spaces.
func contextKey(buf []byte, window []int) []byte {
	buf = buf[:0]
	for i, code := range window {
		if i > 0 {
			buf = append(buf, ' ')
		}
		buf = strconv.AppendInt(buf, int64(code), 10)
	}
	return buf
}

// GetTransitions retrieves all observed next codes for a window under a
// specific model, plus the sum of their frequencies. An unseen window
// returns a nil slice and a total of 0.
func (s *Store) GetTransitions(ctx context.Context, model ModelInfo, window []int) ([]Transition, int, error) {
	key := string(contextKey(nil, window))

	var contextID int
	err := s.stmtGetContextID.QueryRowContext(ctx, key).Scan(&contextID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// This window has never been seen, so there are no observed transitions.
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("could not get context ID for '%s': %w", key, err)
	}

	rows, err := s.stmtGetTransitions.QueryContext(ctx, model.Id, contextID)
	if err != nil {
		return nil, 0, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var transitions []Transition
	var totalFreq int
	for rows.Next() {
		var t Transition
		if err = rows.Scan(&t.Code, &t.Freq); err != nil {
			return nil, 0, err
		}
		transitions = append(transitions, t)
		totalFreq += t.Freq
	}

	if err = rows.Err(); err != nil {
		return nil, 0, err
	}

	return transitions, totalFreq, nil
}

// InsertTransition provides a low-level way to insert or increment a single
// window -> next-code transition for a given model. For bulk data the
// high-level Train is significantly more efficient.
func (s *Store) InsertTransition(ctx context.Context, model ModelInfo, window []int, next int) error {
	key := string(contextKey(nil, window))

	var contextID int
	if err := s.stmtGetOrInsertContext.QueryRowContext(ctx, key).Scan(&contextID); err != nil {
		return fmt.Errorf("could not get or insert context '%s': %w", key, err)
	}
	if _, err := s.stmtInsertTransition.ExecContext(ctx, model.Id, contextID, next); err != nil {
		return fmt.Errorf("could not insert transition for '%s': %w", key, err)
	}
	return nil
}

// transitionLink Is a struct used for batching transition inserts.
type transitionLink struct {
	contextID int
	nextCode  int
}

// Train consumes (window, label) pairs produced by MakeWindows and records
// them as transition counts for the given model. Inserts are cached and
// batched, and the whole pass runs in a single transaction so a failed
// training run leaves no partial counts behind.
func (s *Store) Train(ctx context.Context, model ModelInfo, pairs []Pair) error {
	// transitionBatchSize determines how many transitions are buffered in
	// memory before being written to the database in a single batch.
	const transitionBatchSize = 1000

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	contextCache := make(map[string]int)
	batch := make([]transitionLink, 0, transitionBatchSize)

	stmtGetOrInsertContext := tx.StmtContext(ctx, s.stmtGetOrInsertContext)
	stmtInsertBatch, err := tx.PrepareContext(ctx, `INSERT INTO charlm_transitions (model_id, context_id, next_code, frequency) VALUES (?, ?, ?, 1) ON CONFLICT(model_id, context_id, next_code) DO UPDATE SET frequency = frequency + 1;`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch transition insert statement: %w", err)
	}
	defer func(stmt *sql.Stmt) {
		_ = stmt.Close()
	}(stmtInsertBatch)

	commitBatch := func() error {
		for _, link := range batch {
			if _, err := stmtInsertBatch.ExecContext(ctx, model.Id, link.contextID, link.nextCode); err != nil {
				return fmt.Errorf("failed during batch insert of transition (%d -> %d): %w", link.contextID, link.nextCode, err)
			}
		}
		batch = batch[:0]
		return nil
	}

	var keyBuf []byte
	for _, pair := range pairs {
		keyBuf = contextKey(keyBuf, pair.Window)
		key := string(keyBuf)

		contextID, ok := contextCache[key]
		if !ok {
			if err = stmtGetOrInsertContext.QueryRowContext(ctx, key).Scan(&contextID); err != nil {
				return fmt.Errorf("failed to get or insert context '%s': %w", key, err)
			}
			contextCache[key] = contextID
		}

		batch = append(batch, transitionLink{contextID: contextID, nextCode: pair.Label})
		if len(batch) >= transitionBatchSize {
			if err = commitBatch(); err != nil {
				return err
			}
		}
	}

	if err = commitBatch(); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "training completed",
		slog.String("model_name", model.Name),
		slog.Int("model_id", model.Id),
		slog.Int("pairs_processed", len(pairs)),
	)

	return tx.Commit()
}

// TrainCorpus windows every cleaned example and records the resulting pairs
// for the given model in one training pass. Examples that fail to encode are
// skipped and logged with their row index rather than aborting the corpus
// pass; one bad row never corrupts the rest. It returns the number of
// examples actually trained.
func (s *Store) TrainCorpus(ctx context.Context, model ModelInfo, vocab *Vocabulary, examples []string) (int, error) {
	var pairs []Pair
	trained := 0
	for i, ex := range examples {
		codes, err := vocab.EncodeString(ex)
		if err != nil {
			s.logger.WarnContext(ctx, "skipping unencodable example",
				slog.Int("row", i+1),
				slog.Any("error", err),
			)
			continue
		}
		pairs = append(pairs, MakeWindows(Mark(codes), model.Window)...)
		trained++
	}

	if err := s.Train(ctx, model, pairs); err != nil {
		return 0, err
	}
	return trained, nil
}

// PruneModel removes all transitions from a model with a frequency less than
// or equal to minFreq. Useful for shrinking a model by dropping rare, often
// noisy transitions.
func (s *Store) PruneModel(ctx context.Context, model ModelInfo, minFreq int) error {
	res, err := s.stmtPruneModel.ExecContext(ctx, model.Id, minFreq)
	if err != nil {
		return fmt.Errorf("could not prune model %d: %w", model.Id, err)
	}
	rowsAffected, _ := res.RowsAffected()

	s.logger.InfoContext(ctx, "model pruned",
		slog.String("model_name", model.Name),
		slog.Int("model_id", model.Id),
		slog.Int("min_frequency", minFreq),
		slog.Int64("transitions_removed", rowsAffected),
	)
	return nil
}

// CountModel serves the Model boundary from stored transition counts: an
// order-W frequency table over fixed windows. It exists so the toolkit is
// runnable end to end without an external network; anything that can turn a
// window into a distribution can stand in for it.
type CountModel struct {
	store     *Store
	info      ModelInfo
	vocabSize int
}

// NewCountModel returns a CountModel reading the given stored model. The
// vocabulary must be the one the transitions were trained against.
func NewCountModel(store *Store, info ModelInfo, vocab *Vocabulary) *CountModel {
	return &CountModel{
		store:     store,
		info:      info,
		vocabSize: vocab.Size(),
	}
}

// Info returns the stored model metadata this CountModel reads.
func (m *CountModel) Info() ModelInfo {
	return m.info
}

// normalizeContext maps a leading run of pad codes to start codes. Training
// windows encode "no context yet" with start sentinels while generation
// windows left-pad short seeds with the pad sentinel; both spellings must
// hit the same stored context or short seeds would always dead-end.
func normalizeContext(window []int) []int {
	i := 0
	for i < len(window) && window[i] == PadID {
		i++
	}
	if i == 0 {
		return window
	}
	out := make([]int, len(window))
	for j := 0; j < i; j++ {
		out[j] = StartID
	}
	copy(out[i:], window[i:])
	return out
}

// Predict returns the normalized transition frequencies observed after the
// given window. A window never seen in training puts all probability on the
// end sentinel, which terminates generation the same way a dead end does.
func (m *CountModel) Predict(ctx context.Context, window []int) ([]float64, error) {
	transitions, totalFreq, err := m.store.GetTransitions(ctx, m.info, normalizeContext(window))
	if err != nil {
		return nil, err
	}

	probs := make([]float64, m.vocabSize)
	if totalFreq == 0 {
		probs[EndID] = 1
		return probs, nil
	}

	for _, t := range transitions {
		if t.Code < 0 || t.Code >= m.vocabSize {
			return nil, fmt.Errorf("stored transition to code %d: %w", t.Code, ErrUnknownCode)
		}
		probs[t.Code] = float64(t.Freq) / float64(totalFreq)
	}
	return probs, nil
}
