package charlm

import (
	"context"
)

// DBStats holds aggregated statistics for the entire database, including a
// list of all models and their individual stats.
type DBStats struct {
	Models       []ModelInfo        // A list of models in the database
	Stats        map[int]ModelStats // A mapping of model ids to their stats
	VocabSize    int                // The number of codes in the stored vocabulary, sentinels included
	ContextCount int                // The number of distinct windows seen across all models
}

// ModelStats holds aggregated statistics for a single count model.
type ModelStats struct {
	Transitions    int // The number of unique window -> next-code links.
	TotalFrequency int // The sum of all link frequencies; the total number of trained pairs.
	Starters       int // The number of unique codes observed right after an all-start window.
}

// GetStats returns a snapshot of statistics for the entire database,
// including global counts and per-model stats.
func (s *Store) GetStats(ctx context.Context) (*DBStats, error) {
	modelInfos, err := s.GetModelInfos(ctx)
	if err != nil {
		return nil, err
	}

	var vocabLen int
	if err = s.stmtVocabLen.QueryRowContext(ctx).Scan(&vocabLen); err != nil {
		return nil, err
	}

	var contextLen int
	if err = s.stmtContextLen.QueryRowContext(ctx).Scan(&contextLen); err != nil {
		return nil, err
	}

	models := make([]ModelInfo, 0)
	modelStats := make(map[int]ModelStats)
	for _, v := range modelInfos {
		models = append(models, v)

		var transitions, totalFrequency int
		if err = s.stmtModelTransitions.QueryRowContext(ctx, v.Id).Scan(&transitions); err != nil {
			return nil, err
		}
		if err = s.stmtModelFreq.QueryRowContext(ctx, v.Id).Scan(&totalFrequency); err != nil {
			return nil, err
		}

		// The all-start window is the state every fresh generation begins
		// from, so its fanout is the number of possible opening characters.
		allStart := make([]int, v.Window)
		for i := range allStart {
			allStart[i] = StartID
		}
		starters, _, err := s.GetTransitions(ctx, v, allStart)
		if err != nil {
			return nil, err
		}

		modelStats[v.Id] = ModelStats{
			Transitions:    transitions,
			TotalFrequency: totalFrequency,
			Starters:       len(starters),
		}
	}

	return &DBStats{
		Models:       models,
		Stats:        modelStats,
		VocabSize:    vocabLen,
		ContextCount: contextLen,
	}, nil
}
