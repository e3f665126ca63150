package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
	"github.com/prajwalppv/ArtML/pkg/charlm"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

const usage = `usage: artml <command> [flags]

commands:
  train     build the vocabulary and train a model from a corpus file
  generate  generate text from a trained model
  stats     print database statistics as JSON
  export    export a trained model (with its vocabulary) to JSON
  import    import a previously exported model
  prune     drop rare transitions from a model
  version   print build information

run 'artml <command> -h' for command flags
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "train":
		err = runTrain(os.Args[2:])
	case "generate":
		err = runGenerate(os.Args[2:])
	case "stats":
		err = runStats(os.Args[2:])
	case "export":
		err = runExport(os.Args[2:])
	case "import":
		err = runImport(os.Args[2:])
	case "prune":
		err = runPrune(os.Args[2:])
	case "version":
		fmt.Printf("artml %s (%s, built %s)\n", Version, Commit, BuildDate)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "artml %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

// env bundles everything a subcommand needs: parsed config, a leveled
// logger, the database, and a Store over it.
type env struct {
	config *Config
	logger *slog.Logger
	db     *sql.DB
	store  *charlm.Store
}

// setup loads the config, builds the logger, opens the database, and
// initializes the schema and store. close() releases everything.
func setup(configPath string) (*env, error) {
	config, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	var logLevel slog.Level
	switch strings.ToLower(config.LogLevel) {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	if err = os.MkdirAll(config.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := initDB(config.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err = charlm.SetupSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set up schema: %w", err)
	}

	store, err := charlm.NewStore(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	store.SetLogger(logger)

	return &env{config: config, logger: logger, db: db, store: store}, nil
}

func (e *env) close() {
	e.store.Close()
	if err := e.db.Close(); err != nil {
		e.logger.Error("failed to close database", "error", err)
	}
}

func runTrain(args []string) error {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	configPath := fs.String("config", "./config.json", "path to the config file")
	corpusPath := fs.String("corpus", "", "corpus file, one example per line (required)")
	modelName := fs.String("model", "", "model name (default from config)")
	window := fs.Int("window", 0, "context window width in characters (default from config)")
	_ = fs.Parse(args)

	if *corpusPath == "" {
		return errors.New("-corpus is required")
	}

	e, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer e.close()

	name := *modelName
	if name == "" {
		name = e.config.ModelName
	}
	w := *window
	if w <= 0 {
		w = e.config.WindowSize
	}

	f, err := os.Open(*corpusPath)
	if err != nil {
		return fmt.Errorf("failed to open corpus: %w", err)
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	examples, err := charlm.ReadCorpus(f, e.logger)
	if err != nil {
		return fmt.Errorf("failed to read corpus: %w", err)
	}
	if len(examples) == 0 {
		return errors.New("corpus is empty")
	}

	ctx := context.Background()

	vocab := charlm.BuildVocabulary(examples)
	if err = e.store.SaveVocabulary(ctx, vocab); err != nil {
		return fmt.Errorf("failed to save vocabulary: %w", err)
	}

	info, err := e.store.GetModelInfo(ctx, name)
	if errors.Is(err, sql.ErrNoRows) {
		if err = e.store.InsertModel(ctx, charlm.ModelInfo{Name: name, Window: w}); err != nil {
			return fmt.Errorf("failed to create model: %w", err)
		}
		info, err = e.store.GetModelInfo(ctx, name)
	}
	if err != nil {
		return fmt.Errorf("failed to look up model: %w", err)
	}

	trained, err := e.store.TrainCorpus(ctx, info, vocab, examples)
	if err != nil {
		return fmt.Errorf("training failed: %w", err)
	}

	e.logger.Info("training finished",
		"model", info.Name,
		"window", info.Window,
		"examples", trained,
		"vocab_size", vocab.Size(),
	)
	return nil
}

func runGenerate(args []string) error {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	configPath := fs.String("config", "./config.json", "path to the config file")
	modelName := fs.String("model", "", "model name (default from config)")
	seed := fs.String("seed", "", "seed text to continue from")
	maxChars := fs.Int("max", 0, "character budget (default from config)")
	temperature := fs.Float64("temperature", -1, "sampling temperature; 0 is greedy (default from config)")
	topK := fs.Int("topk", -1, "top-k filter; 0 disables (default from config)")
	stream := fs.Bool("stream", false, "print characters as they are generated")
	_ = fs.Parse(args)

	e, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer e.close()

	name := *modelName
	if name == "" {
		name = e.config.ModelName
	}

	ctx := context.Background()

	vocab, err := e.store.LoadVocabulary(ctx)
	if err != nil {
		return fmt.Errorf("failed to load vocabulary: %w", err)
	}
	info, err := e.store.GetModelInfo(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to look up model '%s': %w", name, err)
	}

	opts := []charlm.GenerateOption{
		charlm.WithMaxChars(pick(*maxChars, e.config.MaxChars, *maxChars > 0)),
		charlm.WithTemperature(pickF(*temperature, e.config.Temperature, *temperature >= 0)),
		charlm.WithTopK(pick(*topK, e.config.TopK, *topK >= 0)),
	}

	g := charlm.NewGenerator(charlm.NewCountModel(e.store, info, vocab), vocab, info.Window)
	g.SetLogger(e.logger)

	if *stream {
		chars, err := g.GenerateStream(ctx, *seed, opts...)
		if err != nil {
			return err
		}
		for r := range chars {
			if r == charlm.EndRune {
				break
			}
			fmt.Print(string(r))
		}
		fmt.Println()
		return nil
	}

	out, err := g.Generate(ctx, *seed, opts...)
	if err != nil {
		return err
	}
	fmt.Println(strings.TrimSuffix(out, string(charlm.EndRune)))
	return nil
}

func runStats(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath := fs.String("config", "./config.json", "path to the config file")
	_ = fs.Parse(args)

	e, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer e.close()

	stats, err := e.store.GetStats(context.Background())
	if err != nil {
		return fmt.Errorf("failed to gather stats: %w", err)
	}

	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	configPath := fs.String("config", "./config.json", "path to the config file")
	modelName := fs.String("model", "", "model name (default from config)")
	outPath := fs.String("out", "", "output file (default <model>.json in the data dir)")
	_ = fs.Parse(args)

	e, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer e.close()

	name := *modelName
	if name == "" {
		name = e.config.ModelName
	}
	out := *outPath
	if out == "" {
		out = filepath.Join(e.config.DataDir, name+".json")
	}

	ctx := context.Background()
	info, err := e.store.GetModelInfo(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to look up model '%s': %w", name, err)
	}

	var buf bytes.Buffer
	if err = e.store.ExportModel(ctx, info, &buf); err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	if err = atomic.WriteFile(out, &buf); err != nil {
		return fmt.Errorf("failed to write export file: %w", err)
	}

	e.logger.Info("model exported", "model", name, "path", out)
	return nil
}

func runImport(args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	configPath := fs.String("config", "./config.json", "path to the config file")
	inPath := fs.String("in", "", "exported model file (required)")
	_ = fs.Parse(args)

	if *inPath == "" {
		return errors.New("-in is required")
	}

	e, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer e.close()

	f, err := os.Open(*inPath)
	if err != nil {
		return fmt.Errorf("failed to open import file: %w", err)
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	if err = e.store.ImportModel(context.Background(), f); err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	e.logger.Info("model imported", "path", *inPath)
	return nil
}

func runPrune(args []string) error {
	fs := flag.NewFlagSet("prune", flag.ExitOnError)
	configPath := fs.String("config", "./config.json", "path to the config file")
	modelName := fs.String("model", "", "model name (default from config)")
	minFreq := fs.Int("minfreq", 1, "remove transitions with frequency at or below this")
	_ = fs.Parse(args)

	e, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer e.close()

	name := *modelName
	if name == "" {
		name = e.config.ModelName
	}

	ctx := context.Background()
	info, err := e.store.GetModelInfo(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to look up model '%s': %w", name, err)
	}

	return e.store.PruneModel(ctx, info, *minFreq)
}

// pick returns flagVal when set is true, otherwise the config default.
func pick(flagVal, configVal int, set bool) int {
	if set {
		return flagVal
	}
	return configVal
}

func pickF(flagVal, configVal float64, set bool) float64 {
	if set {
		return flagVal
	}
	return configVal
}
