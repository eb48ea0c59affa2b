package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/PanHorut/BP/internal/answer"
	"github.com/PanHorut/BP/internal/archive"
	"github.com/PanHorut/BP/internal/grading"
	"github.com/PanHorut/BP/internal/handler"
	appI18n "github.com/PanHorut/BP/internal/i18n"
	"github.com/PanHorut/BP/internal/ledger"
	"github.com/PanHorut/BP/internal/llm"
	"github.com/PanHorut/BP/internal/metrics"
	"github.com/PanHorut/BP/internal/model"
	"github.com/PanHorut/BP/internal/speech"
	"github.com/PanHorut/BP/internal/speech/vosk"
	"github.com/PanHorut/BP/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "bp",
		Short: "Answer evaluation service for spoken and typed math practice",
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd(), checkCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `bp --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addLogFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	f.String("log-file", "", "Also write logs to this file, rotated by size")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and websocket server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "bp.db", "SQLite database path")
	f.StringP("examples", "e", "", "Example catalogue JSON to import on startup")
	f.String("judge", "none", "LLM judge for spoken fractions and variables (none, openai, gemini)")
	f.String("llm-url", "https://api.openai.com/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "", "API key for the LLM judge")
	f.String("llm-model", "", "Judge model name (default depends on --judge)")
	f.Duration("judge-timeout", 10*time.Second, "Upper bound for one judge call")
	f.String("stt-url", "ws://localhost:2700", "Vosk recognition server URL; {lang} is replaced by the session language")
	f.StringP("default-language", "l", "cs-CZ", "Language used until a client sends one")
	f.Bool("emit-interim", false, "Forward partial transcripts to speech clients")
	f.String("admin-token", "", "Bearer token for POST /admin/examples (empty disables it)")
	f.String("archive-endpoint", "", "S3-compatible endpoint for utterance archiving (empty disables it)")
	f.String("archive-bucket", "utterances", "Bucket for archived utterances")
	f.String("archive-access-key", "", "Archive access key")
	f.String("archive-secret-key", "", "Archive secret key")
	f.Bool("archive-secure", true, "Use TLS for the archive endpoint")
	addLogFlags(cmd)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export attempt records as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "bp.db", "SQLite database path")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addLogFlags(cmd)
	return cmd
}

func checkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify one answer offline without touching records",
		Example: `  bp check --input-type FRAC --answer '\frac{3}{4}' --value 3 --value 4
  bp check --input-type VAR --answer 'x=2;y=1' --transcript 'y je 1 a x je 2' --language cs-CZ`,
		RunE: runCheck,
	}
	f := cmd.Flags()
	f.String("input-type", string(model.InputInline), "Input type (INLINE, WORD, FRAC, VAR)")
	f.String("answer", "", "Canonical answer text")
	f.StringArray("value", nil, "Typed value; repeat for fraction parts or variables")
	f.String("transcript", "", "Spoken transcript to verify instead of typed values")
	f.String("language", "cs-CZ", "Transcript language")
	addLogFlags(cmd)
	_ = cmd.MarkFlagRequired("answer")
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	if path := v.GetString("log-file"); path != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   path,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		})
	}

	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(out, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(out, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("BP")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("bp")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/bp")
	v.AddConfigPath("/etc/bp")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := loadExamples(ctx, db, v.GetString("examples")); err != nil {
		return fmt.Errorf("load examples: %w", err)
	}

	lang := v.GetString("default-language")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	judge, err := newJudge(ctx, v)
	if err != nil {
		return fmt.Errorf("create judge: %w", err)
	}

	var arch speech.Archiver
	if endpoint := v.GetString("archive-endpoint"); endpoint != "" {
		a, err := archive.New(archive.Config{
			Endpoint:  endpoint,
			Bucket:    v.GetString("archive-bucket"),
			AccessKey: v.GetString("archive-access-key"),
			SecretKey: v.GetString("archive-secret-key"),
			Secure:    v.GetBool("archive-secure"),
		})
		if err != nil {
			return err
		}
		if err := a.EnsureBucket(ctx); err != nil {
			return err
		}
		arch = a
		slog.Info("archiving utterances", "endpoint", endpoint, "bucket", v.GetString("archive-bucket"))
	}

	cfg := model.ServerConfig{
		DefaultLanguage: lang,
		EmitInterim:     v.GetBool("emit-interim"),
		JudgeTimeout:    v.GetDuration("judge-timeout"),
		AdminToken:      v.GetString("admin-token"),
	}

	l := ledger.New(db)
	grader := grading.New(db, l, judge, cfg.JudgeTimeout)
	h := handler.New(db, l, grader, vosk.New(v.GetString("stt-url")), arch, cfg)

	metrics.Register()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	h.Routes(r)

	addr := v.GetString("addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("starting server",
		"addr", addr,
		"judge", v.GetString("judge"),
		"stt_url", v.GetString("stt-url"),
		"default_language", lang,
		"emit_interim", cfg.EmitInterim,
		"judge_timeout", cfg.JudgeTimeout,
	)

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newJudge builds the configured LLM judge. A nil judge means every spoken
// answer is verified deterministically.
func newJudge(ctx context.Context, v *viper.Viper) (llm.Judge, error) {
	modelName := v.GetString("llm-model")
	switch strings.ToLower(v.GetString("judge")) {
	case "", "none":
		slog.Info("LLM judge disabled")
		return nil, nil

	case "openai":
		if modelName == "" {
			modelName = "gpt-4o-mini"
		}
		j := llm.NewOpenAI(v.GetString("llm-url"), v.GetString("llm-key"), modelName)
		if err := j.Ping(ctx); err != nil {
			return nil, fmt.Errorf("LLM health check: %w", err)
		}
		slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", modelName)
		return j, nil

	case "gemini":
		if modelName == "" {
			modelName = llm.DefaultGeminiModel
		}
		j, err := llm.NewGemini(ctx, v.GetString("llm-key"), modelName)
		if err != nil {
			return nil, err
		}
		slog.Info("using Gemini judge", "model", modelName)
		return j, nil
	}
	return nil, fmt.Errorf("unknown judge %q", v.GetString("judge"))
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	records, err := db.ExportRecords(cmd.Context())
	if err != nil {
		return fmt.Errorf("export records: %w", err)
	}

	export := model.RecordsExport{
		ExportedAt: time.Now().UTC(),
		Count:      len(records),
		Records:    records,
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)

	slog.Info("exported records", "count", len(records))
	return nil
}

type checkResult struct {
	Correct     bool `json:"correct"`
	Echo        any  `json:"echo"`
	Unparseable bool `json:"unparseable,omitempty"`
}

func runCheck(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	ex := model.Example{
		Answer:    v.GetString("answer"),
		InputType: model.InputType(strings.ToUpper(v.GetString("input-type"))),
	}
	spec, err := answer.ParseExample(ex)
	if err != nil {
		return err
	}

	var sub answer.Submission
	if transcript := v.GetString("transcript"); transcript != "" {
		vocab := appI18n.VocabularyFor(v.GetString("language"))
		sub = answer.Transcript{Text: transcript, Connectors: vocab.Connectors}
	} else {
		values, _ := cmd.Flags().GetStringArray("value")
		switch spec.Kind {
		case answer.KindFraction:
			if len(values) != 2 {
				return fmt.Errorf("a fraction needs two --value flags, got %d", len(values))
			}
			sub = answer.FractionInput{Numerator: values[0], Denominator: values[1]}
		case answer.KindVariableSet:
			sub = answer.ValueList(values)
		default:
			if len(values) != 1 {
				return fmt.Errorf("a number needs one --value flag, got %d", len(values))
			}
			sub = answer.Text(values[0])
		}
	}

	verdict := answer.Verify(spec, sub)
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(checkResult{Correct: verdict.Correct, Echo: verdict.Echo, Unparseable: verdict.Unparseable})
}

// loadExamples imports the catalogue at path unless its content hash matches
// the last import.
func loadExamples(ctx context.Context, db *store.Store, path string) error {
	if path == "" {
		count, err := db.ExampleCount(ctx)
		if err != nil {
			return err
		}
		if count == 0 {
			slog.Warn("no examples loaded; pass --examples or use POST /admin/examples")
		}
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	hash := handler.HashExamples(data)
	stored, err := db.ImportedHash(ctx)
	if err != nil {
		return fmt.Errorf("check import status: %w", err)
	}
	if stored == hash {
		slog.Info("examples file unchanged, skipping", "path", path)
		return nil
	}

	examples, err := handler.DecodeExamples(data)
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if err := db.ImportExamples(ctx, examples, hash); err != nil {
		return fmt.Errorf("import %s: %w", path, err)
	}
	slog.Info("imported examples", "path", path, "count", len(examples))
	return nil
}
