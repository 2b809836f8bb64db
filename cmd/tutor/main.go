package main

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tutor",
		Short: "Vietnamese study assistant: quizzes, grading, question search and tutoring chat",
	}

	serve := serveCmd()
	root.AddCommand(serve, chatCmd(), importCmd(), statsCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `tutor --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.Bool("metrics", true, "Expose Prometheus metrics at /metrics")
	addAgentFlags(f)
	addLogFlags(f)
	return cmd
}

func chatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the assistant from the terminal",
		RunE:  runChat,
	}
	f := cmd.Flags()
	f.StringP("student", "s", "", "Student id (required)")
	addAgentFlags(f)
	addLogFlags(f)
	_ = cmd.MarkFlagRequired("student")
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import question files and compute their embeddings",
		RunE:  runImport,
	}
	f := cmd.Flags()
	f.StringSliceP("questions", "q", nil, "Paths to questions JSON files (repeatable)")
	f.StringP("lang", "l", "vi", "Output language (vi, en)")
	addStoreFlags(f)
	addLLMFlags(f)
	addLogFlags(f)
	_ = cmd.MarkFlagRequired("questions")
	return cmd
}

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print a student's quiz statistics and daily evaluation as JSON",
		RunE:  runStats,
	}
	f := cmd.Flags()
	f.StringP("student", "s", "", "Student id (required)")
	f.String("date", "", "Day to evaluate in YYYY-MM-DD format (default today)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addStoreFlags(f)
	addLogFlags(f)
	_ = cmd.MarkFlagRequired("student")
	return cmd
}

func addStoreFlags(f *pflag.FlagSet) {
	f.String("db", "tutor.db", "SQLite database path")
}

func addLLMFlags(f *pflag.FlagSet) {
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.String("llm-fast-model", "", "Model for classification and extraction (default llm-model)")
	f.String("llm-vision-model", "", "Model for reading images (default llm-model)")
	f.String("embedding-model", "nomic-embed-text", "Embedding model name")
	f.Duration("llm-timeout", defaultLLMTimeout, "Timeout for a single LLM call")
	f.Float64("llm-rps", 0, "Maximum LLM requests per second (0 = unlimited)")
}

func addAgentFlags(f *pflag.FlagSet) {
	addStoreFlags(f)
	addLLMFlags(f)
	f.StringP("lang", "l", "vi", "Reply language (vi, en)")
	f.Float64("search-threshold", 0.8, "Minimum similarity for a question search hit")
	f.Float64("similarity-threshold", 0.6, "Word overlap above which a message copies a quiz question")
	f.Int("guard-cache-size", 1024, "Entries kept in the guard verdict cache")
	f.Duration("guard-cache-ttl", defaultGuardTTL, "Lifetime of a cached guard verdict")
	f.Int("history-limit", 10, "Chat messages passed to the assistant as context")
	f.String("redis-addr", "", "Redis address for per-student locks (empty = in-process locks)")
	f.Duration("lock-ttl", 0, "Expiry of a Redis per-student lock (0 = 4x llm-timeout)")
	f.String("graph-dir", "graphs", "Directory for rendered graphs")
	f.String("gnuplot", "gnuplot", "gnuplot executable")
}

func addLogFlags(f *pflag.FlagSet) {
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	f.String("log-file", "", "Write logs to a rotating file instead of stderr")
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
		out = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}
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

	v.SetEnvPrefix("TUTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("tutor")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/tutor")
	v.AddConfigPath("/etc/tutor")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}
