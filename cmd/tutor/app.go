package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"github.com/pavelanni/tutor/internal/agent"
	"github.com/pavelanni/tutor/internal/evaluation"
	"github.com/pavelanni/tutor/internal/grader"
	"github.com/pavelanni/tutor/internal/graph"
	"github.com/pavelanni/tutor/internal/guard"
	appI18n "github.com/pavelanni/tutor/internal/i18n"
	"github.com/pavelanni/tutor/internal/llm"
	"github.com/pavelanni/tutor/internal/lock"
	"github.com/pavelanni/tutor/internal/quizgen"
	"github.com/pavelanni/tutor/internal/retrieval"
	"github.com/pavelanni/tutor/internal/session"
	"github.com/pavelanni/tutor/internal/store"
)

const (
	defaultLLMTimeout = 120 * time.Second
	defaultGuardTTL   = time.Hour
	notifierBuffer    = 64
)

// lockTTLCalls covers a create holding the student lock across the topic
// call and up to three generation calls.
const lockTTLCalls = 4

// app is the wired assistant shared by serve and chat.
type app struct {
	db       *store.Store
	llm      *llm.Client
	agent    *agent.Agent
	sessions *session.Manager
	evals    *evaluation.Service
	notifier *evaluation.Notifier
	redis    *redis.Client
	lang     string
}

func newLLMClient(v *viper.Viper) *llm.Client {
	return llm.New(llm.Config{
		BaseURL:           v.GetString("llm-url"),
		APIKey:            v.GetString("llm-key"),
		Model:             v.GetString("llm-model"),
		FastModel:         v.GetString("llm-fast-model"),
		VisionModel:       v.GetString("llm-vision-model"),
		EmbeddingModel:    v.GetString("embedding-model"),
		Timeout:           v.GetDuration("llm-timeout"),
		RequestsPerSecond: v.GetFloat64("llm-rps"),
	})
}

// newApp opens the database, checks the LLM endpoint and wires every
// component. The evaluation notifier is started on ctx; call close when done.
func newApp(ctx context.Context, v *viper.Viper) (*app, error) {
	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return nil, fmt.Errorf("init i18n: %w", err)
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a := &app{db: db, lang: lang}

	a.llm = newLLMClient(v)
	if err := a.llm.Ping(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("LLM health check: %w", err)
	}
	slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", v.GetString("llm-model"))

	locker, err := a.newLocker(ctx, v)
	if err != nil {
		a.close()
		return nil, err
	}

	generator := quizgen.New(a.llm, db)
	a.evals = evaluation.NewService(db)
	a.notifier = evaluation.NewNotifier(a.evals, notifierBuffer, generator.Forget)
	a.notifier.Start(context.WithoutCancel(ctx))
	a.sessions = session.New(db, a.llm, v.GetInt("history-limit"))

	g := guard.New(a.llm,
		guard.WithThreshold(v.GetFloat64("similarity-threshold")),
		guard.WithCache(guard.NewCache(v.GetInt("guard-cache-size"), v.GetDuration("guard-cache-ttl"), nil)),
	)

	a.agent = agent.New(agent.Config{
		Store:           db,
		Grader:          grader.New(db),
		Generator:       generator,
		Guard:           g,
		LLM:             a.llm,
		Locker:          locker,
		Searcher:        retrieval.New(a.llm, db),
		OCR:             a.llm,
		Renderer:        &graph.Gnuplot{Path: v.GetString("gnuplot"), Dir: v.GetString("graph-dir")},
		Notifier:        a.notifier,
		SearchThreshold: v.GetFloat64("search-threshold"),
		HistoryLimit:    v.GetInt("history-limit"),
	})
	return a, nil
}

func (a *app) newLocker(ctx context.Context, v *viper.Viper) (lock.Locker, error) {
	addr := v.GetString("redis-addr")
	if addr == "" {
		return lock.NewLocal(), nil
	}
	a.redis = redis.NewClient(&redis.Options{Addr: addr})
	if err := a.redis.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	ttl := lockTTL(v)
	slog.Info("using redis student locks", "addr", addr, "ttl", ttl)
	return lock.NewRedis(a.redis, ttl), nil
}

// lockTTL is the configured lock-ttl, or enough LLM timeouts to cover the
// slowest quiz creation when it is unset.
func lockTTL(v *viper.Viper) time.Duration {
	if ttl := v.GetDuration("lock-ttl"); ttl > 0 {
		return ttl
	}
	return lockTTLCalls * v.GetDuration("llm-timeout")
}

// close drains pending evaluation jobs before closing the database.
func (a *app) close() {
	if a.notifier != nil {
		a.notifier.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			slog.Warn("close redis", "error", err)
		}
	}
	if err := a.db.Close(); err != nil {
		slog.Warn("close database", "error", err)
	}
}
