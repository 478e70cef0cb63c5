package cli

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/talefold/talefold/internal/config"
	"github.com/talefold/talefold/internal/engine"
	"github.com/talefold/talefold/internal/llm"
	"github.com/talefold/talefold/internal/state"
	"github.com/talefold/talefold/internal/store"
)

// loadConfig reads the effective config for a command, honoring --config.
func loadConfig() (config.Config, error) {
	return config.Load(configPath)
}

// setupLogging redirects the standard logger to a rotating file when one
// is configured. Default is stderr.
func setupLogging(cfg *config.Config) {
	if cfg.Server.LogFile == "" {
		return
	}
	log.SetOutput(&lumberjack.Logger{
		Filename:   cfg.Server.LogFile,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	})
}

// buildEngine wires the full stack: sqlite corpus, session store with its
// checkpointer (redis when configured, sqlite otherwise), and the LLM
// client. The returned cleanup closes everything.
func buildEngine(cfg config.Config) (*engine.Engine, func(), error) {
	dbPath := cfg.Database.Path
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, nil, fmt.Errorf("resolve db path: %w", err)
		}
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	cleanup := func() { db.Close() }

	states := state.NewStore(state.DecayConfig{
		TopicDecayThreshold:        cfg.Engine.TopicDecayThreshold,
		ConceptDecayThreshold:      cfg.Engine.ConceptDecayThreshold,
		StoryRepetitionPenaltyBase: cfg.Engine.RepetitionPenaltyBase,
	})

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		cp := store.NewRedisCheckpointer(client, store.RedisCheckpointerConfig{
			Prefix: cfg.Redis.Prefix,
			TTL:    time.Duration(cfg.Redis.TTLSeconds) * time.Second,
		})
		states.SetCheckpointer(cp)
		prev := cleanup
		cleanup = func() { cp.Close(); prev() }
		fmt.Fprintf(os.Stderr, "  checkpoints: redis (%s)\n", cfg.Redis.Addr)
	} else {
		states.SetCheckpointer(db)
		fmt.Fprintf(os.Stderr, "  checkpoints: sqlite\n")
	}

	var client llm.Client
	client, err = llm.NewClient(cfg.LLM)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: LLM not configured (%v), running metadata-only\n", err)
		client = nil
	} else {
		fmt.Fprintf(os.Stderr, "  llm: %s (%s)\n", cfg.LLM.Provider, cfg.LLM.Model)
	}

	judgeTimeout := time.Duration(cfg.LLM.JudgeTimeout) * time.Second
	eng := engine.New(db, client, states, cfg.Engine, judgeTimeout)
	fmt.Fprintf(os.Stderr, "  db: %s\n", dbPath)
	return eng, cleanup, nil
}
