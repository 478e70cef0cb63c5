package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/talefold/talefold/internal/config"
	"github.com/talefold/talefold/internal/llm"
	"github.com/talefold/talefold/internal/state"
	"github.com/talefold/talefold/internal/store"
)

// Engine orchestrates the per-turn pipeline: extraction, state update, and
// the three-stage story relevance ranking.
type Engine struct {
	DB     *store.DB
	LLM    llm.Client
	States *state.Store

	cfg config.EngineConfig

	// judgeTimeout bounds one full Stage 2 pass over the candidates.
	judgeTimeout time.Duration
}

// New creates a new Engine. client may be nil; selection then runs in
// metadata-only degraded mode and ExtractTurn is unavailable.
func New(db *store.DB, client llm.Client, states *state.Store, cfg config.EngineConfig, judgeTimeout time.Duration) *Engine {
	if cfg.StoryLimit <= 0 {
		cfg.StoryLimit = 3
	}
	if cfg.JudgeConcurrency <= 0 {
		cfg.JudgeConcurrency = 4
	}
	if cfg.MetadataWeight == 0 && cfg.SemanticWeight == 0 {
		cfg.MetadataWeight, cfg.SemanticWeight = 0.3, 0.7
	}
	if judgeTimeout <= 0 {
		judgeTimeout = 20 * time.Second
	}
	return &Engine{
		DB:           db,
		LLM:          client,
		States:       states,
		cfg:          cfg,
		judgeTimeout: judgeTimeout,
	}
}

// TurnResult is what one fully processed user turn produces.
type TurnResult struct {
	State     state.Summary   `json:"state"`
	Extracted state.TurnInput `json:"extracted"`
	Selection Selection       `json:"selection"`
}

// ProcessTurn runs the whole per-turn flow for a raw user message:
// extract topics/intents/concepts, update the session state, then select
// stories against the updated state.
func (e *Engine) ProcessTurn(ctx context.Context, sessionKey, message string) (*TurnResult, error) {
	in, err := e.ExtractTurn(ctx, message)
	if err != nil {
		return nil, fmt.Errorf("process turn: %w", err)
	}

	updated, err := e.States.UpdateTurn(ctx, sessionKey, in)
	if err != nil {
		return nil, fmt.Errorf("process turn: %w", err)
	}

	sel, err := e.Select(ctx, sessionKey, e.cfg.StoryLimit)
	if err != nil {
		return nil, fmt.Errorf("process turn: %w", err)
	}

	return &TurnResult{
		State:     state.Summarize(updated),
		Extracted: in,
		Selection: *sel,
	}, nil
}

// Select runs the three-stage pipeline for a session and records usage for
// the returned stories. The per-session lock is never held across the
// judge call: scoring works on a snapshot, and usage recording re-enters
// the store as the final atomic step. A cancelled ctx before that step
// writes nothing.
func (e *Engine) Select(ctx context.Context, sessionKey string, limit int) (*Selection, error) {
	if limit <= 0 {
		limit = e.cfg.StoryLimit
	}

	snapshot := e.States.GetOrCreate(ctx, sessionKey)

	corpus, err := e.DB.ListStories()
	if err != nil {
		return nil, fmt.Errorf("select: list stories: %w", err)
	}
	if len(corpus) == 0 {
		log.Printf("select: empty story corpus for %s", sessionKey)
		return &Selection{}, nil
	}

	// Stage 1: cheap metadata alignment.
	candidates := FilterByMetadata(snapshot, corpus)

	// Stage 2: external judge, degrading to metadata-only on any failure.
	degraded := false
	if e.LLM == nil {
		degraded = true
	} else {
		judgeCtx, cancel := context.WithTimeout(ctx, e.judgeTimeout)
		err := e.scoreSemantic(judgeCtx, snapshot, candidates)
		cancel()
		if err != nil {
			log.Printf("select: semantic scoring failed, degrading to metadata-only: %v", err)
			degraded = true
			for i := range candidates {
				candidates[i].SemanticScore = 0
			}
		}
	}

	// Stage 3: combine, penalize, threshold, rank.
	sel := Rank(snapshot, candidates, limit, degraded, e.cfg)

	if len(sel.Stories) > 0 {
		ids := make([]string, len(sel.Stories))
		for i, s := range sel.Stories {
			ids[i] = s.Story.ID
		}
		if err := e.States.RecordStoryUsage(ctx, sessionKey, ids...); err != nil {
			return nil, fmt.Errorf("select: record usage: %w", err)
		}
	}

	return sel, nil
}
