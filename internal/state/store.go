package state

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// ErrNoSession is returned for operations that need an existing session.
// It is an expected condition for callers to branch on, not a failure.
var ErrNoSession = errors.New("no such session")

// Checkpointer persists state snapshots outside the process. Storage
// ownership stays external; the store only pushes and pulls opaque bytes.
type Checkpointer interface {
	SaveState(ctx context.Context, sessionKey string, data []byte) error
	LoadState(ctx context.Context, sessionKey string) ([]byte, error)
	DeleteState(ctx context.Context, sessionKey string) error
}

// session pairs a state with its write lock. Turn updates and usage
// recording for one key are not commutative, so they serialize here.
// mu is never held across checkpoint I/O; saveMu orders checkpoint
// writes on its own, with seq/savedSeq dropping snapshots that a newer
// write has already superseded.
type session struct {
	mu    sync.Mutex
	state *ConversationState
	seq   uint64

	saveMu   sync.Mutex
	savedSeq uint64
}

// Store owns one ConversationState per session key. Different keys are
// fully independent; mutations on the same key are mutually exclusive.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*session

	defaults   DecayConfig
	checkpoint Checkpointer
}

// NewStore creates a Store with the given decay defaults for new sessions.
func NewStore(defaults DecayConfig) *Store {
	return &Store{
		sessions: make(map[string]*session),
		defaults: defaults,
	}
}

// SetCheckpointer wires an external snapshot store. Sessions not resident
// in memory are restored from it on first access.
func (st *Store) SetCheckpointer(cp Checkpointer) {
	st.checkpoint = cp
}

// entry returns the session for a key, creating it when create is set.
// The map lock covers only the lookup-or-insert; a brand-new entry is
// published with its own lock held and restored from the checkpointer
// afterwards, so a slow load for one key never blocks other keys.
func (st *Store) entry(ctx context.Context, sessionKey string, create bool) *session {
	st.mu.Lock()
	if sess, ok := st.sessions[sessionKey]; ok {
		st.mu.Unlock()
		return sess
	}
	if !create {
		st.mu.Unlock()
		return nil
	}
	sess := &session{}
	sess.mu.Lock()
	st.sessions[sessionKey] = sess
	st.mu.Unlock()

	if st.checkpoint != nil {
		if data, err := st.checkpoint.LoadState(ctx, sessionKey); err != nil {
			log.Printf("state: load checkpoint %s: %v", sessionKey, err)
		} else if data != nil {
			if restored, err := Deserialize(data); err != nil {
				log.Printf("state: corrupt checkpoint %s: %v", sessionKey, err)
			} else {
				sess.state = restored
			}
		}
	}
	if sess.state == nil {
		sess.state = New(sessionKey, st.defaults)
	}
	sess.mu.Unlock()
	return sess
}

// flush pushes a snapshot to the checkpointer after the session lock has
// been released. Writes for one key land in mutation order: saveMu
// serializes them and stale snapshots are skipped.
func (st *Store) flush(ctx context.Context, sess *session, snap *ConversationState, seq uint64) {
	if st.checkpoint == nil {
		return
	}
	data, err := Serialize(snap)
	if err != nil {
		log.Printf("state: serialize %s: %v", snap.SessionKey, err)
		return
	}

	sess.saveMu.Lock()
	defer sess.saveMu.Unlock()
	if seq <= sess.savedSeq {
		return
	}
	if err := st.checkpoint.SaveState(ctx, snap.SessionKey, data); err != nil {
		log.Printf("state: save checkpoint %s: %v", snap.SessionKey, err)
		return
	}
	sess.savedSeq = seq
}

// GetOrCreate returns a snapshot of the state for a session key, creating
// a fresh one on first use.
func (st *Store) GetOrCreate(ctx context.Context, sessionKey string) *ConversationState {
	sess := st.entry(ctx, sessionKey, true)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.state.Clone()
}

// Snapshot returns a copy of an existing session's state without creating
// one, for lock-free reads by the scoring pipeline.
func (st *Store) Snapshot(sessionKey string) (*ConversationState, bool) {
	sess := st.entry(context.Background(), sessionKey, false)
	if sess == nil {
		return nil, false
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.state.Clone(), true
}

// UpdateTurn applies one turn of extraction results atomically: counter,
// topics, intents, concepts, flow, then decay. Returns the updated snapshot.
// Validation failures leave the state unchanged.
func (st *Store) UpdateTurn(ctx context.Context, sessionKey string, in TurnInput) (*ConversationState, error) {
	sess := st.entry(ctx, sessionKey, true)
	sess.mu.Lock()
	if err := sess.state.applyTurn(in); err != nil {
		sess.mu.Unlock()
		return nil, fmt.Errorf("update turn: %w", err)
	}
	sess.seq++
	seq := sess.seq
	snap := sess.state.Clone()
	sess.mu.Unlock()

	st.flush(ctx, sess, snap, seq)
	return snap, nil
}

// RecordStoryUsage appends tellings at the session's current turn.
// Duplicates within one call are recorded once. Returns ErrNoSession for
// unknown keys. If ctx is already cancelled, nothing is written.
func (st *Store) RecordStoryUsage(ctx context.Context, sessionKey string, storyIDs ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sess := st.entry(ctx, sessionKey, false)
	if sess == nil {
		return ErrNoSession
	}
	sess.mu.Lock()
	sess.state.recordUsage(storyIDs)
	sess.seq++
	seq := sess.seq
	snap := sess.state.Clone()
	sess.mu.Unlock()

	st.flush(ctx, sess, snap, seq)
	return nil
}

// Reset clears a session back to a fresh state: turn count zero, all
// histories empty, same decay config, new session ID. Returns false when
// no session existed for the key — that is not an error.
func (st *Store) Reset(ctx context.Context, sessionKey string) bool {
	sess := st.entry(ctx, sessionKey, false)
	if sess == nil {
		return false
	}
	sess.mu.Lock()
	cfg := sess.state.Decay
	sess.state = New(sessionKey, cfg)
	sess.seq++
	seq := sess.seq
	snap := sess.state.Clone()
	sess.mu.Unlock()

	st.flush(ctx, sess, snap, seq)
	return true
}

// Expire evicts sessions idle since before the cutoff. Expiry policy is
// owned by the caller; the store only provides the mechanism. Checkpoint
// deletes happen after the map lock is released; a session busy enough to
// hold its lock is not idle and is skipped.
func (st *Store) Expire(ctx context.Context, before time.Time) int {
	st.mu.Lock()
	var evicted []string
	for key, sess := range st.sessions {
		if !sess.mu.TryLock() {
			continue
		}
		idle := sess.state.UpdatedAt.Before(before)
		sess.mu.Unlock()
		if !idle {
			continue
		}
		delete(st.sessions, key)
		evicted = append(evicted, key)
	}
	st.mu.Unlock()

	if st.checkpoint != nil {
		for _, key := range evicted {
			if err := st.checkpoint.DeleteState(ctx, key); err != nil {
				log.Printf("state: expire checkpoint %s: %v", key, err)
			}
		}
	}
	return len(evicted)
}

// Len returns the number of resident sessions.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}
