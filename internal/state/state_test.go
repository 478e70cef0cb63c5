package state

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(DefaultDecayConfig())
}

func TestTurnCountMatchesCalls(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	for i := 1; i <= 12; i++ {
		s, err := st.UpdateTurn(ctx, "sess-1", TurnInput{Topics: []string{"work stress"}})
		require.NoError(t, err)
		assert.Equal(t, i, s.TurnCount)
	}
}

func TestTopicAndIntentCaps(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	var s *ConversationState
	var err error
	for i := 0; i < 9; i++ {
		s, err = st.UpdateTurn(ctx, "sess-1", TurnInput{
			Topics:  []string{fmt.Sprintf("topic-%d", i)},
			Intents: []string{fmt.Sprintf("intent-%d", i)},
		})
		require.NoError(t, err)
	}

	assert.Len(t, s.CurrentTopics, 5)
	assert.Len(t, s.IntentHistory, 5)

	// Most-recent-first topics, oldest intents dropped.
	assert.Equal(t, "topic-8", s.CurrentTopics[0])
	assert.Equal(t, []string{"intent-4", "intent-5", "intent-6", "intent-7", "intent-8"}, s.IntentHistory)
}

func TestDuplicateTopicMovesToFront(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	_, err := st.UpdateTurn(ctx, "sess-1", TurnInput{Topics: []string{"career", "family", "money"}})
	require.NoError(t, err)
	s, err := st.UpdateTurn(ctx, "sess-1", TurnInput{Topics: []string{"career"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"career", "money", "family"}, s.CurrentTopics)
}

func TestConceptLifecycle(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	s, err := st.UpdateTurn(ctx, "sess-1", TurnInput{Concepts: []string{"deadline"}})
	require.NoError(t, err)
	m := s.MentionedConcepts["deadline"]
	require.NotNil(t, m)
	assert.Equal(t, 1, m.Count)
	assert.Equal(t, 1, m.FirstTurn)
	assert.Equal(t, 1, m.LastTurn)

	s, err = st.UpdateTurn(ctx, "sess-1", TurnInput{Concepts: []string{"deadline"}})
	require.NoError(t, err)
	m = s.MentionedConcepts["deadline"]
	assert.Equal(t, 2, m.Count)
	assert.Equal(t, 1, m.FirstTurn)
	assert.Equal(t, 2, m.LastTurn)
}

func TestConceptDecayBoundary(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	s, err := st.UpdateTurn(ctx, "sess-1", TurnInput{Concepts: []string{"deadline"}})
	require.NoError(t, err)
	mentionedAt := s.TurnCount // 1

	// Concept stays while turn_count - last_turn <= threshold (5).
	for i := 0; i < s.Decay.ConceptDecayThreshold; i++ {
		s, err = st.UpdateTurn(ctx, "sess-1", TurnInput{})
		require.NoError(t, err)
		assert.Contains(t, s.MentionedConcepts, "deadline",
			"turn %d, mentioned at %d", s.TurnCount, mentionedAt)
	}

	// One more turn crosses the threshold and prunes it.
	s, err = st.UpdateTurn(ctx, "sess-1", TurnInput{})
	require.NoError(t, err)
	assert.NotContains(t, s.MentionedConcepts, "deadline")
}

func TestConversationFlow(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	s, err := st.UpdateTurn(ctx, "sess-1", TurnInput{Topics: []string{"work stress"}})
	require.NoError(t, err)
	assert.Equal(t, "work stress", s.Flow.DominantTheme)
	assert.Equal(t, 1, s.Flow.ThemeStability)
	assert.Equal(t, 1, s.Flow.LastTopicShiftTurn)

	s, err = st.UpdateTurn(ctx, "sess-1", TurnInput{Topics: []string{"work stress"}})
	require.NoError(t, err)
	assert.Equal(t, 2, s.Flow.ThemeStability)
	assert.Equal(t, 1, s.Flow.LastTopicShiftTurn)

	s, err = st.UpdateTurn(ctx, "sess-1", TurnInput{Topics: []string{"family dinner"}})
	require.NoError(t, err)
	assert.Equal(t, "family dinner", s.Flow.DominantTheme)
	assert.Equal(t, 1, s.Flow.ThemeStability)
	assert.Equal(t, 3, s.Flow.LastTopicShiftTurn)

	// Topic-less turns neither stabilize nor shift.
	s, err = st.UpdateTurn(ctx, "sess-1", TurnInput{Intents: []string{"ask_question"}})
	require.NoError(t, err)
	assert.Equal(t, 1, s.Flow.ThemeStability)
}

func TestTopicDecayView(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	s, err := st.UpdateTurn(ctx, "sess-1", TurnInput{Topics: []string{"work stress"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"work stress"}, ActiveTopics(s))

	// Threshold is 3: the view survives three idle turns, decays on the fourth.
	for i := 0; i < 3; i++ {
		s, err = st.UpdateTurn(ctx, "sess-1", TurnInput{})
		require.NoError(t, err)
		assert.NotEmpty(t, ActiveTopics(s), "turn %d", s.TurnCount)
	}
	s, err = st.UpdateTurn(ctx, "sess-1", TurnInput{})
	require.NoError(t, err)
	assert.Empty(t, ActiveTopics(s))

	// Raw list is retained for audit.
	assert.Equal(t, []string{"work stress"}, s.CurrentTopics)
}

func TestInputValidationLeavesStateUnchanged(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	s, err := st.UpdateTurn(ctx, "sess-1", TurnInput{Topics: []string{"work stress"}})
	require.NoError(t, err)
	require.Equal(t, 1, s.TurnCount)

	_, err = st.UpdateTurn(ctx, "sess-1", TurnInput{Topics: []string{strings.Repeat("x", 500)}})
	require.Error(t, err)

	after, ok := st.Snapshot("sess-1")
	require.True(t, ok)
	assert.Equal(t, 1, after.TurnCount)
	assert.Equal(t, []string{"work stress"}, after.CurrentTopics)
}

func TestRecordStoryUsage(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	_, err := st.UpdateTurn(ctx, "sess-1", TurnInput{})
	require.NoError(t, err)

	// Duplicates within one call are recorded once.
	require.NoError(t, st.RecordStoryUsage(ctx, "sess-1", "story-a", "story-a", "story-b"))

	s, ok := st.Snapshot("sess-1")
	require.True(t, ok)
	require.Len(t, s.StoryHistory, 2)
	assert.Equal(t, 1, s.StoryHistory[0].ToldAtTurn)
	assert.Equal(t, 1, s.LastToldTurn("story-a"))
	assert.Equal(t, -1, s.LastToldTurn("story-never"))
}

func TestRecordStoryUsageUnknownSession(t *testing.T) {
	st := testStore(t)
	err := st.RecordStoryUsage(context.Background(), "missing", "story-a")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestRecordStoryUsageCancelledContext(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	_, err := st.UpdateTurn(ctx, "sess-1", TurnInput{})
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	require.Error(t, st.RecordStoryUsage(cancelled, "sess-1", "story-a"))

	s, _ := st.Snapshot("sess-1")
	assert.Empty(t, s.StoryHistory, "no partial usage record after cancellation")
}

func TestReset(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	assert.False(t, st.Reset(ctx, "missing"))

	s, err := st.UpdateTurn(ctx, "sess-1", TurnInput{
		Topics: []string{"work stress"}, Intents: []string{"seek_advice"}, Concepts: []string{"boss"},
	})
	require.NoError(t, err)
	require.NoError(t, st.RecordStoryUsage(ctx, "sess-1", "story-a"))
	oldID := s.SessionID

	assert.True(t, st.Reset(ctx, "sess-1"))

	fresh, ok := st.Snapshot("sess-1")
	require.True(t, ok)
	assert.Equal(t, 0, fresh.TurnCount)
	assert.Empty(t, fresh.CurrentTopics)
	assert.Empty(t, fresh.IntentHistory)
	assert.Empty(t, fresh.MentionedConcepts)
	assert.Empty(t, fresh.StoryHistory)
	assert.NotEqual(t, oldID, fresh.SessionID)
}

func TestSessionsAreIndependent(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	_, err := st.UpdateTurn(ctx, "sess-a", TurnInput{Topics: []string{"career"}})
	require.NoError(t, err)
	_, err = st.UpdateTurn(ctx, "sess-b", TurnInput{Topics: []string{"family"}})
	require.NoError(t, err)

	a, _ := st.Snapshot("sess-a")
	b, _ := st.Snapshot("sess-b")
	assert.Equal(t, []string{"career"}, a.CurrentTopics)
	assert.Equal(t, []string{"family"}, b.CurrentTopics)
}

func TestConcurrentTurnsSerialize(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	const turns = 50
	done := make(chan error, turns)
	for i := 0; i < turns; i++ {
		go func(i int) {
			_, err := st.UpdateTurn(ctx, "sess-1", TurnInput{
				Topics: []string{fmt.Sprintf("topic-%d", i%3)},
			})
			done <- err
		}(i)
	}
	for i := 0; i < turns; i++ {
		require.NoError(t, <-done)
	}

	s, _ := st.Snapshot("sess-1")
	assert.Equal(t, turns, s.TurnCount)
}

func TestSnapshotIsolation(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	s, err := st.UpdateTurn(ctx, "sess-1", TurnInput{Topics: []string{"career"}, Concepts: []string{"boss"}})
	require.NoError(t, err)

	// Mutating a snapshot must not leak into the store.
	s.CurrentTopics[0] = "tampered"
	s.MentionedConcepts["boss"].Count = 99

	again, _ := st.Snapshot("sess-1")
	assert.Equal(t, "career", again.CurrentTopics[0])
	assert.Equal(t, 1, again.MentionedConcepts["boss"].Count)
}

func TestExpire(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	_, err := st.UpdateTurn(ctx, "sess-1", TurnInput{})
	require.NoError(t, err)
	require.Equal(t, 1, st.Len())

	assert.Equal(t, 0, st.Expire(ctx, time.Now().Add(-time.Hour)))
	assert.Equal(t, 1, st.Expire(ctx, time.Now().Add(time.Hour)))
	assert.Equal(t, 0, st.Len())
}

func TestSerializeRoundTrip(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := st.UpdateTurn(ctx, "sess-1", TurnInput{
			Topics:   []string{"work stress", "career change"},
			Intents:  []string{"seek_advice"},
			Concepts: []string{"boss", "deadline"},
		})
		require.NoError(t, err)
	}
	require.NoError(t, st.RecordStoryUsage(ctx, "sess-1", "story-a", "story-b"))

	s, _ := st.Snapshot("sess-1")
	data, err := Serialize(s)
	require.NoError(t, err)

	restored, err := Deserialize(data)
	require.NoError(t, err)
	if diff := cmp.Diff(s, restored); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDeserializeRejectsBadState(t *testing.T) {
	_, err := Deserialize([]byte(`{"turn_count":-1}`))
	assert.Error(t, err)

	_, err = Deserialize([]byte(`{"turn_count":2,"mentioned_concepts":{"x":{"count":1,"first_mentioned_turn":1,"last_mentioned_turn":9}}}`))
	assert.Error(t, err)

	_, err = Deserialize([]byte(`not json`))
	assert.Error(t, err)
}

func TestUsageStats(t *testing.T) {
	s := New("sess-1", DefaultDecayConfig())
	assert.Equal(t, UsageStats{}, Usage(s))

	s.TurnCount = 10
	s.StoryHistory = []StoryUsage{
		{StoryID: "a", ToldAtTurn: 1},
		{StoryID: "b", ToldAtTurn: 3},
		{StoryID: "a", ToldAtTurn: 5}, // gap 4
		{StoryID: "a", ToldAtTurn: 9}, // gap 4
	}

	stats := Usage(s)
	assert.Equal(t, 4, stats.TotalTold)
	assert.Equal(t, 2, stats.UniqueTold)
	assert.InDelta(t, 0.5, stats.RepetitionRate, 1e-9)
	assert.InDelta(t, 4.0, stats.AverageGap, 1e-9)
}

func TestSummarize(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	s, err := st.UpdateTurn(ctx, "sess-1", TurnInput{
		Topics: []string{"work stress"}, Concepts: []string{"boss"},
	})
	require.NoError(t, err)

	sum := Summarize(s)
	assert.Equal(t, "work stress", sum.DominantTheme)
	assert.Equal(t, 1, sum.TurnCount)
	assert.Equal(t, 1, sum.KeyConcepts)
	assert.Equal(t, "new", sum.Maturity)

	for i := 0; i < 5; i++ {
		s, err = st.UpdateTurn(ctx, "sess-1", TurnInput{Topics: []string{"work stress"}})
		require.NoError(t, err)
	}
	assert.Equal(t, "established", Summarize(s).Maturity)
}

// stallCheckpointer is an in-memory Checkpointer whose load or save for
// one key can be held at a gate, to observe what a slow external store
// blocks. Gated calls announce themselves on the started channels.
type stallCheckpointer struct {
	stallKey    string
	loadGate    chan struct{}
	saveGate    chan struct{}
	loadStarted chan struct{}
	saveStarted chan struct{}

	mu    sync.Mutex
	saved map[string][]byte
}

func (c *stallCheckpointer) LoadState(ctx context.Context, sessionKey string) ([]byte, error) {
	if sessionKey == c.stallKey && c.loadGate != nil {
		select {
		case c.loadStarted <- struct{}{}:
		default:
		}
		<-c.loadGate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saved[sessionKey], nil
}

func (c *stallCheckpointer) SaveState(ctx context.Context, sessionKey string, data []byte) error {
	if sessionKey == c.stallKey && c.saveGate != nil {
		select {
		case c.saveStarted <- struct{}{}:
		default:
		}
		<-c.saveGate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.saved == nil {
		c.saved = make(map[string][]byte)
	}
	c.saved[sessionKey] = append([]byte(nil), data...)
	return nil
}

func (c *stallCheckpointer) DeleteState(ctx context.Context, sessionKey string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.saved, sessionKey)
	return nil
}

func TestCheckpointRestoreOnFirstAccess(t *testing.T) {
	ctx := context.Background()
	cp := &stallCheckpointer{}

	st1 := testStore(t)
	st1.SetCheckpointer(cp)
	_, err := st1.UpdateTurn(ctx, "sess-1", TurnInput{Topics: []string{"career"}})
	require.NoError(t, err)
	_, err = st1.UpdateTurn(ctx, "sess-1", TurnInput{Topics: []string{"family"}})
	require.NoError(t, err)

	st2 := testStore(t)
	st2.SetCheckpointer(cp)
	s := st2.GetOrCreate(ctx, "sess-1")
	assert.Equal(t, 2, s.TurnCount)
	assert.Equal(t, []string{"family", "career"}, s.CurrentTopics)
}

func TestCheckpointLoadDoesNotBlockOtherSessions(t *testing.T) {
	ctx := context.Background()
	cp := &stallCheckpointer{
		stallKey:    "sess-a",
		loadGate:    make(chan struct{}),
		loadStarted: make(chan struct{}, 1),
	}
	st := testStore(t)
	st.SetCheckpointer(cp)

	// sess-b is resident before the slow load begins.
	_, err := st.UpdateTurn(ctx, "sess-b", TurnInput{Topics: []string{"career"}})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		st.GetOrCreate(ctx, "sess-a")
		close(done)
	}()
	<-cp.loadStarted

	start := time.Now()
	_, err = st.UpdateTurn(ctx, "sess-b", TurnInput{Topics: []string{"family"}})
	elapsed := time.Since(start)
	require.NoError(t, err)
	assert.Less(t, elapsed, 200*time.Millisecond,
		"unrelated session stalled behind another key's checkpoint load")

	close(cp.loadGate)
	<-done
}

func TestCheckpointWriteDoesNotBlockReads(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)

	// Make the session resident before wiring the slow checkpointer so
	// only the write under test stalls.
	_, err := st.UpdateTurn(ctx, "sess-a", TurnInput{Topics: []string{"career"}})
	require.NoError(t, err)

	cp := &stallCheckpointer{
		stallKey:    "sess-a",
		saveGate:    make(chan struct{}),
		saveStarted: make(chan struct{}, 1),
	}
	st.SetCheckpointer(cp)

	done := make(chan error, 1)
	go func() {
		_, err := st.UpdateTurn(ctx, "sess-a", TurnInput{Topics: []string{"family"}})
		done <- err
	}()
	<-cp.saveStarted

	start := time.Now()
	s, ok := st.Snapshot("sess-a")
	elapsed := time.Since(start)
	require.True(t, ok)
	assert.Equal(t, 2, s.TurnCount)
	assert.Less(t, elapsed, 200*time.Millisecond,
		"snapshot stalled behind a checkpoint write")

	close(cp.saveGate)
	require.NoError(t, <-done)
}
