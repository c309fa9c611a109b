package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiquet-ai/casteller-assistant/internal/cache"
	"github.com/xiquet-ai/casteller-assistant/internal/history"
	"github.com/xiquet-ai/casteller-assistant/internal/model"
)

// statusStep is one scripted answer of the fake transport.
type statusStep struct {
	resp model.JobStatusResponse
	err  error
}

// fakeTransport assigns the queued script to each started job and replays it
// one step per status call, repeating the final step.
type fakeTransport struct {
	mu        sync.Mutex
	startErr  error
	pending   []statusStep
	scripts   map[string][]statusStep
	cursors   map[string]int
	started   []model.StartJobRequest
	cancelled []string
	jobSeq    int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		scripts: make(map[string][]statusStep),
		cursors: make(map[string]int),
	}
}

func (f *fakeTransport) enqueue(steps ...statusStep) {
	f.mu.Lock()
	f.pending = steps
	f.mu.Unlock()
}

func (f *fakeTransport) Start(ctx context.Context, req *model.StartJobRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", f.startErr
	}
	f.jobSeq++
	id := fmt.Sprintf("job-%d", f.jobSeq)
	f.scripts[id] = f.pending
	f.pending = nil
	f.started = append(f.started, *req)
	return id, nil
}

func (f *fakeTransport) Status(ctx context.Context, jobID string) (*model.JobStatusResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	script := f.scripts[jobID]
	if len(script) == 0 {
		return &model.JobStatusResponse{Status: model.JobStatusSubmitted}, nil
	}
	i := f.cursors[jobID]
	if i >= len(script) {
		i = len(script) - 1
	} else {
		f.cursors[jobID] = i + 1
	}
	step := script[i]
	if step.err != nil {
		return nil, step.err
	}
	resp := step.resp
	return &resp, nil
}

func (f *fakeTransport) Cancel(ctx context.Context, jobID string) error {
	f.mu.Lock()
	f.cancelled = append(f.cancelled, jobID)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) startedRequests() []model.StartJobRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.StartJobRequest(nil), f.started...)
}

// recordingEvents captures published turn events.
type recordingEvents struct {
	mu     sync.Mutex
	events []model.TurnEvent
}

func (r *recordingEvents) Publish(_ context.Context, ev model.TurnEvent) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *recordingEvents) byType(t model.TurnEventType) []model.TurnEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.TurnEvent
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// recordingStore counts remote loads on top of the in-memory store.
type recordingStore struct {
	*history.MemoryStore
	mu        sync.Mutex
	loadCalls int
}

func (s *recordingStore) Load(ctx context.Context, userID, sessionID string) ([]model.Message, error) {
	s.mu.Lock()
	s.loadCalls++
	s.mu.Unlock()
	return s.MemoryStore.Load(ctx, userID, sessionID)
}

type testEnv struct {
	orch   *Orchestrator
	trans  *fakeTransport
	cache  *cache.MemoryCache
	store  *recordingStore
	events *recordingEvents
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		trans:  newFakeTransport(),
		cache:  cache.NewMemoryCache(),
		store:  &recordingStore{MemoryStore: history.NewMemoryStore()},
		events: &recordingEvents{},
	}
	env.orch = New("user-1", Config{
		Transport:    env.trans,
		Cache:        env.cache,
		Store:        env.store,
		Events:       env.events,
		PollInterval: time.Millisecond,
		PollTimeout:  250 * time.Millisecond,
	})
	return env
}

func terminalStep(answer, route string, entities *model.IdentifiedEntities) statusStep {
	return statusStep{resp: model.JobStatusResponse{
		Status:     model.JobStatusTerminal,
		AnswerText: answer,
		RouteUsed:  route,
		Entities:   entities,
		ElapsedMs:  120,
	}}
}

func submittedStep() statusStep {
	return statusStep{resp: model.JobStatusResponse{Status: model.JobStatusSubmitted}}
}

func runTurn(t *testing.T, env *testEnv, question string, steps ...statusStep) *Turn {
	t.Helper()
	env.trans.enqueue(steps...)
	turn, err := env.orch.Submit(context.Background(), question)
	require.NoError(t, err)
	select {
	case <-turn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("turn did not resolve")
	}
	return turn
}

func TestSerialTurnsProduceOrderedPairs(t *testing.T) {
	env := newTestEnv(t)

	questions := []string{
		"Quantes colles hi ha a Tarragona?",
		"Quin és el primer 3 de 10 descarregat?",
		"I la Colla Jove?",
	}
	for i, q := range questions {
		runTurn(t, env, q, submittedStep(), terminalStep(fmt.Sprintf("Resposta %d", i+1), "rag", nil))
	}

	snap := env.orch.Snapshot()
	require.Len(t, snap.Messages, 2*len(questions))
	assert.Equal(t, string(StateCommitted), snap.TurnState)

	for i := 0; i < len(snap.Messages); i += 2 {
		user, assistant := snap.Messages[i], snap.Messages[i+1]
		assert.Equal(t, model.RoleUser, user.Role)
		assert.Equal(t, model.RoleAssistant, assistant.Role)
		assert.Equal(t, user.Content, assistant.Content, "pair shares the question text")
		assert.False(t, user.Timestamp.After(assistant.Timestamp))
		if i > 0 {
			assert.False(t, snap.Messages[i-1].Timestamp.After(user.Timestamp), "timestamps non-decreasing")
		}
	}

	// The assistant message adopts the backend job id.
	assert.Equal(t, "job-1", snap.Messages[1].ID)

	// Unsaved conversation is mirrored to the cache after each commit.
	cached, found, err := env.cache.Get(context.Background(), "user-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, snap.Messages, cached)
}

func TestSecondSubmissionRejectedWhileInFlight(t *testing.T) {
	env := newTestEnv(t)

	env.trans.enqueue(submittedStep())
	turn, err := env.orch.Submit(context.Background(), "primera pregunta")
	require.NoError(t, err)

	_, err = env.orch.Submit(context.Background(), "segona pregunta")
	assert.ErrorIs(t, err, ErrTurnInFlight)

	// No second placeholder and no second job.
	snap := env.orch.Snapshot()
	assert.Len(t, snap.Messages, 1)
	assert.Len(t, env.trans.startedRequests(), 1)

	<-turn.Done()
}

func TestPartialEventFiresExactlyOnce(t *testing.T) {
	env := newTestEnv(t)

	e1 := &model.IdentifiedEntities{
		Colles: []string{"Castellers de Vilafranca"},
		Anys:   []int{2019},
	}
	runTurn(t, env, "Què va fer Vilafranca el 2019?",
		submittedStep(),
		submittedStep(),
		statusStep{resp: model.JobStatusResponse{Status: model.JobStatusPartial, Entities: e1, RouteUsed: "sql"}},
		statusStep{resp: model.JobStatusResponse{Status: model.JobStatusPartial, Entities: e1, RouteUsed: "sql"}},
		terminalStep("Va descarregar el 3 de 10.", "sql", e1),
	)

	partials := env.events.byType(model.TurnEventEntities)
	require.Len(t, partials, 1, "re-sent entities must not re-trigger the partial event")
	assert.Equal(t, e1, partials[0].Entities)

	snap := env.orch.Snapshot()
	require.Len(t, snap.Messages, 2)
	assistant := snap.Messages[1]
	assert.Equal(t, "Va descarregar el 3 de 10.", assistant.Response)
	assert.Equal(t, e1, assistant.Entities)

	// The live slot is cleared once the turn commits.
	assert.Nil(t, snap.LiveEntities)
}

func TestEntitiesSnapshotSurvivesLaterTurns(t *testing.T) {
	env := newTestEnv(t)

	e1 := &model.IdentifiedEntities{Colles: []string{"Colla Vella dels Xiquets de Valls"}}
	runTurn(t, env, "pregunta u",
		statusStep{resp: model.JobStatusResponse{Status: model.JobStatusPartial, Entities: e1, RouteUsed: "rag"}},
		terminalStep("resposta u", "rag", nil),
	)

	e2 := &model.IdentifiedEntities{Colles: []string{"Minyons de Terrassa"}}
	runTurn(t, env, "pregunta dos",
		statusStep{resp: model.JobStatusResponse{Status: model.JobStatusPartial, Entities: e2, RouteUsed: "rag"}},
		terminalStep("resposta dos", "rag", nil),
	)

	snap := env.orch.Snapshot()
	require.Len(t, snap.Messages, 4)
	assert.Equal(t, e1, snap.Messages[1].Entities, "historical entities are a snapshot, not a live view")
	assert.Equal(t, e2, snap.Messages[3].Entities)
}

func TestPollTimeoutResolvesAsFailedTurn(t *testing.T) {
	env := newTestEnv(t)

	runTurn(t, env, "pregunta lenta", submittedStep())

	snap := env.orch.Snapshot()
	assert.Equal(t, string(StateFailed), snap.TurnState)
	require.Len(t, snap.Messages, 2, "failed turn still commits a user/assistant pair")

	assistant := snap.Messages[1]
	assert.Equal(t, timeoutAnswer, assistant.Response)
	assert.Equal(t, "error", assistant.RouteUsed)
	for _, m := range snap.Messages {
		assert.False(t, m.Pending, "no placeholder may remain after resolution")
	}
	require.Len(t, env.events.byType(model.TurnEventFailed), 1)
}

func TestBackendFailureUsesVerbatimMessage(t *testing.T) {
	env := newTestEnv(t)

	runTurn(t, env, "pregunta",
		submittedStep(),
		statusStep{resp: model.JobStatusResponse{Status: model.JobStatusFailed, ErrorMessage: "No puc accedir a la base de dades."}},
	)

	snap := env.orch.Snapshot()
	assert.Equal(t, "No puc accedir a la base de dades.", snap.Messages[1].Response)

	// Without a backend-supplied message, a generic fallback is used.
	runTurn(t, env, "una altra",
		statusStep{resp: model.JobStatusResponse{Status: model.JobStatusFailed}},
	)
	snap = env.orch.Snapshot()
	assert.Equal(t, genericAnswer, snap.Messages[3].Response)
}

func TestSubmissionTransportErrorAbortsTurn(t *testing.T) {
	env := newTestEnv(t)
	env.trans.startErr = fmt.Errorf("connection refused")

	_, err := env.orch.Submit(context.Background(), "pregunta")
	require.Error(t, err)

	snap := env.orch.Snapshot()
	assert.Empty(t, snap.Messages, "no message is committed on submission failure")
	assert.Equal(t, string(StateIdle), snap.TurnState)

	// The orchestrator accepts a new submission immediately.
	env.trans.startErr = nil
	runTurn(t, env, "pregunta", terminalStep("resposta", "direct", nil))
	assert.Len(t, env.orch.Snapshot().Messages, 2)
}

func TestBootstrapRestoresFromCacheWithoutRemoteCall(t *testing.T) {
	env := newTestEnv(t)

	ts := time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)
	prior := []model.Message{
		{ID: "u1", Role: model.RoleUser, Content: "q1", Timestamp: ts},
		{ID: "a1", Role: model.RoleAssistant, Content: "q1", Response: "r1", RouteUsed: "direct", Timestamp: ts},
		{ID: "u2", Role: model.RoleUser, Content: "q2", Timestamp: ts.Add(time.Minute)},
	}
	require.NoError(t, env.cache.Put(context.Background(), "user-1", prior))

	require.NoError(t, env.orch.Bootstrap(context.Background()))

	snap := env.orch.Snapshot()
	assert.Equal(t, prior, snap.Messages, "cache snapshot is reproduced verbatim")
	assert.Zero(t, env.store.loadCalls, "restore must not touch the remote store")
}

func TestOpenSessionSortsHistoryAndDiscardsCache(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Remote history arrives unsorted.
	ts := time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)
	env.store.Seed("user-1", "sess-1", "Castells", []model.Message{
		{ID: "a2", Role: model.RoleAssistant, Content: "q2", Response: "r2", Timestamp: ts.Add(time.Minute)},
		{ID: "a1", Role: model.RoleAssistant, Content: "q1", Response: "r1", Timestamp: ts},
		{ID: "u2", Role: model.RoleUser, Content: "q2", Timestamp: ts.Add(time.Minute)},
		{ID: "u1", Role: model.RoleUser, Content: "q1", Timestamp: ts},
	})
	require.NoError(t, env.cache.Put(ctx, "user-1", []model.Message{{ID: "stale", Role: model.RoleUser, Content: "old"}}))

	require.NoError(t, env.orch.OpenSession(ctx, "sess-1"))

	snap := env.orch.Snapshot()
	assert.Equal(t, "sess-1", snap.SessionID)
	require.Len(t, snap.Messages, 4)
	assert.Equal(t, []string{"u1", "a1", "u2", "a2"}, []string{
		snap.Messages[0].ID, snap.Messages[1].ID, snap.Messages[2].ID, snap.Messages[3].ID,
	}, "equal timestamps sort user before assistant")

	_, found, err := env.cache.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, found, "opening a saved session discards the local cache")
}

func TestSavePersistsCommittedPairsAndAdoptsSessionID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	runTurn(t, env, "q1", terminalStep("r1", "direct", nil))
	runTurn(t, env, "q2", terminalStep("r2", "sql", nil))

	session, err := env.orch.Save(ctx, "T")
	require.NoError(t, err)
	require.NotEmpty(t, session.ID)
	assert.Equal(t, "T", session.Title)

	stored := env.store.Messages(session.ID)
	require.Len(t, stored, 4, "exactly the committed pairs are persisted")
	assert.Equal(t, env.orch.Snapshot().Messages, stored)

	assert.Equal(t, session.ID, env.orch.SessionID())

	_, found, err := env.cache.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, found, "saving clears the local cache")
}

func TestSaveWithoutCommittedMessages(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.orch.Save(context.Background(), "T")
	assert.ErrorIs(t, err, ErrNothingToSave)
}

func TestFollowUpCarriesPreviousContext(t *testing.T) {
	env := newTestEnv(t)

	longAnswer := strings.Repeat("castell ", 30) // > 100 chars, forces truncation
	e1 := &model.IdentifiedEntities{Colles: []string{"Capgrossos de Mataró"}}
	runTurn(t, env, "Què va fer Mataró?",
		statusStep{resp: model.JobStatusResponse{Status: model.JobStatusPartial, Entities: e1, RouteUsed: "sql"}},
		terminalStep(longAnswer, "sql", nil),
	)
	runTurn(t, env, "I l'any següent?", terminalStep("r2", "sql", nil))

	started := env.trans.startedRequests()
	require.Len(t, started, 2)

	assert.Nil(t, started[0].PreviousContext, "first turn must omit previous context entirely")

	pc := started[1].PreviousContext
	require.NotNil(t, pc)
	assert.Equal(t, "Què va fer Mataró?", pc.Question)
	assert.Equal(t, "sql", pc.RouteUsed)
	assert.Equal(t, e1, pc.Entities)
	assert.True(t, strings.HasSuffix(pc.Answer, "..."))
	assert.LessOrEqual(t, len([]rune(pc.Answer)), previousAnswerMaxChars+3)
}

func TestFailedTurnDoesNotFeedPreviousContext(t *testing.T) {
	env := newTestEnv(t)

	runTurn(t, env, "q1",
		statusStep{resp: model.JobStatusResponse{Status: model.JobStatusFailed, ErrorMessage: "boom"}},
	)
	runTurn(t, env, "q2", terminalStep("r2", "direct", nil))

	started := env.trans.startedRequests()
	require.Len(t, started, 2)
	assert.Nil(t, started[1].PreviousContext)
}

func TestNewConversationDiscardsInflightResult(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	steps := make([]statusStep, 0, 40)
	for i := 0; i < 39; i++ {
		steps = append(steps, submittedStep())
	}
	steps = append(steps, terminalStep("resposta tardana", "rag", nil))
	env.trans.enqueue(steps...)

	turn, err := env.orch.Submit(ctx, "pregunta abandonada")
	require.NoError(t, err)

	require.NoError(t, env.orch.NewConversation(ctx))

	select {
	case <-turn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("turn did not resolve")
	}

	snap := env.orch.Snapshot()
	assert.Empty(t, snap.Messages, "late result for a reset conversation is discarded")
	assert.Equal(t, string(StateIdle), snap.TurnState)
}

func TestPartialAtTerminalOnlyStillDisclosesEntities(t *testing.T) {
	env := newTestEnv(t)

	e1 := &model.IdentifiedEntities{Llocs: []string{"Tarragona"}}
	runTurn(t, env, "On es fa el concurs?",
		submittedStep(),
		terminalStep("Al Tarraco Arena.", "direct", e1),
	)

	partials := env.events.byType(model.TurnEventEntities)
	require.Len(t, partials, 1)
	assert.Equal(t, e1, partials[0].Entities)

	snap := env.orch.Snapshot()
	assert.Equal(t, e1, snap.Messages[1].Entities)
}
