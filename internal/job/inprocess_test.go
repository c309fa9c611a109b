package job

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiquet-ai/casteller-assistant/internal/llm"
	"github.com/xiquet-ai/casteller-assistant/internal/model"
	"github.com/xiquet-ai/casteller-assistant/pkg/logger"
)

// fakeLLM answers the identify call first, then the answer call.
type fakeLLM struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	prompts   []string
}

func (f *fakeLLM) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := len(f.prompts)
	f.prompts = append(f.prompts, req.Messages[len(req.Messages)-1].Content)
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	content := ""
	if i < len(f.responses) {
		content = f.responses[i]
	}
	return &llm.CompletionResponse{Content: content}, nil
}

func (f *fakeLLM) Name() string { return "fake" }

func awaitStatus(t *testing.T, b *InProcessBackend, jobID string, want model.JobStatus) *model.JobStatusResponse {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		st, err := b.Status(context.Background(), jobID)
		require.NoError(t, err)
		if st.Status == want {
			return st
		}
		if st.Status.Terminal() {
			t.Fatalf("job resolved as %s while waiting for %s", st.Status, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job never reached status %s", want)
	return nil
}

func TestInProcessPipelineRunsBothPhases(t *testing.T) {
	fake := &fakeLLM{responses: []string{
		`{"route":"sql","colles":["Castellers de Vilafranca"],"castells":[{"castell_code":"3d10fm","status":"descarregat"}],"anys":[2019],"llocs":[],"diades":[]}`,
		"El 3 de 10 amb folre i manilles es va descarregar el 2019.",
	}}
	b := NewInProcessBackend(fake, "", logger.NewNop())

	jobID, err := b.Start(context.Background(), &model.StartJobRequest{Content: "Quan es va descarregar el 3d10fm?"})
	require.NoError(t, err)

	st := awaitStatus(t, b, jobID, model.JobStatusTerminal)
	assert.Equal(t, "sql", st.RouteUsed)
	assert.Equal(t, "El 3 de 10 amb folre i manilles es va descarregar el 2019.", st.AnswerText)
	require.NotNil(t, st.Entities)
	assert.Equal(t, []string{"Castellers de Vilafranca"}, st.Entities.Colles)
	assert.Equal(t, []int{2019}, st.Entities.Anys)
	assert.GreaterOrEqual(t, st.ElapsedMs, int64(0))
}

func TestInProcessEntityFailureStillAnswers(t *testing.T) {
	fake := &fakeLLM{
		responses: []string{"", "Una resposta sense entitats."},
		errs:      []error{errors.New("model overloaded")},
	}
	b := NewInProcessBackend(fake, "", logger.NewNop())

	jobID, err := b.Start(context.Background(), &model.StartJobRequest{Content: "pregunta"})
	require.NoError(t, err)

	st := awaitStatus(t, b, jobID, model.JobStatusTerminal)
	assert.Equal(t, "direct", st.RouteUsed)
	assert.True(t, st.Entities.IsEmpty())
	assert.Equal(t, "Una resposta sense entitats.", st.AnswerText)
}

func TestInProcessUnknownRouteIsNormalized(t *testing.T) {
	fake := &fakeLLM{responses: []string{
		"```json\n{\"route\":\"magic\",\"colles\":[],\"castells\":[],\"anys\":[],\"llocs\":[],\"diades\":[]}\n```",
		"resposta",
	}}
	b := NewInProcessBackend(fake, "", logger.NewNop())

	jobID, err := b.Start(context.Background(), &model.StartJobRequest{Content: "pregunta"})
	require.NoError(t, err)

	st := awaitStatus(t, b, jobID, model.JobStatusTerminal)
	assert.Equal(t, "unknown", st.RouteUsed)
}

func TestInProcessAnswerFailureIsFriendly(t *testing.T) {
	fake := &fakeLLM{
		responses: []string{`{"route":"direct","colles":[],"castells":[],"anys":[],"llocs":[],"diades":[]}`},
		errs:      []error{nil, errors.New("429 rate limit exceeded")},
	}
	b := NewInProcessBackend(fake, "", logger.NewNop())

	jobID, err := b.Start(context.Background(), &model.StartJobRequest{Content: "pregunta"})
	require.NoError(t, err)

	st := awaitStatus(t, b, jobID, model.JobStatusFailed)
	assert.Contains(t, st.ErrorMessage, "límit de peticions")
}

func TestInProcessPreviousContextReachesPrompt(t *testing.T) {
	fake := &fakeLLM{responses: []string{
		`{"route":"direct","colles":[],"castells":[],"anys":[],"llocs":[],"diades":[]}`,
		"resposta de seguiment",
	}}
	b := NewInProcessBackend(fake, "", logger.NewNop())

	jobID, err := b.Start(context.Background(), &model.StartJobRequest{
		Content: "I l'any següent?",
		PreviousContext: &model.PreviousContext{
			Question:  "Què va fer Vilafranca el 2019?",
			Answer:    "Va descarregar el 3 de 10.",
			RouteUsed: "sql",
		},
	})
	require.NoError(t, err)
	awaitStatus(t, b, jobID, model.JobStatusTerminal)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.prompts, 2)
	answerPrompt := fake.prompts[1]
	assert.True(t, strings.Contains(answerPrompt, "Què va fer Vilafranca el 2019?"))
	assert.True(t, strings.Contains(answerPrompt, "Va descarregar el 3 de 10."))
}

func TestInProcessRejectsEmptyQuestion(t *testing.T) {
	b := NewInProcessBackend(&fakeLLM{}, "", logger.NewNop())
	_, err := b.Start(context.Background(), &model.StartJobRequest{Content: "   "})
	require.Error(t, err)
}

func TestInProcessCancelForgetsJob(t *testing.T) {
	fake := &fakeLLM{responses: []string{
		`{"route":"direct","colles":[],"castells":[],"anys":[],"llocs":[],"diades":[]}`,
		"resposta",
	}}
	b := NewInProcessBackend(fake, "", logger.NewNop())

	jobID, err := b.Start(context.Background(), &model.StartJobRequest{Content: "pregunta"})
	require.NoError(t, err)
	awaitStatus(t, b, jobID, model.JobStatusTerminal)

	require.NoError(t, b.Cancel(context.Background(), jobID))
	_, err = b.Status(context.Background(), jobID)
	assert.ErrorIs(t, err, ErrUnknownJob)
}
