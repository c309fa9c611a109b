package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xiquet-ai/casteller-assistant/internal/llm"
	"github.com/xiquet-ai/casteller-assistant/internal/model"
	"github.com/xiquet-ai/casteller-assistant/pkg/logger"
)

// ErrUnknownJob is returned by Status for an id this backend never issued or
// already cleaned up.
var ErrUnknownJob = errors.New("unknown job id")

const (
	jobRunTimeout = 90 * time.Second
	jobRetention  = 10 * time.Minute
)

// InProcessBackend is a Transport that runs answer jobs inside this process
// using an LLM client. Each job runs the two-phase pipeline: a fast
// entity-identification call that moves the job to partial, then the full
// answer call that moves it to terminal.
type InProcessBackend struct {
	llm    llm.Client
	model  string
	logger *logger.Logger

	mu   sync.Mutex
	jobs map[string]*inprocJob
}

type inprocJob struct {
	status    model.JobStatus
	entities  *model.IdentifiedEntities
	routeUsed string
	answer    string
	errMsg    string
	createdAt time.Time
	startedAt time.Time
}

// NewInProcessBackend creates an in-process job backend. modelName may be
// empty to use the client's default model.
func NewInProcessBackend(client llm.Client, modelName string, log *logger.Logger) *InProcessBackend {
	return &InProcessBackend{
		llm:    client,
		model:  modelName,
		logger: log,
		jobs:   make(map[string]*inprocJob),
	}
}

// Start registers a job and kicks off the pipeline in the background.
func (b *InProcessBackend) Start(ctx context.Context, req *model.StartJobRequest) (string, error) {
	if strings.TrimSpace(req.Content) == "" {
		return "", errors.New("question content is empty")
	}

	id := uuid.New().String()
	now := time.Now()

	b.mu.Lock()
	b.pruneLocked(now)
	b.jobs[id] = &inprocJob{
		status:    model.JobStatusSubmitted,
		createdAt: now,
		startedAt: now,
	}
	b.mu.Unlock()

	// The request outlives the caller's HTTP request, so the pipeline runs
	// on its own context.
	go b.run(id, cloneStartRequest(req))

	return id, nil
}

// Status returns the current observation of a job.
func (b *InProcessBackend) Status(ctx context.Context, jobID string) (*model.JobStatusResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	j, ok := b.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}

	resp := &model.JobStatusResponse{
		Status:       j.status,
		Entities:     j.entities.Clone(),
		RouteUsed:    j.routeUsed,
		AnswerText:   j.answer,
		ErrorMessage: j.errMsg,
	}
	if j.status.Terminal() {
		resp.ElapsedMs = time.Since(j.startedAt).Milliseconds()
	}
	return resp, nil
}

// Cancel removes a job record. Always succeeds.
func (b *InProcessBackend) Cancel(ctx context.Context, jobID string) error {
	b.mu.Lock()
	delete(b.jobs, jobID)
	b.mu.Unlock()
	return nil
}

func (b *InProcessBackend) run(id string, req *model.StartJobRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), jobRunTimeout)
	defer cancel()

	entities, route, err := b.identifyEntities(ctx, req.Content)
	if err != nil {
		b.logger.Warn("entity identification failed",
			zap.String("job_id", id), zap.Error(err))
		// The fast path is an optimization; the answer call still runs.
		entities, route = &model.IdentifiedEntities{}, "direct"
	}

	b.update(id, func(j *inprocJob) {
		j.status = model.JobStatusPartial
		j.entities = entities
		j.routeUsed = route
	})

	answer, err := b.answer(ctx, req)
	if err != nil {
		b.logger.Error("answer generation failed",
			zap.String("job_id", id), zap.Error(err))
		b.update(id, func(j *inprocJob) {
			j.status = model.JobStatusFailed
			j.errMsg = friendlyErrorMessage(err)
		})
		return
	}

	b.update(id, func(j *inprocJob) {
		j.status = model.JobStatusTerminal
		j.answer = answer
	})
}

func (b *InProcessBackend) update(id string, fn func(*inprocJob)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if j, ok := b.jobs[id]; ok {
		fn(j)
	}
}

// pruneLocked drops terminal jobs past the retention window. Callers whose
// poll died without a Cancel would otherwise leak records.
func (b *InProcessBackend) pruneLocked(now time.Time) {
	for id, j := range b.jobs {
		if now.Sub(j.createdAt) > jobRetention {
			delete(b.jobs, id)
		}
	}
}

const identifyPrompt = `Ets un expert en el món casteller. Analitza la pregunta i identifica les entitats mencionades. Respon NOMÉS amb un objecte JSON amb aquesta forma:
{"route":"direct|rag|sql|hybrid","colles":[],"castells":[{"castell_code":"3d9f","status":"descarregat"}],"anys":[],"llocs":[],"diades":[]}

Pregunta: %s`

type routeDecision struct {
	Route    string                `json:"route"`
	Colles   []string              `json:"colles"`
	Castells []model.CastellEntity `json:"castells"`
	Anys     []int                 `json:"anys"`
	Llocs    []string              `json:"llocs"`
	Diades   []string              `json:"diades"`
}

func (b *InProcessBackend) identifyEntities(ctx context.Context, question string) (*model.IdentifiedEntities, string, error) {
	resp, err := b.llm.Complete(ctx, &llm.CompletionRequest{
		Model: b.model,
		Messages: []llm.ChatMessage{
			{Role: "user", Content: fmt.Sprintf(identifyPrompt, question)},
		},
		MaxTokens: 512,
	})
	if err != nil {
		return nil, "", err
	}

	var decision routeDecision
	if err := json.Unmarshal([]byte(stripCodeFences(resp.Content)), &decision); err != nil {
		return nil, "", fmt.Errorf("failed to parse route decision: %w", err)
	}

	route := decision.Route
	switch route {
	case "direct", "rag", "sql", "hybrid":
	default:
		route = "unknown"
	}

	return &model.IdentifiedEntities{
		Colles:   decision.Colles,
		Castells: decision.Castells,
		Anys:     decision.Anys,
		Llocs:    decision.Llocs,
		Diades:   decision.Diades,
	}, route, nil
}

const answerSystemPrompt = `Ets en Xiquet, un assistent expert en castells i el món casteller. Respon en català, de manera concisa i fonamentada.`

func (b *InProcessBackend) answer(ctx context.Context, req *model.StartJobRequest) (string, error) {
	var sb strings.Builder
	sb.WriteString(answerSystemPrompt)
	if pc := req.PreviousContext; pc != nil {
		sb.WriteString("\n\nContext de l'intercanvi anterior:\n")
		sb.WriteString("Pregunta: " + pc.Question + "\n")
		sb.WriteString("Resposta: " + pc.Answer + "\n")
		if pc.RouteUsed != "" {
			sb.WriteString("Ruta: " + pc.RouteUsed + "\n")
		}
		if !pc.Entities.IsEmpty() {
			if data, err := json.Marshal(pc.Entities); err == nil {
				sb.WriteString("Entitats: " + string(data) + "\n")
			}
		}
	}
	sb.WriteString("\nPregunta: " + req.Content)

	resp, err := b.llm.Complete(ctx, &llm.CompletionRequest{
		Model: b.model,
		Messages: []llm.ChatMessage{
			{Role: "user", Content: sb.String()},
		},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

// friendlyErrorMessage converts technical errors to user-facing Catalan
// messages. Technical detail stays in logs only.
func friendlyErrorMessage(err error) string {
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429"):
		return "No puc respondre la pregunta perquè he arribat al límit de peticions. Si us plau, torna-ho a intentar en uns moments."
	case strings.Contains(msg, "api key") || strings.Contains(msg, "authentication"):
		return "No puc respondre la pregunta perquè hi ha un problema amb la configuració del servei."
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline") ||
		strings.Contains(msg, "connection") || strings.Contains(msg, "network"):
		return "No puc respondre la pregunta perquè hi ha un problema de connexió. Si us plau, torna-ho a intentar."
	default:
		return "No puc respondre la pregunta en aquest moment. Si us plau, torna-ho a intentar més tard."
	}
}

func cloneStartRequest(req *model.StartJobRequest) *model.StartJobRequest {
	out := *req
	if req.PreviousContext != nil {
		pc := *req.PreviousContext
		pc.Entities = req.PreviousContext.Entities.Clone()
		out.PreviousContext = &pc
	}
	return &out
}
