// Package analysis implements the turn orchestrator: it validates a turn
// request against session state, resolves the session image, dispatches the
// model call and records the exchange.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medgaze/medgaze/domain"
	"github.com/medgaze/medgaze/groq"
	"github.com/medgaze/medgaze/imageproc"
	"github.com/medgaze/medgaze/session"
	"github.com/medgaze/medgaze/store"
)

// ModelClient is the outbound inference dependency. Satisfied by
// *groq.Client; tests inject stubs.
type ModelClient interface {
	CreateChatCompletion(ctx context.Context, req *groq.ChatCompletionRequest) (*groq.ChatCompletionResponse, error)
}

// Options carries the model-call parameters the orchestrator does not own.
type Options struct {
	Model        string
	MaxTokens    int
	Temperature  float64
	SystemPrompt string
	TurnTimeout  time.Duration
}

// Orchestrator runs one turn at a time per session. Each call to RunTurn
// drives the per-turn state machine
// received -> validated -> image_resolved -> model_dispatched -> succeeded|failed.
type Orchestrator struct {
	proc  *imageproc.Processor
	model ModelClient
	trace store.TraceStore
	opts  Options
}

// New creates an orchestrator.
func New(proc *imageproc.Processor, model ModelClient, trace store.TraceStore, opts Options) *Orchestrator {
	return &Orchestrator{proc: proc, model: model, trace: trace, opts: opts}
}

// RunTurn executes one turn against the session's conversation context.
//
// The session's turn lock is held from validation through the terminal
// state, so concurrent submissions for the same session surface as busy
// rather than interleaving history. On model failure the tentatively
// appended user turn is rolled back; history only ever shows completed
// exchanges.
func (o *Orchestrator) RunTurn(ctx context.Context, sess *domain.Session, conv *session.Context, req domain.TurnRequest) (*domain.TurnResult, error) {
	turnID := "turn_" + uuid.New().String()[:8]
	state := domain.TurnStateReceived

	if !conv.BeginTurn() {
		return nil, domain.E(domain.KindSessionBusy, "another turn is in flight for this session")
	}
	defer conv.EndTurn()

	o.record(ctx, sess.SessionID, turnID, domain.EventTypeTurnStarted, nil)

	fail := func(err error) (*domain.TurnResult, error) {
		reached := state
		state = domain.TurnStateFailed
		o.record(ctx, sess.SessionID, turnID, domain.EventTypeTurnFailed,
			map[string]string{"kind": string(domain.KindOf(err)), "reached": string(reached)})
		return nil, err
	}

	// received -> validated
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return fail(domain.E(domain.KindValidation, "query must not be empty"))
	}
	if !conv.HasImage() && len(req.Image) == 0 {
		return fail(domain.E(domain.KindValidation, "no image in session; upload an image on the first request"))
	}
	state = domain.TurnStateValidated

	// validated -> image_resolved. The first accepted image is authoritative
	// for the whole session; attachments on later turns are ignored.
	if !conv.HasImage() {
		artifact, err := o.proc.Process(req.Image)
		if err != nil {
			return fail(err)
		}
		if conv.CommitImage(artifact) {
			o.record(ctx, sess.SessionID, turnID, domain.EventTypeImageCommitted, map[string]interface{}{
				"width":             artifact.Width,
				"height":            artifact.Height,
				"bytes":             len(artifact.Data),
				"source_media_type": req.ImageMediaType,
			})
		}
	}
	state = domain.TurnStateImageResolved

	// image_resolved -> model_dispatched. The user turn is appended
	// tentatively; a failed dispatch rolls it back.
	checkpoint := conv.Len()
	conv.Append(domain.RoleUser, query)
	messages := o.buildMessages(conv)
	state = domain.TurnStateModelDispatched

	callCtx := ctx
	if o.opts.TurnTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.opts.TurnTimeout)
		defer cancel()
	}

	temperature := o.opts.Temperature
	maxTokens := o.opts.MaxTokens
	modelReq := &groq.ChatCompletionRequest{
		Model:       o.opts.Model,
		Messages:    messages,
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	}

	o.record(ctx, sess.SessionID, turnID, domain.EventTypeModelCallStarted,
		map[string]string{"model": o.opts.Model})
	started := time.Now()
	resp, err := o.model.CreateChatCompletion(callCtx, modelReq)
	latency := time.Since(started).Milliseconds()

	if err == nil {
		var answerErr error
		if answer, aerr := groq.AnswerText(resp); aerr != nil {
			answerErr = aerr
		} else {
			// model_dispatched -> succeeded
			conv.Append(domain.RoleAssistant, answer)
			state = domain.TurnStateSucceeded
			o.recordModelDone(ctx, sess.SessionID, turnID, resp, latency, "")
			o.record(ctx, sess.SessionID, turnID, domain.EventTypeTurnSucceeded,
				map[string]int{"turns": conv.Len()})
			return &domain.TurnResult{TurnID: turnID, Answer: answer, Turns: conv.Len()}, nil
		}
		err = answerErr
	}

	// model_dispatched -> failed
	conv.TruncateTo(checkpoint)
	o.recordModelDone(ctx, sess.SessionID, turnID, nil, latency, err.Error())
	return fail(classifyModelError(err))
}

// buildMessages assembles the model request from the system prompt, the
// full ordered history and the stored image. The image rides on the first
// user message as a data URL.
func (o *Orchestrator) buildMessages(conv *session.Context) []groq.ChatMessage {
	turns := conv.Turns()
	artifact := conv.Artifact()

	messages := make([]groq.ChatMessage, 0, len(turns)+1)
	if o.opts.SystemPrompt != "" {
		messages = append(messages, groq.TextMessage("system", o.opts.SystemPrompt))
	}

	imageAttached := false
	for _, t := range turns {
		if t.Role == domain.RoleUser && !imageAttached && artifact != nil {
			messages = append(messages, groq.VisionMessage(string(t.Role), t.Text, groq.DataURL(artifact)))
			imageAttached = true
			continue
		}
		messages = append(messages, groq.TextMessage(string(t.Role), t.Text))
	}
	return messages
}

// classifyModelError maps an upstream failure to the boundary taxonomy
// without leaking credentials or internals.
func classifyModelError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.Wrap(domain.KindModelCall, "model call timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return domain.Wrap(domain.KindModelCall, "model call cancelled", err)
	}
	var se *groq.StatusError
	if errors.As(err, &se) {
		return domain.Wrap(domain.KindModelCall, se.Message, err)
	}
	return domain.Wrap(domain.KindModelCall, "model call failed", err)
}

func (o *Orchestrator) recordModelDone(ctx context.Context, sessionID, turnID string, resp *groq.ChatCompletionResponse, latencyMs int64, errMsg string) {
	payload := domain.ModelCallDonePayload{
		Model:     o.opts.Model,
		LatencyMs: latencyMs,
		Error:     errMsg,
	}
	if resp != nil && resp.Usage != nil {
		payload.PromptTokens = resp.Usage.PromptTokens
		payload.CompletionTokens = resp.Usage.CompletionTokens
	}
	o.record(ctx, sessionID, turnID, domain.EventTypeModelCallDone, payload)
}

// record writes a trace event. Tracing is observability only; a failed
// write never fails the turn.
func (o *Orchestrator) record(ctx context.Context, sessionID, turnID string, typ domain.EventType, payload any) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			log.Printf("WARN: failed to marshal %s payload: %v", typ, err)
		} else {
			raw = b
		}
	}
	ev := &domain.Event{
		EventID:   "evt_" + uuid.New().String()[:8],
		SessionID: sessionID,
		TurnID:    turnID,
		Ts:        time.Now().UnixMilli(),
		Type:      typ,
		Payload:   raw,
	}
	if err := o.trace.RecordEvent(ctx, ev); err != nil {
		log.Printf("WARN: failed to record %s event: %v", typ, err)
	}
}
