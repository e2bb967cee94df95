package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/medgaze/medgaze/domain"
	"github.com/medgaze/medgaze/groq"
	"github.com/medgaze/medgaze/imageproc"
	"github.com/medgaze/medgaze/session"
	"github.com/medgaze/medgaze/store"
)

// stubModel lets each test script the upstream behavior.
type stubModel struct {
	fn func(ctx context.Context, req *groq.ChatCompletionRequest) (*groq.ChatCompletionResponse, error)
	// last request seen, for message-shape assertions
	lastReq *groq.ChatCompletionRequest
}

func (m *stubModel) CreateChatCompletion(ctx context.Context, req *groq.ChatCompletionRequest) (*groq.ChatCompletionResponse, error) {
	m.lastReq = req
	return m.fn(ctx, req)
}

func answering(text string) *stubModel {
	return &stubModel{fn: func(ctx context.Context, req *groq.ChatCompletionRequest) (*groq.ChatCompletionResponse, error) {
		return &groq.ChatCompletionResponse{
			Choices: []groq.Choice{{Message: &groq.ChoiceMessage{Role: "assistant", Content: text}}},
			Usage:   &groq.Usage{PromptTokens: 5, CompletionTokens: 3},
		}, nil
	}}
}

func failing(err error) *stubModel {
	return &stubModel{fn: func(ctx context.Context, req *groq.ChatCompletionRequest) (*groq.ChatCompletionResponse, error) {
		return nil, err
	}}
}

func testOpts() Options {
	return Options{
		Model:        "test-model",
		MaxTokens:    300,
		Temperature:  0.2,
		SystemPrompt: "You are a careful assistant.",
		TurnTimeout:  5 * time.Second,
	}
}

func newOrchestrator(model ModelClient, trace store.TraceStore) *Orchestrator {
	if trace == nil {
		trace = store.NopStore{}
	}
	return New(imageproc.New(1024, 78), model, trace, testOpts())
}

func testImage(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 20, 20))
	for y := 0; y < 20; y++ {
		for x := 0; x < 20; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 12), G: uint8(y * 12), B: 100, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test image: %v", err)
	}
	return buf.Bytes()
}

func newSession(t *testing.T) (*domain.Session, *session.Context) {
	t.Helper()
	s := session.NewStore(time.Hour)
	sess, ctx, err := s.Create()
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return sess, ctx
}

func TestFirstTurnWithoutImageRejected(t *testing.T) {
	o := newOrchestrator(answering("never called"), nil)
	sess, conv := newSession(t)

	_, err := o.RunTurn(context.Background(), sess, conv, domain.TurnRequest{Query: "what is this?"})
	if err == nil {
		t.Fatal("expected validation error")
	}
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	assert.Equal(t, 0, conv.Len(), "context must be unchanged")
	assert.False(t, conv.HasImage())
}

func TestEmptyQueryRejected(t *testing.T) {
	o := newOrchestrator(answering("never called"), nil)
	sess, conv := newSession(t)

	_, err := o.RunTurn(context.Background(), sess, conv, domain.TurnRequest{Query: "   ", Image: testImage(t)})
	if err == nil {
		t.Fatal("expected validation error")
	}
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	assert.Equal(t, 0, conv.Len())
}

func TestUndecodableImageRejectedWithoutStateMutation(t *testing.T) {
	o := newOrchestrator(answering("never called"), nil)
	sess, conv := newSession(t)

	_, err := o.RunTurn(context.Background(), sess, conv, domain.TurnRequest{
		Query: "describe",
		Image: []byte("not an image"),
	})
	if err == nil {
		t.Fatal("expected image processing error")
	}
	assert.Equal(t, domain.KindImageProcessing, domain.KindOf(err))
	assert.Equal(t, 0, conv.Len())
	assert.False(t, conv.HasImage())
}

func TestFirstTurnCommitsImageAndRecordsExchange(t *testing.T) {
	model := answering("looks like eczema")
	o := newOrchestrator(model, nil)
	sess, conv := newSession(t)

	res, err := o.RunTurn(context.Background(), sess, conv, domain.TurnRequest{
		Query: "Describe this image",
		Image: testImage(t),
	})
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}
	assert.Equal(t, "looks like eczema", res.Answer)
	assert.Equal(t, 2, res.Turns)
	assert.True(t, conv.HasImage())

	turns := conv.Turns()
	assert.Equal(t, domain.RoleUser, turns[0].Role)
	assert.Equal(t, domain.RoleAssistant, turns[1].Role)
}

func TestConversationScenario(t *testing.T) {
	model := answering("answer")
	o := newOrchestrator(model, nil)
	sess, conv := newSession(t)

	imageA := testImage(t)
	if _, err := o.RunTurn(context.Background(), sess, conv, domain.TurnRequest{
		Query: "Describe this image", Image: imageA,
	}); err != nil {
		t.Fatalf("turn 1 failed: %v", err)
	}
	assert.True(t, conv.HasImage())
	assert.Equal(t, 2, conv.Len())
	original := conv.Artifact()

	// Follow-up without an image reuses the stored artifact.
	if _, err := o.RunTurn(context.Background(), sess, conv, domain.TurnRequest{
		Query: "What about the left side?",
	}); err != nil {
		t.Fatalf("turn 2 failed: %v", err)
	}
	assert.Equal(t, 4, conv.Len())

	// A later attachment is accepted by the transport but discarded: the
	// first image stays authoritative.
	imageB := bytes.Repeat([]byte("junk that is not even decodable"), 3)
	if _, err := o.RunTurn(context.Background(), sess, conv, domain.TurnRequest{
		Query: "ignore", Image: imageB,
	}); err != nil {
		t.Fatalf("turn 3 failed: %v", err)
	}
	assert.Equal(t, 6, conv.Len())
	assert.Same(t, original, conv.Artifact(), "first image must remain authoritative")
}

func TestModelFailureRollsBackUserTurn(t *testing.T) {
	o := newOrchestrator(failing(&groq.StatusError{StatusCode: 502, Message: "upstream down"}), nil)
	sess, conv := newSession(t)

	// Seed a committed exchange first.
	seed := newOrchestrator(answering("ok"), nil)
	if _, err := seed.RunTurn(context.Background(), sess, conv, domain.TurnRequest{
		Query: "Describe this image", Image: testImage(t),
	}); err != nil {
		t.Fatalf("seed turn failed: %v", err)
	}
	before := conv.Len()

	_, err := o.RunTurn(context.Background(), sess, conv, domain.TurnRequest{Query: "follow-up"})
	if err == nil {
		t.Fatal("expected model call error")
	}
	assert.Equal(t, domain.KindModelCall, domain.KindOf(err))
	assert.Equal(t, before, conv.Len(), "failed turn must not leave a dangling user turn")
}

func TestMalformedModelResponseRollsBack(t *testing.T) {
	empty := &stubModel{fn: func(ctx context.Context, req *groq.ChatCompletionRequest) (*groq.ChatCompletionResponse, error) {
		return &groq.ChatCompletionResponse{}, nil
	}}
	o := newOrchestrator(empty, nil)
	sess, conv := newSession(t)

	_, err := o.RunTurn(context.Background(), sess, conv, domain.TurnRequest{
		Query: "describe", Image: testImage(t),
	})
	if err == nil {
		t.Fatal("expected model call error")
	}
	assert.Equal(t, domain.KindModelCall, domain.KindOf(err))
	assert.Equal(t, 0, conv.Len())
	// The image commit is not rolled back; the session keeps its image.
	assert.True(t, conv.HasImage())
}

func TestBusySessionRejected(t *testing.T) {
	o := newOrchestrator(answering("ok"), nil)
	sess, conv := newSession(t)

	if !conv.BeginTurn() {
		t.Fatal("BeginTurn failed")
	}
	defer conv.EndTurn()

	_, err := o.RunTurn(context.Background(), sess, conv, domain.TurnRequest{
		Query: "describe", Image: testImage(t),
	})
	if err == nil {
		t.Fatal("expected busy error")
	}
	assert.Equal(t, domain.KindSessionBusy, domain.KindOf(err))
}

func TestTurnTimeoutFailsAndRollsBack(t *testing.T) {
	blocking := &stubModel{fn: func(ctx context.Context, req *groq.ChatCompletionRequest) (*groq.ChatCompletionResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	o := New(imageproc.New(1024, 78), blocking, store.NopStore{}, Options{
		Model:       "test-model",
		MaxTokens:   10,
		TurnTimeout: 20 * time.Millisecond,
	})
	sess, conv := newSession(t)

	_, err := o.RunTurn(context.Background(), sess, conv, domain.TurnRequest{
		Query: "describe", Image: testImage(t),
	})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	assert.Equal(t, domain.KindModelCall, domain.KindOf(err))
	assert.Equal(t, 0, conv.Len())
}

func TestModelRequestShape(t *testing.T) {
	model := answering("fine")
	o := newOrchestrator(model, nil)
	sess, conv := newSession(t)

	if _, err := o.RunTurn(context.Background(), sess, conv, domain.TurnRequest{
		Query: "Describe this image", Image: testImage(t),
	}); err != nil {
		t.Fatalf("turn 1 failed: %v", err)
	}
	if _, err := o.RunTurn(context.Background(), sess, conv, domain.TurnRequest{
		Query: "And the texture?",
	}); err != nil {
		t.Fatalf("turn 2 failed: %v", err)
	}

	req := model.lastReq
	assert.Equal(t, "test-model", req.Model)
	// system + (user+image) + assistant + user
	assert.Len(t, req.Messages, 4)
	assert.Equal(t, "system", req.Messages[0].Role)

	// Image rides on the first user message only.
	first, _ := json.Marshal(req.Messages[1])
	assert.True(t, strings.Contains(string(first), "image_url"), "first user message should carry the image")
	last, _ := json.Marshal(req.Messages[3])
	assert.False(t, strings.Contains(string(last), "image_url"), "follow-up must not re-attach the image")
}

func TestTraceEventOrdering(t *testing.T) {
	trace, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("trace store: %v", err)
	}
	defer trace.Close()

	o := newOrchestrator(answering("ok"), trace)
	sess, conv := newSession(t)

	if _, err := o.RunTurn(context.Background(), sess, conv, domain.TurnRequest{
		Query: "describe", Image: testImage(t), ImageMediaType: "image/png",
	}); err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}

	events, err := trace.GetEvents(context.Background(), sess.SessionID, 0, 100)
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}

	var types []domain.EventType
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []domain.EventType{
		domain.EventTypeTurnStarted,
		domain.EventTypeImageCommitted,
		domain.EventTypeModelCallStarted,
		domain.EventTypeModelCallDone,
		domain.EventTypeTurnSucceeded,
	}, types)

	var committed struct {
		Width           int    `json:"width"`
		Height          int    `json:"height"`
		SourceMediaType string `json:"source_media_type"`
	}
	if err := json.Unmarshal(events[1].Payload, &committed); err != nil {
		t.Fatalf("decode image_committed payload: %v", err)
	}
	assert.Equal(t, "image/png", committed.SourceMediaType)
	assert.NotZero(t, committed.Width)
	assert.NotZero(t, committed.Height)
}
