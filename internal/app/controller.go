package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/candorvoice/candor/internal/gateway"
	"github.com/candorvoice/candor/internal/resilience"
	"github.com/candorvoice/candor/internal/server"
	"github.com/candorvoice/candor/internal/session"
	"github.com/candorvoice/candor/internal/store"
	"github.com/candorvoice/candor/internal/transcript"
	"github.com/candorvoice/candor/pkg/audio"
	"github.com/candorvoice/candor/pkg/provider/llm"
)

// Compile-time check: App is the messaging controller.
var _ server.Controller = (*App)(nil)

// ErrUnknownQuestion is returned when regeneration references a question id
// that was never asked.
var ErrUnknownQuestion = errors.New("unknown question id")

// StartTranscription opens the capture pipeline. The capture attaches to
// the application lifetime, not to the request that started it.
func (a *App) StartTranscription(context.Context) error {
	return a.capture.Start(a.runContext())
}

// StopTranscription stops the capture pipeline.
func (a *App) StopTranscription(context.Context) error {
	return a.capture.Stop()
}

// GenerateResponse streams an answer to text, broadcasting deltas as
// AI_RESPONSE_CHUNK messages. An empty questionId gets a fresh id.
func (a *App) GenerateResponse(ctx context.Context, questionID, text string) error {
	if text == "" {
		return errors.New("empty question text")
	}
	if questionID == "" {
		questionID = uuid.NewString()
	}
	providerID, err := a.activeProvider(ctx)
	if err != nil {
		return err
	}
	return a.answer(questionID, providerID, text, true)
}

// RegenerateResponse replays the question behind questionID, optionally on
// a different provider, replacing the previous answer. The prior answer
// turn is removed so the regenerated one reuses the same id.
func (a *App) RegenerateResponse(ctx context.Context, questionID, providerID string) error {
	a.qmu.Lock()
	text, ok := a.questions[questionID]
	a.qmu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownQuestion, questionID)
	}

	if providerID == "" {
		var err error
		if providerID, err = a.activeProvider(ctx); err != nil {
			return err
		}
	}
	if _, ok := gateway.Lookup(providerID); !ok {
		return fmt.Errorf("%w: %q", gateway.ErrUnknownProvider, providerID)
	}

	a.convo.RemoveAssistant(questionID)
	return a.answer(questionID, providerID, text, false)
}

// ChangeProvider validates and persists the active provider selection.
func (a *App) ChangeProvider(ctx context.Context, providerID string) error {
	if _, ok := gateway.Lookup(providerID); !ok {
		return fmt.Errorf("%w: %q", gateway.ErrUnknownProvider, providerID)
	}
	raw, err := json.Marshal(providerID)
	if err != nil {
		return err
	}
	if err := a.store.Set(ctx, store.KeyActiveProvider, raw); err != nil {
		return err
	}
	a.logger.Info("active provider changed", slog.String("provider", providerID))
	return nil
}

// ClearContext abandons live answer streams and empties the conversation.
func (a *App) ClearContext(context.Context) error {
	a.gw.CancelAll()
	a.convo.Clear()
	a.qmu.Lock()
	a.questions = make(map[string]string)
	a.qmu.Unlock()
	return nil
}

// appState is the GET_STATE response payload.
type appState struct {
	ActiveProvider string                     `json:"activeProvider"`
	Providers      []string                   `json:"providers"`
	Transcribing   bool                       `json:"transcribing"`
	ContextLength  int                        `json:"contextLength"`
	SessionID      string                     `json:"sessionId"`
	Settings       map[string]json.RawMessage `json:"settings"`
}

// State assembles the current application state for UI clients. Stored
// credentials are never included.
func (a *App) State(ctx context.Context) (json.RawMessage, error) {
	providerID, err := a.activeProvider(ctx)
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, p := range gateway.Providers() {
		ids = append(ids, p.ID)
	}

	settings := make(map[string]json.RawMessage)
	for _, key := range []string{
		store.KeyFontSize, store.KeyDarkMode, store.KeyLowContrast,
		store.KeyWindowPosition, store.KeyWindowSize,
	} {
		raw, err := a.store.Get(ctx, key)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		settings[key] = raw
	}

	return json.Marshal(appState{
		ActiveProvider: providerID,
		Providers:      ids,
		Transcribing:   a.capture.Active(),
		ContextLength:  a.convo.Len(),
		SessionID:      a.currentSessionID(),
		Settings:       settings,
	})
}

// IngestAudio converts a binary PCM frame to normalized samples and feeds
// the capture buffer.
func (a *App) IngestAudio(pcm []byte) error {
	if len(pcm) == 0 || len(pcm)%2 != 0 {
		return errors.New("malformed pcm frame")
	}
	a.capture.IngestFrame(audio.AudioFrame{
		Samples:    audio.PCM16LEToFloat32(pcm),
		SampleRate: a.cfg.Audio.EffectiveSampleRate(),
		Timestamp:  time.Now(),
	})
	return nil
}

// onQuestion is the pipeline callback for detected interviewer questions.
// Answers are generated automatically on the active provider.
func (a *App) onQuestion(u transcript.Utterance) {
	providerID, err := a.activeProvider(a.runContext())
	if err != nil {
		a.logger.Warn("cannot resolve active provider", slog.String("error", err.Error()))
		return
	}
	if err := a.answer(u.ID, providerID, u.Text, true); err != nil {
		a.logger.Warn("auto answer failed",
			slog.String("question_id", u.ID),
			slog.String("error", err.Error()),
		)
		a.hub.Broadcast(server.ErrorMessage(u.ID, err.Error()))
	}
}

// answer starts an answer stream for the question and forwards its deltas
// as broadcasts. appendQuestion records the user turn for a fresh question;
// regeneration keeps the existing one. The history sent upstream always
// excludes the live question, which the gateway appends as the closing
// user message.
func (a *App) answer(questionID, providerID, text string, appendQuestion bool) error {
	ctx := a.runContext()

	a.qmu.Lock()
	a.questions[questionID] = text
	a.qmu.Unlock()

	history := a.convo.Snapshot()
	if !appendQuestion {
		for len(history) > 0 && history[len(history)-1].ID == questionID {
			history = history[:len(history)-1]
		}
	}

	chunks, err := a.gw.Stream(ctx, questionID, providerID, text, history)
	if err != nil {
		a.metrics.RecordProviderError(ctx, providerID, errorKind(err))
		return err
	}

	if appendQuestion {
		a.convo.Append(session.Turn{
			Role:      llm.RoleUser,
			Content:   text,
			ID:        questionID,
			Timestamp: time.Now(),
		})
	}

	a.metrics.ActiveStreams.Add(ctx, 1)
	go a.forward(ctx, questionID, providerID, chunks)
	return nil
}

// forward drains one answer stream, broadcasting each delta and recording
// the assistant turn when the stream completes cleanly.
func (a *App) forward(ctx context.Context, questionID, providerID string, chunks <-chan llm.Chunk) {
	start := time.Now()
	first := true
	var full string
	var failed bool

	for chunk := range chunks {
		if chunk.Err != nil {
			failed = true
			a.metrics.RecordProviderError(ctx, providerID, "stream")
			a.logger.Warn("answer stream failed",
				slog.String("question_id", questionID),
				slog.String("provider", providerID),
				slog.String("error", chunk.Err.Error()),
			)
			a.hub.Broadcast(server.ErrorMessage(questionID, chunk.Err.Error()))
			break
		}
		if chunk.Text != "" {
			if first {
				a.metrics.FirstDeltaDuration.Record(ctx, time.Since(start).Seconds())
				first = false
			}
			full += chunk.Text
			a.hub.Broadcast(server.ChunkMessage(questionID, chunk.Text, false))
		}
	}

	a.metrics.ActiveStreams.Add(context.Background(), -1)
	a.metrics.AnswerDuration.Record(ctx, time.Since(start).Seconds())

	if failed || ctx.Err() != nil {
		a.metrics.RecordProviderRequest(ctx, providerID, "error")
		return
	}

	a.metrics.RecordProviderRequest(ctx, providerID, "ok")
	a.hub.Broadcast(server.ChunkMessage(questionID, "", true))
	if full != "" {
		a.convo.Append(session.Turn{
			Role:      llm.RoleAssistant,
			Content:   full,
			ID:        questionID,
			Timestamp: time.Now(),
		})
	}
}

// activeProvider resolves the persisted provider selection, falling back to
// the configured then the catalog default.
func (a *App) activeProvider(ctx context.Context) (string, error) {
	raw, err := a.store.Get(ctx, store.KeyActiveProvider)
	if errors.Is(err, store.ErrNotFound) {
		return a.cfg.Providers.EffectiveActiveLLM(), nil
	}
	if err != nil {
		return "", err
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil || id == "" {
		a.logger.Warn("stored active provider is malformed, using default")
		return a.cfg.Providers.EffectiveActiveLLM(), nil
	}
	if _, ok := gateway.Lookup(id); !ok {
		a.logger.Warn("stored active provider not in catalog, using default", slog.String("provider", id))
		return a.cfg.Providers.EffectiveActiveLLM(), nil
	}
	return id, nil
}

// mustActiveProvider is activeProvider for log lines, swallowing errors.
func (a *App) mustActiveProvider(ctx context.Context) string {
	id, err := a.activeProvider(ctx)
	if err != nil {
		return a.cfg.Providers.EffectiveActiveLLM()
	}
	return id
}

// errorKind buckets a stream start failure for the error counter.
func errorKind(err error) string {
	var missing *gateway.MissingCredentialError
	var upstream *llm.UpstreamError
	switch {
	case errors.As(err, &missing):
		return "missing_credential"
	case errors.As(err, &upstream):
		return "upstream"
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "circuit_open"
	default:
		return "start"
	}
}
