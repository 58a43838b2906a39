// Package chat runs chat turns: it checks patient access, records the
// user's message, asks the generator for one complete reply, delivers it
// (word by word when streaming) and records the assistant's message.
package chat

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/dental-clinic-admin/internal/config"
	"github.com/iliyamo/dental-clinic-admin/internal/generator"
	"github.com/iliyamo/dental-clinic-admin/internal/metrics"
	"github.com/iliyamo/dental-clinic-admin/internal/model"
	"github.com/iliyamo/dental-clinic-admin/internal/queue"
)

const defaultPublishTimeout = 3 * time.Second

// Publisher receives an event for every completed turn.  Calls are bounded
// by ChatConfig.PublishTimeout and implementations must honor ctx.
type Publisher interface {
	PublishTurnCompleted(ctx context.Context, ev queue.TurnCompletedEvent) error
}

// TurnInput is one submitted message.
type TurnInput struct {
	PatientID string
	UserID    string
	Message   string
}

// TurnResult holds both messages of a completed turn.
type TurnResult struct {
	UserMessage      model.ChatMessage `json:"user_message"`
	AssistantMessage model.ChatMessage `json:"assistant_message"`
}

// Deps wires a Relay.
type Deps struct {
	Patients  PatientReader
	Messages  MessageStore
	Generator generator.Generator
	Publisher Publisher // optional
	Config    config.ChatConfig
	Logger    *zap.Logger
	// ExposeDetail adds the raw cause to error events (development only).
	ExposeDetail bool
}

// Relay holds no per-turn state; one instance serves all turns concurrently.
type Relay struct {
	gate      Gate
	history   Assembler
	messages  MessageStore
	gen       generator.Generator
	publisher Publisher
	cfg       config.ChatConfig
	log       *zap.Logger
	detail    bool
}

func NewRelay(d Deps) *Relay {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Relay{
		gate:      Gate{Patients: d.Patients},
		history:   Assembler{Messages: d.Messages, Limit: d.Config.HistoryLimit},
		messages:  d.Messages,
		gen:       d.Generator,
		publisher: d.Publisher,
		cfg:       d.Config,
		log:       log,
		detail:    d.ExposeDetail,
	}
}

// Gate exposes the access check for other patient scoped operations.
func (r *Relay) Gate() Gate { return r.gate }

// History returns the whole conversation of a patient after the gate.
func (r *Relay) History(ctx context.Context, patientID, userID string) ([]model.ChatMessage, error) {
	if _, err := r.gate.Check(ctx, patientID, userID); err != nil {
		return nil, err
	}
	msgs, err := r.history.All(ctx, patientID)
	if err != nil {
		return nil, wrap(ErrInternal, err)
	}
	return msgs, nil
}

// Stream runs one turn and delivers it as events.
//
// Gate failures and a failed write of the user message are returned before
// open is called, so the caller can answer with a plain error.  Once open
// has returned a sink every outcome is reported through it and Stream
// returns nil.  If the client goes away, emission stops but generation and
// the assistant write still complete.
func (r *Relay) Stream(ctx context.Context, in TurnInput, open func() (Sink, error)) error {
	const mode = "stream"
	started := time.Now()

	patient, userMsg, err := r.begin(ctx, in)
	if err != nil {
		r.count(mode, err)
		return err
	}
	sink, err := open()
	if err != nil {
		r.count(mode, ErrInternal)
		return wrap(ErrInternal, err)
	}

	alive := sink.Send(Event{Type: EventUserMessage, Message: &userMsg}) == nil

	// the turn outlives the client connection
	work := context.WithoutCancel(ctx)

	resp, err := r.generate(work, patient, userMsg)
	if err != nil {
		r.fail(mode, in, sink, alive, err)
		return nil
	}

	if resp.EmergencyDetected {
		if alive {
			alive = sink.Send(Event{Type: EventEmergency, Text: resp.Response}) == nil
		}
	} else {
		alive = r.emitChunks(ctx, sink, alive, resp.Response)
	}

	assistant, err := r.persistAssistant(work, in, resp)
	if err != nil {
		r.fail(mode, in, sink, alive, err)
		return nil
	}
	if alive {
		alive = sink.Send(Event{Type: EventDone, Message: &assistant}) == nil
	}
	if !alive {
		r.log.Info("client left before the turn completed; reply stored",
			zap.String("patient_id", in.PatientID), zap.String("message_id", assistant.ID))
	}

	r.count(mode, nil, outcomeLabel(resp))
	r.publish(work, mode, in, userMsg, assistant, resp, started)
	return nil
}

// Send runs one turn without chunking and returns both stored messages.
// Generation is bounded by the configured sync timeout.
func (r *Relay) Send(ctx context.Context, in TurnInput) (*TurnResult, error) {
	const mode = "sync"
	started := time.Now()

	patient, userMsg, err := r.begin(ctx, in)
	if err != nil {
		r.count(mode, err)
		return nil, err
	}

	work := context.WithoutCancel(ctx)
	genCtx, cancel := context.WithTimeout(work, r.cfg.SyncTimeout)
	defer cancel()

	resp, err := r.generate(genCtx, patient, userMsg)
	if err != nil {
		r.logFailure(mode, in, err)
		r.count(mode, err)
		return nil, err
	}

	assistant, err := r.persistAssistant(work, in, resp)
	if err != nil {
		r.logFailure(mode, in, err)
		r.count(mode, err)
		return nil, err
	}

	r.count(mode, nil, outcomeLabel(resp))
	r.publish(work, mode, in, userMsg, assistant, resp, started)
	return &TurnResult{UserMessage: userMsg, AssistantMessage: assistant}, nil
}

// begin runs the gate and records the user's message.
func (r *Relay) begin(ctx context.Context, in TurnInput) (model.Patient, model.ChatMessage, error) {
	patient, err := r.gate.Check(ctx, in.PatientID, in.UserID)
	if err != nil {
		return model.Patient{}, model.ChatMessage{}, err
	}
	msg, err := r.messages.Create(ctx, model.ChatMessage{
		PatientID: in.PatientID,
		UserID:    in.UserID,
		Role:      model.ChatRoleUser,
		Content:   in.Message,
	})
	if err != nil {
		r.log.Error("store user message failed", zap.String("patient_id", in.PatientID), zap.Error(err))
		return model.Patient{}, model.ChatMessage{}, wrap(ErrInternal, err)
	}
	return patient, msg, nil
}

// generate assembles context and makes the single generator call.
func (r *Relay) generate(ctx context.Context, patient model.Patient, userMsg model.ChatMessage) (*generator.Response, error) {
	recent, err := r.history.Recent(ctx, patient.ID, userMsg.ID)
	if err != nil {
		return nil, wrap(ErrInternal, err)
	}

	start := time.Now()
	resp, err := r.gen.Generate(ctx, generator.Request{
		Message:      userMsg.Content,
		PatientName:  patient.Name,
		MedicalNotes: generator.TruncateNotes(patient.MedicalNotes, r.cfg.MaxNotesLength),
		ChatHistory:  toHistory(recent),
	})
	metrics.GenerationSeconds.WithLabelValues(r.gen.Name()).Observe(time.Since(start).Seconds())

	switch {
	case err == nil && resp == nil:
		return nil, wrap(ErrInternal, errors.New("generator returned no response"))
	case err == nil:
		return resp, nil
	case errors.Is(err, generator.ErrTimeout), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return nil, wrap(ErrTimeout, err)
	case errors.Is(err, generator.ErrUnavailable):
		return nil, wrap(ErrServiceUnavailable, err)
	default:
		return nil, wrap(ErrInternal, err)
	}
}

// emitChunks sends one chunk per word, pausing ChunkDelay between them.
// It reports whether the client is still connected.
func (r *Relay) emitChunks(ctx context.Context, sink Sink, alive bool, text string) bool {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for i, word := range SplitWords(text) {
		if !alive {
			return false
		}
		if i > 0 && r.cfg.ChunkDelay > 0 {
			if timer == nil {
				timer = time.NewTimer(r.cfg.ChunkDelay)
			} else {
				timer.Reset(r.cfg.ChunkDelay)
			}
			select {
			case <-ctx.Done():
				return false
			case <-timer.C:
			}
		}
		if err := sink.Send(Event{Type: EventChunk, Text: word}); err != nil {
			return false
		}
		metrics.Chunks.Inc()
	}
	return alive
}

// persistAssistant stores the reply.  Emergency replies keep only the
// emergency flag as metadata.
func (r *Relay) persistAssistant(ctx context.Context, in TurnInput, resp *generator.Response) (model.ChatMessage, error) {
	meta := resp.Metadata
	if resp.EmergencyDetected {
		meta = map[string]any{"emergency_detected": true}
	} else if meta == nil {
		meta = map[string]any{}
	}
	msg, err := r.messages.Create(ctx, model.ChatMessage{
		PatientID: in.PatientID,
		UserID:    in.UserID,
		Role:      model.ChatRoleAssistant,
		Content:   resp.Response,
		Metadata:  meta,
	})
	if err != nil {
		return model.ChatMessage{}, wrap(ErrInternal, err)
	}
	return msg, nil
}

func (r *Relay) fail(mode string, in TurnInput, sink Sink, alive bool, err error) {
	r.logFailure(mode, in, err)
	r.count(mode, err)
	if !alive {
		return
	}
	ev := Event{Type: EventError, Error: PublicMessage(err)}
	if r.detail {
		ev.Detail = err.Error()
	}
	_ = sink.Send(ev)
}

func (r *Relay) logFailure(mode string, in TurnInput, err error) {
	r.log.Error("chat turn failed",
		zap.String("mode", mode),
		zap.String("patient_id", in.PatientID),
		zap.String("user_id", in.UserID),
		zap.String("backend", r.gen.Name()),
		zap.Error(err),
	)
}

func (r *Relay) publish(ctx context.Context, mode string, in TurnInput, userMsg, assistant model.ChatMessage, resp *generator.Response, started time.Time) {
	if r.publisher == nil {
		return
	}
	budget := r.cfg.PublishTimeout
	if budget <= 0 {
		budget = defaultPublishTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	ev := queue.TurnCompletedEvent{
		EventID:            uuid.NewString(),
		PatientID:          in.PatientID,
		UserID:             in.UserID,
		UserMessageID:      userMsg.ID,
		AssistantMessageID: assistant.ID,
		Mode:               mode,
		Generator:          r.gen.Name(),
		Emergency:          resp.EmergencyDetected,
		ResponseChars:      len([]rune(resp.Response)),
		DurationMs:         time.Since(started).Milliseconds(),
		CompletedAt:        assistant.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if err := r.publisher.PublishTurnCompleted(ctx, ev); err != nil {
		metrics.EventsPublished.WithLabelValues("error").Inc()
		r.log.Warn("publish chat event failed", zap.String("patient_id", in.PatientID), zap.Error(err))
		return
	}
	metrics.EventsPublished.WithLabelValues("ok").Inc()
}

func outcomeLabel(resp *generator.Response) string {
	if resp.EmergencyDetected {
		return "emergency"
	}
	return "ok"
}

// count records a finished turn; outcome overrides the label derived from err.
func (r *Relay) count(mode string, err error, outcome ...string) {
	label := "ok"
	if err != nil {
		switch Kind(err) {
		case ErrNotFound:
			label = "not_found"
		case ErrForbidden:
			label = "forbidden"
		case ErrServiceUnavailable:
			label = "unavailable"
		case ErrTimeout:
			label = "timeout"
		default:
			label = "error"
		}
	}
	if len(outcome) > 0 {
		label = outcome[0]
	}
	metrics.ChatTurns.WithLabelValues(mode, label).Inc()
}
