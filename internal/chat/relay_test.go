package chat

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/dental-clinic-admin/internal/config"
	"github.com/iliyamo/dental-clinic-admin/internal/generator"
	"github.com/iliyamo/dental-clinic-admin/internal/model"
	"github.com/iliyamo/dental-clinic-admin/internal/queue"
	"github.com/iliyamo/dental-clinic-admin/internal/repository"
	"github.com/iliyamo/dental-clinic-admin/internal/service"
)

type fakeGenerator struct {
	mu    sync.Mutex
	reqs  []generator.Request
	resp  *generator.Response
	err   error
	block bool
	echo  bool
}

func (f *fakeGenerator) Name() string { return "fake" }

func (f *fakeGenerator) Generate(ctx context.Context, req generator.Request) (*generator.Response, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.echo {
		return &generator.Response{Response: "re: " + req.Message}, nil
	}
	r := *f.resp
	return &r, nil
}

func (f *fakeGenerator) calls() []generator.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]generator.Request(nil), f.reqs...)
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	failAt int // Send fails from this call on when > 0
}

func (s *recordingSink) Send(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAt > 0 && len(s.events)+1 >= s.failAt {
		return errors.New("client gone")
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Type)
	}
	return out
}

type fakePublisher struct {
	mu     sync.Mutex
	events []queue.TurnCompletedEvent
	err    error
}

func (p *fakePublisher) PublishTurnCompleted(_ context.Context, ev queue.TurnCompletedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

type fixture struct {
	mem     *repository.Memory
	gen     *fakeGenerator
	relay   *Relay
	owner   model.User
	other   model.User
	patient model.Patient
}

func newFixture(t *testing.T, gen *fakeGenerator, mutate ...func(*Deps)) *fixture {
	t.Helper()
	ctx := context.Background()
	mem := repository.NewMemory()
	owner, err := mem.Users.Create(ctx, "u1@clinic.test", "password1", "Dr One", model.RoleUser, 4)
	require.NoError(t, err)
	other, err := mem.Users.Create(ctx, "u2@clinic.test", "password2", "Dr Two", model.RoleUser, 4)
	require.NoError(t, err)
	notes := "Allergic to penicillin"
	p, err := mem.Patients.Create(ctx, owner.ID, model.NewPatient{Name: "Jane Roe", MedicalNotes: &notes})
	require.NoError(t, err)

	d := Deps{
		Patients:  mem.Patients,
		Messages:  mem.Chat,
		Generator: gen,
		Config: config.ChatConfig{
			HistoryLimit:   5,
			SyncTimeout:    time.Second,
			MaxNotesLength: 500,
		},
	}
	for _, m := range mutate {
		m(&d)
	}
	return &fixture{mem: mem, gen: gen, relay: NewRelay(d), owner: owner, other: other, patient: p}
}

func (f *fixture) stream(t *testing.T, ctx context.Context, userID, msg string) (*recordingSink, error) {
	t.Helper()
	sink := &recordingSink{}
	err := f.relay.Stream(ctx, TurnInput{PatientID: f.patient.ID, UserID: userID, Message: msg}, func() (Sink, error) {
		return sink, nil
	})
	return sink, err
}

func TestStream_ForeignOwnerIsForbiddenAndWritesNothing(t *testing.T) {
	f := newFixture(t, &fakeGenerator{resp: &generator.Response{Response: "hi"}})
	opened := false

	err := f.relay.Stream(context.Background(), TurnInput{PatientID: f.patient.ID, UserID: f.other.ID, Message: "hello"},
		func() (Sink, error) { opened = true; return &recordingSink{}, nil })

	require.ErrorIs(t, err, ErrForbidden)
	assert.False(t, opened, "no stream is opened for a rejected turn")
	assert.Zero(t, f.mem.Chat.Count(f.patient.ID))
	assert.Empty(t, f.gen.calls())
}

func TestStream_UnknownPatientIsNotFound(t *testing.T) {
	f := newFixture(t, &fakeGenerator{resp: &generator.Response{Response: "hi"}})

	err := f.relay.Stream(context.Background(), TurnInput{PatientID: "00000000-0000-0000-0000-000000000000", UserID: f.owner.ID, Message: "hello"},
		func() (Sink, error) { t.Fatal("stream must not open"); return nil, nil })

	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "Patient not found", PublicMessage(err))
}

func TestStream_ChunksEveryWordWithItsTrailingSpace(t *testing.T) {
	const reply = "Take ibuprofen twice daily "
	f := newFixture(t, &fakeGenerator{resp: &generator.Response{Response: reply, Metadata: map[string]any{"model": "m1"}}},
		func(d *Deps) { d.Config.ChunkDelay = time.Millisecond })

	sink, err := f.stream(t, context.Background(), f.owner.ID, "What should I take?")
	require.NoError(t, err)

	assert.Equal(t, []string{EventUserMessage, EventChunk, EventChunk, EventChunk, EventChunk, EventDone}, sink.types())

	var chunks []string
	for _, ev := range sink.events[1:5] {
		chunks = append(chunks, ev.Text)
	}
	assert.Equal(t, []string{"Take ", "ibuprofen ", "twice ", "daily "}, chunks)
	assert.Equal(t, reply, strings.Join(chunks, ""))

	userMsg := sink.events[0].Message
	done := sink.events[5].Message
	require.NotNil(t, userMsg)
	require.NotNil(t, done)
	assert.Equal(t, model.ChatRoleUser, userMsg.Role)
	assert.Equal(t, model.ChatRoleAssistant, done.Role)
	assert.Equal(t, reply, done.Content)
	assert.Equal(t, map[string]any{"model": "m1"}, done.Metadata)
	assert.True(t, done.CreatedAt.After(userMsg.CreatedAt))

	stored, err := f.relay.History(context.Background(), f.patient.ID, f.owner.ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, reply, stored[1].Content)
}

func TestStream_EmergencyIsDeliveredWhole(t *testing.T) {
	f := newFixture(t, &fakeGenerator{resp: &generator.Response{
		Response:          "Go to the ER now",
		EmergencyDetected: true,
		Metadata:          map[string]any{"model": "m1", "finish_reason": "stop"},
	}})

	sink, err := f.stream(t, context.Background(), f.owner.ID, "my jaw is swollen")
	require.NoError(t, err)

	assert.Equal(t, []string{EventUserMessage, EventEmergency, EventDone}, sink.types())
	assert.Equal(t, "Go to the ER now", sink.events[1].Text)
	done := sink.events[2].Message
	require.NotNil(t, done)
	assert.Equal(t, "Go to the ER now", done.Content)
	assert.Equal(t, map[string]any{"emergency_detected": true}, done.Metadata)
}

func TestStream_GeneratorFailureKeepsOnlyTheUserMessage(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		public string
	}{
		{"unavailable", fmt.Errorf("dial: %w", generator.ErrUnavailable), "AI service is unavailable. Please try again later."},
		{"timeout", generator.ErrTimeout, "AI service request timed out. Please try again."},
		{"remote", &generator.RemoteError{Status: 500, Detail: "quota key sk-123 exhausted"}, "Failed to generate AI response"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, &fakeGenerator{err: tc.err})

			sink, err := f.stream(t, context.Background(), f.owner.ID, "hello")
			require.NoError(t, err)

			assert.Equal(t, []string{EventUserMessage, EventError}, sink.types())
			assert.Equal(t, tc.public, sink.events[1].Error)
			assert.Empty(t, sink.events[1].Detail)

			msgs, err := f.relay.History(context.Background(), f.patient.ID, f.owner.ID)
			require.NoError(t, err)
			require.Len(t, msgs, 1)
			assert.Equal(t, model.ChatRoleUser, msgs[0].Role)
		})
	}
}

func TestStream_ErrorDetailOnlyWhenExposed(t *testing.T) {
	f := newFixture(t, &fakeGenerator{err: &generator.RemoteError{Status: 500, Detail: "boom"}},
		func(d *Deps) { d.ExposeDetail = true })

	sink, err := f.stream(t, context.Background(), f.owner.ID, "hello")
	require.NoError(t, err)
	require.Len(t, sink.events, 2)
	assert.Contains(t, sink.events[1].Detail, "boom")
}

func TestStream_ClientGoneStillStoresReply(t *testing.T) {
	f := newFixture(t, &fakeGenerator{resp: &generator.Response{Response: "one two three"}})
	sink := &recordingSink{failAt: 2}

	err := f.relay.Stream(context.Background(), TurnInput{PatientID: f.patient.ID, UserID: f.owner.ID, Message: "hi"},
		func() (Sink, error) { return sink, nil })
	require.NoError(t, err)

	assert.Equal(t, []string{EventUserMessage}, sink.types())
	msgs, err := f.relay.History(context.Background(), f.patient.ID, f.owner.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "one two three", msgs[1].Content)
}

func TestStream_CancelledRequestStopsEmissionButNotPersistence(t *testing.T) {
	f := newFixture(t, &fakeGenerator{resp: &generator.Response{Response: "alpha beta gamma delta"}},
		func(d *Deps) { d.Config.ChunkDelay = time.Hour })
	ctx, cancel := context.WithCancel(context.Background())

	sink := &recordingSink{}
	done := make(chan error, 1)
	go func() {
		done <- f.relay.Stream(ctx, TurnInput{PatientID: f.patient.ID, UserID: f.owner.ID, Message: "hi"},
			func() (Sink, error) { return sink, nil })
	}()

	require.Eventually(t, func() bool { return len(sink.types()) >= 2 }, time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay kept waiting on the chunk delay after cancellation")
	}

	assert.Equal(t, []string{EventUserMessage, EventChunk}, sink.types())
	msgs, err := f.relay.History(context.Background(), f.patient.ID, f.owner.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "alpha beta gamma delta", msgs[1].Content)
}

func TestStream_OpenFailureIsInternal(t *testing.T) {
	f := newFixture(t, &fakeGenerator{resp: &generator.Response{Response: "x"}})

	err := f.relay.Stream(context.Background(), TurnInput{PatientID: f.patient.ID, UserID: f.owner.ID, Message: "hi"},
		func() (Sink, error) { return nil, errors.New("no flusher") })
	require.ErrorIs(t, err, ErrInternal)
	assert.Empty(t, f.gen.calls())
}

func TestSend_ReturnsBothMessages(t *testing.T) {
	f := newFixture(t, &fakeGenerator{resp: &generator.Response{Response: "Rinse with salt water"}})

	res, err := f.relay.Send(context.Background(), TurnInput{PatientID: f.patient.ID, UserID: f.owner.ID, Message: "gum pain"})
	require.NoError(t, err)

	assert.Equal(t, "gum pain", res.UserMessage.Content)
	assert.Nil(t, res.UserMessage.Metadata)
	assert.Equal(t, "Rinse with salt water", res.AssistantMessage.Content)
	assert.Equal(t, map[string]any{}, res.AssistantMessage.Metadata)
	assert.True(t, res.AssistantMessage.CreatedAt.After(res.UserMessage.CreatedAt))
}

func TestSend_ForbiddenWritesNothing(t *testing.T) {
	f := newFixture(t, &fakeGenerator{resp: &generator.Response{Response: "x"}})

	_, err := f.relay.Send(context.Background(), TurnInput{PatientID: f.patient.ID, UserID: f.other.ID, Message: "hi"})
	require.ErrorIs(t, err, ErrForbidden)
	assert.Zero(t, f.mem.Chat.Count(f.patient.ID))
}

func TestSend_TimesOutAfterSyncBound(t *testing.T) {
	f := newFixture(t, &fakeGenerator{block: true}, func(d *Deps) { d.Config.SyncTimeout = 20 * time.Millisecond })

	_, err := f.relay.Send(context.Background(), TurnInput{PatientID: f.patient.ID, UserID: f.owner.ID, Message: "hi"})
	require.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 1, f.mem.Chat.Count(f.patient.ID))
}

func TestSend_ContextIsRecentTurnsOldestFirst(t *testing.T) {
	gen := &fakeGenerator{echo: true}
	f := newFixture(t, gen, func(d *Deps) {
		d.Config.HistoryLimit = 3
		d.Config.MaxNotesLength = 10
	})
	in := TurnInput{PatientID: f.patient.ID, UserID: f.owner.ID}

	for _, m := range []string{"first", "second", "third"} {
		in.Message = m
		_, err := f.relay.Send(context.Background(), in)
		require.NoError(t, err)
	}

	reqs := gen.calls()
	require.Len(t, reqs, 3)
	assert.Empty(t, reqs[0].ChatHistory, "the current message is not part of its own context")

	last := reqs[2]
	assert.Equal(t, "third", last.Message)
	assert.Equal(t, "Jane Roe", last.PatientName)
	require.NotNil(t, last.MedicalNotes)
	assert.Equal(t, "Allergic t...", *last.MedicalNotes)
	assert.Equal(t, []generator.HistoryItem{
		{Role: model.ChatRoleAssistant, Content: "re: first"},
		{Role: model.ChatRoleUser, Content: "second"},
		{Role: model.ChatRoleAssistant, Content: "re: second"},
	}, last.ChatHistory)
}

func TestHistory_ConcurrentPatientsStayIsolated(t *testing.T) {
	f := newFixture(t, &fakeGenerator{echo: true})
	other, err := f.mem.Patients.Create(context.Background(), f.owner.ID, model.NewPatient{Name: "John Doe"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		for _, pid := range []string{f.patient.ID, other.ID} {
			wg.Add(1)
			go func(pid string, i int) {
				defer wg.Done()
				_, err := f.relay.Send(context.Background(), TurnInput{PatientID: pid, UserID: f.owner.ID, Message: fmt.Sprintf("%s-%d", pid, i)})
				assert.NoError(t, err)
			}(pid, i)
		}
	}
	wg.Wait()

	first, err := f.relay.History(context.Background(), f.patient.ID, f.owner.ID)
	require.NoError(t, err)
	require.Len(t, first, 40)
	for i, m := range first {
		assert.Equal(t, f.patient.ID, m.PatientID)
		if i > 0 {
			assert.True(t, first[i-1].Before(m))
		}
	}

	again, err := f.relay.History(context.Background(), f.patient.ID, f.owner.ID)
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestHistory_ForeignOwner(t *testing.T) {
	f := newFixture(t, &fakeGenerator{echo: true})
	_, err := f.relay.History(context.Background(), f.patient.ID, f.other.ID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestPublishIsBestEffort(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	f := newFixture(t, &fakeGenerator{resp: &generator.Response{Response: "Go to the ER now", EmergencyDetected: true}},
		func(d *Deps) { d.Publisher = pub })

	res, err := f.relay.Send(context.Background(), TurnInput{PatientID: f.patient.ID, UserID: f.owner.ID, Message: "bleeding"})
	require.NoError(t, err)

	require.Len(t, pub.events, 1)
	ev := pub.events[0]
	assert.Equal(t, res.UserMessage.ID, ev.UserMessageID)
	assert.Equal(t, res.AssistantMessage.ID, ev.AssistantMessageID)
	assert.Equal(t, "sync", ev.Mode)
	assert.Equal(t, "fake", ev.Generator)
	assert.True(t, ev.Emergency)
	assert.Equal(t, len("Go to the ER now"), ev.ResponseChars)
}

// silentBroker accepts TCP connections and never answers the AMQP handshake.
func silentBroker(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	var (
		mu    sync.Mutex
		conns []net.Conn
	)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			_ = c.Close()
		}
	})
	return "amqp://guest:guest@" + ln.Addr().String() + "/"
}

func TestUnresponsiveBrokerDoesNotHoldTheTurn(t *testing.T) {
	const budget = 150 * time.Millisecond
	pub := service.NewPublisher(silentBroker(t), nil)
	f := newFixture(t, &fakeGenerator{resp: &generator.Response{Response: "Floss daily"}},
		func(d *Deps) {
			d.Publisher = pub
			d.Config.PublishTimeout = budget
		})
	in := TurnInput{PatientID: f.patient.ID, UserID: f.owner.ID, Message: "gums"}

	start := time.Now()
	res, err := f.relay.Send(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "Floss daily", res.AssistantMessage.Content)
	assert.Less(t, time.Since(start), time.Second)

	start = time.Now()
	sink, err := f.stream(t, context.Background(), f.owner.ID, "more")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, []string{EventUserMessage, EventChunk, EventChunk, EventDone}, sink.types())
}

func TestKindAndPublicMessage(t *testing.T) {
	err := wrap(ErrServiceUnavailable, errors.New("connect: connection refused"))
	assert.Equal(t, ErrServiceUnavailable, Kind(err))
	assert.NotContains(t, PublicMessage(err), "refused")
	assert.Equal(t, ErrInternal, Kind(errors.New("other")))
}
