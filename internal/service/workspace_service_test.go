package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/studyhub-companion/internal/dto"
	"github.com/noah-isme/studyhub-companion/internal/repository"
	"github.com/noah-isme/studyhub-companion/pkg/apiclient"
	"github.com/noah-isme/studyhub-companion/pkg/realtime"
)

func TestPreferenceServiceDefaultsAndPersists(t *testing.T) {
	db := newTestSessionRepoDB(t)
	svc := NewPreferenceService(repository.NewPreferenceRepository(db), newValidator(), zerolog.Nop())
	ctx := context.Background()

	notes, err := svc.Notes(ctx, "g1")
	require.NoError(t, err)
	require.JSONEq(t, `""`, string(notes.Value))
	require.Nil(t, notes.UpdatedAt)

	checklist, err := svc.Checklist(ctx, "g1")
	require.NoError(t, err)
	require.JSONEq(t, `[]`, string(checklist.Value))

	_, err = svc.SaveNotes(ctx, "g1", dto.NotesRequest{Text: "chapter 4"})
	require.NoError(t, err)
	_, err = svc.SaveChecklist(ctx, "g1", dto.ChecklistRequest{Items: []dto.ChecklistItem{{Text: " read ", Done: true}}})
	require.NoError(t, err)

	notes, err = svc.Notes(ctx, "g1")
	require.NoError(t, err)
	require.JSONEq(t, `"chapter 4"`, string(notes.Value))
	require.NotNil(t, notes.UpdatedAt)

	checklist, err = svc.Checklist(ctx, "g1")
	require.NoError(t, err)
	require.JSONEq(t, `[{"text":"read","done":true}]`, string(checklist.Value))

	other, err := svc.Notes(ctx, "g2")
	require.NoError(t, err)
	require.JSONEq(t, `""`, string(other.Value))

	_, err = svc.Notes(ctx, " ")
	require.ErrorIs(t, err, ErrGroupRequired)
}

type stubMeetingClient struct {
	actions []string
}

func (s *stubMeetingClient) Availability(context.Context) (json.RawMessage, error) {
	return json.RawMessage(`{"slots":[]}`), nil
}

func (s *stubMeetingClient) UpdateAvailability(_ context.Context, availability json.RawMessage) (json.RawMessage, error) {
	return availability, nil
}

func (s *stubMeetingClient) AvailabilityOf(context.Context, string) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func (s *stubMeetingClient) Meetings(context.Context) (json.RawMessage, error) {
	return json.RawMessage(`[]`), nil
}

func (s *stubMeetingClient) MeetingAction(_ context.Context, action string, payload json.RawMessage) (json.RawMessage, error) {
	s.actions = append(s.actions, action+":"+string(payload))
	return json.RawMessage(`{"ok":true}`), nil
}

func TestMeetingServiceValidatesActionsAndPayloads(t *testing.T) {
	client := &stubMeetingClient{}
	svc := NewMeetingService(client)
	ctx := context.Background()

	_, err := svc.Act(ctx, "cancel", nil)
	require.ErrorIs(t, err, ErrUnknownMeetingAction)

	_, err = svc.Act(ctx, "request", json.RawMessage(`[1,2]`))
	require.ErrorIs(t, err, ErrInvalidPayload)

	_, err = svc.Act(ctx, " Clear ", nil)
	require.NoError(t, err)
	require.Equal(t, []string{"clear:{}"}, client.actions)

	_, err = svc.UpdateAvailability(ctx, json.RawMessage(`"busy"`))
	require.ErrorIs(t, err, ErrInvalidPayload)

	out, err := svc.UpdateAvailability(ctx, json.RawMessage(`{"monday":["09:00"]}`))
	require.NoError(t, err)
	require.JSONEq(t, `{"monday":["09:00"]}`, string(out))
}

type stubPollClient struct {
	created []apiclient.PollInput
}

func (s *stubPollClient) MeetingPolls(context.Context, string) (json.RawMessage, error) {
	return json.RawMessage(`[]`), nil
}

func (s *stubPollClient) CreateMeetingPoll(_ context.Context, _ string, input apiclient.PollInput) (json.RawMessage, error) {
	s.created = append(s.created, input)
	return json.RawMessage(`{"id":"p-1"}`), nil
}

func (s *stubPollClient) VoteMeetingPoll(context.Context, string, string, apiclient.PollVote) (json.RawMessage, error) {
	return json.RawMessage(`{"ok":true}`), nil
}

func TestPollServiceValidatesSlots(t *testing.T) {
	client := &stubPollClient{}
	svc := NewPollService(client, newValidator(), zerolog.Nop())
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	_, err := svc.Create(context.Background(), "g1", dto.PollCreateRequest{Title: "Review", Slots: []dto.PollSlotRequest{}})
	require.True(t, isValidationErr(err))

	_, err = svc.Create(context.Background(), "g1", dto.PollCreateRequest{
		Title: "Review",
		Slots: []dto.PollSlotRequest{{Start: start, End: start.Add(-time.Hour)}},
	})
	require.True(t, isValidationErr(err))

	_, err = svc.Create(context.Background(), "g1", dto.PollCreateRequest{
		Title: "Review",
		Slots: []dto.PollSlotRequest{{Start: start, End: start.Add(time.Hour)}},
	})
	require.NoError(t, err)
	require.Len(t, client.created, 1)

	_, err = svc.Vote(context.Background(), "g1", "p-1", dto.PollVoteRequest{})
	require.True(t, isValidationErr(err))
}

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
	fail     bool
}

func (p *recordingPublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("nats unavailable")
	}
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, data)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subjects)
}

func TestEventBridgeMirrorsBusEvents(t *testing.T) {
	bus := realtime.NewBus(zerolog.Nop())
	publisher := &recordingPublisher{}
	bridge := NewEventBridge(bus, publisher, ".campus.events.", zerolog.Nop())
	require.Equal(t, "campus.events.notify", bridge.Subject(realtime.EventNotify))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bridge.Start(ctx)

	bus.Publish(realtime.Event{Name: realtime.EventGroupMessage, Data: json.RawMessage(`{"group_id":"g1"}`)})
	require.Eventually(t, func() bool { return publisher.count() == 1 }, time.Second, 10*time.Millisecond)

	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	require.Equal(t, "campus.events.group_message", publisher.subjects[0])
	var mirrored BridgedEvent
	require.NoError(t, json.Unmarshal(publisher.payloads[0], &mirrored))
	require.Equal(t, realtime.EventGroupMessage, mirrored.Event)
	require.NotEmpty(t, mirrored.Source)
	require.JSONEq(t, `{"group_id":"g1"}`, string(mirrored.Data))
}

func TestEventBridgeDefaultsPrefix(t *testing.T) {
	bridge := NewEventBridge(realtime.NewBus(zerolog.Nop()), nil, "", zerolog.Nop())
	require.Equal(t, "studyhub.events.connect", bridge.Subject(realtime.EventConnect))
	bridge.Start(context.Background())
}
