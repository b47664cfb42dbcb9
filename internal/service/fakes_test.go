package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/studyhub-companion/internal/models"
	"github.com/noah-isme/studyhub-companion/internal/repository"
	"github.com/noah-isme/studyhub-companion/pkg/apiclient"
	"github.com/noah-isme/studyhub-companion/pkg/realtime"
)

type roomCall struct {
	Op   string
	Kind realtime.RoomKind
	ID   string
}

type fakeRealtime struct {
	bus *realtime.Bus

	mu          sync.Mutex
	connected   bool
	connectErr  error
	calls       []roomCall
	sent        []interface{}
	disconnects int
}

func newFakeRealtime() *fakeRealtime {
	return &fakeRealtime{bus: realtime.NewBus(zerolog.Nop())}
}

func (f *fakeRealtime) EnsureConnected(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeRealtime) JoinRoom(_ context.Context, kind realtime.RoomKind, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return realtime.ErrNotConnected
	}
	f.calls = append(f.calls, roomCall{Op: "join", Kind: kind, ID: id})
	return nil
}

func (f *fakeRealtime) LeaveRoom(_ context.Context, kind realtime.RoomKind, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return realtime.ErrNotConnected
	}
	f.calls = append(f.calls, roomCall{Op: "leave", Kind: kind, ID: id})
	return nil
}

func (f *fakeRealtime) Send(_ context.Context, kind realtime.RoomKind, id string, from realtime.Sender, payload interface{}) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return nil, realtime.ErrNotConnected
	}
	f.sent = append(f.sent, map[string]interface{}{"kind": kind, "id": id, "from": from, "payload": payload})
	return json.RawMessage(`{"ok":true}`), nil
}

func (f *fakeRealtime) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeRealtime) Disconnect() {
	f.mu.Lock()
	f.connected = false
	f.disconnects++
	f.mu.Unlock()
}

func (f *fakeRealtime) Bus() *realtime.Bus {
	return f.bus
}

func (f *fakeRealtime) roomCalls() []roomCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]roomCall, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeRealtime) push(t *testing.T, event string, payload interface{}) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	f.bus.Publish(realtime.Event{Name: event, Data: data})
}

// fakeChatBackend implements ChatClient in memory.
type fakeChatBackend struct {
	mu         sync.Mutex
	history    map[string][]apiclient.ChatMessage
	historyErr error
	sendErr    error
	unread     map[string]int
	uploads    []apiclient.FileUpload
	texts      []string
	historyReq []string
	markedRead []string
	files      map[string][]byte
}

func newFakeChatBackend() *fakeChatBackend {
	return &fakeChatBackend{
		history: map[string][]apiclient.ChatMessage{},
		unread:  map[string]int{},
		files:   map[string][]byte{},
	}
}

func (f *fakeChatBackend) ChatHistory(_ context.Context, groupID string, before time.Time) ([]apiclient.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.historyReq = append(f.historyReq, groupID)
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	out := make([]apiclient.ChatMessage, 0)
	for _, msg := range f.history[groupID] {
		if before.IsZero() || msg.At.Before(before) {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (f *fakeChatBackend) SendChatText(_ context.Context, groupID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.texts = append(f.texts, groupID+":"+text)
	return nil
}

func (f *fakeChatBackend) UploadChatFile(_ context.Context, _ string, file apiclient.FileUpload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, file)
	return nil
}

func (f *fakeChatBackend) ChatUnread(_ context.Context, groupID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unread[groupID], nil
}

func (f *fakeChatBackend) MarkChatRead(_ context.Context, groupID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markedRead = append(f.markedRead, groupID)
	return nil
}

func (f *fakeChatBackend) Fetch(_ context.Context, rawURL string, _ int64) ([]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[rawURL]
	if !ok {
		return nil, "", errors.New("not found")
	}
	return data, "application/octet-stream", nil
}

type staticIdentity struct {
	user apiclient.User
	ok   bool
}

func (s staticIdentity) User() (apiclient.User, bool) {
	return s.user, s.ok
}

func chatMessage(id, groupID, authorID string, at time.Time) apiclient.ChatMessage {
	return apiclient.ChatMessage{
		ID:      apiclient.ID(id),
		Kind:    apiclient.MessageKindText,
		Text:    fmt.Sprintf("message %s", id),
		At:      at,
		From:    apiclient.Person{ID: apiclient.ID(authorID), Name: "User " + authorID},
		GroupID: apiclient.ID(groupID),
	}
}

func newTestSessionRepo(t *testing.T) repository.SessionRepository {
	t.Helper()
	return repository.NewSessionRepository(newTestSessionRepoDB(t))
}

func newTestSessionRepoDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.StoredValue{}, &models.DevicePreference{}))
	return db
}

func newValidator() *validator.Validate {
	return validator.New()
}

func isValidationErr(err error) bool {
	var validationErrors validator.ValidationErrors
	return errors.As(err, &validationErrors)
}
