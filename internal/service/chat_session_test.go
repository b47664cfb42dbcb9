package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/studyhub-companion/internal/dto"
	"github.com/noah-isme/studyhub-companion/pkg/apiclient"
	"github.com/noah-isme/studyhub-companion/pkg/realtime"
)

var testUser = apiclient.User{ID: "me", Name: "Me", Email: "me@example.com"}

type chatFixture struct {
	backend  *fakeChatBackend
	realtime *fakeRealtime
	blobs    *BlobStore
	service  ChatService
}

func newChatFixture(t *testing.T, cfg ChatSessionConfig) *chatFixture {
	t.Helper()
	f := &chatFixture{
		backend:  newFakeChatBackend(),
		realtime: newFakeRealtime(),
		blobs:    NewBlobStore(),
	}
	f.service = NewChatService(f.backend, f.realtime, staticIdentity{user: testUser, ok: true}, f.blobs, cfg, newValidator(), zerolog.Nop())
	t.Cleanup(func() { f.service.Shutdown(context.Background()) })
	return f
}

func messageIDs(snapshot dto.ChatSessionResponse) []string {
	out := make([]string, 0, len(snapshot.Messages))
	for _, msg := range snapshot.Messages {
		out = append(out, string(msg.ID))
	}
	return out
}

func TestChatSessionDeduplicatesHistoryAndEcho(t *testing.T) {
	f := newChatFixture(t, ChatSessionConfig{})
	now := time.Now().UTC()
	duplicate := chatMessage("m1", "g1", "u2", now)
	f.backend.history["g1"] = []apiclient.ChatMessage{duplicate}

	ctx := context.Background()
	session, err := f.service.Create(ctx, "g1")
	require.NoError(t, err)
	require.NoError(t, session.Open(ctx))
	require.Equal(t, dto.ChatStateReady, session.Snapshot().State)

	f.realtime.push(t, realtime.EventGroupMessage, duplicate)
	f.realtime.push(t, realtime.EventGroupMessage, chatMessage("m2", "g1", "u2", now.Add(time.Second)))
	f.realtime.push(t, realtime.EventGroupMessage, chatMessage("m3", "other", "u2", now.Add(time.Second)))

	require.Eventually(t, func() bool {
		return len(session.Snapshot().Messages) == 2
	}, time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, []string{"m1", "m2"}, messageIDs(session.Snapshot()))
}

func TestChatSessionGroupSwitchIsolatesState(t *testing.T) {
	f := newChatFixture(t, ChatSessionConfig{})
	now := time.Now().UTC()
	f.backend.history["A"] = []apiclient.ChatMessage{chatMessage("a1", "A", "u2", now)}
	f.backend.history["B"] = []apiclient.ChatMessage{chatMessage("b1", "B", "u2", now)}

	ctx := context.Background()
	session, err := f.service.Create(ctx, "A")
	require.NoError(t, err)
	require.NoError(t, session.Open(ctx))
	require.Equal(t, []string{"a1"}, messageIDs(session.Snapshot()))

	require.NoError(t, session.Bind(ctx, "B"))
	snapshot := session.Snapshot()
	require.Equal(t, "B", snapshot.GroupID)
	require.Equal(t, []string{"b1"}, messageIDs(snapshot))

	f.realtime.push(t, realtime.EventGroupMessage, chatMessage("a2", "A", "u2", now))
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, []string{"b1"}, messageIDs(session.Snapshot()))

	require.Equal(t, []roomCall{
		{Op: "join", Kind: realtime.RoomGroup, ID: "A"},
		{Op: "leave", Kind: realtime.RoomGroup, ID: "A"},
		{Op: "join", Kind: realtime.RoomGroup, ID: "B"},
	}, f.realtime.roomCalls())
}

func TestChatSessionFileTypeGate(t *testing.T) {
	f := newChatFixture(t, ChatSessionConfig{MaxUploadBytes: 1024})
	ctx := context.Background()
	session, err := f.service.Create(ctx, "g1")
	require.NoError(t, err)

	err = session.Upload(ctx, "notes.exe", []byte("MZ binary"))
	require.ErrorIs(t, err, ErrFileTypeNotAllowed)
	require.Empty(t, f.backend.uploads)
	require.NotEmpty(t, session.Snapshot().LastError)

	require.NoError(t, session.Upload(ctx, "notes.pdf", []byte("%PDF-1.4\n%test\n")))
	require.Len(t, f.backend.uploads, 1)
	require.Equal(t, "notes.pdf", f.backend.uploads[0].Name)
	require.Equal(t, "application/pdf", f.backend.uploads[0].ContentType)

	require.ErrorIs(t, session.Upload(ctx, "big.docx", make([]byte, 2048)), ErrAttachmentTooLarge)
	require.Len(t, f.backend.uploads, 1)
}

func TestChatSessionUnreadBadgeWhileClosed(t *testing.T) {
	f := newChatFixture(t, ChatSessionConfig{})
	f.backend.unread["g1"] = 8
	ctx := context.Background()

	session, err := f.service.Create(ctx, "g1")
	require.NoError(t, err)
	require.Equal(t, 8, session.Snapshot().Unread)
	require.Equal(t, "8", session.Snapshot().UnreadLabel)

	now := time.Now().UTC()
	f.realtime.push(t, realtime.EventGroupMessage, chatMessage("own", "g1", "me", now))
	f.realtime.push(t, realtime.EventGroupMessage, chatMessage("x1", "g1", "u2", now))
	f.realtime.push(t, realtime.EventGroupMessage, chatMessage("x2", "g1", "u2", now))

	require.Eventually(t, func() bool { return len(session.Snapshot().Messages) == 3 }, time.Second, 10*time.Millisecond)
	snapshot := session.Snapshot()
	require.Equal(t, 10, snapshot.Unread)
	require.Equal(t, "9+", snapshot.UnreadLabel)

	require.NoError(t, session.Open(ctx))
	require.Zero(t, session.Snapshot().Unread)
	require.Equal(t, "", session.Snapshot().UnreadLabel)
	require.Contains(t, f.backend.markedRead, "g1")
}

func TestUnreadLabelAndCap(t *testing.T) {
	require.Equal(t, "", UnreadLabel(0))
	require.Equal(t, "9", UnreadLabel(9))
	require.Equal(t, "9+", UnreadLabel(10))
	require.Equal(t, "9+", UnreadLabel(99))
	require.Equal(t, 99, clampUnread(150))
}

func TestChatSessionHistoryFailureIsNonFatal(t *testing.T) {
	f := newChatFixture(t, ChatSessionConfig{})
	f.backend.historyErr = errors.New("boom")
	ctx := context.Background()

	session, err := f.service.Create(ctx, "g1")
	require.NoError(t, err)
	require.NoError(t, session.Open(ctx))

	snapshot := session.Snapshot()
	require.Equal(t, dto.ChatStateReady, snapshot.State)
	require.Empty(t, snapshot.Messages)
	require.Equal(t, msgHistoryUnavailable, snapshot.LastError)

	f.backend.historyErr = nil
	session.Close()
	require.NoError(t, session.Open(ctx))
	require.Len(t, f.backend.historyReq, 2)
}

func TestChatSessionSendDoesNotEchoLocally(t *testing.T) {
	f := newChatFixture(t, ChatSessionConfig{})
	ctx := context.Background()
	session, err := f.service.Create(ctx, "g1")
	require.NoError(t, err)
	require.NoError(t, session.Open(ctx))

	require.ErrorIs(t, session.SendText(ctx, "   "), ErrEmptyMessage)
	require.NoError(t, session.SendText(ctx, "hello"))
	require.Equal(t, []string{"g1:hello"}, f.backend.texts)
	require.Empty(t, session.Snapshot().Messages)

	f.backend.sendErr = errors.New("offline")
	require.Error(t, session.SendText(ctx, "again"))
	require.Equal(t, msgSendFailed, session.Snapshot().LastError)
}

func TestChatSessionSocketTransportCarriesIdentity(t *testing.T) {
	f := newChatFixture(t, ChatSessionConfig{Transport: "socket"})
	ctx := context.Background()
	session, err := f.service.Create(ctx, "g1")
	require.NoError(t, err)

	require.NoError(t, session.SendText(ctx, "over the wire"))
	require.Empty(t, f.backend.texts)
	require.Len(t, f.realtime.sent, 1)
	sent := f.realtime.sent[0].(map[string]interface{})
	require.Equal(t, realtime.Sender{ID: "me", Name: "Me", Email: "me@example.com"}, sent["from"])
	require.Equal(t, "g1", sent["id"])
}

func TestChatSessionLoadOlderPrependsUnseen(t *testing.T) {
	f := newChatFixture(t, ChatSessionConfig{})
	base := time.Now().UTC()
	ctx := context.Background()
	session, err := f.service.Create(ctx, "g1")
	require.NoError(t, err)

	f.backend.history["g1"] = []apiclient.ChatMessage{chatMessage("m3", "g1", "u2", base)}
	require.NoError(t, session.Open(ctx))

	f.backend.history["g1"] = []apiclient.ChatMessage{
		chatMessage("m1", "g1", "u2", base.Add(-2*time.Minute)),
		chatMessage("m2", "g1", "u2", base.Add(-time.Minute)),
		chatMessage("m3", "g1", "u2", base),
	}
	added, err := session.LoadOlder(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, added)
	require.Equal(t, []string{"m1", "m2", "m3"}, messageIDs(session.Snapshot()))
}

func TestChatSessionPreviewRevokesOnReplaceAndClose(t *testing.T) {
	f := newChatFixture(t, ChatSessionConfig{PreviewMaxBytes: 1 << 20})
	f.backend.files["/files/a.pdf"] = []byte("%PDF-1.4\n%a\n")
	f.backend.files["/files/b.docx"] = []byte("not really a docx")
	ctx := context.Background()
	session, err := f.service.Create(ctx, "g1")
	require.NoError(t, err)
	require.NoError(t, session.Open(ctx))

	pdf, err := session.OpenPreview(ctx, dto.PreviewRequest{URL: "/files/a.pdf", Name: "a.pdf"})
	require.NoError(t, err)
	require.True(t, pdf.Inline)
	require.Equal(t, "application/pdf", pdf.Mime)
	require.Equal(t, 1, f.blobs.Len())

	doc, err := session.OpenPreview(ctx, dto.PreviewRequest{URL: "/files/b.docx", Name: "b.docx", Mime: "application/vnd.openxmlformats-officedocument.wordprocessingml.document", Size: 42})
	require.NoError(t, err)
	require.False(t, doc.Inline)
	require.Equal(t, int64(42), doc.Size)
	require.Equal(t, 1, f.blobs.Len())

	session.Close()
	require.Zero(t, f.blobs.Len())
	require.Nil(t, session.Snapshot().Preview)
}

func TestChatSessionRejoinsRoomOnReconnect(t *testing.T) {
	f := newChatFixture(t, ChatSessionConfig{})
	ctx := context.Background()
	_, err := f.service.Create(ctx, "g1")
	require.NoError(t, err)

	f.realtime.bus.Publish(realtime.Event{Name: realtime.EventDisconnect})
	f.realtime.bus.Publish(realtime.Event{Name: realtime.EventConnect})

	require.Eventually(t, func() bool {
		joins := 0
		for _, call := range f.realtime.roomCalls() {
			if call.Op == "join" && call.ID == "g1" {
				joins++
			}
		}
		return joins == 2
	}, time.Second, 10*time.Millisecond)
}

func TestChatServiceRemoveLeavesRoom(t *testing.T) {
	f := newChatFixture(t, ChatSessionConfig{})
	ctx := context.Background()
	session, err := f.service.Create(ctx, "g1")
	require.NoError(t, err)

	require.NoError(t, f.service.Remove(ctx, session.ID()))
	_, err = f.service.Get(session.ID())
	require.ErrorIs(t, err, ErrChatSessionNotFound)
	require.ErrorIs(t, session.Open(ctx), ErrChatSessionClosed)
	require.Equal(t, roomCall{Op: "leave", Kind: realtime.RoomGroup, ID: "g1"}, f.realtime.roomCalls()[1])
}

func TestAttachmentAllowed(t *testing.T) {
	require.True(t, AttachmentAllowed("Report.PDF"))
	require.True(t, AttachmentAllowed("notes.docx"))
	require.True(t, AttachmentAllowed("old.doc"))
	require.False(t, AttachmentAllowed("notes.exe"))
	require.False(t, AttachmentAllowed("pdf"))
	require.False(t, AttachmentAllowed("archive.pdf.zip"))
}
