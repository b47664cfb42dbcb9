package service

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/studyhub-companion/internal/dto"
	"github.com/noah-isme/studyhub-companion/internal/observability"
	"github.com/noah-isme/studyhub-companion/pkg/apiclient"
	"github.com/noah-isme/studyhub-companion/pkg/realtime"
)

const (
	unreadCap             = 99
	chatSnapshotBuffer    = 16
	chatTransportSocket   = "socket"
	msgHistoryUnavailable = "Chat history could not be loaded."
	msgSendFailed         = "Message could not be sent."
	msgUploadFailed       = "File could not be uploaded."
	msgFileTypeRejected   = "Only PDF, DOC and DOCX files can be attached."
	msgPreviewFailed      = "Preview is not available."
)

var (
	// ErrFileTypeNotAllowed is returned for attachments outside the extension allow-list.
	ErrFileTypeNotAllowed = errors.New("file type not allowed")
	// ErrAttachmentTooLarge is returned for attachments above the upload limit.
	ErrAttachmentTooLarge = errors.New("attachment exceeds upload limit")
	// ErrEmptyAttachment is returned for zero-byte attachments.
	ErrEmptyAttachment = errors.New("attachment is empty")
	// ErrEmptyMessage is returned when the text is blank.
	ErrEmptyMessage = errors.New("message text is empty")
	// ErrNoGroupBound is returned when a session has no group yet.
	ErrNoGroupBound = errors.New("chat session is not bound to a group")
	// ErrChatSessionClosed is returned by operations on a removed session.
	ErrChatSessionClosed = errors.New("chat session closed")
)

var allowedAttachmentExtensions = map[string]struct{}{
	"pdf":  {},
	"doc":  {},
	"docx": {},
}

// AttachmentAllowed reports whether name carries an allowed attachment extension.
func AttachmentAllowed(name string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(strings.TrimSpace(name)), "."))
	_, ok := allowedAttachmentExtensions[ext]
	return ok
}

// UnreadLabel renders the badge text for an unread count.
func UnreadLabel(count int) string {
	switch {
	case count <= 0:
		return ""
	case count > 9:
		return "9+"
	default:
		return strconv.Itoa(count)
	}
}

// ChatSessionConfig tunes chat session behaviour.
type ChatSessionConfig struct {
	Transport       string
	MaxUploadBytes  int64
	PreviewMaxBytes int64
}

// ChatSession binds one chat panel to at most one group room.
type ChatSession struct {
	id       string
	client   ChatClient
	conn     RealtimeConn
	identity Identity
	blobs    *BlobStore
	cfg      ChatSessionConfig
	logger   zerolog.Logger
	tracer   trace.Tracer
	ctx      context.Context
	cancel   context.CancelFunc

	mu         sync.Mutex
	groupID    string
	generation uint64
	open       bool
	state      dto.ChatState
	loaded     bool
	messages   []apiclient.ChatMessage
	seen       map[string]struct{}
	unread     int
	joinedRoom string
	// joiningRoom is the room with a join in flight; joinSeq tags that join.
	joiningRoom string
	joiningGen  uint64
	joinSeq     uint64
	preview    *dto.PreviewResponse
	previewID  string
	lastError  string
	closed     bool

	subsMu      sync.RWMutex
	subscribers map[chan dto.ChatSessionResponse]struct{}
}

type inboundChatMessage struct {
	apiclient.ChatMessage
	GroupIDSnake apiclient.ID `json:"group_id"`
}

func newChatSession(id string, client ChatClient, conn RealtimeConn, identity Identity, blobs *BlobStore, cfg ChatSessionConfig, tracer trace.Tracer, logger zerolog.Logger) *ChatSession {
	ctx, cancel := context.WithCancel(context.Background())
	return &ChatSession{
		id:          id,
		client:      client,
		conn:        conn,
		identity:    identity,
		blobs:       blobs,
		cfg:         cfg,
		logger:      logger.With().Str("chat_session", id).Logger(),
		tracer:      tracer,
		ctx:         ctx,
		cancel:      cancel,
		state:       dto.ChatStateIdle,
		seen:        make(map[string]struct{}),
		subscribers: make(map[chan dto.ChatSessionResponse]struct{}),
	}
}

// ID returns the session identifier.
func (s *ChatSession) ID() string {
	return s.id
}

func (s *ChatSession) start() {
	events, cancel := s.conn.Bus().Subscribe(realtime.EventGroupMessage, realtime.EventConnect, realtime.EventDisconnect)
	go func() {
		defer cancel()
		for {
			select {
			case <-s.ctx.Done():
				return
			case evt, ok := <-events:
				if !ok {
					return
				}
				s.handleEvent(evt)
			}
		}
	}()
}

// Bind switches the session to groupID, leaving the previous room first. An empty
// groupID unbinds the session.
func (s *ChatSession) Bind(ctx context.Context, groupID string) error {
	groupID = strings.TrimSpace(groupID)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrChatSessionClosed
	}
	if groupID == s.groupID {
		s.mu.Unlock()
		return nil
	}
	previousRoom := s.joinedRoom
	previousPreview := s.previewID
	s.groupID = groupID
	s.generation++
	gen := s.generation
	s.messages = nil
	s.seen = make(map[string]struct{})
	s.loaded = false
	s.unread = 0
	s.joinedRoom = ""
	s.joiningRoom = ""
	s.preview = nil
	s.previewID = ""
	s.lastError = ""
	s.state = dto.ChatStateIdle
	open := s.open
	if open && groupID != "" {
		s.state = dto.ChatStateLoading
	}
	s.mu.Unlock()

	s.blobs.Revoke(previousPreview)
	s.logger.Debug().Str("previous_room", previousRoom).Str("group_id", groupID).Msg("chat session switching group")

	if previousRoom != "" {
		_ = s.conn.LeaveRoom(ctx, realtime.RoomGroup, previousRoom)
	}
	s.broadcast()

	if groupID == "" {
		return nil
	}

	s.joinGroupRoom(ctx, groupID, gen)
	if open {
		s.loadHistory(ctx, gen)
		s.markRead(ctx, gen)
	} else {
		s.seedUnread(ctx, gen)
	}
	s.broadcast()
	return nil
}

// Open shows the panel, loading history the first time and resetting the unread badge.
func (s *ChatSession) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrChatSessionClosed
	}
	s.open = true
	groupID := s.groupID
	gen := s.generation
	needLoad := groupID != "" && !s.loaded
	switch {
	case needLoad:
		s.state = dto.ChatStateLoading
	case groupID != "":
		s.state = dto.ChatStateReady
	}
	s.mu.Unlock()
	s.broadcast()

	if groupID == "" {
		return nil
	}
	if needLoad {
		s.loadHistory(ctx, gen)
	}
	s.markRead(ctx, gen)
	s.broadcast()
	return nil
}

// Close hides the panel and frees the active preview.
func (s *ChatSession) Close() {
	s.mu.Lock()
	s.open = false
	s.state = dto.ChatStateIdle
	previewID := s.previewID
	s.preview = nil
	s.previewID = ""
	s.mu.Unlock()

	s.blobs.Revoke(previewID)
	s.broadcast()
}

// SendText posts a text message. The message is rendered only once the realtime echo arrives.
func (s *ChatSession) SendText(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	groupID, err := s.boundGroup()
	if err != nil {
		return err
	}

	spanCtx, span := s.tracer.Start(ctx, "chat.send_text", trace.WithAttributes(
		attribute.String("chat.group_id", groupID),
		attribute.String("chat.transport", s.cfg.Transport),
	))
	defer span.End()

	if s.cfg.Transport == chatTransportSocket {
		err = s.sendOverSocket(spanCtx, groupID, text)
	} else {
		err = s.client.SendChatText(spanCtx, groupID, text)
	}
	if err != nil {
		span.RecordError(err)
		s.logger.Warn().Err(err).Str("group_id", groupID).Msg("chat send failed")
		s.setError(msgSendFailed)
		return err
	}
	return nil
}

func (s *ChatSession) sendOverSocket(ctx context.Context, groupID, text string) error {
	user, ok := s.identity.User()
	if !ok {
		return ErrNotAuthenticated
	}
	if err := s.conn.EnsureConnected(ctx); err != nil {
		return err
	}
	from := realtime.Sender{ID: string(user.ID), Name: user.Name, Email: user.Email}
	payload := map[string]string{"kind": apiclient.MessageKindText, "text": text}
	_, err := s.conn.Send(ctx, realtime.RoomGroup, groupID, from, payload)
	return err
}

// Upload attaches a file. Disallowed extensions are refused before any network call.
func (s *ChatSession) Upload(ctx context.Context, name string, content []byte) error {
	if !AttachmentAllowed(name) {
		observability.ChatUploadsRejected().WithLabelValues("extension").Inc()
		s.logger.Warn().Str("file", name).Msg("attachment type rejected")
		s.setError(msgFileTypeRejected)
		return ErrFileTypeNotAllowed
	}
	if len(content) == 0 {
		observability.ChatUploadsRejected().WithLabelValues("empty").Inc()
		return ErrEmptyAttachment
	}
	if s.cfg.MaxUploadBytes > 0 && int64(len(content)) > s.cfg.MaxUploadBytes {
		observability.ChatUploadsRejected().WithLabelValues("size").Inc()
		return ErrAttachmentTooLarge
	}
	groupID, err := s.boundGroup()
	if err != nil {
		return err
	}

	spanCtx, span := s.tracer.Start(ctx, "chat.upload", trace.WithAttributes(
		attribute.String("chat.group_id", groupID),
		attribute.Int("chat.file_size", len(content)),
	))
	defer span.End()

	upload := apiclient.FileUpload{
		Name:        filepath.Base(strings.TrimSpace(name)),
		ContentType: mimetype.Detect(content).String(),
		Content:     content,
	}
	if err := s.client.UploadChatFile(spanCtx, groupID, upload); err != nil {
		span.RecordError(err)
		s.logger.Warn().Err(err).Str("group_id", groupID).Msg("chat upload failed")
		s.setError(msgUploadFailed)
		return err
	}
	return nil
}

// LoadOlder prepends the page of history preceding the oldest rendered message.
func (s *ChatSession) LoadOlder(ctx context.Context) (int, error) {
	s.mu.Lock()
	groupID := s.groupID
	gen := s.generation
	var oldest time.Time
	if len(s.messages) > 0 {
		oldest = s.messages[0].At
	}
	s.mu.Unlock()

	if groupID == "" {
		return 0, ErrNoGroupBound
	}
	if oldest.IsZero() {
		return 0, nil
	}

	older, err := s.client.ChatHistory(ctx, groupID, oldest)
	if err != nil {
		s.logger.Warn().Err(err).Str("group_id", groupID).Msg("loading older chat history failed")
		s.setError(msgHistoryUnavailable)
		return 0, err
	}

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return 0, nil
	}
	page := make([]apiclient.ChatMessage, 0, len(older))
	for _, msg := range older {
		if s.markSeenLocked(msg) {
			page = append(page, msg)
		}
	}
	s.messages = append(page, s.messages...)
	s.mu.Unlock()

	s.broadcast()
	return len(page), nil
}

// OpenPreview downloads an attachment with the session token and exposes it as a blob.
func (s *ChatSession) OpenPreview(ctx context.Context, req dto.PreviewRequest) (dto.PreviewResponse, error) {
	data, contentType, err := s.client.Fetch(ctx, req.URL, s.cfg.PreviewMaxBytes)
	if err != nil {
		s.logger.Warn().Err(err).Str("file", req.Name).Msg("preview download failed")
		s.setError(msgPreviewFailed)
		return dto.PreviewResponse{}, err
	}

	detected := mimetype.Detect(data)
	mime := strings.TrimSpace(req.Mime)
	if mime == "" {
		mime = detected.String()
	}
	if mime == "" {
		mime = contentType
	}
	inline := detected.Is("application/pdf") || strings.EqualFold(filepath.Ext(req.Name), ".pdf")

	size := req.Size
	if size <= 0 {
		size = int64(len(data))
	}

	blob := s.blobs.Put(req.Name, mime, data)
	view := dto.PreviewResponse{
		BlobURL: blob.URL(),
		Name:    req.Name,
		Mime:    mime,
		Size:    size,
		Inline:  inline,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.blobs.Revoke(blob.ID)
		return dto.PreviewResponse{}, ErrChatSessionClosed
	}
	replaced := s.previewID
	s.preview = &view
	s.previewID = blob.ID
	s.mu.Unlock()

	s.blobs.Revoke(replaced)
	s.broadcast()
	return view, nil
}

// ClosePreview frees the active preview.
func (s *ChatSession) ClosePreview() {
	s.mu.Lock()
	previewID := s.previewID
	s.preview = nil
	s.previewID = ""
	s.mu.Unlock()

	s.blobs.Revoke(previewID)
	s.broadcast()
}

// Snapshot returns a copy of the rendered state.
func (s *ChatSession) Snapshot() dto.ChatSessionResponse {
	s.mu.Lock()
	defer s.mu.Unlock()

	messages := make([]apiclient.ChatMessage, len(s.messages))
	copy(messages, s.messages)
	var preview *dto.PreviewResponse
	if s.preview != nil {
		p := *s.preview
		preview = &p
	}
	return dto.ChatSessionResponse{
		ID:          s.id,
		GroupID:     s.groupID,
		State:       s.state,
		Open:        s.open,
		Messages:    messages,
		Unread:      s.unread,
		UnreadLabel: UnreadLabel(s.unread),
		Preview:     preview,
		LastError:   s.lastError,
	}
}

// Subscribe streams snapshots after every state change.
func (s *ChatSession) Subscribe() (<-chan dto.ChatSessionResponse, func()) {
	ch := make(chan dto.ChatSessionResponse, chatSnapshotBuffer)
	s.subsMu.Lock()
	s.subscribers[ch] = struct{}{}
	s.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subsMu.Lock()
			if _, ok := s.subscribers[ch]; ok {
				delete(s.subscribers, ch)
				close(ch)
			}
			s.subsMu.Unlock()
		})
	}
}

// destroy leaves the room and releases every resource held by the session.
func (s *ChatSession) destroy(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	room := s.joinedRoom
	previewID := s.previewID
	s.joinedRoom = ""
	s.preview = nil
	s.previewID = ""
	s.mu.Unlock()

	s.cancel()
	s.blobs.Revoke(previewID)
	if room != "" && s.conn.Connected() {
		_ = s.conn.LeaveRoom(ctx, realtime.RoomGroup, room)
	}

	s.subsMu.Lock()
	for ch := range s.subscribers {
		delete(s.subscribers, ch)
		close(ch)
	}
	s.subsMu.Unlock()
}

func (s *ChatSession) boundGroup() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrChatSessionClosed
	}
	if s.groupID == "" {
		return "", ErrNoGroupBound
	}
	return s.groupID, nil
}

// joinGroupRoom joins groupID at most once per generation; a join already in
// flight for the same generation makes later calls no-ops.
func (s *ChatSession) joinGroupRoom(ctx context.Context, groupID string, gen uint64) {
	s.mu.Lock()
	if s.joiningRoom == groupID && s.joiningGen == gen {
		s.mu.Unlock()
		return
	}
	s.joinSeq++
	seq := s.joinSeq
	s.joiningRoom = groupID
	s.joiningGen = gen
	s.mu.Unlock()

	joined := false
	defer func() {
		s.mu.Lock()
		if s.joinSeq == seq {
			s.joiningRoom = ""
			s.joiningGen = 0
		}
		stale := gen != s.generation || s.closed
		if joined && !stale {
			s.joinedRoom = groupID
		}
		s.mu.Unlock()

		if joined && stale {
			_ = s.conn.LeaveRoom(ctx, realtime.RoomGroup, groupID)
		}
	}()

	if err := s.conn.EnsureConnected(ctx); err != nil {
		s.logger.Warn().Err(err).Str("group_id", groupID).Msg("realtime unavailable, chat will not update live")
		return
	}
	if err := s.conn.JoinRoom(ctx, realtime.RoomGroup, groupID); err != nil {
		return
	}
	joined = true
}

func (s *ChatSession) loadHistory(ctx context.Context, gen uint64) {
	s.mu.Lock()
	groupID := s.groupID
	s.mu.Unlock()

	spanCtx, span := s.tracer.Start(ctx, "chat.load_history", trace.WithAttributes(attribute.String("chat.group_id", groupID)))
	defer span.End()

	history, err := s.client.ChatHistory(spanCtx, groupID, time.Time{})

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation || s.closed {
		return
	}
	s.state = dto.ChatStateReady
	if err != nil {
		span.RecordError(err)
		s.logger.Warn().Err(err).Str("group_id", groupID).Msg("chat history load failed")
		s.lastError = msgHistoryUnavailable
		return
	}

	// Echoes that arrived while loading stay after the history batch.
	live := s.messages
	s.messages = make([]apiclient.ChatMessage, 0, len(history)+len(live))
	s.seen = make(map[string]struct{}, len(history)+len(live))
	for _, msg := range history {
		if s.markSeenLocked(msg) {
			s.messages = append(s.messages, msg)
		}
	}
	for _, msg := range live {
		if s.markSeenLocked(msg) {
			s.messages = append(s.messages, msg)
		}
	}
	s.loaded = true
	observability.ChatMessagesReceived().WithLabelValues("history").Add(float64(len(history)))
}

func (s *ChatSession) markRead(ctx context.Context, gen uint64) {
	s.mu.Lock()
	groupID := s.groupID
	if gen == s.generation {
		s.unread = 0
	}
	s.mu.Unlock()

	if err := s.client.MarkChatRead(ctx, groupID); err != nil {
		s.logger.Warn().Err(err).Str("group_id", groupID).Msg("mark chat read failed")
	}
}

func (s *ChatSession) seedUnread(ctx context.Context, gen uint64) {
	s.mu.Lock()
	groupID := s.groupID
	s.mu.Unlock()

	count, err := s.client.ChatUnread(ctx, groupID)
	if err != nil {
		s.logger.Warn().Err(err).Str("group_id", groupID).Msg("unread count unavailable")
		return
	}

	s.mu.Lock()
	if gen == s.generation && !s.open && count > s.unread {
		s.unread = clampUnread(count)
	}
	s.mu.Unlock()
}

func (s *ChatSession) handleEvent(evt realtime.Event) {
	switch evt.Name {
	case realtime.EventGroupMessage:
		s.receive(evt.Data)
	case realtime.EventDisconnect:
		s.mu.Lock()
		s.joinedRoom = ""
		s.joiningRoom = ""
		s.mu.Unlock()
	case realtime.EventConnect:
		s.mu.Lock()
		groupID := s.groupID
		gen := s.generation
		joined := s.joinedRoom == groupID || s.joiningRoom == groupID
		s.mu.Unlock()
		if groupID != "" && !joined {
			s.joinGroupRoom(s.ctx, groupID, gen)
		}
	}
}

func (s *ChatSession) receive(data json.RawMessage) {
	var inbound inboundChatMessage
	if err := json.Unmarshal(data, &inbound); err != nil {
		s.logger.Warn().Err(err).Msg("dropping malformed chat message")
		return
	}
	msg := inbound.ChatMessage
	if msg.GroupID == "" {
		msg.GroupID = inbound.GroupIDSnake
	}
	if msg.Kind == "" {
		msg.Kind = apiclient.MessageKindText
		if msg.File != nil {
			msg.Kind = apiclient.MessageKindFile
		}
	}

	self, _ := s.identity.User()

	s.mu.Lock()
	if s.closed || s.groupID == "" || string(msg.GroupID) != s.groupID {
		s.mu.Unlock()
		return
	}
	if !s.markSeenLocked(msg) {
		s.mu.Unlock()
		return
	}
	s.messages = append(s.messages, msg)
	if !s.open && (self.ID == "" || msg.From.ID != self.ID) {
		s.unread = clampUnread(s.unread + 1)
	}
	s.mu.Unlock()

	observability.ChatMessagesReceived().WithLabelValues("realtime").Inc()
	s.broadcast()
}

// markSeenLocked records msg in the seen-set and reports whether it was new.
func (s *ChatSession) markSeenLocked(msg apiclient.ChatMessage) bool {
	if msg.ID == "" {
		return true
	}
	key := string(msg.ID)
	if _, ok := s.seen[key]; ok {
		return false
	}
	s.seen[key] = struct{}{}
	return true
}

func (s *ChatSession) setError(message string) {
	s.mu.Lock()
	s.lastError = message
	s.mu.Unlock()
	s.broadcast()
}

func (s *ChatSession) broadcast() {
	snapshot := s.Snapshot()
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()
	for ch := range s.subscribers {
		select {
		case ch <- snapshot:
		default:
		}
	}
}

func clampUnread(count int) int {
	if count > unreadCap {
		return unreadCap
	}
	if count < 0 {
		return 0
	}
	return count
}
