package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/studyhub-companion/internal/dto"
	"github.com/noah-isme/studyhub-companion/internal/handler"
	"github.com/noah-isme/studyhub-companion/internal/observability"
	"github.com/noah-isme/studyhub-companion/pkg/apiclient"
)

type mockNotificationService struct {
	items    []dto.Notification
	pushed   []json.RawMessage
	clears   int
	loadErr  error
	refreshs int

	closeStream   bool
	onUnsubscribe func()
}

func (m *mockNotificationService) LoadPersisted(context.Context) error {
	m.refreshs++
	return m.loadErr
}

func (m *mockNotificationService) OnPush(payload json.RawMessage) (dto.Notification, error) {
	m.pushed = append(m.pushed, payload)
	n := dto.Notification{ID: "local-1", Text: "pushed", At: time.Now()}
	m.items = append([]dto.Notification{n}, m.items...)
	return n, nil
}

func (m *mockNotificationService) Clear(context.Context) error {
	m.clears++
	m.items = nil
	return nil
}

func (m *mockNotificationService) UnreadCount() int { return len(m.items) }

func (m *mockNotificationService) Feed() dto.NotificationFeed {
	return dto.NotificationFeed{Items: m.items, Unread: len(m.items)}
}

func (m *mockNotificationService) Subscribe() (<-chan dto.NotificationFeed, func()) {
	ch := make(chan dto.NotificationFeed)
	if m.closeStream {
		close(ch)
	}
	return ch, func() {
		if m.onUnsubscribe != nil {
			m.onUnsubscribe()
		}
	}
}

func (m *mockNotificationService) Reset() { m.items = nil }

func (m *mockNotificationService) Start(context.Context) {}

func (m *mockNotificationService) SessionStarted(context.Context, apiclient.User) {}

func (m *mockNotificationService) SessionEnded(context.Context) {}

func TestNotificationHandler_ListAndClear(t *testing.T) {
	svc := &mockNotificationService{items: []dto.Notification{{ID: "a", Text: `Ana requested to join "CS-502".`}}}
	app := newTestApp(&fixedIdentity{userID: "1"})
	handler.NewNotificationHandler(svc, nopLogger(), time.Second).Register(app.Group("/api/notifications"))

	resp, body := doJSON(t, app, http.MethodGet, "/api/notifications", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, float64(1), body.Meta["unread"])

	var items []dto.Notification
	require.NoError(t, json.Unmarshal(body.Data, &items))
	require.Equal(t, `Ana requested to join "CS-502".`, items[0].Text)

	resp, body = doJSON(t, app, http.MethodPost, "/api/notifications/clear", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, 1, svc.clears)
	require.JSONEq(t, `{"items":null,"unread":0}`, string(body.Data))
}

func TestNotificationHandler_RefreshFailureIsForwarded(t *testing.T) {
	svc := &mockNotificationService{loadErr: &apiclient.APIError{Status: http.StatusUnauthorized, Message: "token expired"}}
	app := newTestApp(&fixedIdentity{userID: "1"})
	handler.NewNotificationHandler(svc, nopLogger(), time.Second).Register(app.Group("/api/notifications"))

	resp, body := doJSON(t, app, http.MethodPost, "/api/notifications/refresh", nil)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "token expired", body.Message)

	svc.loadErr = errors.New("dial tcp: connection refused")
	resp, _ = doJSON(t, app, http.MethodPost, "/api/notifications/refresh", nil)
	require.Equal(t, fiber.StatusBadGateway, resp.StatusCode)
}

func TestNotificationHandler_DebugRequiresAdmin(t *testing.T) {
	svc := &mockNotificationService{}
	app := newTestApp(&fixedIdentity{userID: "1", role: "student"})
	handler.NewNotificationHandler(svc, nopLogger(), time.Second).Register(app.Group("/api/notifications"))

	resp, _ := doJSON(t, app, http.MethodPost, "/api/notifications/debug", map[string]string{"message": "hi"})
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	require.Empty(t, svc.pushed)

	admin := newTestApp(&fixedIdentity{userID: "1", role: "admin"})
	handler.NewNotificationHandler(svc, nopLogger(), time.Second).Register(admin.Group("/api/notifications"))

	resp, _ = doJSON(t, admin, http.MethodPost, "/api/notifications/debug", map[string]string{"message": "hi"})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	require.Len(t, svc.pushed, 1)
	require.JSONEq(t, `{"type":"debug","message":"hi"}`, string(svc.pushed[0]))
}

func TestNotificationHandler_StreamLeavesClientGaugeToService(t *testing.T) {
	gauge := observability.StreamClientsActive().WithLabelValues("notifications")
	baseline := testutil.ToFloat64(gauge)

	var duringStream float64
	svc := &mockNotificationService{
		items:         []dto.Notification{{ID: "a", Text: "hello"}},
		closeStream:   true,
		onUnsubscribe: func() { duringStream = testutil.ToFloat64(gauge) },
	}
	app := newTestApp(&fixedIdentity{userID: "1"})
	handler.NewNotificationHandler(svc, nopLogger(), time.Second).Register(app.Group("/api/notifications"))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/notifications/stream", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	require.Equal(t, "text/event-stream", resp.Header.Get(fiber.HeaderContentType))
	require.Contains(t, string(body), "event: notifications\n")
	require.Contains(t, string(body), `"text":"hello"`)
	require.Equal(t, baseline, duringStream)
	require.Equal(t, baseline, testutil.ToFloat64(gauge))
}

func TestNotificationHandler_RequiresSession(t *testing.T) {
	app := newTestApp(&fixedIdentity{})
	handler.NewNotificationHandler(&mockNotificationService{}, nopLogger(), time.Second).Register(app.Group("/api/notifications"))

	resp, body := doJSON(t, app, http.MethodGet, "/api/notifications", nil)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "login required", body.Message)
}
