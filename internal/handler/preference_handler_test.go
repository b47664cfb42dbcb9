package handler_test

import (
	"net/http"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/studyhub-companion/internal/database"
	"github.com/noah-isme/studyhub-companion/internal/dto"
	"github.com/noah-isme/studyhub-companion/internal/handler"
	"github.com/noah-isme/studyhub-companion/internal/models"
	"github.com/noah-isme/studyhub-companion/internal/repository"
	"github.com/noah-isme/studyhub-companion/internal/service"
)

func newPreferenceApp(t *testing.T) *fiber.App {
	t.Helper()
	db, err := database.ConnectSQLite("file::memory:")
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.DevicePreference{}))

	svc := service.NewPreferenceService(repository.NewPreferenceRepository(db), validator.New(), nopLogger())
	app := newTestApp(&fixedIdentity{userID: "1"})
	handler.NewPreferenceHandler(svc, nopLogger()).Register(app.Group("/api/preferences"))
	return app
}

func TestPreferenceHandler_NotesRoundTrip(t *testing.T) {
	app := newPreferenceApp(t)

	resp, body := doJSON(t, app, http.MethodGet, "/api/preferences/g1/notes", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"group_id":"g1","kind":"notes","value":""}`, string(body.Data))

	resp, _ = doJSON(t, app, http.MethodPut, "/api/preferences/g1/notes", dto.NotesRequest{Text: "bring calculators"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, body = doJSON(t, app, http.MethodGet, "/api/preferences/g1/notes", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Contains(t, string(body.Data), `"value":"bring calculators"`)

	_, body = doJSON(t, app, http.MethodGet, "/api/preferences/g2/notes", nil)
	require.Contains(t, string(body.Data), `"value":""`)
}

func TestPreferenceHandler_ChecklistValidation(t *testing.T) {
	app := newPreferenceApp(t)

	resp, body := doJSON(t, app, http.MethodPut, "/api/preferences/g1/checklist", dto.ChecklistRequest{
		Items: []dto.ChecklistItem{{Text: ""}},
	})
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "validation failed", body.Message)

	resp, _ = doJSON(t, app, http.MethodPut, "/api/preferences/g1/checklist", dto.ChecklistRequest{
		Items: []dto.ChecklistItem{{Text: "  read chapter 3 ", Done: true}},
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	_, body = doJSON(t, app, http.MethodGet, "/api/preferences/g1/checklist", nil)
	require.Contains(t, string(body.Data), `"value":[{"text":"read chapter 3","done":true}]`)
}
