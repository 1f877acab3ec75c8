package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (*gin.Engine, *Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	mgr, _, _ := newTestManager(t)
	router := gin.New()
	NewHandler(mgr).Register(router)
	return router, mgr
}

func doJSON(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doJSON(router, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateMissionEndpointReturns201(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doJSON(router, http.MethodPost, "/missions", CreateMissionRequest{
		Objective: "scan example.com",
		Targets:   []string{"example.com"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body["mission_id"])
}

func TestCreateMissionEndpointRejectsMissingObjective(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doJSON(router, http.MethodPost, "/missions", CreateMissionRequest{Targets: []string{"x"}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetMissionEndpointReturns404WhenMissing(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doJSON(router, http.MethodGet, "/missions/does-not-exist", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetMissionEndpointReturnsCreatedMission(t *testing.T) {
	router, _ := newTestRouter(t)
	createRec := doJSON(router, http.MethodPost, "/missions", CreateMissionRequest{
		Objective: "scan example.com",
		Targets:   []string{"example.com"},
	})
	var created map[string]any
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))
	missionID := created["mission_id"].(string)

	rec := doJSON(router, http.MethodGet, "/missions/"+missionID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCancelEndpointAccepts(t *testing.T) {
	router, _ := newTestRouter(t)
	createRec := doJSON(router, http.MethodPost, "/missions", CreateMissionRequest{
		Objective: "scan example.com",
		Targets:   []string{"example.com"},
	})
	var created map[string]any
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))
	missionID := created["mission_id"].(string)

	rec := doJSON(router, http.MethodPost, "/missions/"+missionID+"/cancel", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
}

func TestSignalEndpointRejectsUnknownSignalName(t *testing.T) {
	router, _ := newTestRouter(t)
	createRec := doJSON(router, http.MethodPost, "/missions", CreateMissionRequest{
		Objective: "scan example.com",
		Targets:   []string{"example.com"},
	})
	var created map[string]any
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))
	missionID := created["mission_id"].(string)

	rec := doJSON(router, http.MethodPost, "/missions/"+missionID+"/signal", SignalRequest{SignalName: "nonsense"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteEndpointReturnsNoContent(t *testing.T) {
	router, _ := newTestRouter(t)
	createRec := doJSON(router, http.MethodPost, "/missions", CreateMissionRequest{
		Objective: "scan example.com",
		Targets:   []string{"example.com"},
	})
	var created map[string]any
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))
	missionID := created["mission_id"].(string)

	rec := doJSON(router, http.MethodDelete, "/missions/"+missionID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
}
