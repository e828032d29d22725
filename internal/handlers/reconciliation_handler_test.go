package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"payroll-closing-backend/internal/apperr"
	"payroll-closing-backend/internal/lock"
	"payroll-closing-backend/internal/repository/memory"
	service "payroll-closing-backend/internal/services/reconciliation"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger, _ := test.NewNullLogger()
	svc := service.NewReconciliationService(memory.New(), lock.Noop{}, logger, service.DefaultSettings())
	clock := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	})
	h := NewReconciliationHandler(svc, logger)

	r := gin.New()
	api := r.Group("/api")
	api.POST("/periods", h.CreatePeriod)
	api.GET("/periods/:periodId", h.GetPeriod)
	api.GET("/periods/:periodId/status", h.GetClosingStatus)
	api.POST("/periods/:periodId/advance", h.AdvancePeriod)
	api.POST("/periods/:periodId/sources/:source", h.IngestSource)
	api.POST("/periods/:periodId/sources/:source/upload", h.Upload)
	api.GET("/uploads/:uploadId", h.GetUploadProgress)
	api.POST("/periods/:periodId/comparisons", h.RunComparison)
	api.POST("/periods/:periodId/variance", h.RunVariance)
	api.GET("/periods/:periodId/incidences", h.ListIncidences)
	api.GET("/periods/:periodId/summary", h.GetSummary)
	api.PUT("/clients/:clientId/classifications", h.UpsertClassification)
	api.GET("/clients/:clientId/classifications", h.ListClassifications)
	return r
}

func do(t *testing.T, r http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	out := map[string]any{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w, out
}

func createPeriod(t *testing.T, r http.Handler, key string) string {
	t.Helper()
	w, body := do(t, r, http.MethodPost, "/api/periods", gin.H{"client_id": "acme", "period_key": key})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return body["period"].(map[string]any)["id"].(string)
}

func TestCreatePeriod(t *testing.T) {
	r := newRouter(t)
	createPeriod(t, r, "2024-05")

	w, body := do(t, r, http.MethodPost, "/api/periods", gin.H{"client_id": "acme", "period_key": "2024-05"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION", body["code"])

	w, body = do(t, r, http.MethodPost, "/api/periods", gin.H{"client_id": "acme", "period_key": "mayo"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid payload", body["error"])
	assert.NotEmpty(t, body["fields"])
}

func TestGetPeriod_Errors(t *testing.T) {
	r := newRouter(t)

	w, _ := do(t, r, http.MethodGet, "/api/periods/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body := do(t, r, http.MethodGet, "/api/periods/7d4f3a34-6a35-4e36-9b55-6b8e5f9d2a11", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", body["code"])
}

func TestPeriodFlow(t *testing.T) {
	r := newRouter(t)
	id := createPeriod(t, r, "2024-05")

	rows := gin.H{"rows": []gin.H{{
		"identifier":   "12.345.678-9",
		"display_name": "Juan Pérez",
		"fields":       gin.H{"Overtime": 180},
	}}}

	w, _ := do(t, r, http.MethodPost, "/api/periods/"+id+"/comparisons", gin.H{"source_a": "libro_remuneraciones", "source_b": "novedades"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w, body := do(t, r, http.MethodPost, "/api/periods/"+id+"/sources/libro_remuneraciones", rows)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "in_progress", body["status"])
	w, body = do(t, r, http.MethodPost, "/api/periods/"+id+"/sources/novedades", rows)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "files_complete", body["status"])

	w, body = do(t, r, http.MethodPost, "/api/periods/"+id+"/comparisons", gin.H{"source_a": "libro_remuneraciones", "source_b": "novedades"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "data_verification", body["status"])
	assert.Equal(t, "resolved", body["verification_substatus"])

	w, body = do(t, r, http.MethodPost, "/api/periods/"+id+"/advance", gin.H{"status": "finalized"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "INVALID_TRANSITION", body["reason"])

	w, _ = do(t, r, http.MethodPost, "/api/periods/"+id+"/advance", gin.H{"status": "data_consolidated"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, body = do(t, r, http.MethodPost, "/api/periods/"+id+"/variance", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "NO_BASELINE", body["reason"])
	assert.Equal(t, id, body["period_id"])

	w, body = do(t, r, http.MethodGet, "/api/periods/"+id+"/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "data_consolidated", body["status"])
	assert.EqualValues(t, 2, body["data_version"])

	w, body = do(t, r, http.MethodGet, "/api/periods/"+id+"/incidences?limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["has_more"])

	w, _ = do(t, r, http.MethodGet, "/api/periods/"+id+"/incidences?limit=x", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = do(t, r, http.MethodGet, "/api/periods/"+id+"/summary", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, body["total_incidences"])
}

func TestUpload_ProcessesInBackground(t *testing.T) {
	r := newRouter(t)
	id := createPeriod(t, r, "2024-05")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "libro.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte("rut,nombre,concepto,monto\n12.345.678-9,Juan Pérez,Overtime,180\nTotal,,Overtime,180\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/periods/"+id+"/sources/libro_remuneraciones/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var accepted map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &accepted))
	uploadID := accepted["upload_id"].(string)

	require.Eventually(t, func() bool {
		_, body := do(t, r, http.MethodGet, "/api/uploads/"+uploadID, nil)
		return body["status"] == "completed"
	}, 2*time.Second, 10*time.Millisecond)

	_, body := do(t, r, http.MethodGet, "/api/periods/"+id+"/status", nil)
	assert.Equal(t, "in_progress", body["status"])
	assert.EqualValues(t, 1, body["data_version"])

	w, _ = do(t, r, http.MethodPost, "/api/periods/"+id+"/sources/planilla/upload", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestClassifications(t *testing.T) {
	r := newRouter(t)

	w, body := do(t, r, http.MethodPut, "/api/clients/acme/classifications", gin.H{"concept_name": "Horas Extra", "category": "Haberes"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "haberes", body["category"])

	w, body = do(t, r, http.MethodGet, "/api/clients/acme/classifications", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["items"], 1)

	w, _ = do(t, r, http.MethodPut, "/api/clients/acme/classifications", gin.H{"concept_name": "Horas Extra"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRespondError_StatusCodes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger, hook := test.NewNullLogger()
	h := NewReconciliationHandler(nil, logger)

	cases := []struct {
		err  error
		want int
	}{
		{apperr.Validation("threshold_pct", "bad"), http.StatusBadRequest},
		{apperr.NotFound("incidence", "x"), http.StatusNotFound},
		{apperr.Precondition("NO_BASELINE", "none"), http.StatusUnprocessableEntity},
		{apperr.Concurrency("lock:closing-period:x", errors.New("busy")), http.StatusConflict},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		h.respondError(c, tc.err)
		assert.Equal(t, tc.want, w.Code, tc.err.Error())
	}

	require.Len(t, hook.Entries, 1)
	assert.Equal(t, "connection reset", hook.LastEntry().Message)
}
