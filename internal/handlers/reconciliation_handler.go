package handler

import (
	"errors"
	"net/http"
	"strconv"

	"payroll-closing-backend/internal/apperr"
	"payroll-closing-backend/internal/config"
	"payroll-closing-backend/internal/models"
	"payroll-closing-backend/internal/services/comparison"
	service "payroll-closing-backend/internal/services/reconciliation"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const moduleName = "handler"

type ReconciliationHandler struct {
	service *service.ReconciliationService
	logger  *logrus.Logger
}

func NewReconciliationHandler(s *service.ReconciliationService, logger *logrus.Logger) *ReconciliationHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &ReconciliationHandler{service: s, logger: logger}
}

type createPeriodRequest struct {
	ClientID  string `json:"client_id" binding:"required"`
	PeriodKey string `json:"period_key" binding:"required,datetime=2006-01"`
}

type advanceRequest struct {
	Status models.ClosingStatus `json:"status" binding:"required"`
}

type comparisonRequest struct {
	SourceA models.SourceTag   `json:"source_a" binding:"required"`
	SourceB models.SourceTag   `json:"source_b" binding:"required"`
	Policy  *comparison.Policy `json:"policy"`
}

type varianceRequest struct {
	ThresholdPct      *decimal.Decimal `json:"threshold_pct"`
	IncludeIndividual bool             `json:"include_individual"`
}

type resolutionRequest struct {
	ActorID   string                `json:"actor_id" binding:"required"`
	ActorName string                `json:"actor_name"`
	Kind      models.ResolutionKind `json:"kind" binding:"required,oneof=justification correction approval rejection"`
	Comment   string                `json:"comment"`
}

type classificationRequest struct {
	ConceptName string `json:"concept_name" binding:"required"`
	Category    string `json:"category" binding:"required"`
}

func (h *ReconciliationHandler) CreatePeriod(c *gin.Context) {
	var payload createPeriodRequest
	if !h.bind(c, &payload) {
		return
	}
	p, err := h.service.CreatePeriod(c.Request.Context(), payload.ClientID, payload.PeriodKey)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "period created", "period": p})
}

func (h *ReconciliationHandler) GetPeriod(c *gin.Context) {
	id, ok := uuidParam(c, "periodId")
	if !ok {
		return
	}
	p, err := h.service.GetPeriod(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *ReconciliationHandler) GetClosingStatus(c *gin.Context) {
	id, ok := uuidParam(c, "periodId")
	if !ok {
		return
	}
	status, err := h.service.GetClosingStatus(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *ReconciliationHandler) AdvancePeriod(c *gin.Context) {
	id, ok := uuidParam(c, "periodId")
	if !ok {
		return
	}
	var payload advanceRequest
	if !h.bind(c, &payload) {
		return
	}
	status, err := h.service.AdvancePeriod(c.Request.Context(), id, payload.Status)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *ReconciliationHandler) RunComparison(c *gin.Context) {
	id, ok := uuidParam(c, "periodId")
	if !ok {
		return
	}
	var payload comparisonRequest
	if !h.bind(c, &payload) {
		return
	}
	res, err := h.service.RunStructuralComparison(c.Request.Context(), id, payload.SourceA, payload.SourceB, payload.Policy)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *ReconciliationHandler) ListDiscrepancies(c *gin.Context) {
	id, ok := uuidParam(c, "periodId")
	if !ok {
		return
	}
	items, err := h.service.ListDiscrepancies(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total": len(items)})
}

func (h *ReconciliationHandler) RunVariance(c *gin.Context) {
	id, ok := uuidParam(c, "periodId")
	if !ok {
		return
	}
	var payload varianceRequest
	// an empty body runs with the configured threshold
	if c.Request.ContentLength != 0 && !h.bind(c, &payload) {
		return
	}
	res, err := h.service.RunVarianceReconciliation(c.Request.Context(), id, service.VarianceOptions{
		ThresholdPct:      payload.ThresholdPct,
		IncludeIndividual: payload.IncludeIndividual,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *ReconciliationHandler) ListIncidences(c *gin.Context) {
	id, ok := uuidParam(c, "periodId")
	if !ok {
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	page, err := h.service.ListIncidences(c.Request.Context(), id, service.IncidenceQuery{
		Kind:   models.IncidenceKind(c.Query("kind")),
		Status: models.IncidenceStatus(c.Query("status")),
		Cursor: c.Query("cursor"),
		Limit:  limit,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *ReconciliationHandler) GetSummary(c *gin.Context) {
	id, ok := uuidParam(c, "periodId")
	if !ok {
		return
	}
	sum, err := h.service.GetSummary(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (h *ReconciliationHandler) Compliance(c *gin.Context) {
	id, ok := uuidParam(c, "periodId")
	if !ok {
		return
	}
	procedures := c.QueryArray("procedure")
	if len(procedures) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at least one procedure is required"})
		return
	}
	done, err := h.service.Compliance(c.Request.Context(), id, c.Query("actor_id"), procedures)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"actor_id": c.Query("actor_id"), "procedures": done})
}

func (h *ReconciliationHandler) AddResolution(c *gin.Context) {
	id, ok := uuidParam(c, "incidenceId")
	if !ok {
		return
	}
	var payload resolutionRequest
	if !h.bind(c, &payload) {
		return
	}
	actor := models.Actor{ID: payload.ActorID, Name: payload.ActorName}
	r, err := h.service.AddResolution(c.Request.Context(), id, actor, payload.Kind, payload.Comment)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "resolution recorded", "resolution": r})
}

func (h *ReconciliationHandler) ListResolutions(c *gin.Context) {
	id, ok := uuidParam(c, "incidenceId")
	if !ok {
		return
	}
	items, err := h.service.ListResolutions(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *ReconciliationHandler) UpsertClassification(c *gin.Context) {
	var payload classificationRequest
	if !h.bind(c, &payload) {
		return
	}
	cls, err := h.service.UpsertClassification(c.Request.Context(), c.Param("clientId"), payload.ConceptName, payload.Category)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cls)
}

func (h *ReconciliationHandler) ListClassifications(c *gin.Context) {
	items, err := h.service.ListClassifications(c.Request.Context(), c.Param("clientId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// bind decodes the JSON body into payload and answers 400 when it is
// malformed or fails its binding rules.
func (h *ReconciliationHandler) bind(c *gin.Context, payload any) bool {
	err := c.ShouldBindJSON(payload)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]gin.H, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, gin.H{"field": fe.Field(), "rule": fe.Tag()})
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload", "fields": fields})
		return false
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
	return false
}

func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

var statusByCode = map[apperr.Code]int{
	apperr.CodeValidation:   http.StatusBadRequest,
	apperr.CodeNotFound:     http.StatusNotFound,
	apperr.CodePrecondition: http.StatusUnprocessableEntity,
	apperr.CodeConcurrency:  http.StatusConflict,
}

// respondError writes err with the HTTP status of its code. Untyped errors
// are logged and reported as 500 without detail.
func (h *ReconciliationHandler) respondError(c *gin.Context, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		config.LogError(h.logger, moduleName, "respondError", c.Request.Method+" "+c.FullPath(), nil, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	body := gin.H{"error": appErr.Message, "code": appErr.Code}
	if appErr.Reason != "" {
		body["reason"] = appErr.Reason
	}
	if appErr.Key != "" {
		body["key"] = appErr.Key
	}
	if appErr.PeriodID != "" {
		body["period_id"] = appErr.PeriodID
	}
	c.JSON(statusByCode[appErr.Code], body)
}
