package handler

import (
	"context"
	"io"
	"net/http"

	"payroll-closing-backend/internal/models"
	service "payroll-closing-backend/internal/services/reconciliation"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const maxUploadBytes = 32 << 20

type ingestRequest struct {
	Filename string                `json:"filename"`
	Rows     []service.RecordInput `json:"rows"`
}

// IngestSource loads a source feed sent as JSON rows.
func (h *ReconciliationHandler) IngestSource(c *gin.Context) {
	id, ok := uuidParam(c, "periodId")
	if !ok {
		return
	}
	var payload ingestRequest
	if !h.bind(c, &payload) {
		return
	}
	res, err := h.service.IngestSource(c.Request.Context(), id, models.SourceTag(c.Param("source")), payload.Filename, payload.Rows)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Upload accepts a CSV export of a source, registers the upload and parses
// it in the background.
func (h *ReconciliationHandler) Upload(c *gin.Context) {
	id, ok := uuidParam(c, "periodId")
	if !ok {
		return
	}
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file required"})
		return
	}
	defer file.Close()

	// the multipart file is gone once the request returns
	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read file"})
		return
	}
	if len(data) > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}

	upload, err := h.service.StartUpload(c.Request.Context(), id, models.SourceTag(c.Param("source")), header.Filename)
	if err != nil {
		h.respondError(c, err)
		return
	}

	go h.processCSV(upload.ID, data)

	c.JSON(http.StatusAccepted, gin.H{
		"upload_id": upload.ID.String(),
		"status":    upload.Status,
	})
}

func (h *ReconciliationHandler) processCSV(uploadID uuid.UUID, data []byte) {
	ctx := context.Background()

	rows, err := parseFeed(data, func(count int) {
		h.service.UpdateUploadProgress(uploadID, count)
	})
	if err != nil {
		if failErr := h.service.FailUpload(ctx, uploadID, err); failErr != nil {
			h.logger.WithField("upload_id", uploadID).Warn("failed to mark upload as failed: " + failErr.Error())
		}
		return
	}

	res, err := h.service.CompleteUpload(ctx, uploadID, rows)
	if err != nil {
		if failErr := h.service.FailUpload(ctx, uploadID, err); failErr != nil {
			h.logger.WithField("upload_id", uploadID).Warn("failed to mark upload as failed: " + failErr.Error())
		}
		return
	}
	if len(res.Warnings) > 0 {
		h.logger.WithFields(logrus.Fields{
			"upload_id": uploadID,
			"warnings":  res.Warnings,
		}).Warn("upload completed with warnings")
	}
}

func (h *ReconciliationHandler) GetUploadProgress(c *gin.Context) {
	id, ok := uuidParam(c, "uploadId")
	if !ok {
		return
	}
	p, err := h.service.UploadProgress(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"processed_count": p.ProcessedCount,
		"total":           p.Total,
		"status":          p.Status,
	})
}
