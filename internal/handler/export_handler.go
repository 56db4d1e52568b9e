package handler

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sgescolar/sge-api/internal/service"
	"github.com/sgescolar/sge-api/pkg/response"
)

// ExportHandler generates roster and grade exports and serves the stored
// files through signed download links.
type ExportHandler struct {
	exports *service.ExportService
}

// NewExportHandler constructs ExportHandler.
func NewExportHandler(exports *service.ExportService) *ExportHandler {
	return &ExportHandler{exports: exports}
}

// Roster godoc
// @Summary Export section roster
// @Description Generate the roster file and return a signed download link
// @Tags Exports
// @Produce json
// @Param section query string true "Section"
// @Param format query string false "csv or pdf"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /exports/roster [get]
func (h *ExportHandler) Roster(c *gin.Context) {
	format := service.ExportFormat(strings.ToLower(c.DefaultQuery("format", "csv")))
	link, err := h.exports.Roster(c.Request.Context(), c.Query("section"), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, link, nil)
}

// GradeReport godoc
// @Summary Export student grade report
// @Description Generate the grade report file and return a signed download link
// @Tags Exports
// @Produce json
// @Param studentId query string true "Student ID"
// @Param term query string false "Term filter"
// @Param format query string false "csv or pdf"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /exports/grades [get]
func (h *ExportHandler) GradeReport(c *gin.Context) {
	format := service.ExportFormat(strings.ToLower(c.DefaultQuery("format", "csv")))
	link, err := h.exports.GradeReport(c.Request.Context(), c.Query("studentId"), c.Query("term"), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, link, nil)
}

// Download godoc
// @Summary Download a stored export
// @Description Stream the export file referenced by a signed token
// @Tags Exports
// @Produce octet-stream
// @Param token path string true "Signed download token"
// @Success 200 {file} binary
// @Failure 401 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /exports/download/{token} [get]
func (h *ExportHandler) Download(c *gin.Context) {
	file, err := h.exports.Download(c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.FileName))
	c.Data(http.StatusOK, file.ContentType, file.Content)
}
