package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Chandra1295/multi-modal-rag/internal/app"
	"github.com/Chandra1295/multi-modal-rag/internal/extractor"
	"github.com/Chandra1295/multi-modal-rag/internal/repository"
	"github.com/Chandra1295/multi-modal-rag/internal/transport/http/middleware"
	"github.com/Chandra1295/multi-modal-rag/internal/transport/http/response"
	"github.com/Chandra1295/multi-modal-rag/internal/vectorindex"
)

type AssistantHandler struct {
	service *app.AssistantService
}

func NewAssistantHandler(service *app.AssistantService) *AssistantHandler {
	return &AssistantHandler{service: service}
}

type AskRequest struct {
	Question       string   `json:"question" binding:"required"`
	ResultCount    int      `json:"result_count"`
	SearchStrategy string   `json:"search_strategy"`
	Temperature    *float64 `json:"temperature"`
}

// UploadDocument accepts a multipart form with "file" (PDF) and optional
// retrieval overrides. The acceptance rule runs here before any file I/O and
// again inside extraction.
func (h *AssistantHandler) UploadDocument(c *gin.Context) {
	if !authorized(c, h.service.UserID()) {
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing file")
		return
	}
	if err := extractor.Validate(file.Filename, file.Size); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		return
	}

	f, err := file.Open()
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "failed to read file")
		return
	}
	defer f.Close()

	result, err := h.service.UploadDocument(c.Request.Context(), app.UploadInput{
		FileName:       file.Filename,
		Size:           file.Size,
		Content:        f,
		ResultCount:    parseIntForm(c, "result_count"),
		SearchStrategy: c.PostForm("search_strategy"),
	})
	if err != nil {
		switch {
		case errors.Is(err, extractor.ErrValidation):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrNoContent):
			response.Error(c, http.StatusUnprocessableEntity, response.CodeNoContent, "no extractable content found in PDF")
		case errors.Is(err, extractor.ErrExtraction):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "failed to extract text from PDF")
		case errors.Is(err, vectorindex.ErrConfig):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "document processing failed")
		}
		return
	}

	response.OK(c, result)
}

func (h *AssistantHandler) Ask(c *gin.Context) {
	if !authorized(c, h.service.UserID()) {
		return
	}

	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	result, err := h.service.Ask(c.Request.Context(), app.AskInput{
		Question:       req.Question,
		ResultCount:    req.ResultCount,
		SearchStrategy: req.SearchStrategy,
		Temperature:    req.Temperature,
	})
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "question must not be empty")
		case errors.Is(err, app.ErrNoDocument):
			response.Error(c, http.StatusBadRequest, response.CodeNoDocument, "upload a document before asking questions")
		case errors.Is(err, vectorindex.ErrConfig):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrGeneration):
			response.Error(c, http.StatusBadGateway, response.CodeGeneration, "answer generation failed, please retry")
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "ask failed")
		}
		return
	}

	response.OK(c, result)
}

func (h *AssistantHandler) History(c *gin.Context) {
	if !authorized(c, h.service.UserID()) {
		return
	}

	limit := 20
	if s := c.Query("limit"); s != "" {
		if parsed, err := strconv.Atoi(s); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	records, err := h.service.History(c.Request.Context(), limit)
	if err != nil {
		if errors.Is(err, repository.ErrPersistence) {
			response.Error(c, http.StatusServiceUnavailable, response.CodeInternalServer, "history unavailable")
			return
		}
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "load history failed")
		return
	}

	response.OK(c, records)
}

// authorized checks that the token identity matches this deployment's user.
func authorized(c *gin.Context, userID string) bool {
	got, ok := c.Get(middleware.ContextUserIDKey)
	if !ok || got != userID {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid session identity")
		c.Abort()
		return false
	}
	return true
}

func parseIntForm(c *gin.Context, key string) int {
	s := c.PostForm(key)
	if s == "" {
		return 0
	}
	parsed, _ := strconv.Atoi(s)
	return parsed
}
