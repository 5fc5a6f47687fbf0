package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/phrazzld/resumate-api/internal/api/shared"
	"github.com/phrazzld/resumate-api/internal/domain"
	"github.com/phrazzld/resumate-api/internal/events"
	"github.com/phrazzld/resumate-api/internal/platform/logger"
	"github.com/phrazzld/resumate-api/internal/task"
)

// MaxPDFUploadBytes bounds PDF uploads.
const MaxPDFUploadBytes = 10 << 20

// multipartOverhead leaves room for form fields and part headers.
const multipartOverhead = 64 << 10

// CVHandler serves the endpoints that submit CV background jobs. Each
// request becomes a task request event; the task ID is returned before the
// job runs.
type CVHandler struct {
	emitter events.EventEmitter
	logger  *slog.Logger
}

// NewCVHandler creates a CVHandler.
func NewCVHandler(emitter events.EventEmitter, logger *slog.Logger) *CVHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CVHandler{
		emitter: emitter,
		logger:  logger.With("component", "cv_handler"),
	}
}

// GenerateCV handles POST /api/cvs/generate.
func (h *CVHandler) GenerateCV(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req GenerateCVRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	h.submit(w, r, domain.TaskTypeGeneration, userID, req.DeviceID, task.GenerateCVPayload{
		Profile:        req.Profile,
		JobDescription: req.JobDescription,
		Language:       req.Language,
		Variants:       req.Variants,
	})
}

// CreateTemplates handles POST /api/cvs/templates.
func (h *CVHandler) CreateTemplates(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req TemplateCVRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	h.submit(w, r, domain.TaskTypeTemplateCreation, userID, req.DeviceID, task.TemplateCVPayload{
		Role:      req.Role,
		Seniority: req.Seniority,
		Language:  req.Language,
		Count:     req.Count,
	})
}

// CalculateMatchScore handles POST /api/cvs/{id}/match-score.
func (h *CVHandler) CalculateMatchScore(w http.ResponseWriter, r *http.Request) {
	userID, cvID, ok := handleUserIDAndPathUUID(w, r, "id")
	if !ok {
		return
	}

	var req MatchScoreRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	h.submit(w, r, domain.TaskTypeMatchScore, userID, req.DeviceID, task.MatchScorePayload{
		CVID:           cvID,
		JobDescription: req.JobDescription,
		Automatic:      req.Automatic,
	})
}

// ImportPDF handles POST /api/cvs/import, a multipart form with the PDF
// in the "file" field and the originating device in "device_id".
func (h *CVHandler) ImportPDF(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxPDFUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(MaxPDFUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			shared.RespondWithErrorAndLog(w, r, http.StatusRequestEntityTooLarge, "File too large", err)
			return
		}
		HandleAPIError(w, r, fmt.Errorf("%w: %v", domain.ErrValidation, err), "Invalid multipart form")
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			logger.FromContextOrDefault(r.Context(), h.logger).Warn("failed to remove multipart temp files",
				slog.String("error", err.Error()))
		}
	}()

	form := importForm{DeviceID: r.FormValue("device_id")}
	if err := shared.ValidateRequest(form); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		HandleAPIError(w, r, fmt.Errorf("%w: file: %v", domain.ErrValidation, err), "Invalid file: required field")
		return
	}
	defer func() { _ = file.Close() }()

	if header.Size > MaxPDFUploadBytes {
		shared.RespondWithError(w, r, http.StatusRequestEntityTooLarge, "File too large")
		return
	}
	pdf, err := io.ReadAll(io.LimitReader(file, MaxPDFUploadBytes+1))
	if err != nil {
		HandleAPIError(w, r, err, "Failed to read upload")
		return
	}
	if len(pdf) > MaxPDFUploadBytes {
		shared.RespondWithError(w, r, http.StatusRequestEntityTooLarge, "File too large")
		return
	}

	h.submit(w, r, domain.TaskTypeImport, userID, form.DeviceID, task.ImportPDFPayload{
		Filename: filepath.Base(header.Filename),
		PDF:      pdf,
	})
}

// submit emits the task request event and answers 202 with the task ID.
func (h *CVHandler) submit(
	w http.ResponseWriter,
	r *http.Request,
	taskType string,
	userID uuid.UUID,
	deviceID string,
	payload any,
) {
	event, err := events.NewTaskRequestEvent(taskType, userID, deviceID, payload)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to create task")
		return
	}

	if err := h.emitter.EmitEvent(r.Context(), event); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	logger.FromContextOrDefault(r.Context(), h.logger).Info("task submitted",
		slog.String("task_id", event.ID.String()),
		slog.String("task_type", taskType),
		slog.String("user_id", userID.String()),
		slog.String("device_id", deviceID))

	shared.RespondWithJSON(w, r, http.StatusAccepted, TaskAcceptedResponse{
		TaskID: event.ID,
		Type:   taskType,
		Status: domain.TaskStatusQueued,
	})
}

// decodeAndValidate decodes a JSON body into req and validates it,
// writing a 400 on failure.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, req any) bool {
	if err := shared.DecodeJSON(w, r, req); err != nil {
		HandleAPIError(w, r, fmt.Errorf("%w: %v", domain.ErrValidation, err), "Invalid request format")
		return false
	}
	if err := shared.ValidateRequest(req); err != nil {
		HandleAPIError(w, r, err, "")
		return false
	}
	return true
}
