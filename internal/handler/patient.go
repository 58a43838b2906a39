package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/dental-clinic-admin/internal/chat"
	"github.com/iliyamo/dental-clinic-admin/internal/middleware"
	"github.com/iliyamo/dental-clinic-admin/internal/model"
	"github.com/iliyamo/dental-clinic-admin/internal/repository"
)

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
)

// PatientHandler serves the patient records of the signed-in user.  Every
// :id route goes through the access gate before touching the row.
type PatientHandler struct {
	Patients PatientStore
	Gate     chat.Gate
	Dev      bool
	Log      *zap.Logger
}

func NewPatientHandler(p PatientStore, dev bool, log *zap.Logger) *PatientHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &PatientHandler{Patients: p, Gate: chat.Gate{Patients: p}, Dev: dev, Log: log}
}

type pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// Create handles POST /v1/patients.
func (h *PatientHandler) Create(c echo.Context) error {
	uid, ok := middleware.CurrentUserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body model.NewPatient
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	body.Normalize()
	if err := c.Validate(&body); err != nil {
		return badRequest(c, validationMessage(err))
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()
	p, err := h.Patients.Create(ctx, uid, body)
	if err != nil {
		h.Log.Error("create patient failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not create patient"})
	}
	return c.JSON(http.StatusCreated, p)
}

// List handles GET /v1/patients?page=&limit=, newest first.
func (h *PatientHandler) List(c echo.Context) error {
	uid, ok := middleware.CurrentUserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	page, err := intQuery(c, "page", 1)
	if err != nil || page < 1 {
		return badRequest(c, "page must be a positive integer")
	}
	limit, err := intQuery(c, "limit", defaultPageLimit)
	if err != nil || limit < 1 || limit > maxPageLimit {
		return badRequest(c, "limit must be between 1 and 100")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()
	items, total, err := h.Patients.ListByOwner(ctx, uid, page, limit)
	if err != nil {
		h.Log.Error("list patients failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "db error"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"items": items,
		"pagination": pagination{
			Page:       page,
			Limit:      limit,
			Total:      total,
			TotalPages: (total + limit - 1) / limit,
		},
	})
}

// Get handles GET /v1/patients/:id.
func (h *PatientHandler) Get(c echo.Context) error {
	p, ok, err := h.authorize(c)
	if !ok {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

// Update handles PUT/PATCH /v1/patients/:id with a sparse body: absent
// fields are untouched, null or "" clears an optional field.
func (h *PatientHandler) Update(c echo.Context) error {
	var patch model.PatientPatch
	if err := c.Bind(&patch); err != nil {
		return badRequest(c, "invalid request body")
	}
	patch.Normalize()
	if patch.IsEmpty() {
		return badRequest(c, "no fields to update")
	}
	if patch.ClearsName() {
		return badRequest(c, "name cannot be empty")
	}
	if err := c.Validate(&patch); err != nil {
		return badRequest(c, validationMessage(err))
	}

	p, ok, err := h.authorize(c)
	if !ok {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()
	updated, err := h.Patients.Update(ctx, p.ID, patch)
	if err != nil {
		if errors.Is(err, repository.ErrPatientNotFound) {
			return writeError(c, chat.ErrNotFound, h.Dev)
		}
		h.Log.Error("update patient failed", zap.String("patient_id", p.ID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "update failed"})
	}
	return c.JSON(http.StatusOK, updated)
}

// Delete handles DELETE /v1/patients/:id.  Chat messages go with it.
func (h *PatientHandler) Delete(c echo.Context) error {
	p, ok, err := h.authorize(c)
	if !ok {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()
	if err := h.Patients.Delete(ctx, p.ID); err != nil {
		if errors.Is(err, repository.ErrPatientNotFound) {
			return writeError(c, chat.ErrNotFound, h.Dev)
		}
		h.Log.Error("delete patient failed", zap.String("patient_id", p.ID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "delete failed"})
	}
	return c.NoContent(http.StatusNoContent)
}

// authorize runs the gate for the :id parameter.  When it reports false
// the response is already written and err is the handler's result.
func (h *PatientHandler) authorize(c echo.Context) (model.Patient, bool, error) {
	uid, ok := middleware.CurrentUserID(c)
	if !ok {
		return model.Patient{}, false, c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		return model.Patient{}, false, badRequest(c, "invalid id")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()
	p, err := h.Gate.Check(ctx, id, uid)
	if err != nil {
		if chat.Kind(err) == chat.ErrInternal {
			h.Log.Error("load patient failed", zap.String("patient_id", id), zap.Error(err))
		}
		return model.Patient{}, false, writeError(c, err, h.Dev)
	}
	return p, true, nil
}

func intQuery(c echo.Context, name string, def int) (int, error) {
	s := c.QueryParam(name)
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}
