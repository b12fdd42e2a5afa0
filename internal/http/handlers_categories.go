package http

import (
	"net/http"

	"zerosum/internal/core"
)

type categoryRequest struct {
	Name         string          `json:"name"`
	Color        string          `json:"color"`
	Hex          string          `json:"hex"`
	TargetType   core.TargetType `json:"targetType"`
	TargetAmount int64           `json:"targetAmount"`
	TargetDate   string          `json:"targetDate"`
	// Month and Budgeted set the opening allocation; both optional.
	Month    core.Month `json:"month"`
	Budgeted int64      `json:"budgeted"`
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		s.fail(w, r, "add_category", err)
		return
	}
	month := req.Month
	if month == "" {
		month = core.MonthFromTime(s.now())
	}
	c, err := s.fw.AddCategory(r.Context(), core.CategoryMetadata{
		Name:         sanitizeInput(req.Name),
		Color:        sanitizeInput(req.Color),
		Hex:          sanitizeInput(req.Hex),
		TargetType:   req.TargetType,
		TargetAmount: req.TargetAmount,
		TargetDate:   sanitizeInput(req.TargetDate),
	}, month, req.Budgeted)
	if err != nil {
		s.fail(w, r, "add_category", err)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Body(c).Write(w)
}

func (s *Server) handleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	id, err := PathID(r)
	if err != nil {
		s.fail(w, r, "update_category", err)
		return
	}
	var patch core.CategoryPatch
	if err := DecodeJSON(w, r, &patch); err != nil {
		s.fail(w, r, "update_category", err)
		return
	}
	sanitizePtr(patch.Name)
	sanitizePtr(patch.Color)
	sanitizePtr(patch.Hex)
	sanitizePtr(patch.TargetDate)

	if err := s.fw.UpdateCategory(r.Context(), id, patch); err != nil {
		s.fail(w, r, "update_category", err)
		return
	}
	c, ok := s.fw.View().Snapshot().Categories[id]
	if !ok {
		NotFoundError("category " + id + " not found").Write(w)
		return
	}
	NewJSONResponse().Body(c).Write(w)
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	id, err := PathID(r)
	if err != nil {
		s.fail(w, r, "delete_category", err)
		return
	}
	if err := s.fw.DeleteCategory(r.Context(), id); err != nil {
		s.fail(w, r, "delete_category", err)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}
