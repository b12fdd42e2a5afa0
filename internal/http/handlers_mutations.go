package http

import (
	"net/http"

	"zerosum/internal/mutation"
)

// MutationsResponse lists the retry queue.
type MutationsResponse struct {
	Pending     []mutation.PendingMutation `json:"pending"`
	RetryingIDs []string                   `json:"retryingIds"`
}

func (s *Server) handleListMutations(w http.ResponseWriter, r *http.Request) {
	pending, err := s.fw.Pending(r.Context())
	if err != nil {
		s.fail(w, r, "list_mutations", err)
		return
	}
	if pending == nil {
		pending = []mutation.PendingMutation{}
	}
	NewJSONResponse().Body(MutationsResponse{
		Pending:     pending,
		RetryingIDs: s.fw.RetryingIDs(),
	}).Write(w)
}

func (s *Server) handleRetryMutation(w http.ResponseWriter, r *http.Request) {
	id, err := PathID(r)
	if err != nil {
		s.fail(w, r, "retry_mutation", err)
		return
	}
	if err := s.fw.Retry(r.Context(), id); err != nil {
		s.fail(w, r, "retry_mutation", err)
		return
	}
	NewJSONResponse().Body(map[string]any{"id": id, "committed": true}).Write(w)
}

func (s *Server) handleAbandonMutation(w http.ResponseWriter, r *http.Request) {
	id, err := PathID(r)
	if err != nil {
		s.fail(w, r, "abandon_mutation", err)
		return
	}
	if err := s.fw.Abandon(r.Context(), id); err != nil {
		s.fail(w, r, "abandon_mutation", err)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	active := s.fw.Notifier().Active()
	if active == nil {
		active = []mutation.Notification{}
	}
	NewJSONResponse().Body(active).Write(w)
}

func (s *Server) handleDismissNotification(w http.ResponseWriter, r *http.Request) {
	id, err := PathID(r)
	if err != nil {
		s.fail(w, r, "dismiss_notification", err)
		return
	}
	s.fw.Notifier().Dismiss(id)
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}
