package http

import (
	"fmt"
	"net/http"

	"cashbook/internal/core"
)

func (s *Server) handleCreateCashbook(w http.ResponseWriter, r *http.Request, u core.User) {
	var req cashbookRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	cb, err := s.svc.CreateCashbook(r.Context(), u, req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cashbookCreatedResponse{Message: "Cashbook created", Name: cb.Name})
}

func (s *Server) handleGetCashbooks(w http.ResponseWriter, r *http.Request, u core.User) {
	names, err := s.svc.ListCashbooks(r.Context(), u)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cashbooksResponse{Username: u.Username, Cashbooks: names})
}

func (s *Server) handleDeleteCashbook(w http.ResponseWriter, r *http.Request, u core.User) {
	var req cashbookRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	name, err := s.svc.DeleteCashbook(r.Context(), u, req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeMessage(w, fmt.Sprintf("Cashbook '%s' deleted successfully", name))
}

func (s *Server) handleAddEntry(w http.ResponseWriter, r *http.Request, u core.User) {
	var req addEntryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	e, err := s.svc.AddEntry(r.Context(), u, req.input())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entryAddedResponse{Message: "Entry added", Entry: e})
}

func (s *Server) handleGetEntries(w http.ResponseWriter, r *http.Request, u core.User) {
	entries, err := s.svc.ListEntries(r.Context(), u, r.URL.Query().Get("cashbook"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entriesResponse{Entries: entries})
}

func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request, u core.User) {
	err := s.svc.DeleteEntry(r.Context(), u, r.URL.Query().Get("cashbook"), r.PathValue("entry_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeMessage(w, "Entry deleted")
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request, u core.User) {
	sum, err := s.svc.Summary(r.Context(), u, r.PathValue("cashbook"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request, u core.User) {
	export, err := s.svc.Export(r.Context(), u, r.URL.Query().Get("cashbook"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, export)
}
