package server

import (
	"net/http"

	"go-civitai-companion/internal/models"
)

func (s *Server) handleListQueue(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ListQueue(r.Context())
	if err != nil {
		sendStoreError(w, err)
		return
	}
	if entries == nil {
		entries = []models.OfflineQueueEntry{}
	}
	sendJSON(w, http.StatusOK, entries)
}

func (s *Server) handleAddQueue(w http.ResponseWriter, r *http.Request) {
	var e models.OfflineQueueEntry
	if err := decodeJSON(r, &e); err != nil {
		sendError(w, http.StatusBadRequest, "invalid queue entry: "+err.Error())
		return
	}
	if err := s.store.AddQueue(r.Context(), e); err != nil {
		sendStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleReplaceQueue(w http.ResponseWriter, r *http.Request) {
	var e models.OfflineQueueEntry
	if err := decodeJSON(r, &e); err != nil {
		sendError(w, http.StatusBadRequest, "invalid queue entry: "+err.Error())
		return
	}
	e.CivitaiModelID = r.PathValue("modelID")
	e.CivitaiVersionID = r.PathValue("versionID")
	if err := s.store.ReplaceQueue(r.Context(), e); err != nil {
		sendStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveQueue(w http.ResponseWriter, r *http.Request) {
	if err := s.store.RemoveQueue(r.Context(), r.PathValue("modelID"), r.PathValue("versionID")); err != nil {
		sendStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListErrors(w http.ResponseWriter, r *http.Request) {
	keys, err := s.store.ListErrors(r.Context())
	if err != nil {
		sendStoreError(w, err)
		return
	}
	if keys == nil {
		keys = []string{}
	}
	sendJSON(w, http.StatusOK, keys)
}

func (s *Server) handleAddError(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Key string `json:"key"`
	}
	if err := decodeJSON(r, &in); err != nil {
		sendError(w, http.StatusBadRequest, "invalid error entry: "+err.Error())
		return
	}
	if err := s.store.AddError(r.Context(), in.Key); err != nil {
		sendStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleRemoveError(w http.ResponseWriter, r *http.Request) {
	if err := s.store.RemoveError(r.Context(), r.PathValue("key")); err != nil {
		sendStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveErrorAndQueue(w http.ResponseWriter, r *http.Request) {
	if err := s.store.RemoveErrorAndQueue(r.Context(), r.PathValue("key")); err != nil {
		sendStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
