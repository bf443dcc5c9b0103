package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"go-civitai-companion/index"
	"go-civitai-companion/internal/models"

	log "github.com/sirupsen/logrus"
)

const defaultSearchSize = 50

type urlBody struct {
	URL string `json:"url"`
}

// saveRecord stores rec and indexes it. Index failures only log.
func (s *Server) saveRecord(ctx context.Context, rec models.ModelRecord) (models.ModelRecord, error) {
	saved, err := s.store.AddRecord(ctx, rec)
	if err != nil {
		return models.ModelRecord{}, err
	}
	s.indexRecord(saved)
	return saved, nil
}

func (s *Server) indexRecord(rec models.ModelRecord) {
	if s.index == nil {
		return
	}
	if err := index.IndexItem(s.index, index.ItemFromRecord(rec)); err != nil {
		log.WithError(err).Warnf("Failed to index record %s/%s", rec.CivitaiModelID, rec.CivitaiVersionID)
	}
}

// Reindex indexes every stored record again, for example into a freshly
// created index.
func (s *Server) Reindex(ctx context.Context) (int, error) {
	if s.index == nil {
		return 0, nil
	}
	recs, err := s.store.FindRecords(ctx, "")
	if err != nil {
		return 0, err
	}
	b := s.index.NewBatch()
	for _, rec := range recs {
		item := index.ItemFromRecord(rec)
		if err := b.Index(item.ID, item); err != nil {
			return 0, fmt.Errorf("indexing %s: %w", item.ID, err)
		}
	}
	if err := s.index.Batch(b); err != nil {
		return 0, fmt.Errorf("writing index batch: %w", err)
	}
	return len(recs), nil
}

func (s *Server) handleAddRecord(w http.ResponseWriter, r *http.Request) {
	var rec models.ModelRecord
	if err := decodeJSON(r, &rec); err != nil {
		sendError(w, http.StatusBadRequest, "invalid record: "+err.Error())
		return
	}
	saved, err := s.saveRecord(r.Context(), rec)
	if err != nil {
		sendStoreError(w, err)
		return
	}
	sendJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleUpdateRecord(w http.ResponseWriter, r *http.Request) {
	var rec models.ModelRecord
	if err := decodeJSON(r, &rec); err != nil {
		sendError(w, http.StatusBadRequest, "invalid record: "+err.Error())
		return
	}
	rec.CivitaiModelID = r.PathValue("modelID")
	rec.CivitaiVersionID = r.PathValue("versionID")

	updated, err := s.store.UpdateRecord(r.Context(), rec)
	if err != nil {
		sendStoreError(w, err)
		return
	}
	s.indexRecord(updated)
	sendJSON(w, http.StatusOK, updated)
}

func (s *Server) handleRemoveRecord(w http.ResponseWriter, r *http.Request) {
	modelID, versionID := r.PathValue("modelID"), r.PathValue("versionID")
	if err := s.store.RemoveRecord(r.Context(), modelID, versionID); err != nil {
		sendStoreError(w, err)
		return
	}
	if s.index != nil {
		if err := index.RemoveItem(s.index, modelID, versionID); err != nil {
			log.WithError(err).Warnf("Failed to remove %s/%s from the index", modelID, versionID)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFindRecords(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.FindRecords(r.Context(), r.URL.Query().Get("modelId"))
	if err != nil {
		sendStoreError(w, err)
		return
	}
	if recs == nil {
		recs = []models.ModelRecord{}
	}
	sendJSON(w, http.StatusOK, recs)
}

// handleSearchRecords runs a Bleve query string search and returns the
// matching records in score order.
func (s *Server) handleSearchRecords(w http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		sendError(w, http.StatusServiceUnavailable, "search index not configured")
		return
	}
	size := defaultSearchSize
	if v := r.URL.Query().Get("size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			size = n
		}
	}

	result, err := index.SearchIndex(s.index, r.URL.Query().Get("q"), size)
	if err != nil {
		sendError(w, http.StatusBadRequest, "search failed: "+err.Error())
		return
	}

	recs := make([]models.ModelRecord, 0, len(result.Hits))
	for _, ids := range index.HitIDs(result) {
		rec, err := s.store.GetRecord(r.Context(), ids[0], ids[1])
		if err != nil {
			log.WithError(err).Debugf("Index hit %s/%s has no record", ids[0], ids[1])
			continue
		}
		recs = append(recs, rec)
	}
	sendJSON(w, http.StatusOK, recs)
}

func (s *Server) handleCheckURL(w http.ResponseWriter, r *http.Request) {
	var in urlBody
	if err := decodeJSON(r, &in); err != nil || in.URL == "" {
		sendError(w, http.StatusBadRequest, "url required")
		return
	}
	saved, err := s.store.CheckURL(r.Context(), in.URL)
	if err != nil {
		sendStoreError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{"url": in.URL, "saved": saved})
}

func (s *Server) handleCart(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		sendError(w, http.StatusBadRequest, "url required")
		return
	}
	inCart, err := s.store.InQueue(r.Context(), rawURL)
	if err != nil {
		sendStoreError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{"url": rawURL, "inCart": inCart})
}

func (s *Server) handleListing(list func(context.Context) ([]string, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		values, err := list(r.Context())
		if err != nil {
			sendStoreError(w, err)
			return
		}
		if values == nil {
			values = []string{}
		}
		sendJSON(w, http.StatusOK, values)
	}
}

// handleResolve reports the category the resolver infers for a download path.
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	category := ""
	if s.resolver != nil {
		category = s.resolver.Resolve(path)
	}
	sendJSON(w, http.StatusOK, map[string]string{"path": path, "category": category})
}
