package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"go-civitai-companion/internal/batch"
	"go-civitai-companion/internal/models"

	log "github.com/sirupsen/logrus"
)

// RunRequest starts a batch. An empty SelectedCategory is resolved from
// DownloadFilePath. Queue drains the offline queue instead of the pending list.
type RunRequest struct {
	DownloadFilePath string `json:"downloadFilePath"`
	SelectedCategory string `json:"selectedCategory"`
	Method           string `json:"method"`
	DelayMs          int    `json:"delayMs"`
	OfflineQueue     bool   `json:"offlineQueue"`
	Queue            bool   `json:"queue"`
	Wait             bool   `json:"wait"`
}

// SessionState is the orchestrator window as seen over HTTP.
type SessionState struct {
	Running   bool       `json:"running"`
	OriginTab int        `json:"originTab,omitempty"`
	Pending   []string   `json:"pending"`
	LastRun   *RunResult `json:"lastRun,omitempty"`
}

func (s *Server) handleSessionState(w http.ResponseWriter, r *http.Request) {
	s.runMu.Lock()
	state := SessionState{
		Running: s.cancelRun != nil,
		Pending: s.session.Pending.Snapshot(),
		LastRun: s.lastRun,
	}
	s.runMu.Unlock()
	if state.Pending == nil {
		state.Pending = []string{}
	}
	if v, ok, err := s.platform.Storage().Get(batch.OriginTabKey); err == nil && ok {
		state.OriginTab, _ = strconv.Atoi(v)
	}
	sendJSON(w, http.StatusOK, state)
}

func (s *Server) handleSetOrigin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		TabID int `json:"tabId"`
	}
	if err := decodeJSON(r, &in); err != nil || in.TabID <= 0 {
		sendError(w, http.StatusBadRequest, "tabId required")
		return
	}
	if err := s.session.SetOriginTab(in.TabID); err != nil {
		sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSessionCheck checks the given URLs against the database, or asks the
// origin tab for its checked URLs when none are given.
func (s *Server) handleSessionCheck(w http.ResponseWriter, r *http.Request) {
	var in struct {
		URLs []string `json:"urls"`
	}
	if err := decodeJSON(r, &in); err != nil && !errors.Is(err, io.EOF) {
		sendError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}

	if len(in.URLs) == 0 {
		if err := s.session.RequestCheckedURLs(r.Context()); err != nil {
			sendError(w, http.StatusConflict, err.Error())
			return
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	for _, u := range in.URLs {
		s.session.Pending.Add(u)
	}
	saved, err := s.session.CheckURLs(r.Context(), in.URLs)
	if err != nil {
		sendError(w, http.StatusBadGateway, err.Error())
		return
	}
	if saved == nil {
		saved = []string{}
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{"saved": saved, "pending": s.session.Pending.Len()})
}

func (s *Server) handleSessionDisplay(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Display bool `json:"display"`
	}
	if err := decodeJSON(r, &in); err != nil {
		sendError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if err := s.session.DisplayCheckboxes(r.Context(), in.Display); err != nil {
		sendError(w, http.StatusConflict, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleSessionRun starts a batch in the background, or runs it to completion
// when the request asks to wait.
func (s *Server) handleSessionRun(w http.ResponseWriter, r *http.Request) {
	var in RunRequest
	if err := decodeJSON(r, &in); err != nil {
		sendError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	opts := s.runOptions(in)

	s.runMu.Lock()
	if s.cancelRun != nil {
		s.runMu.Unlock()
		sendError(w, http.StatusConflict, batch.ErrBusy.Error())
		return
	}
	ctx, cancel := context.WithCancel(s.baseCtx)
	s.cancelRun = cancel
	s.runMu.Unlock()

	run := func(ctx context.Context) *RunResult {
		defer cancel()
		var (
			summary batch.Summary
			err     error
		)
		if in.Queue {
			summary, err = s.orch.RunQueue(ctx, opts)
		} else {
			summary, err = s.session.Run(ctx, s.orch, opts)
		}
		res := &RunResult{Summary: summary, Queue: in.Queue, Ended: time.Now()}
		if err != nil {
			res.Error = err.Error()
		}
		s.runMu.Lock()
		s.lastRun = res
		s.cancelRun = nil
		s.runMu.Unlock()
		return res
	}

	if in.Wait {
		sendJSON(w, http.StatusOK, run(ctx))
		return
	}

	pending := s.session.Pending.Len()
	go func() {
		res := run(ctx)
		log.WithFields(log.Fields{
			"processed": res.Summary.Processed,
			"failed":    res.Summary.Failed,
			"stopped":   res.Summary.Stopped,
		}).Info("Background batch finished")
	}()
	sendJSON(w, http.StatusAccepted, map[string]interface{}{"started": true, "pending": pending, "queue": in.Queue})
}

func (s *Server) handleSessionCancel(w http.ResponseWriter, r *http.Request) {
	s.runMu.Lock()
	cancel := s.cancelRun
	s.runMu.Unlock()
	if cancel == nil {
		sendError(w, http.StatusConflict, "no batch is running")
		return
	}
	cancel()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) runOptions(in RunRequest) batch.Options {
	opts := batch.Options{
		DownloadFilePath: in.DownloadFilePath,
		SelectedCategory: in.SelectedCategory,
		Method:           in.Method,
		Delay:            time.Duration(in.DelayMs) * time.Millisecond,
	}
	if opts.DownloadFilePath == "" {
		opts.DownloadFilePath = s.cfg.DownloadFilePath
	}
	if opts.Method == "" {
		opts.Method = s.cfg.DownloadMethod
	}
	if opts.Method == "" {
		opts.Method = models.MethodServer
	}
	if in.DelayMs == 0 {
		opts.Delay = time.Duration(s.cfg.BatchDelayMs) * time.Millisecond
	}
	if opts.SelectedCategory == "" && s.resolver != nil {
		opts.SelectedCategory = s.resolver.Resolve(opts.DownloadFilePath)
	}
	if in.OfflineQueue {
		opts.Policy = batch.OfflineQueuePolicy
	}
	return opts
}
