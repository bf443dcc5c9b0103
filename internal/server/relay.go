package server

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go-civitai-companion/internal/models"
	"go-civitai-companion/internal/relay"

	log "github.com/sirupsen/logrus"
)

const relayKeepAlive = 25 * time.Second

func tabIDFrom(r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("tabID"))
	if err != nil || id <= relay.WindowTab {
		return 0, false
	}
	return id, true
}

// tabFromQuery describes the connecting tab from ?windowId=&windowType=&active=&url=.
func tabFromQuery(id int, r *http.Request) models.Tab {
	q := r.URL.Query()
	tab := models.Tab{ID: id, WindowID: 1, WindowType: q.Get("windowType"), Active: true, URL: q.Get("url")}
	if v, err := strconv.Atoi(q.Get("windowId")); err == nil {
		tab.WindowID = v
	}
	if v, err := strconv.ParseBool(q.Get("active")); err == nil {
		tab.Active = v
	}
	return tab
}

// handleRelayEvents streams the tab's mailbox as server-sent events. The tab
// is known to the platform for as long as the stream is open.
func (s *Server) handleRelayEvents(w http.ResponseWriter, r *http.Request) {
	tabID, ok := tabIDFrom(r)
	if !ok {
		sendError(w, http.StatusBadRequest, "invalid tab id")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		sendError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	s.platform.OpenTab(tabFromQuery(tabID, r))
	ch := s.hub.Register(tabID)
	defer func() {
		s.hub.Unregister(tabID, ch)
		if !s.hub.Has(tabID) {
			s.platform.CloseTab(tabID)
		}
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	logger := log.WithField("tab", tabID)
	logger.Debug("Relay stream opened")
	defer logger.Debug("Relay stream closed")

	keepAlive := time.NewTicker(relayKeepAlive)
	defer keepAlive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := relay.WriteEvent(w, msg); err != nil {
				logger.WithError(err).Debug("Dropping relay event")
				continue
			}
			flusher.Flush()
		}
	}
}

// handleRelayMessage delivers a message from a tab to the orchestrator window.
func (s *Server) handleRelayMessage(w http.ResponseWriter, r *http.Request) {
	tabID, ok := tabIDFrom(r)
	if !ok {
		sendError(w, http.StatusBadRequest, "invalid tab id")
		return
	}
	var msg relay.Message
	if err := decodeJSON(r, &msg); err != nil {
		sendError(w, http.StatusBadRequest, "invalid message: "+err.Error())
		return
	}
	if !relay.KnownAction(msg.Action) {
		sendError(w, http.StatusBadRequest, "unknown action "+strconv.Quote(msg.Action))
		return
	}
	msg.TabID = tabID
	delivered := s.hub.Send(relay.WindowTab, msg)
	sendJSON(w, http.StatusAccepted, map[string]bool{"delivered": delivered})
}

func (s *Server) handleListTabs(w http.ResponseWriter, r *http.Request) {
	tabs := []models.Tab{}
	for _, id := range s.hub.Tabs() {
		if t, ok := s.platform.Tab(id); ok {
			tabs = append(tabs, t)
		}
	}
	sendJSON(w, http.StatusOK, tabs)
}

// handleUpdateTab records tab state changes such as activation.
func (s *Server) handleUpdateTab(w http.ResponseWriter, r *http.Request) {
	tabID, ok := tabIDFrom(r)
	if !ok {
		sendError(w, http.StatusBadRequest, "invalid tab id")
		return
	}
	var tab models.Tab
	if err := decodeJSON(r, &tab); err != nil {
		sendError(w, http.StatusBadRequest, "invalid tab: "+err.Error())
		return
	}
	tab.ID = tabID
	s.platform.OpenTab(tab)
	w.WriteHeader(http.StatusNoContent)
}
