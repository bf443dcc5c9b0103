package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"go-civitai-companion/internal/platform"
	"go-civitai-companion/internal/relay"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// OriginTabKey is the storage key caching the tab the window talks to.
const OriginTabKey = "originalTabId"

// URLChecker answers whether a URL is already saved.
type URLChecker interface {
	CheckURLInDatabase(ctx context.Context, rawURL string) (bool, error)
}

// Session is the orchestrator window: it owns the pending list, reacts to
// messages from the origin tab and runs batches over the pending URLs.
type Session struct {
	Platform platform.Platform
	Checker  URLChecker
	Pending  *PendingList

	runMu   sync.Mutex
	running bool
}

// NewSession creates a session with an empty pending list.
func NewSession(p platform.Platform, checker URLChecker) *Session {
	return &Session{
		Platform: p,
		Checker:  checker,
		Pending:  NewPendingList(),
	}
}

// OriginTab returns the cached origin tab, selecting and caching the active
// tab of the first normal window on first use.
func (s *Session) OriginTab(ctx context.Context) (int, error) {
	if v, ok, err := s.Platform.Storage().Get(OriginTabKey); err != nil {
		return 0, fmt.Errorf("reading origin tab: %w", err)
	} else if ok {
		if id, err := strconv.Atoi(v); err == nil && id > 0 {
			return id, nil
		}
	}

	tab, err := s.Platform.ActiveTab(ctx)
	if err != nil {
		return 0, err
	}
	if err := s.Platform.Storage().Set(OriginTabKey, strconv.Itoa(tab.ID)); err != nil {
		return 0, fmt.Errorf("caching origin tab: %w", err)
	}
	log.WithField("tab", tab.ID).Info("Origin tab selected")
	return tab.ID, nil
}

// SetOriginTab pins the origin tab. Switching to a different tab clears the
// pending list, since its URLs belong to the old page.
func (s *Session) SetOriginTab(tabID int) error {
	prev, ok, err := s.Platform.Storage().Get(OriginTabKey)
	if err != nil {
		return err
	}
	if ok && prev != strconv.Itoa(tabID) {
		s.Pending.Reset()
	}
	return s.Platform.Storage().Set(OriginTabKey, strconv.Itoa(tabID))
}

// Handle applies one incoming relay message.
func (s *Session) Handle(ctx context.Context, msg relay.Message) {
	logger := log.WithFields(log.Fields{"action": msg.Action, "tab": msg.TabID})
	switch msg.Action {
	case relay.ActionAddURL:
		if s.Pending.Add(msg.URL) {
			logger.Debugf("Pending += %s", msg.URL)
		}
	case relay.ActionRemoveURL, relay.ActionUncheckURL:
		s.Pending.Remove(msg.URL)
	case relay.ActionCheckedURLs:
		var added []string
		for _, u := range msg.URLs {
			if s.Pending.Add(u) {
				added = append(added, u)
			}
		}
		if len(added) == 0 {
			return
		}
		if _, err := s.CheckURLs(ctx, added); err != nil {
			logger.WithError(err).Warn("Checking URLs against the database failed")
		}
	case relay.ActionReset:
		s.Pending.Reset()
	default:
		logger.Debug("Ignoring relay message")
	}
}

// Listen handles messages from inbox until it closes or ctx is done.
func (s *Session) Listen(ctx context.Context, inbox <-chan relay.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-inbox:
			if !ok {
				return
			}
			s.Handle(ctx, msg)
		}
	}
}

// RequestCheckedURLs asks the origin tab to report its checked URLs.
func (s *Session) RequestCheckedURLs(ctx context.Context) error {
	tab, err := s.OriginTab(ctx)
	if err != nil {
		return err
	}
	s.Platform.SendMessage(tab, relay.Message{Action: relay.ActionCheckURLs, TabID: relay.WindowTab})
	return nil
}

// DisplayCheckboxes toggles the checkbox overlay in the origin tab.
func (s *Session) DisplayCheckboxes(ctx context.Context, show bool) error {
	tab, err := s.OriginTab(ctx)
	if err != nil {
		return err
	}
	payload, _ := json.Marshal(map[string]bool{"display": show})
	s.Platform.SendMessage(tab, relay.Message{Action: relay.ActionDisplayCheckboxes, TabID: relay.WindowTab, Payload: payload})
	return nil
}

// CheckURLs looks every URL up concurrently. Any lookup error fails the whole
// check. Saved URLs leave the pending list and the origin tab is told to drop them.
func (s *Session) CheckURLs(ctx context.Context, urls []string) ([]string, error) {
	found := make([]bool, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	for i, u := range urls {
		g.Go(func() error {
			ok, err := s.Checker.CheckURLInDatabase(gctx, u)
			if err != nil {
				return fmt.Errorf("checking %s: %w", u, err)
			}
			found[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var saved []string
	for i, u := range urls {
		if found[i] {
			saved = append(saved, u)
			s.Pending.Remove(u)
		}
	}
	if len(saved) > 0 {
		if tab, err := s.OriginTab(ctx); err == nil {
			s.Platform.SendMessage(tab, relay.Message{Action: relay.ActionRemoveSaved, URLs: saved, TabID: relay.WindowTab})
		} else {
			log.WithError(err).Debug("No origin tab for remove-saved")
		}
	}
	return saved, nil
}

// ErrBusy is returned by Run while another batch of the session is running.
var ErrBusy = errors.New("a batch is already running")

// Run processes a snapshot of the pending list with orch. Handled URLs leave
// the list and are unchecked in the origin tab. A run that finishes clears the
// list; a stopped run leaves the unhandled URLs pending.
func (s *Session) Run(ctx context.Context, orch *Orchestrator, opts Options) (Summary, error) {
	s.runMu.Lock()
	if s.running {
		s.runMu.Unlock()
		return Summary{}, ErrBusy
	}
	s.running = true
	s.runMu.Unlock()
	defer func() {
		s.runMu.Lock()
		s.running = false
		s.runMu.Unlock()
	}()

	opts.Pending = s.Pending
	if tab, err := s.OriginTab(ctx); err == nil {
		opts.OriginTab = tab
	} else {
		log.WithError(err).Warn("No origin tab, checkboxes will not be updated")
	}
	summary, err := orch.Run(ctx, s.Pending.Snapshot(), opts)
	if err == nil && !summary.Stopped {
		s.Pending.Reset()
	}
	return summary, err
}

// Running reports whether a batch is in progress.
func (s *Session) Running() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.running
}
