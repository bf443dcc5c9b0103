package relay

import (
	"sort"
	"sync"

	"go-civitai-companion/internal/metrics"

	log "github.com/sirupsen/logrus"
)

// DefaultMailboxSize is the per-tab buffer used when NewHub gets a size <= 0.
const DefaultMailboxSize = 64

// Hub keeps one buffered mailbox per registered tab.
type Hub struct {
	mu        sync.RWMutex
	mailboxes map[int]chan Message
	size      int
}

// NewHub creates a hub whose mailboxes hold size messages.
func NewHub(size int) *Hub {
	if size <= 0 {
		size = DefaultMailboxSize
	}
	return &Hub{
		mailboxes: make(map[int]chan Message),
		size:      size,
	}
}

// Register opens a mailbox for tabID and returns it. A previous mailbox for
// the same tab is closed, so only the newest reader receives messages.
// The caller must call Unregister when done.
func (h *Hub) Register(tabID int) <-chan Message {
	ch := make(chan Message, h.size)
	h.mu.Lock()
	if old, ok := h.mailboxes[tabID]; ok {
		close(old)
	}
	h.mailboxes[tabID] = ch
	count := len(h.mailboxes)
	h.mu.Unlock()
	metrics.SetRelayTabsActive(count)
	log.WithField("tab", tabID).Debug("Relay mailbox registered")
	return ch
}

// Unregister closes ch if it is still the mailbox of tabID.
func (h *Hub) Unregister(tabID int, ch <-chan Message) {
	h.mu.Lock()
	if cur, ok := h.mailboxes[tabID]; ok && cur == ch {
		delete(h.mailboxes, tabID)
		close(cur)
	}
	count := len(h.mailboxes)
	h.mu.Unlock()
	metrics.SetRelayTabsActive(count)
}

// Send delivers msg to tabID without blocking. It reports whether the message
// was queued; false means it was dropped.
func (h *Hub) Send(tabID int, msg Message) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ch, ok := h.mailboxes[tabID]
	delivered := false
	if ok {
		select {
		case ch <- msg:
			delivered = true
		default:
		}
	}
	metrics.RecordRelayMessage(msg.Action, delivered)
	if !delivered {
		log.WithFields(log.Fields{"tab": tabID, "action": msg.Action}).Debug("Relay message dropped")
	}
	return delivered
}

// Has reports whether tabID has an open mailbox.
func (h *Hub) Has(tabID int) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.mailboxes[tabID]
	return ok
}

// Tabs returns the registered tab ids in ascending order.
func (h *Hub) Tabs() []int {
	h.mu.RLock()
	ids := make([]int, 0, len(h.mailboxes))
	for id := range h.mailboxes {
		ids = append(ids, id)
	}
	h.mu.RUnlock()
	sort.Ints(ids)
	return ids
}

// Count returns the number of registered tabs.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.mailboxes)
}
