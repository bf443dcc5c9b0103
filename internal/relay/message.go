// Package relay carries fire-and-forget messages between the orchestrator
// window and page overlays running in browser tabs.
//
// Delivery is best-effort and at-most-once with no ordering guarantee across
// senders. A message for a tab that is closed, unknown, or not draining its
// mailbox is dropped, never queued.
package relay

import (
	"encoding/json"
	"fmt"
	"io"
)

// Message actions
const (
	ActionAddURL            = "addUrl"
	ActionRemoveURL         = "removeUrl"
	ActionCheckURLs         = "checkUrlsInDatabase"
	ActionDisplayCheckboxes = "display-checkboxes"
	ActionRemoveSaved       = "remove-saved"
	ActionUncheckURL        = "uncheck-url"
	ActionCheckedURLs       = "checked-urls"
	ActionReset             = "reset"
)

// WindowTab is the mailbox id of the orchestrator window. Browser tab ids start at 1.
const WindowTab = 0

// Message is one relay payload. TabID is the sender.
type Message struct {
	Action  string          `json:"action"`
	URL     string          `json:"url,omitempty"`
	URLs    []string        `json:"urls,omitempty"`
	TabID   int             `json:"tabId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// KnownAction reports whether action is one the relay understands.
func KnownAction(action string) bool {
	switch action {
	case ActionAddURL, ActionRemoveURL, ActionCheckURLs, ActionDisplayCheckboxes,
		ActionRemoveSaved, ActionUncheckURL, ActionCheckedURLs, ActionReset:
		return true
	}
	return false
}

// WriteEvent writes msg as one server-sent event.
func WriteEvent(w io.Writer, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshalling relay message: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Action, data)
	return err
}
