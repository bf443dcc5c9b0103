// Package platform abstracts the browser capabilities the orchestrator needs:
// tabs, tab messaging, bookmarks, key-value storage and native downloads.
package platform

import (
	"context"
	"errors"

	"go-civitai-companion/internal/models"
	"go-civitai-companion/internal/relay"
)

var (
	ErrNoActiveTab      = errors.New("no active tab in a normal window")
	ErrBookmarkNotFound = errors.New("bookmark not found")
)

// Platform is the capability set handed to the orchestrator.
type Platform interface {
	// ActiveTab returns the active tab of the first normal window.
	ActiveTab(ctx context.Context) (models.Tab, error)
	// SendMessage is fire-and-forget: delivery is best-effort, at most once and
	// unordered. A closed or unknown tab silently loses the message.
	SendMessage(tabID int, msg relay.Message)
	Bookmarks() Bookmarks
	Storage() Storage
	Downloads() Downloads
}

type Bookmarks interface {
	Create(folder, title, url string) (models.Bookmark, error)
	Remove(id string) error
	List(folder string) ([]models.Bookmark, error)
	FindByURL(url string) ([]models.Bookmark, error)
	Search(query string) ([]models.Bookmark, error)
}

// Storage is a string key-value store. Get reports ok=false for a missing key.
type Storage interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Delete(key string) error
}

type Downloads interface {
	// Trigger downloads url as filename under dir and returns the saved path.
	Trigger(ctx context.Context, url, filename, dir string) (string, error)
}
