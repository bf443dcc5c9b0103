package batch

import (
	"context"
	"errors"
	"testing"

	"go-civitai-companion/internal/platform"
	"go-civitai-companion/internal/relay"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionOriginTabIsCached(t *testing.T) {
	p := newFakePlatform(7)
	s := NewSession(p, &fakeBackend{})

	tab, err := s.OriginTab(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, tab)
	assert.Equal(t, "7", p.store[OriginTabKey])

	p.active.ID = 9
	tab, err = s.OriginTab(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, tab)
}

func TestSessionOriginTabWithoutActiveTab(t *testing.T) {
	p := newFakePlatform(0)
	p.noTab = true
	s := NewSession(p, &fakeBackend{})

	_, err := s.OriginTab(context.Background())
	assert.True(t, errors.Is(err, platform.ErrNoActiveTab))
}

func TestSessionSetOriginTabResetsPending(t *testing.T) {
	s := NewSession(newFakePlatform(7), &fakeBackend{})
	require.NoError(t, s.SetOriginTab(7))
	s.Pending.Add(url1)

	require.NoError(t, s.SetOriginTab(7))
	assert.Equal(t, 1, s.Pending.Len())

	require.NoError(t, s.SetOriginTab(8))
	assert.Equal(t, 0, s.Pending.Len())

	tab, err := s.OriginTab(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, tab)
}

func TestSessionHandle(t *testing.T) {
	ctx := context.Background()
	s := NewSession(newFakePlatform(7), &fakeBackend{saved: map[string]bool{}})

	s.Handle(ctx, relay.Message{Action: relay.ActionAddURL, URL: url1})
	s.Handle(ctx, relay.Message{Action: relay.ActionAddURL, URL: url2})
	s.Handle(ctx, relay.Message{Action: relay.ActionAddURL, URL: url1})
	assert.Equal(t, []string{url1, url2}, s.Pending.Snapshot())

	s.Handle(ctx, relay.Message{Action: relay.ActionRemoveURL, URL: url1})
	assert.Equal(t, []string{url2}, s.Pending.Snapshot())

	s.Handle(ctx, relay.Message{Action: "unknown", URL: url3})
	assert.Equal(t, []string{url2}, s.Pending.Snapshot())

	s.Handle(ctx, relay.Message{Action: relay.ActionReset})
	assert.Equal(t, 0, s.Pending.Len())
}

func TestSessionCheckedURLsDropsSaved(t *testing.T) {
	p := newFakePlatform(7)
	backend := &fakeBackend{saved: map[string]bool{url2: true}}
	s := NewSession(p, backend)

	s.Handle(context.Background(), relay.Message{Action: relay.ActionCheckedURLs, URLs: []string{url1, url2, url3}})
	assert.Equal(t, []string{url1, url3}, s.Pending.Snapshot())

	removed := p.sent(relay.ActionRemoveSaved)
	require.Len(t, removed, 1)
	assert.Equal(t, 7, removed[0].tab)
	assert.Equal(t, []string{url2}, removed[0].msg.URLs)
}

func TestSessionCheckURLsFailsWhole(t *testing.T) {
	p := newFakePlatform(7)
	backend := &fakeBackend{saved: map[string]bool{url1: true}, checkErr: errors.New("backend down")}
	s := NewSession(p, backend)
	s.Pending.Add(url1)

	saved, err := s.CheckURLs(context.Background(), []string{url1, "https://civitai.com/models/4/boom"})
	require.Error(t, err)
	assert.Nil(t, saved)
	assert.Equal(t, []string{url1}, s.Pending.Snapshot())
	assert.Empty(t, p.sent(relay.ActionRemoveSaved))
}

func TestSessionMessagesToOriginTab(t *testing.T) {
	p := newFakePlatform(7)
	s := NewSession(p, &fakeBackend{})

	require.NoError(t, s.RequestCheckedURLs(context.Background()))
	require.NoError(t, s.DisplayCheckboxes(context.Background(), true))

	require.Len(t, p.sent(relay.ActionCheckURLs), 1)
	display := p.sent(relay.ActionDisplayCheckboxes)
	require.Len(t, display, 1)
	assert.Equal(t, 7, display[0].tab)
	assert.JSONEq(t, `{"display":true}`, string(display[0].msg.Payload))
}

func TestSessionListenStopsOnClose(t *testing.T) {
	s := NewSession(newFakePlatform(7), &fakeBackend{})
	inbox := make(chan relay.Message, 2)
	inbox <- relay.Message{Action: relay.ActionAddURL, URL: url1}
	inbox <- relay.Message{Action: relay.ActionAddURL, URL: url2}
	close(inbox)

	s.Listen(context.Background(), inbox)
	assert.Equal(t, []string{url1, url2}, s.Pending.Snapshot())
}

func TestSessionRunDrainsPending(t *testing.T) {
	f := newFixture()
	s := NewSession(f.platform, f.backend)
	s.Pending.Add(url1)
	s.Pending.Add(url3)

	summary, err := s.Run(context.Background(), f.orch, Options{
		DownloadFilePath: "/ACG",
		SelectedCategory: "Art",
		Method:           "server",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 0, s.Pending.Len())
	assert.False(t, s.Running())

	unchecked := f.platform.sent(relay.ActionUncheckURL)
	require.Len(t, unchecked, 2)
	assert.Equal(t, 7, unchecked[1].tab)
	assert.Equal(t, url3, unchecked[1].msg.URL)
}

func TestSessionRunClearsSkippedURLsWhenFinished(t *testing.T) {
	f := newFixture()
	s := NewSession(f.platform, f.backend)
	s.Pending.Add("https://civitai.com/models/2?modelVersionId=999")
	s.Pending.Add(url3)

	summary, err := s.Run(context.Background(), f.orch, baseOptions(nil))
	require.NoError(t, err)
	assert.False(t, summary.Stopped)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 0, s.Pending.Len())
}

func TestSessionRunKeepsPendingWhenStopped(t *testing.T) {
	f := newFixture()
	f.catalog.failFor["2"] = errors.New("catalog down")
	s := NewSession(f.platform, f.backend)
	s.Pending.Add(url1)
	s.Pending.Add(url2)
	s.Pending.Add(url3)

	summary, err := s.Run(context.Background(), f.orch, baseOptions(nil))
	require.Error(t, err)
	assert.True(t, summary.Stopped)
	assert.Equal(t, []string{url2, url3}, s.Pending.Snapshot())
}

func TestSessionRunRejectsConcurrentRun(t *testing.T) {
	f := newFixture()
	s := NewSession(f.platform, f.backend)
	s.running = true

	_, err := s.Run(context.Background(), f.orch, Options{})
	assert.True(t, errors.Is(err, ErrBusy))
}
