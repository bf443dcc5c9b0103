package batch

import "sync"

// PendingList is the ordered list of URLs waiting to be processed, in discovery
// order. Adding a URL that is already present is a no-op.
type PendingList struct {
	mu   sync.Mutex
	urls []string
}

// NewPendingList returns a list seeded with urls (duplicates dropped).
func NewPendingList(urls ...string) *PendingList {
	p := &PendingList{}
	for _, u := range urls {
		p.Add(u)
	}
	return p
}

// Add appends url unless it is empty or already present. It reports whether
// the list changed.
func (p *PendingList) Add(url string) bool {
	if url == "" {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.indexLocked(url) >= 0 {
		return false
	}
	p.urls = append(p.urls, url)
	return true
}

// Remove drops url and reports whether it was present.
func (p *PendingList) Remove(url string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.indexLocked(url)
	if i < 0 {
		return false
	}
	p.urls = append(p.urls[:i], p.urls[i+1:]...)
	return true
}

func (p *PendingList) Contains(url string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.indexLocked(url) >= 0
}

// Snapshot returns a copy of the list.
func (p *PendingList) Snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.urls...)
}

func (p *PendingList) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.urls)
}

// Reset empties the list.
func (p *PendingList) Reset() {
	p.mu.Lock()
	p.urls = nil
	p.mu.Unlock()
}

func (p *PendingList) indexLocked(url string) int {
	for i, u := range p.urls {
		if u == url {
			return i
		}
	}
	return -1
}
