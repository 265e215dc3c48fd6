package notification

import (
	"sort"
	"sync"

	"gigsync/internal/metrics"
	"gigsync/internal/transport"
)

// Store is the single source of truth for the notification list of a session.
// Pushes and REST pages both merge into it by id; the unread count is always
// derived from the entries.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	removed map[string]struct{}
	status  transport.Status
	version uint64
	page    int
	hasMore bool

	subs    map[int]chan Snapshot
	nextSub int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		entries: make(map[string]*entry),
		removed: make(map[string]struct{}),
		status:  transport.StatusClosed,
		subs:    make(map[int]chan Snapshot),
	}
}

// ApplyPush merges one pushed notification. It reports whether the id was new;
// a redelivered id never creates a second entry, it only fills fields the
// earlier delivery lacked.
func (s *Store) ApplyPush(p Partial) bool {
	if p.ID == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, gone := s.removed[p.ID]; gone {
		metrics.PushesApplied.WithLabelValues("ignored").Inc()
		return false
	}

	e, seen := s.entries[p.ID]
	if !seen {
		s.entries[p.ID] = &entry{pushed: p}
		metrics.PushesApplied.WithLabelValues("new").Inc()
		s.changedLocked()
		return true
	}

	metrics.PushesApplied.WithLabelValues("duplicate").Inc()
	e.pushed = e.pushed.fill(p)
	s.changedLocked()
	return false
}

// ApplyPage merges one page of REST history. Fetched fields win over pushed
// ones; fields the fetch omitted keep their pushed values.
func (s *Store) ApplyPage(list []Partial, page int, hasMore bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range list {
		if rec.ID == "" {
			continue
		}
		if _, gone := s.removed[rec.ID]; gone {
			continue
		}
		if e, ok := s.entries[rec.ID]; ok {
			e.fetched = &rec
		} else {
			s.entries[rec.ID] = &entry{fetched: &rec}
		}
	}

	if page >= s.page {
		s.page = page
		s.hasMore = hasMore
	}
	s.changedLocked()
}

// Remove drops an entry. Later pushes or pages carrying the id are ignored.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removed[id] = struct{}{}
	if _, ok := s.entries[id]; !ok {
		return false
	}
	delete(s.entries, id)
	s.changedLocked()
	return true
}

// Has reports whether id is in the store.
func (s *Store) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[id]
	return ok
}

// Get returns the merged notification for id.
func (s *Store) Get(id string) (Notification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return Notification{}, false
	}
	return e.view(id), true
}

// MarkRead flips id to read optimistically. It reports whether the visible
// state changed, which is when a server mutation is needed.
func (s *Store) MarkRead(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || e.isRead() {
		return false
	}
	e.mark = readPending
	s.changedLocked()
	return true
}

// MarkAllRead flips every unread entry and returns the ids it flipped.
func (s *Store) MarkAllRead() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var flipped []string
	for id, e := range s.entries {
		if !e.isRead() {
			e.mark = readPending
			flipped = append(flipped, id)
		}
	}
	if len(flipped) > 0 {
		sort.Strings(flipped)
		s.changedLocked()
	}
	return flipped
}

// RevertRead undoes optimistic flips that the server rejected. Entries the
// server already confirmed, or that a producer reports read, stay read.
func (s *Store) RevertRead(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for _, id := range ids {
		if e, ok := s.entries[id]; ok && e.mark == readPending {
			e.mark = readNone
			changed = true
		}
	}
	if changed {
		s.changedLocked()
	}
}

// ConfirmRead records server confirmation for ids.
func (s *Store) ConfirmRead(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if e, ok := s.entries[id]; ok {
			e.mark = readConfirmed
		}
	}
	s.changedLocked()
}

// UnreadCount counts entries that are not read.
func (s *Store) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unreadLocked()
}

// Notifications returns the merged list, newest first.
func (s *Store) Notifications() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked()
}

// Page returns the highest page loaded and whether more history exists.
func (s *Store) Page() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page, s.hasMore
}

// SetConnectionStatus records the push channel state shown to UI surfaces.
func (s *Store) SetConnectionStatus(status transport.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == status {
		return
	}
	s.status = status
	s.changedLocked()
}

// Snapshot returns the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe returns a channel that always holds the latest snapshot. A slow
// reader skips intermediate versions rather than blocking the store. The
// current snapshot is delivered immediately. Call cancel to stop.
func (s *Store) Subscribe() (<-chan Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Snapshot, 1)
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	ch <- s.snapshotLocked()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
}

// Reset empties the store at session end.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]*entry)
	s.removed = make(map[string]struct{})
	s.page, s.hasMore = 0, false
	s.status = transport.StatusClosed
	s.changedLocked()
}

func (s *Store) unreadLocked() int {
	n := 0
	for _, e := range s.entries {
		if !e.isRead() {
			n++
		}
	}
	return n
}

func (s *Store) listLocked() []Notification {
	out := make([]Notification, 0, len(s.entries))
	for id, e := range s.entries {
		out = append(out, e.view(id))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (s *Store) snapshotLocked() Snapshot {
	list := s.listLocked()
	unread := 0
	for _, n := range list {
		if !n.IsRead {
			unread++
		}
	}
	return Snapshot{
		Notifications:    list,
		UnreadCount:      unread,
		ConnectionStatus: s.status,
		Version:          s.version,
		Page:             s.page,
		HasMore:          s.hasMore,
	}
}

// changedLocked bumps the version and publishes to subscribers.
func (s *Store) changedLocked() {
	s.version++
	metrics.UnreadNotifications.Set(float64(s.unreadLocked()))
	if len(s.subs) == 0 {
		return
	}

	snap := s.snapshotLocked()
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}
