package listing

import (
	"context"
	"slices"
	"sync"
	"time"

	"examtrack/pkg/domain"
)

// Empty-state messages.
const (
	MessageNoRecords       = "You have not added any exams yet."
	MessageNoScheduled     = "No upcoming exams."
	MessageNoCompleted     = "No completed exams."
	MessageNoResultPending = "Every exam already has a result attached."
	MessageNoFilterMatch   = "No exams match this filter."
	MessageNoSearchResults = "No exams match your search."
)

// Source loads records for a State.
type Source interface {
	FetchAll(ctx context.Context) ([]domain.Record, error)
	Search(ctx context.Context, query string) ([]domain.Record, error)
}

// View is what a client renders.
type View struct {
	Records   []domain.Record `json:"records"`
	Empty     bool            `json:"empty"`
	Message   string          `json:"message,omitempty"`
	Filter    Filter          `json:"filter"`
	Sort      Sort            `json:"sort"`
	Searching bool            `json:"searching"`
	Query     string          `json:"query,omitempty"`
}

// State holds one user's records and the current projection settings.
// All methods are safe for concurrent use.
type State struct {
	source Source
	now    func() time.Time

	mu      sync.Mutex
	loaded  bool
	all     []domain.Record
	filter  Filter
	order   Sort
	query   string
	results []domain.Record
	search  bool
}

// NewState creates a State with FilterAll and SortDateDesc.
func NewState(source Source) *State {
	return &State{source: source, now: time.Now, filter: FilterAll, order: SortDateDesc}
}

// SetClock overrides the clock used for filtering.
func (s *State) SetClock(now func() time.Time) {
	if now != nil {
		s.mu.Lock()
		s.now = now
		s.mu.Unlock()
	}
}

// Refresh replaces the held records with a fresh fetch.
func (s *State) Refresh(ctx context.Context) error {
	records, err := s.source.FetchAll(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.all = records
	s.loaded = true
	s.mu.Unlock()
	return nil
}

// Loaded reports whether Refresh has succeeded at least once.
func (s *State) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// SetFilter changes the active filter.
func (s *State) SetFilter(f Filter) {
	s.mu.Lock()
	s.filter = f
	s.mu.Unlock()
}

// SetSort changes the active sort.
func (s *State) SetSort(o Sort) {
	s.mu.Lock()
	s.order = o
	s.mu.Unlock()
}

// Search enters search mode with the source's results for query.
func (s *State) Search(ctx context.Context, query string) error {
	results, err := s.source.Search(ctx, query)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.search = true
	s.query = query
	s.results = results
	s.mu.Unlock()
	return nil
}

// CancelSearch leaves search mode.
func (s *State) CancelSearch() {
	s.mu.Lock()
	s.search = false
	s.query = ""
	s.results = nil
	s.mu.Unlock()
}

// Remove drops a deleted record without refetching.
func (s *State) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	drop := func(r domain.Record) bool { return r.ID == id }
	s.all = slices.DeleteFunc(slices.Clone(s.all), drop)
	s.results = slices.DeleteFunc(slices.Clone(s.results), drop)
}

// Params are the projection settings of one request.
type Params struct {
	Filter Filter
	Sort   Sort
	// Query enters search mode when non-blank and leaves it otherwise.
	Query string
}

// ViewFor applies p and returns the matching projection in one step, so
// concurrent callers never see each other's settings.
func (s *State) ViewFor(ctx context.Context, p Params) (View, error) {
	var results []domain.Record
	if p.Query != "" {
		var err error
		if results, err = s.source.Search(ctx, p.Query); err != nil {
			return View{}, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter = p.Filter
	s.order = p.Sort
	s.search = p.Query != ""
	s.query = p.Query
	s.results = results
	return s.viewLocked(), nil
}

// View returns the current projection.
func (s *State) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *State) viewLocked() View {
	v := View{Filter: s.filter, Sort: s.order, Searching: s.search, Query: s.query}
	if s.search {
		v.Records = slices.Clone(s.results)
	} else {
		v.Records = Project(s.all, s.filter, s.order, s.now())
	}
	if v.Records == nil {
		v.Records = []domain.Record{}
	}
	if len(v.Records) == 0 {
		v.Empty = true
		v.Message = s.emptyMessage()
	}
	return v
}

func (s *State) emptyMessage() string {
	if s.search {
		return MessageNoSearchResults
	}
	if len(s.all) == 0 {
		return MessageNoRecords
	}
	switch s.filter {
	case FilterScheduled:
		return MessageNoScheduled
	case FilterCompleted:
		return MessageNoCompleted
	case FilterResultPending:
		return MessageNoResultPending
	default:
		return MessageNoFilterMatch
	}
}

// DefaultIdleTTL is how long an unused State is kept.
const DefaultIdleTTL = 30 * time.Minute

// Registry keeps one State per user. States idle for longer than the idle TTL
// are dropped, so sessions that expire without a sign-out do not pin records.
type Registry struct {
	source Source
	now    func() time.Time

	mu        sync.Mutex
	idleTTL   time.Duration
	states    map[string]*registryEntry
	lastSweep time.Time
}

type registryEntry struct {
	state    *State
	lastUsed time.Time
}

// NewRegistry creates a registry whose states all read from source.
func NewRegistry(source Source) *Registry {
	return &Registry{source: source, now: time.Now, idleTTL: DefaultIdleTTL, states: make(map[string]*registryEntry)}
}

// SetIdleTTL changes how long an unused State survives. Zero or less keeps
// the default.
func (r *Registry) SetIdleTTL(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	r.mu.Lock()
	r.idleTTL = ttl
	r.mu.Unlock()
}

// SetClock overrides the clock used for idle tracking.
func (r *Registry) SetClock(now func() time.Time) {
	if now != nil {
		r.mu.Lock()
		r.now = now
		r.mu.Unlock()
	}
}

// For returns uid's State, creating it on first use.
func (r *Registry) For(uid string) *State {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	r.sweepLocked(now)
	e, ok := r.states[uid]
	if !ok {
		e = &registryEntry{state: NewState(r.source)}
		r.states[uid] = e
	}
	e.lastUsed = now
	return e.state
}

// Len reports how many users have a State.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}

// Forget drops uid's State, e.g. on sign-out.
func (r *Registry) Forget(uid string) {
	r.mu.Lock()
	delete(r.states, uid)
	r.mu.Unlock()
}

// sweepLocked runs at most once per minute.
func (r *Registry) sweepLocked(now time.Time) {
	if now.Sub(r.lastSweep) < time.Minute {
		return
	}
	r.lastSweep = now
	for uid, e := range r.states {
		if now.Sub(e.lastUsed) > r.idleTTL {
			delete(r.states, uid)
		}
	}
}
