package scheduling

import (
	"sync"
	"time"

	"github.com/dockermodel/backendpool/pkg/session"
	lru "github.com/hashicorp/golang-lru/v2"
)

// badBackendsCapacity bounds the recency set of backends that have already
// failed to load a given pressure entry's model, so a long-running process
// with heavy backend churn never grows that set without bound.
const badBackendsCapacity = 64

// Entry aggregates demand for one model name across every open request that
// currently wants it. It exists iff at least one open request desires its
// model and no backend currently holds that model eligible.
type Entry struct {
	Model string

	mu               sync.Mutex
	firstRequestTime time.Time
	count            int
	isLoading        bool
	sessions         map[*session.Session]bool
	requests         map[*Request]bool
	badBackends      *lru.Cache[int, struct{}]
}

func newEntry(model string) *Entry {
	cache, _ := lru.New[int, struct{}](badBackendsCapacity)
	return &Entry{
		Model:       model,
		sessions:    make(map[*session.Session]bool),
		requests:    make(map[*Request]bool),
		badBackends: cache,
	}
}

// Score implements the heuristic: count*10 plus seconds-of-age, so that a
// burst of identical-model requests is dominated by the oldest arrival and
// amortizes a single load, while older pressure still outranks a
// same-count newcomer (heuristic monotonicity).
func (e *Entry) Score(now time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scoreLocked(now)
}

func (e *Entry) scoreLocked(now time.Time) int {
	ageSeconds := int(now.Sub(e.firstRequestTime).Milliseconds() / 1000)
	return e.count*10 + ageSeconds
}

func (e *Entry) add(req *Request) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.count == 0 {
		e.firstRequestTime = req.StartTime
	}
	if !e.requests[req] {
		e.requests[req] = true
		e.count++
	}
	if req.SessionRef != nil {
		e.sessions[req.SessionRef] = true
	}
}

// remove decrements the entry's count for one request, returning the
// remaining count.
func (e *Entry) remove(req *Request) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.requests[req] {
		delete(e.requests, req)
		e.count--
	}
	return e.count
}

func (e *Entry) markBad(backendID int) {
	e.badBackends.Add(backendID, struct{}{})
}

func (e *Entry) isBad(backendID int) bool {
	return e.badBackends.Contains(backendID)
}

// tryBeginLoading atomically checks isLoading and, if not already set,
// marks it true under the entry's own lock ("H.locker" in spec terms).
func (e *Entry) tryBeginLoading() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.isLoading {
		return false
	}
	e.isLoading = true
	return true
}

func (e *Entry) endLoading() {
	e.mu.Lock()
	e.isLoading = false
	e.mu.Unlock()
}

func (e *Entry) firstRequestTimeNow() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.firstRequestTime
}

func (e *Entry) isLoadingNow() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isLoading
}

// compatibleWithAny reports whether at least one of the entry's requests
// has a filter compatible with at least one candidate loader.
func (e *Entry) compatibleWithAny(loaders []*loaderCandidate) bool {
	e.mu.Lock()
	reqs := make([]*Request, 0, len(e.requests))
	for r := range e.requests {
		reqs = append(reqs, r)
	}
	e.mu.Unlock()
	for _, r := range reqs {
		for _, l := range loaders {
			if r.Filter == nil || r.Filter(l.record) {
				return true
			}
		}
	}
	return false
}

// compatibleWithAll reports whether every one of the entry's requests has a
// filter compatible with at least one candidate loader.
func (e *Entry) compatibleWithAll(loaders []*loaderCandidate) bool {
	e.mu.Lock()
	reqs := make([]*Request, 0, len(e.requests))
	for r := range e.requests {
		reqs = append(reqs, r)
	}
	e.mu.Unlock()
	for _, r := range reqs {
		ok := false
		for _, l := range loaders {
			if r.Filter == nil || r.Filter(l.record) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

func (e *Entry) sessionList() []*session.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*session.Session, 0, len(e.sessions))
	for s := range e.sessions {
		out = append(out, s)
	}
	return out
}

func (e *Entry) requestList() []*Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Request, 0, len(e.requests))
	for r := range e.requests {
		out = append(out, r)
	}
	return out
}

// Map is the registry of Pressure Entries keyed by model name.
type Map struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// NewMap constructs an empty pressure map.
func NewMap() *Map {
	return &Map{entries: make(map[string]*Entry)}
}

// registerRequest creates or finds the entry for model, adds req to it, and
// returns the entry.
func (m *Map) registerRequest(model string, req *Request) *Entry {
	m.mu.Lock()
	e, ok := m.entries[model]
	if !ok {
		e = newEntry(model)
		m.entries[model] = e
	}
	m.mu.Unlock()
	e.add(req)
	return e
}

// release decrements req's entry and, if its count reaches zero, removes
// the entry from the map entirely (pressure cleanup).
func (m *Map) release(req *Request, e *Entry) {
	if e == nil {
		return
	}
	remaining := e.remove(req)
	if remaining <= 0 {
		m.mu.Lock()
		if current, ok := m.entries[e.Model]; ok && current == e {
			delete(m.entries, e.Model)
		}
		m.mu.Unlock()
	}
}

// snapshot returns every currently-registered entry.
func (m *Map) snapshot() []*Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	return out
}

// clear removes an entry outright, used when every request for a model has
// failed (AllBackendsFailedModel).
func (m *Map) clear(e *Entry) {
	m.mu.Lock()
	if current, ok := m.entries[e.Model]; ok && current == e {
		delete(m.entries, e.Model)
	}
	m.mu.Unlock()
}
