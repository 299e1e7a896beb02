package retry

import "sync"

// Stats tracks running counters across all calls through one Engine.
// Shared process-wide state: guarded by a mutex because many workflows
// retry against the same targets concurrently.
type Stats struct {
	mu                 sync.Mutex
	successes          int64
	retriesByPlatform  map[string]int64
	rateLimitHits      int64
	authRefreshes      int64
	exhausted          int64
}

// StatsSnapshot is a point-in-time copy for the external observability
// collaborator.
type StatsSnapshot struct {
	Successes         int64            `json:"successes"`
	RetriesByPlatform map[string]int64 `json:"retries_by_platform"`
	RateLimitHits     int64            `json:"rate_limit_hits"`
	AuthRefreshes     int64            `json:"auth_refreshes"`
	Exhausted         int64            `json:"exhausted"`
}

func newStats() *Stats {
	return &Stats{retriesByPlatform: make(map[string]int64)}
}

func (s *Stats) recordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.successes++
}

func (s *Stats) recordRetry(platform string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retriesByPlatform[platform]++
}

func (s *Stats) recordRateLimit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rateLimitHits++
}

func (s *Stats) recordAuthRefresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authRefreshes++
}

func (s *Stats) recordExhausted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exhausted++
}

// Snapshot returns a copy of the current counters.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	byPlatform := make(map[string]int64, len(s.retriesByPlatform))
	for k, v := range s.retriesByPlatform {
		byPlatform[k] = v
	}
	return StatsSnapshot{
		Successes:         s.successes,
		RetriesByPlatform: byPlatform,
		RateLimitHits:     s.rateLimitHits,
		AuthRefreshes:     s.authRefreshes,
		Exhausted:         s.exhausted,
	}
}
