package fetcher

import (
	"encoding/json"

	"github.com/olegeech-me/statustracker/internal/model"
	"github.com/olegeech-me/statustracker/pkg/concurrency"
	"github.com/olegeech-me/statustracker/pkg/errors"
	"github.com/olegeech-me/statustracker/pkg/messaging"
)

// keySet tracks the application keys currently being fetched or refreshed,
// guarded by a single SmartMutex (spec.md §5's "per-key processing sets in
// the Fetcher: guarded by a mutex"). Debug mode is on so slow-lock warnings
// surface contention on this hot path during development.
type keySet struct {
	mu        *concurrency.SmartMutex
	fetching  map[string]struct{}
	refreshing map[string]struct{}
}

func newKeySet() *keySet {
	return &keySet{
		mu:         concurrency.NewSmartMutex(concurrency.MutexConfig{Name: "fetcher-keyset", DebugMode: true}),
		fetching:   make(map[string]struct{}),
		refreshing: make(map[string]struct{}),
	}
}

// tryAcquire implements spec.md §4.3's concurrency discipline: a new fetch
// is skipped if the same key is already fetching; a new refresh is skipped
// if the key is fetching OR refreshing (fetch has priority).
func (s *keySet) tryAcquire(requestType model.RequestType, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if requestType == model.RequestFetch {
		if _, busy := s.fetching[key]; busy {
			return false
		}
		s.fetching[key] = struct{}{}
		return true
	}

	if _, busy := s.fetching[key]; busy {
		return false
	}
	if _, busy := s.refreshing[key]; busy {
		return false
	}
	s.refreshing[key] = struct{}{}
	return true
}

func (s *keySet) release(requestType model.RequestType, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if requestType == model.RequestFetch {
		delete(s.fetching, key)
	} else {
		delete(s.refreshing, key)
	}
}

func decodeJob(msg *messaging.Message) (model.JobMessage, error) {
	var job model.JobMessage
	if err := json.Unmarshal(msg.Payload, &job); err != nil {
		return job, errors.InvalidArgument("failed to decode job message", err)
	}
	return job, nil
}
