//file: internal/dispatch/filtering.go

package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"filter-router/internal/filter"
	"filter-router/internal/logger"
	"filter-router/internal/metrics"
)

// FilteringService matches one message context against many subscriptions
type FilteringService struct {
	factory filter.Factory
	logger  *logger.Logger
	metrics *metrics.Metrics
}

// NewFilteringService creates the service. factory is normally a *filter.Cache.
func NewFilteringService(factory filter.Factory, log *logger.Logger, m *metrics.Metrics) *FilteringService {
	return &FilteringService{
		factory: factory,
		logger:  log,
		metrics: m,
	}
}

// Filter returns the entries whose predicate is true for vars, in input order.
// Entries are evaluated in parallel. An entry whose filter fails to compile or
// evaluate is logged and left out; it never affects the others.
func (s *FilteringService) Filter(ctx context.Context, vars filter.Context, entries []Entry) []Entry {
	if len(entries) == 0 {
		return []Entry{}
	}

	start := time.Now()
	matched := make([]bool, len(entries))

	var wg sync.WaitGroup
	for i := range entries {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := s.match(ctx, vars, entries[i])
			if err != nil {
				s.logger.Error("filter evaluation failed, subscription skipped",
					"selector", entries[i].ID.Selector(),
					"error", err)
				if s.metrics != nil {
					s.metrics.IncFilterErrors()
				}
				return
			}
			matched[i] = ok
		}(i)
	}
	wg.Wait()

	result := make([]Entry, 0, len(entries))
	for i, ok := range matched {
		if ok {
			result = append(result, entries[i])
		}
	}

	if s.metrics != nil {
		s.metrics.ObserveFilterEvaluationDuration(time.Since(start).Seconds())
	}
	return result
}

func (s *FilteringService) match(ctx context.Context, vars filter.Context, entry Entry) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok, err = false, fmt.Errorf("filter evaluation panicked: %v", r)
		}
	}()

	expr, err := s.factory.GetExpression(ctx, entry.ID.Filter())
	if err != nil {
		return false, err
	}
	scoped, err := entry.ID.Scope(expr)
	if err != nil {
		return false, err
	}
	return filter.Matches(scoped, vars)
}
