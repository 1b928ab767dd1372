// file: internal/tester/tester.go

package tester

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"filter-router/internal/filter"
	"filter-router/internal/logger"

	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// Tester runs filter test suites offline.
type Tester struct {
	Logger          *logger.Logger
	Verbose         bool
	ParallelWorkers int

	factory filter.Factory
}

// New creates a new Tester instance.
func New(log *logger.Logger, verbose bool, parallel int) *Tester {
	return &Tester{
		Logger:          log,
		Verbose:         verbose,
		ParallelWorkers: parallel,
		factory:         filter.NewCache(filter.NewParserFactory(nil), filter.CacheOptions{TTL: filter.DefaultCacheTTL}, log, nil),
	}
}

// LoadSuite reads a YAML suite file.
func LoadSuite(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read suite: %w", err)
	}
	var suite Suite
	if err := yaml.Unmarshal(data, &suite); err != nil {
		return nil, fmt.Errorf("failed to parse suite %s: %w", path, err)
	}
	for i, c := range suite.Cases {
		if c.Name == "" {
			suite.Cases[i].Name = fmt.Sprintf("case_%d", i+1)
		}
	}
	return &suite, nil
}

// LoadContext reads a message context from a JSON or YAML file, chosen by
// extension. JSON numbers keep their integer form.
func LoadContext(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read context: %w", err)
	}

	props := make(map[string]any)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &props)
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		err = dec.Decode(&props)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse context %s: %w", path, err)
	}
	return props, nil
}

// Eval compiles filterText and evaluates it against props.
func (t *Tester) Eval(ctx context.Context, filterText string, props map[string]any) (bool, error) {
	expr, err := t.factory.GetExpression(ctx, filterText)
	if err != nil {
		return false, err
	}
	return filter.Matches(expr, filter.ContextOf(props))
}

// Run executes every case of the suite.
func (t *Tester) Run(suite *Suite) TestSummary {
	start := time.Now()

	var summary TestSummary
	if t.ParallelWorkers > 0 {
		summary = t.runParallel(suite.Cases)
	} else {
		summary = t.runSequential(suite.Cases)
	}
	summary.DurationMs = time.Since(start).Milliseconds()
	return summary
}

func (t *Tester) runSequential(cases []Case) TestSummary {
	summary := TestSummary{Results: make([]TestResult, 0, len(cases))}
	for _, c := range cases {
		summary.add(t.runCase(c))
	}
	return summary
}

func (t *Tester) runParallel(cases []Case) TestSummary {
	results := make([]TestResult, len(cases))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for i := 0; i < t.ParallelWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				results[j] = t.runCase(cases[j])
			}
		}()
	}
	for i := range cases {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	summary := TestSummary{Results: make([]TestResult, 0, len(cases))}
	for _, r := range results {
		summary.add(r)
	}
	return summary
}

func (s *TestSummary) add(r TestResult) {
	s.Total++
	if r.Passed {
		s.Passed++
	} else {
		s.Failed++
	}
	s.Results = append(s.Results, r)
}

func (t *Tester) runCase(c Case) TestResult {
	start := time.Now()
	result := TestResult{Name: c.Name}

	props := c.Context
	if c.Topic != "" {
		props = make(map[string]any, len(c.Context)+1)
		for k, v := range c.Context {
			props[k] = v
		}
		props["Topic"] = c.Topic
	}

	matched, err := t.Eval(context.Background(), c.Filter, props)
	switch {
	case c.ExpectError && err == nil:
		result.Error = "expected an error, filter evaluated"
		result.Details = fmt.Sprintf("filter: %s, matched: %t", c.Filter, matched)
	case c.ExpectError:
		result.Passed = true
	case err != nil:
		result.Error = err.Error()
		result.Details = fmt.Sprintf("filter: %s", c.Filter)
	case matched != c.Expect:
		result.Error = fmt.Sprintf("expected match=%t, got %t", c.Expect, matched)
		result.Details = fmt.Sprintf("filter: %s", c.Filter)
	default:
		result.Passed = true
	}

	if t.Verbose && !result.Passed {
		t.Logger.Info("test case failed", "case", c.Name, "error", result.Error)
	}
	result.DurationMs = time.Since(start).Milliseconds()
	return result
}
