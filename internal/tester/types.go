// file: internal/tester/types.go

package tester

// Suite is a YAML file of filter test cases.
type Suite struct {
	Cases []Case `json:"cases" yaml:"cases"`
}

// Case evaluates Filter against Context. Topic, when set, is added to the
// context under "Topic". ExpectError marks filters that must fail to parse
// or evaluate.
type Case struct {
	Name        string         `json:"name" yaml:"name"`
	Filter      string         `json:"filter" yaml:"filter"`
	Topic       string         `json:"topic,omitempty" yaml:"topic,omitempty"`
	Context     map[string]any `json:"context,omitempty" yaml:"context,omitempty"`
	Expect      bool           `json:"expect" yaml:"expect"`
	ExpectError bool           `json:"expectError,omitempty" yaml:"expectError,omitempty"`
}

// TestResult represents the outcome of a single test case.
type TestResult struct {
	Name       string `json:"name"`
	Passed     bool   `json:"passed"`
	Error      string `json:"error,omitempty"`
	Details    string `json:"details,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// TestSummary aggregates all test results for a suite run.
type TestSummary struct {
	Total      int          `json:"total"`
	Passed     int          `json:"passed"`
	Failed     int          `json:"failed"`
	DurationMs int64        `json:"duration_ms"`
	Results    []TestResult `json:"results"`
}
