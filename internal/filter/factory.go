//file: internal/filter/factory.go

package filter

import (
	"context"

	"filter-router/internal/metrics"
)

// Factory turns filter text into a compiled expression
type Factory interface {
	GetExpression(ctx context.Context, text string) (Expression, error)
}

// ParserFactory compiles every request with Parse. Wrap it in a Cache for reuse.
type ParserFactory struct {
	metrics *metrics.Metrics
}

// NewParserFactory creates a factory; metrics may be nil
func NewParserFactory(m *metrics.Metrics) *ParserFactory {
	return &ParserFactory{metrics: m}
}

func (f *ParserFactory) GetExpression(ctx context.Context, text string) (Expression, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	expr, err := Parse(text)
	if f.metrics != nil {
		f.metrics.IncFiltersParsed(err == nil)
	}
	if err != nil {
		return nil, err
	}
	return expr, nil
}
