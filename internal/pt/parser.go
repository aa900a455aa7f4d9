package pt

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"
	"time"

	"go.uber.org/zap"

	"ptparser/internal/filter"
	"ptparser/internal/osmdata"
)

// Metrics receives load and extraction observations. All methods must be
// safe for concurrent use.
type Metrics interface {
	ObserveLoad(d time.Duration, relations int)
	ObserveExtract(d time.Duration, workers int)
	RouteStatusInc(code uint64)
}

// Parser holds a loaded extract and serves extraction requests against it.
// A Parser is safe for concurrent use; the loaded data is never modified.
type Parser struct {
	logger  *zap.Logger
	path    string
	threads int
	filter  string
	dedupe  bool
	metrics Metrics
	data    *osmdata.Dataset
}

type options struct {
	threads int
	filter  string
	dedupe  bool
	metrics Metrics
}

// Option configures a Parser.
type Option func(*options)

// WithThreads sets the worker count. Zero selects the number of CPUs and
// negative values are clamped to one.
func WithThreads(n int) Option { return func(o *options) { o.threads = n } }

// WithFilter restricts the loaded relations to those matched by expr.
func WithFilter(expr string) Option { return func(o *options) { o.filter = expr } }

// WithDedupe drops repeated way segments while flattening.
func WithDedupe(dedupe bool) Option { return func(o *options) { o.dedupe = dedupe } }

// WithMetrics reports load and extraction metrics to m.
func WithMetrics(m Metrics) Option { return func(o *options) { o.metrics = m } }

// New loads the extract at path. It returns a *LoadError when the extract
// cannot be read and a *FilterError when the filter is invalid.
func New(ctx context.Context, logger *zap.Logger, path string, opts ...Option) (*Parser, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	f, err := filter.Compile(o.filter)
	if err != nil {
		return nil, &FilterError{Expr: o.filter, Err: err}
	}

	p := &Parser{
		logger:  logger,
		path:    path,
		threads: Threads(o.threads),
		filter:  f.String(),
		dedupe:  o.dedupe,
		metrics: o.metrics,
	}

	start := time.Now()
	ds, err := osmdata.Load(ctx, logger, path, f, p.threads)
	if err != nil {
		if errors.Is(err, osmdata.ErrFilter) {
			return nil, &FilterError{Expr: o.filter, Err: err}
		}
		return nil, &LoadError{Path: path, Err: err}
	}
	p.data = ds
	if p.metrics != nil {
		p.metrics.ObserveLoad(time.Since(start), ds.Len())
	}
	logger.Info("parser ready",
		zap.String("path", path),
		zap.Int("relations", ds.Len()),
		zap.Int("threads", p.threads),
		zap.Duration("took", time.Since(start)),
	)
	return p, nil
}

// NewPTv2 is New restricted to public transport v2 route relations.
func NewPTv2(ctx context.Context, logger *zap.Logger, path string, opts ...Option) (*Parser, error) {
	return New(ctx, logger, path, append(opts, WithFilter(filter.PTv2))...)
}

// NewAssociatedStreet is New restricted to associatedStreet relations.
func NewAssociatedStreet(ctx context.Context, logger *zap.Logger, path string, opts ...Option) (*Parser, error) {
	return New(ctx, logger, path, append(opts, WithFilter(filter.AssociatedStreet))...)
}

// Threads resolves a requested worker count.
func Threads(n int) int {
	switch {
	case n == 0:
		return runtime.NumCPU()
	case n < 0:
		return 1
	}
	return n
}

// Threads returns the worker count used for extraction.
func (p *Parser) Threads() int { return p.threads }

// Filter returns the filter expression the extract was loaded with.
func (p *Parser) Filter() string { return p.filter }

// Path returns the extract path.
func (p *Parser) Path() string { return p.path }

// Len returns the number of loaded relations.
func (p *Parser) Len() int { return p.data.Len() }

// PublicTransports extracts one Route per loaded relation, in document
// order. gap is the largest distance in metres bridged between way
// endpoints. Each call returns fresh Routes; relations whose geometry could
// not be flattened are reported through their Status, never as an error.
func (p *Parser) PublicTransports(ctx context.Context, gap float64) ([]Route, error) {
	if err := checkGap(gap); err != nil {
		return nil, err
	}

	start := time.Now()
	routes, err := Map(ctx, p.data.Relations(), p.threads,
		func(rel osmdata.Relation) Route {
			return Assemble(rel, gap, p.dedupe)
		},
		failedRoute,
	)
	if err != nil {
		p.logger.Warn("extraction interrupted",
			zap.Float64("gap", gap),
			zap.Error(err),
		)
		return nil, err
	}
	took := time.Since(start)

	counts := map[uint64]int{}
	for _, r := range routes {
		counts[r.Status.Code]++
		if r.Status.Code != StatusOK {
			p.logger.Debug("degraded route",
				zap.Uint64("id", r.ID),
				zap.Uint64("code", r.Status.Code),
				zap.String("detail", r.Status.Detail),
			)
		}
		if p.metrics != nil {
			p.metrics.RouteStatusInc(r.Status.Code)
		}
	}
	if p.metrics != nil {
		p.metrics.ObserveExtract(took, p.threads)
	}
	p.logger.Info("routes extracted",
		zap.Int("routes", len(routes)),
		zap.Float64("gap", gap),
		zap.Int("threads", p.threads),
		zap.Duration("took", took),
		zap.String("statuses", summarize(counts)),
	)
	return routes, nil
}

// PublicTransport extracts the Route of a single relation.
func (p *Parser) PublicTransport(ctx context.Context, id uint64, gap float64) (Route, bool, error) {
	if err := checkGap(gap); err != nil {
		return Route{}, false, err
	}
	if err := ctx.Err(); err != nil {
		return Route{}, false, err
	}
	rel, ok := p.data.Relation(int64(id))
	if !ok {
		return Route{}, false, nil
	}
	out, err := Map(ctx, []osmdata.Relation{rel}, 1,
		func(rel osmdata.Relation) Route {
			return Assemble(rel, gap, p.dedupe)
		},
		failedRoute,
	)
	if err != nil {
		return Route{}, false, err
	}
	return out[0], true, nil
}

func checkGap(gap float64) error {
	switch {
	case math.IsNaN(gap), math.IsInf(gap, 0):
		return &ConfigError{Field: "gap", Value: gap, Reason: "must be a finite number"}
	case gap < 0:
		return &ConfigError{Field: "gap", Value: gap, Reason: "must not be negative"}
	}
	return nil
}

// summarize renders status counts as "code=count" pairs ordered by code.
func summarize(counts map[uint64]int) string {
	codes := make([]uint64, 0, len(counts))
	for c := range counts {
		codes = append(codes, c)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	var b []byte
	for i, c := range codes {
		if i > 0 {
			b = append(b, ' ')
		}
		b = fmt.Appendf(b, "%d=%d", c, counts[c])
	}
	return string(b)
}
