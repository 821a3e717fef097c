package capability

import (
	"context"

	regexp "github.com/wasilibs/go-re2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/threatswarm/internal/domain/scanning"
	"github.com/ahrav/threatswarm/pkg/common/logger"
)

// anomalySignature pairs a content pattern with how it is reported.
type anomalySignature struct {
	name       string
	pattern    *regexp.Regexp
	confidence float64
	risk       scanning.RiskLevel
}

// anomalySignatures are runtime leak patterns: stack traces, database error
// codes and debug output that reach the client when error handling breaks
// down.
var anomalySignatures = []anomalySignature{
	{
		name:       "java stack trace",
		pattern:    regexp.MustCompile(`(?m)^\s+at [\w.$]+\([\w.]+:\d+\)`),
		confidence: 0.9,
		risk:       scanning.RiskLevelMedium,
	},
	{
		name:       "python traceback",
		pattern:    regexp.MustCompile(`Traceback \(most recent call last\)`),
		confidence: 0.9,
		risk:       scanning.RiskLevelMedium,
	},
	{
		name:       "php fatal error",
		pattern:    regexp.MustCompile(`(?i)fatal error:.+on line \d+`),
		confidence: 0.85,
		risk:       scanning.RiskLevelMedium,
	},
	{
		name:       "sql error",
		pattern:    regexp.MustCompile(`(?i)(ORA-\d{5}|SQLSTATE\[\w+\]|syntax error.+near)`),
		confidence: 0.85,
		risk:       scanning.RiskLevelHigh,
	},
	{
		name:       "debug mode banner",
		pattern:    regexp.MustCompile(`(?i)(debug\s*=\s*true|x-debug-token|whoops, looks like something went wrong)`),
		confidence: 0.8,
		risk:       scanning.RiskLevelMedium,
	},
}

// errorProbes are paths likely to trigger error handling. An intentionally
// missing resource is the cheapest way to see what the error path leaks.
var errorProbes = []string{"/", "/nonexistent-9f2c1", "/'"}

// Analyze inspects how a target behaves under error conditions, reporting
// leaked stack traces, database errors and debug output as anomalies.
type Analyze struct {
	fetcher *Fetcher

	logger *logger.Logger
	tracer trace.Tracer
}

// NewAnalyze creates the content-analysis capability.
func NewAnalyze(fetcher *Fetcher, log *logger.Logger, tracer trace.Tracer) *Analyze {
	return &Analyze{
		fetcher: fetcher,
		logger:  log.With("component", "analyze_capability"),
		tracer:  tracer,
	}
}

// Scan implements scanning.ScanCapability.
func (a *Analyze) Scan(ctx context.Context, task *scanning.Task) ([]scanning.Finding, error) {
	ctx, span := a.tracer.Start(ctx, "analyze_capability.scan",
		trace.WithAttributes(attribute.String("target", task.Target())))
	defer span.End()

	base := baseURL(task.Target())

	var findings []scanning.Finding
	// Report each signature once per target, not once per probe.
	reported := make(map[string]struct{})

	for _, probe := range errorProbes {
		page, err := a.fetcher.Get(ctx, joinPath(base, probe))
		if err != nil {
			if ctx.Err() != nil {
				return findings, ctx.Err()
			}
			continue
		}

		for _, sig := range anomalySignatures {
			if _, done := reported[sig.name]; done {
				continue
			}
			if match := sig.pattern.FindString(page.Body); match != "" {
				reported[sig.name] = struct{}{}
				findings = append(findings, scanning.NewFinding(
					task.ID(), task.Target(), scanning.CategoryAnomaly,
					sig.confidence, sig.risk,
					sig.name+" at "+probe+": "+match,
					"anomaly:"+sig.name,
				))
			}
		}
	}

	span.SetAttributes(attribute.Int("num_findings", len(findings)))
	a.logger.Info(ctx, "analysis complete", "target", task.Target(), "findings", len(findings))
	return findings, nil
}
