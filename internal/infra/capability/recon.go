// Package capability implements the content-inspection plugins bound to each
// agent type: reachability probing, secret detection, crawling, configuration
// fingerprinting, deep path exploration and content analysis. Capabilities
// share one rate-limited HTTP transport and report everything they observe as
// structured findings; they never decide scheduling or retries.
package capability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/threatswarm/internal/domain/scanning"
	"github.com/ahrav/threatswarm/pkg/common/logger"
)

// reconPaths are the well-known surfaces probed during reconnaissance, in
// probe order. Depth 1 probes only the root; deeper settings walk further
// down this list.
var reconPaths = []string{
	"/robots.txt",
	"/sitemap.xml",
	"/.well-known/security.txt",
	"/api",
	"/login",
	"/admin",
	"/status",
	"/.git/config",
}

// pathsPerDepth controls how many probe paths each depth level unlocks.
const pathsPerDepth = 4

// Recon establishes basic contact with a target and maps its visible
// surface. It is the gatekeeper capability: a target it cannot reach aborts
// the whole run, so its unreachable classification must be unambiguous.
type Recon struct {
	fetcher *Fetcher

	logger *logger.Logger
	tracer trace.Tracer
}

// NewRecon creates the reconnaissance capability.
func NewRecon(fetcher *Fetcher, log *logger.Logger, tracer trace.Tracer) *Recon {
	return &Recon{
		fetcher: fetcher,
		logger:  log.With("component", "recon_capability"),
		tracer:  tracer,
	}
}

// Scan implements scanning.ScanCapability. Failure to fetch the root page
// wraps scanning.ErrTargetUnreachable; everything past the root is best
// effort and probe failures are simply skipped.
func (r *Recon) Scan(ctx context.Context, task *scanning.Task) ([]scanning.Finding, error) {
	ctx, span := r.tracer.Start(ctx, "recon_capability.scan",
		trace.WithAttributes(attribute.String("target", task.Target())))
	defer span.End()

	base := baseURL(task.Target())

	root, err := r.fetcher.Get(ctx, joinPath(base, "/"))
	if err != nil {
		span.SetStatus(codes.Error, "target unreachable")
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %v", scanning.ErrTargetUnreachable, err)
	}

	var findings []scanning.Finding
	findings = append(findings, scanning.NewFinding(
		task.ID(), task.Target(), scanning.CategoryEndpoint,
		0.9, scanning.RiskLevelLow, "/", "",
	))

	if server := root.Header.Get("Server"); server != "" {
		findings = append(findings, scanning.NewFinding(
			task.ID(), task.Target(), scanning.CategoryInfoDisclosure,
			0.8, scanning.RiskLevelLow, "server banner: "+server, "",
		))
	}

	depth := payloadInt(task.Payload(), "depth", 1)
	probes := pathsPerDepth * depth
	if probes > len(reconPaths) {
		probes = len(reconPaths)
	}

	for _, path := range reconPaths[:probes] {
		page, err := r.fetcher.Get(ctx, joinPath(base, path))
		if err != nil {
			if ctx.Err() != nil {
				return findings, ctx.Err()
			}
			continue
		}

		switch {
		case page.StatusCode >= 200 && page.StatusCode < 300:
			findings = append(findings, scanning.NewFinding(
				task.ID(), task.Target(), scanning.CategoryEndpoint,
				0.85, endpointRisk(path), path, "",
			))
		case page.StatusCode == 401 || page.StatusCode == 403:
			// A protected surface still exists; worth mapping at lower
			// confidence.
			findings = append(findings, scanning.NewFinding(
				task.ID(), task.Target(), scanning.CategoryEndpoint,
				0.6, scanning.RiskLevelLow, path, "",
			))
		}
	}

	span.SetAttributes(attribute.Int("num_findings", len(findings)))
	r.logger.Info(ctx, "reconnaissance complete",
		"target", task.Target(), "depth", depth, "findings", len(findings))
	return findings, nil
}

// endpointRisk rates a discovered path: exposed VCS metadata and admin
// surfaces rank above plain content.
func endpointRisk(path string) scanning.RiskLevel {
	switch path {
	case "/.git/config":
		return scanning.RiskLevelHigh
	case "/admin", "/login":
		return scanning.RiskLevelMedium
	default:
		return scanning.RiskLevelLow
	}
}

// payloadInt reads an int-valued payload parameter, tolerating the numeric
// types that survive JSON round-trips.
func payloadInt(payload map[string]any, key string, fallback int) int {
	v, ok := payload[key]
	if !ok {
		return fallback
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return fallback
	}
}

// payloadString reads a string-valued payload parameter.
func payloadString(payload map[string]any, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}
