package capability

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	"github.com/zricethezav/gitleaks/v8/report"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/threatswarm/internal/app/correlation"
	"github.com/ahrav/threatswarm/internal/domain/scanning"
	"github.com/ahrav/threatswarm/pkg/common/logger"
)

// huntPaths are the content surfaces the pattern hunter pulls and runs the
// detection engine over. Client-side bundles and dotfiles are where leaked
// credentials most often surface.
var huntPaths = []string{
	"/",
	"/.env",
	"/config.js",
	"/app.js",
	"/main.js",
	"/config.json",
}

// PatternHunt detects leaked secrets in target content by running the
// Gitleaks detection engine over fetched pages. One detector instance is
// shared by every invocation; the engine is safe for concurrent detection.
type PatternHunt struct {
	fetcher  *Fetcher
	detector *detect.Detector

	logger *logger.Logger
	tracer trace.Tracer
}

// NewPatternHunt creates the secret-hunting capability with a detector built
// from the engine's embedded default ruleset.
func NewPatternHunt(fetcher *Fetcher, log *logger.Logger, tracer trace.Tracer) (*PatternHunt, error) {
	detector, err := setupDetector()
	if err != nil {
		return nil, err
	}
	return &PatternHunt{
		fetcher:  fetcher,
		detector: detector,
		logger:   log.With("component", "patternhunt_capability"),
		tracer:   tracer,
	}, nil
}

// setupDetector initializes the Gitleaks detector using the embedded default configuration.
func setupDetector() (*detect.Detector, error) {
	viper.SetConfigType("toml")
	if err := viper.ReadConfig(bytes.NewBufferString(config.DefaultConfig)); err != nil {
		return nil, fmt.Errorf("failed to read embedded config: %w", err)
	}

	var vc config.ViperConfig
	if err := viper.Unmarshal(&vc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal embedded config: %w", err)
	}

	cfg, err := vc.Translate()
	if err != nil {
		return nil, fmt.Errorf("failed to translate ViperConfig to Config: %w", err)
	}

	return detect.NewDetector(cfg), nil
}

// Scan implements scanning.ScanCapability. Fetch failures on individual
// paths are skipped; the hunt succeeds with whatever content it could pull.
func (p *PatternHunt) Scan(ctx context.Context, task *scanning.Task) ([]scanning.Finding, error) {
	ctx, span := p.tracer.Start(ctx, "patternhunt_capability.scan",
		trace.WithAttributes(attribute.String("target", task.Target())))
	defer span.End()

	base := baseURL(task.Target())

	var findings []scanning.Finding
	fetched := 0
	for _, path := range huntPaths {
		page, err := p.fetcher.Get(ctx, joinPath(base, path))
		if err != nil {
			if ctx.Err() != nil {
				span.SetStatus(codes.Error, "scan interrupted")
				return findings, ctx.Err()
			}
			continue
		}
		if page.StatusCode != 200 || page.Body == "" {
			continue
		}
		fetched++

		for _, leak := range p.detector.DetectString(page.Body) {
			findings = append(findings, p.toFinding(task, path, leak))
		}
	}

	span.SetAttributes(
		attribute.Int("pages_fetched", fetched),
		attribute.Int("num_findings", len(findings)),
	)
	p.logger.Info(ctx, "pattern hunt complete",
		"target", task.Target(), "pages", fetched, "findings", len(findings))
	return findings, nil
}

// toFinding converts an engine detection into a domain finding. The
// fingerprint hashes the raw secret so the same credential correlates across
// targets regardless of where in the page it leaked; the evidence context
// carries the rule and a redacted excerpt, never the full secret.
func (p *PatternHunt) toFinding(task *scanning.Task, path string, leak report.Finding) scanning.Finding {
	return scanning.NewFinding(
		task.ID(),
		task.Target(),
		scanning.CategoryCredential,
		entropyConfidence(leak.Secret),
		scanning.RiskLevelCritical,
		fmt.Sprintf("%s at %s: %s", leak.RuleID, path, redact(leak.Secret)),
		correlation.Fingerprint(leak.Secret),
	)
}

// redact keeps just enough of a secret to identify it in a report.
func redact(secret string) string {
	const visible = 4
	if len(secret) <= visible {
		return strings.Repeat("*", len(secret))
	}
	return secret[:visible] + strings.Repeat("*", len(secret)-visible)
}
