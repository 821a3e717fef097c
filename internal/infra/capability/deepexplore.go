package capability

import (
	"context"
	"strings"

	regexp "github.com/wasilibs/go-re2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/threatswarm/internal/app/correlation"
	"github.com/ahrav/threatswarm/internal/domain/scanning"
	"github.com/ahrav/threatswarm/pkg/common/logger"
)

// backupSuffixes are appended to a candidate path when hunting for editor
// droppings and forgotten backups next to a live resource.
var backupSuffixes = []string{"~", ".bak", ".old", ".orig", ".swp"}

// sensitiveFiles are probed relative to a candidate directory.
var sensitiveFiles = []string{".env", "config.php.bak", "web.config", "backup.sql"}

// tokenPattern matches credential-shaped strings: long runs of key-like
// characters. Entropy filtering decides which matches are reported.
var tokenPattern = regexp.MustCompile(`[A-Za-z0-9+/_\-]{24,64}`)

// minTokenEntropy is the entropy floor below which a matched token is
// considered encoded text rather than secret material.
const minTokenEntropy = 4.3

// DeepExplore follows up on candidates surfaced by the parallel scan phase:
// it probes for backup and configuration artifacts near a known resource and
// sifts fetched content for credential-shaped tokens.
type DeepExplore struct {
	fetcher *Fetcher

	logger *logger.Logger
	tracer trace.Tracer
}

// NewDeepExplore creates the deep-exploration capability.
func NewDeepExplore(fetcher *Fetcher, log *logger.Logger, tracer trace.Tracer) *DeepExplore {
	return &DeepExplore{
		fetcher: fetcher,
		logger:  log.With("component", "deepexplore_capability"),
		tracer:  tracer,
	}
}

// Scan implements scanning.ScanCapability. The payload's candidate is the
// path or evidence string the previous phase flagged; exploration fans out
// from it.
func (d *DeepExplore) Scan(ctx context.Context, task *scanning.Task) ([]scanning.Finding, error) {
	ctx, span := d.tracer.Start(ctx, "deepexplore_capability.scan",
		trace.WithAttributes(attribute.String("target", task.Target())))
	defer span.End()

	base := baseURL(task.Target())
	candidate := payloadString(task.Payload(), "candidate")
	if !strings.HasPrefix(candidate, "/") {
		candidate = "/"
	}

	var findings []scanning.Finding
	for _, probe := range probePaths(candidate) {
		page, err := d.fetcher.Get(ctx, joinPath(base, probe))
		if err != nil {
			if ctx.Err() != nil {
				return findings, ctx.Err()
			}
			continue
		}
		if page.StatusCode != 200 || page.Body == "" {
			continue
		}

		findings = append(findings, scanning.NewFinding(
			task.ID(), task.Target(), scanning.CategoryMisconfiguration,
			0.85, scanning.RiskLevelHigh, "exposed artifact: "+probe, "artifact:"+probe,
		))
		findings = append(findings, d.tokenFindings(task, probe, page.Body)...)
	}

	span.SetAttributes(attribute.Int("num_findings", len(findings)))
	d.logger.Info(ctx, "deep exploration complete",
		"target", task.Target(), "candidate", candidate, "findings", len(findings))
	return findings, nil
}

// tokenFindings reports high-entropy credential-shaped tokens in fetched
// content. Fingerprints hash the token itself so a secret reused across
// targets correlates.
func (d *DeepExplore) tokenFindings(task *scanning.Task, path, body string) []scanning.Finding {
	var findings []scanning.Finding
	for _, token := range dedupe(tokenPattern.FindAllString(body, -1)) {
		if shannonEntropy(token) < minTokenEntropy {
			continue
		}
		findings = append(findings, scanning.NewFinding(
			task.ID(), task.Target(), scanning.CategoryCredential,
			entropyConfidence(token), scanning.RiskLevelHigh,
			"high-entropy token at "+path+": "+redact(token),
			correlation.Fingerprint(token),
		))
	}
	return findings
}

// probePaths derives the artifact probe set for a candidate path.
func probePaths(candidate string) []string {
	probes := make([]string, 0, len(backupSuffixes)+len(sensitiveFiles))

	if candidate != "/" {
		trimmed := strings.TrimRight(candidate, "/")
		for _, suffix := range backupSuffixes {
			probes = append(probes, trimmed+suffix)
		}
	}

	dir := candidate
	if i := strings.LastIndexByte(strings.TrimRight(dir, "/"), '/'); i >= 0 {
		dir = dir[:i+1]
	}
	for _, file := range sensitiveFiles {
		probes = append(probes, dir+file)
	}
	return probes
}
