package capability

import (
	"context"
	"strings"

	regexp "github.com/wasilibs/go-re2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/threatswarm/internal/domain/scanning"
	"github.com/ahrav/threatswarm/pkg/common/logger"
)

// Crawl bounds so a link-dense target cannot turn one task into an unbounded
// walk.
const (
	maxCrawlFetches  = 12
	maxLinkFindings  = 10
	maxCommentLength = 120
)

var (
	hrefPattern    = regexp.MustCompile(`(?i)(?:href|src|action)=["']([^"'#]+)["']`)
	commentPattern = regexp.MustCompile(`<!--([\s\S]*?)-->`)
	emailPattern   = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
)

// commentKeywords flag HTML comments worth reporting. Developer chatter in
// shipped markup routinely leaks internals.
var commentKeywords = []string{"todo", "fixme", "password", "debug", "internal", "staging", "api key"}

// WebCrawl walks a target's pages breadth-first from a seed endpoint,
// mapping same-site links and flagging disclosures in markup.
type WebCrawl struct {
	fetcher *Fetcher

	logger *logger.Logger
	tracer trace.Tracer
}

// NewWebCrawl creates the crawling capability.
func NewWebCrawl(fetcher *Fetcher, log *logger.Logger, tracer trace.Tracer) *WebCrawl {
	return &WebCrawl{
		fetcher: fetcher,
		logger:  log.With("component", "webcrawl_capability"),
		tracer:  tracer,
	}
}

// Scan implements scanning.ScanCapability. The payload's endpoint seeds the
// crawl; depth bounds how many link levels are followed.
func (w *WebCrawl) Scan(ctx context.Context, task *scanning.Task) ([]scanning.Finding, error) {
	ctx, span := w.tracer.Start(ctx, "webcrawl_capability.scan",
		trace.WithAttributes(attribute.String("target", task.Target())))
	defer span.End()

	base := baseURL(task.Target())
	seed := payloadString(task.Payload(), "endpoint")
	if seed == "" {
		seed = "/"
	}
	depth := payloadInt(task.Payload(), "depth", 1)

	type frontier struct {
		path  string
		level int
	}

	visited := map[string]struct{}{}
	queue := []frontier{{path: seed, level: 0}}

	var findings []scanning.Finding
	links := 0
	fetches := 0

	for len(queue) > 0 && fetches < maxCrawlFetches {
		next := queue[0]
		queue = queue[1:]
		if _, seen := visited[next.path]; seen {
			continue
		}
		visited[next.path] = struct{}{}

		page, err := w.fetcher.Get(ctx, joinPath(base, next.path))
		if err != nil {
			if ctx.Err() != nil {
				return findings, ctx.Err()
			}
			continue
		}
		fetches++
		if page.StatusCode != 200 {
			continue
		}

		for _, m := range hrefPattern.FindAllStringSubmatch(page.Body, -1) {
			link := m[1]
			if !sameSite(link) {
				continue
			}
			link = normalizeLink(link)
			if _, seen := visited[link]; seen {
				continue
			}

			if links < maxLinkFindings {
				findings = append(findings, scanning.NewFinding(
					task.ID(), task.Target(), scanning.CategoryEndpoint,
					0.7, scanning.RiskLevelLow, link, "",
				))
				links++
			}
			if next.level+1 < depth {
				queue = append(queue, frontier{path: link, level: next.level + 1})
			}
		}

		findings = append(findings, w.disclosures(task, page)...)
	}

	span.SetAttributes(
		attribute.Int("pages_fetched", fetches),
		attribute.Int("num_findings", len(findings)),
	)
	w.logger.Info(ctx, "crawl complete",
		"target", task.Target(), "seed", seed, "pages", fetches, "findings", len(findings))
	return findings, nil
}

// disclosures flags leaky markup: developer comments and exposed email
// addresses.
func (w *WebCrawl) disclosures(task *scanning.Task, page *Page) []scanning.Finding {
	var findings []scanning.Finding

	for _, m := range commentPattern.FindAllStringSubmatch(page.Body, -1) {
		comment := strings.TrimSpace(m[1])
		lower := strings.ToLower(comment)
		for _, kw := range commentKeywords {
			if strings.Contains(lower, kw) {
				if len(comment) > maxCommentLength {
					comment = comment[:maxCommentLength]
				}
				findings = append(findings, scanning.NewFinding(
					task.ID(), task.Target(), scanning.CategoryInfoDisclosure,
					0.75, scanning.RiskLevelMedium, "html comment: "+comment, "",
				))
				break
			}
		}
	}

	for _, email := range dedupe(emailPattern.FindAllString(page.Body, -1)) {
		findings = append(findings, scanning.NewFinding(
			task.ID(), task.Target(), scanning.CategoryInfoDisclosure,
			0.6, scanning.RiskLevelLow, "email address: "+email, "",
		))
	}
	return findings
}

// sameSite reports whether a link stays on the crawled host. Absolute URLs
// and protocol-relative links leave the scan scope.
func sameSite(link string) bool {
	if link == "" {
		return false
	}
	if strings.HasPrefix(link, "http://") || strings.HasPrefix(link, "https://") ||
		strings.HasPrefix(link, "//") || strings.HasPrefix(link, "mailto:") ||
		strings.HasPrefix(link, "javascript:") || strings.HasPrefix(link, "data:") {
		return false
	}
	return true
}

func normalizeLink(link string) string {
	if i := strings.IndexByte(link, '?'); i >= 0 {
		link = link[:i]
	}
	if !strings.HasPrefix(link, "/") {
		link = "/" + link
	}
	return link
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := values[:0]
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
