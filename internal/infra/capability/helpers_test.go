package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ahrav/threatswarm/internal/domain/scanning"
)

func TestShannonEntropy(t *testing.T) {
	t.Parallel()

	assert.Zero(t, shannonEntropy(""))
	assert.Zero(t, shannonEntropy("aaaa"), "a single repeated symbol carries no information")
	assert.InDelta(t, 1.0, shannonEntropy("abab"), 1e-9)
	assert.Greater(t, shannonEntropy("x9!Kq2#mZp8@Lr4$"), shannonEntropy("password"))
}

func TestEntropyConfidence(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0.5, entropyConfidence(""), "confidence never drops below the floor")
	assert.Equal(t, 0.5, entropyConfidence("aaaaaaaa"))

	random := entropyConfidence("q9LmZ2xV8pK4rW7tY1nB5cD3")
	assert.Greater(t, random, 0.5)
	assert.LessOrEqual(t, random, 1.0)
}

func TestBaseURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		target string
		want   string
	}{
		{target: "example.com", want: "http://example.com"},
		{target: "example.com/", want: "http://example.com"},
		{target: "http://example.com", want: "http://example.com"},
		{target: "https://example.com/", want: "https://example.com"},
		{target: "  example.com  ", want: "http://example.com"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, baseURL(tt.target), "target %q", tt.target)
	}
}

func TestJoinPath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "http://a/", joinPath("http://a", ""))
	assert.Equal(t, "http://a/", joinPath("http://a", "/"))
	assert.Equal(t, "http://a/api", joinPath("http://a", "/api"))
	assert.Equal(t, "http://a/api", joinPath("http://a", "api"))
}

func TestPayloadHelpers(t *testing.T) {
	t.Parallel()

	payload := map[string]any{
		"int":    3,
		"float":  2.0,
		"string": "value",
		"wrong":  []string{"x"},
	}

	assert.Equal(t, 3, payloadInt(payload, "int", 1))
	assert.Equal(t, 2, payloadInt(payload, "float", 1), "JSON numbers arrive as float64")
	assert.Equal(t, 1, payloadInt(payload, "missing", 1))
	assert.Equal(t, 1, payloadInt(payload, "wrong", 1))
	assert.Equal(t, "value", payloadString(payload, "string"))
	assert.Empty(t, payloadString(payload, "missing"))
	assert.Empty(t, payloadString(nil, "anything"))
}

func TestRedact(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "abcd********", redact("abcdefghijkl"))
	assert.Equal(t, "***", redact("abc"), "short secrets are fully masked")
	assert.NotContains(t, redact("ghp_supersecrettoken"), "supersecrettoken")
}

func TestSameSiteAndNormalizeLink(t *testing.T) {
	t.Parallel()

	assert.True(t, sameSite("/about"))
	assert.True(t, sameSite("about.html"))
	assert.False(t, sameSite(""))
	assert.False(t, sameSite("https://elsewhere.test/x"))
	assert.False(t, sameSite("//cdn.test/app.js"))
	assert.False(t, sameSite("mailto:dev@example.com"))
	assert.False(t, sameSite("javascript:void(0)"))

	assert.Equal(t, "/about", normalizeLink("about"))
	assert.Equal(t, "/search", normalizeLink("/search?q=test"))
}

func TestProbePaths(t *testing.T) {
	t.Parallel()

	probes := probePaths("/app/config.php")
	assert.Contains(t, probes, "/app/config.php.bak")
	assert.Contains(t, probes, "/app/config.php~")
	assert.Contains(t, probes, "/app/.env")
	assert.Contains(t, probes, "/app/backup.sql")

	// Root candidate probes sensitive files only; "/~" is not a backup of
	// anything.
	rootProbes := probePaths("/")
	assert.NotContains(t, rootProbes, "/~")
	assert.Contains(t, rootProbes, "/.env")
}

func TestEndpointRisk(t *testing.T) {
	t.Parallel()

	assert.Equal(t, scanning.RiskLevelHigh, endpointRisk("/.git/config"))
	assert.Equal(t, scanning.RiskLevelMedium, endpointRisk("/admin"))
	assert.Equal(t, scanning.RiskLevelLow, endpointRisk("/robots.txt"))
}
