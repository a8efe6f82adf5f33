package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/easyinjection/scand/pkg/models"
	"github.com/easyinjection/scand/pkg/scanlog"
)

func collectDalfox(t *testing.T, target string, objects ...string) []models.Vulnerability {
	t.Helper()
	var found []models.Vulnerability
	c := newDalfoxCollector(target, func(v models.Vulnerability) { found = append(found, v) })
	for _, obj := range objects {
		c.consume([]byte(obj))
	}
	return found
}

func TestDalfoxCollector(t *testing.T) {
	t.Run("finding-class events produce vulnerabilities", func(t *testing.T) {
		found := collectDalfox(t, "http://victim.example/",
			`{"type":"V","param":"search","payload":"<script>alert(1)</script>","severity":"high"}`,
			`{"type":"POC","param":"q","payload":"\"><img src=x>","severity":"medium"}`,
			`{"type":"VULN","param":"name","payload":"x","severity":"critical"}`)
		require.Len(t, found, 3)
		for _, v := range found {
			assert.Equal(t, models.VulnXSS, v.Type)
		}
	})

	t.Run("informational events are ignored", func(t *testing.T) {
		found := collectDalfox(t, "http://victim.example/",
			`{"type":"I","msg":"target is alive"}`,
			`{"type":"G","param":"x"}`,
			`{"type":"","param":"x"}`)
		assert.Empty(t, found)
	})

	t.Run("duplicate param and payload pairs collapse", func(t *testing.T) {
		found := collectDalfox(t, "http://victim.example/",
			`{"type":"V","param":"q","payload":"<svg onload=1>"}`,
			`{"type":"POC","param":"q","payload":"<svg onload=1>"}`,
			`{"type":"V","param":"q","payload":"<b>other</b>"}`)
		assert.Len(t, found, 2)
	})

	t.Run("severity mapping", func(t *testing.T) {
		cases := map[string]models.Severity{
			"critical": models.SeverityHigh,
			"high":     models.SeverityHigh,
			"Medium":   models.SeverityMedium,
			"low":      models.SeverityLow,
			"":         models.SeverityLow,
			"weird":    models.SeverityLow,
		}
		for in, want := range cases {
			assert.Equal(t, want, mapDalfoxSeverity(in), "severity %q", in)
		}
	})

	t.Run("missing param and payload get placeholders", func(t *testing.T) {
		found := collectDalfox(t, "http://victim.example/", `{"type":"V"}`)
		require.Len(t, found, 1)
		assert.Equal(t, "unknown", found[0].Parameter)
		assert.Contains(t, found[0].Description, "detected")
	})

	t.Run("malformed objects are skipped", func(t *testing.T) {
		found := collectDalfox(t, "http://victim.example/", `{"type":`)
		assert.Empty(t, found)
	})
}

func TestDalfoxEndpointExtraction(t *testing.T) {
	target := "http://victim.example/"

	t.Run("URL inside data string wins", func(t *testing.T) {
		found := collectDalfox(t, target,
			`{"type":"V","param":"q","payload":"x","data":"[POC] http://victim.example/search?q=payload","url":"http://victim.example/other"}`)
		require.Len(t, found, 1)
		assert.Equal(t, "http://victim.example/search?q=payload", found[0].Endpoint)
	})

	t.Run("data object url field", func(t *testing.T) {
		found := collectDalfox(t, target,
			`{"type":"V","param":"q","payload":"x","data":{"url":"http://victim.example/page?q=1"}}`)
		require.Len(t, found, 1)
		assert.Equal(t, "http://victim.example/page?q=1", found[0].Endpoint)
	})

	t.Run("data object target field", func(t *testing.T) {
		found := collectDalfox(t, target,
			`{"type":"V","param":"q","payload":"x","data":{"target":"http://victim.example/t"}}`)
		require.Len(t, found, 1)
		assert.Equal(t, "http://victim.example/t", found[0].Endpoint)
	})

	t.Run("top-level url field", func(t *testing.T) {
		found := collectDalfox(t, target,
			`{"type":"V","param":"q","payload":"x","url":"http://victim.example/u"}`)
		require.Len(t, found, 1)
		assert.Equal(t, "http://victim.example/u", found[0].Endpoint)
	})

	t.Run("falls back to the scan target", func(t *testing.T) {
		found := collectDalfox(t, target, `{"type":"V","param":"q","payload":"x"}`)
		require.Len(t, found, 1)
		assert.Equal(t, target, found[0].Endpoint)
	})
}

func TestDalfoxScanArgs(t *testing.T) {
	cfg := testScanConfig(t)
	cfg.XSSDelayMs = 150
	cfg.Headers = []string{"Cookie: session=abc"}
	d := &Dalfox{cfg: cfg}

	args := d.scanArgs("http://victim.example/page?q=1")
	assert.Equal(t, []string{"url", "http://victim.example/page?q=1"}, args[:2])
	assert.Contains(t, args, "--format")
	assert.Contains(t, args, "json")
	assert.Contains(t, args, "--silence")
	assert.Contains(t, args, "--no-color")
	assert.Contains(t, args, "--skip-bav")
	assert.Contains(t, args, "--worker")
	assert.Contains(t, args, "--delay")
	assert.Contains(t, args, "150")
	assert.Contains(t, args, "Cookie: session=abc")
}

func TestDalfoxStderrFilter(t *testing.T) {
	log := scanlog.New("scan-1", nil)
	d := &Dalfox{cfg: testScanConfig(t), log: log}

	d.stderrLine("")
	d.stderrLine("  dial tcp: Loopback address rejected")
	d.stderrLine("IPAddressSpace check failed")
	d.stderrLine("could not unmarshal event: unexpected token")
	d.stderrLine("[*] scanning 42 endpoints")
	d.stderrLine("ERROR: target unreachable")
	d.stderrLine("FATAL: panic in worker")

	entries := log.All()
	require.Len(t, entries, 2)
	assert.Equal(t, models.LevelWarning, entries[0].Level)
	assert.Contains(t, entries[0].Message, "target unreachable")
	assert.Equal(t, models.LevelWarning, entries[1].Level)
	assert.Contains(t, entries[1].Message, "panic in worker")
}
