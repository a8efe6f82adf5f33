package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRaw() RawScanConfig {
	return RawScanConfig{
		URL:            "http://testphp.vulnweb.com/",
		SQLi:           true,
		XSS:            true,
		CrawlDepth:     2,
		Level:          1,
		Risk:           1,
		Threads:        4,
		TimeoutSeconds: 300,
		XSSWorkers:     10,
	}
}

func TestValidate(t *testing.T) {
	t.Run("accepts a valid config", func(t *testing.T) {
		cfg, err := Validate(validRaw())
		require.NoError(t, err)
		assert.Equal(t, "http://testphp.vulnweb.com/", cfg.URL)
		assert.Equal(t, 2, cfg.CrawlDepth)
		assert.Equal(t, 4, cfg.Threads)
	})

	t.Run("rejects missing URL", func(t *testing.T) {
		raw := validRaw()
		raw.URL = "   "
		_, err := Validate(raw)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMissingURL)
	})

	t.Run("rejects relative and non-http URLs", func(t *testing.T) {
		for _, target := range []string{"/path/only", "ftp://host/file", "not a url", "http://"} {
			raw := validRaw()
			raw.URL = target
			_, err := Validate(raw)
			assert.ErrorIs(t, err, ErrInvalidURL, "url %q", target)
		}
	})

	t.Run("rejects config with both scanners disabled", func(t *testing.T) {
		raw := validRaw()
		raw.SQLi = false
		raw.XSS = false
		_, err := Validate(raw)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNoScannerEnabled)

		var vErr *ValidationError
		require.True(t, errors.As(err, &vErr))
		assert.Equal(t, "sqli/xss", vErr.Field)
	})

	t.Run("clamps numeric fields to their bounds", func(t *testing.T) {
		raw := validRaw()
		raw.CrawlDepth = 99
		raw.Level = 0
		raw.Risk = -3
		raw.Threads = 0
		raw.TimeoutSeconds = -1
		raw.XSSWorkers = 0
		raw.XSSDelayMs = -50

		cfg, err := Validate(raw)
		require.NoError(t, err)
		assert.Equal(t, MaxCrawlDepth, cfg.CrawlDepth)
		assert.Equal(t, MinLevel, cfg.Level)
		assert.Equal(t, MinRisk, cfg.Risk)
		assert.Equal(t, 1, cfg.Threads)
		assert.Equal(t, 1, cfg.TimeoutSeconds)
		assert.Equal(t, 1, cfg.XSSWorkers)
		assert.Equal(t, 0, cfg.XSSDelayMs)
	})

	t.Run("parses newline-delimited headers and drops malformed lines", func(t *testing.T) {
		raw := validRaw()
		raw.CustomHeaders = "Authorization: Bearer abc\n\nnot-a-header\nX-Forwarded-For: 1.2.3.4\n"
		cfg, err := Validate(raw)
		require.NoError(t, err)
		assert.Equal(t, []string{"Authorization: Bearer abc", "X-Forwarded-For: 1.2.3.4"}, cfg.Headers)
	})

	t.Run("defaults tool paths from environment", func(t *testing.T) {
		t.Setenv("SQLMAP_PATH", "/opt/sqlmap/sqlmap.py")
		raw := validRaw()
		cfg, err := Validate(raw)
		require.NoError(t, err)
		assert.Equal(t, "/opt/sqlmap/sqlmap.py", cfg.SQLMapPath)
		assert.Equal(t, DefaultDalfoxPath, cfg.DalfoxPath)
	})

	t.Run("explicit tool path wins over environment", func(t *testing.T) {
		t.Setenv("SQLMAP_PATH", "/opt/sqlmap/sqlmap.py")
		raw := validRaw()
		raw.SQLMapPath = "/usr/local/bin/sqlmap"
		cfg, err := Validate(raw)
		require.NoError(t, err)
		assert.Equal(t, "/usr/local/bin/sqlmap", cfg.SQLMapPath)
	})
}
