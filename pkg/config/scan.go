// Package config holds scan configuration parsing and validation.
package config

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Bounds for the numeric scan parameters. Out-of-range values are clamped,
// not rejected.
const (
	MinCrawlDepth = 1
	MaxCrawlDepth = 5
	MinLevel      = 1
	MaxLevel      = 5
	MinRisk       = 1
	MaxRisk       = 3
)

// Default tool paths, overridable via environment.
const (
	DefaultSQLMapPath = "sqlmap"
	DefaultDalfoxPath = "dalfox"
)

// RawScanConfig is the unvalidated configuration record as it arrives from
// the transport.
type RawScanConfig struct {
	URL                string `json:"url"`
	SQLi               bool   `json:"sqli"`
	XSS                bool   `json:"xss"`
	DBMS               string `json:"dbms,omitempty"`
	CrawlDepth         int    `json:"crawl_depth"`
	Level              int    `json:"level"`
	Risk               int    `json:"risk"`
	Threads            int    `json:"threads"`
	TimeoutSeconds     int    `json:"timeout_seconds"`
	XSSWorkers         int    `json:"xss_workers"`
	XSSDelayMs         int    `json:"xss_delay_ms"`
	EnableExploitation bool   `json:"enable_exploitation"`
	CustomHeaders      string `json:"custom_headers,omitempty"`
	SQLMapPath         string `json:"sqlmap_path,omitempty"`
	DalfoxPath         string `json:"dalfox_path,omitempty"`
	OutputDir          string `json:"output_dir,omitempty"`
	TempDir            string `json:"temp_dir,omitempty"`
}

// ScanConfig is the normalized, immutable scan configuration.
type ScanConfig struct {
	URL                string
	SQLi               bool
	XSS                bool
	DBMS               string
	CrawlDepth         int
	Level              int
	Risk               int
	Threads            int
	TimeoutSeconds     int
	XSSWorkers         int
	XSSDelayMs         int
	EnableExploitation bool
	Headers            []string
	SQLMapPath         string
	DalfoxPath         string
	OutputDir          string
	TempDir            string
}

// Validate normalizes a raw configuration record into a ScanConfig.
// Structural problems (URL, scanner flags) are errors; numeric fields are
// clamped to their valid ranges.
func Validate(raw RawScanConfig) (*ScanConfig, error) {
	target := strings.TrimSpace(raw.URL)
	if target == "" {
		return nil, NewValidationError("url", ErrMissingURL)
	}
	parsed, err := url.Parse(target)
	if err != nil || !parsed.IsAbs() || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, NewValidationError("url", ErrInvalidURL)
	}

	if !raw.SQLi && !raw.XSS {
		return nil, NewValidationError("sqli/xss", ErrNoScannerEnabled)
	}

	cfg := &ScanConfig{
		URL:                target,
		SQLi:               raw.SQLi,
		XSS:                raw.XSS,
		DBMS:               strings.TrimSpace(raw.DBMS),
		CrawlDepth:         clamp(raw.CrawlDepth, MinCrawlDepth, MaxCrawlDepth),
		Level:              clamp(raw.Level, MinLevel, MaxLevel),
		Risk:               clamp(raw.Risk, MinRisk, MaxRisk),
		Threads:            max(raw.Threads, 1),
		TimeoutSeconds:     max(raw.TimeoutSeconds, 1),
		XSSWorkers:         max(raw.XSSWorkers, 1),
		XSSDelayMs:         max(raw.XSSDelayMs, 0),
		EnableExploitation: raw.EnableExploitation,
		Headers:            parseHeaders(raw.CustomHeaders),
		SQLMapPath:         firstNonEmpty(raw.SQLMapPath, os.Getenv("SQLMAP_PATH"), DefaultSQLMapPath),
		DalfoxPath:         firstNonEmpty(raw.DalfoxPath, os.Getenv("DALFOX_PATH"), DefaultDalfoxPath),
		OutputDir:          raw.OutputDir,
		TempDir:            raw.TempDir,
	}

	if cfg.OutputDir == "" {
		cfg.OutputDir = filepath.Join(os.TempDir(), "easyinjection_scans")
	}
	if cfg.TempDir == "" {
		cfg.TempDir = filepath.Join(os.TempDir(), "easyinjection_sqlmap_tmp")
	}

	return cfg, nil
}

// ScanOutputDir returns the per-scan output directory.
func (c *ScanConfig) ScanOutputDir(scanID string) string {
	return filepath.Join(c.OutputDir, "scan_"+scanID)
}

// parseHeaders splits a newline-delimited "Name: Value" list, dropping
// malformed lines.
func parseHeaders(s string) []string {
	var headers []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !strings.Contains(line, ":") {
			continue
		}
		headers = append(headers, line)
	}
	return headers
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
