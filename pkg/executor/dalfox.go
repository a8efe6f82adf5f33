package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/easyinjection/scand/pkg/config"
	"github.com/easyinjection/scand/pkg/models"
	"github.com/easyinjection/scand/pkg/scanlog"
	"github.com/easyinjection/scand/pkg/spawn"
)

// urlPattern recovers a target URL from free-form event data when no
// structured field carries one.
var urlPattern = regexp.MustCompile(`https?://[^\s"]+`)

// Dalfox drives the dalfox CLI for one scan.
type Dalfox struct {
	cfg    *config.ScanConfig
	scanID string
	log    *scanlog.Logger
	procs  *Registry
}

// NewDalfox creates the executor.
func NewDalfox(cfg *config.ScanConfig, scanID string, log *scanlog.Logger, procs *Registry) *Dalfox {
	return &Dalfox{cfg: cfg, scanID: scanID, log: log, procs: procs}
}

// CheckAvailability runs `dalfox version` with a short timeout.
func (d *Dalfox) CheckAvailability(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	inv := spawn.Build(d.cfg.DalfoxPath, "version")
	out, err := inv.Command(ctx).Output()
	if err != nil {
		d.log.Log(fmt.Sprintf("dalfox no disponible en '%s': %v", d.cfg.DalfoxPath, err), models.LevelWarning)
		return false
	}
	d.log.Log("dalfox disponible: "+strings.TrimSpace(string(out)), models.LevelSuccess)
	return true
}

func (d *Dalfox) scanArgs(target string) []string {
	args := []string{
		"url", target,
		"--format", "json",
		"--silence",
		"--no-color",
		"--skip-bav",
		"--worker", strconv.Itoa(d.cfg.XSSWorkers),
	}
	if d.cfg.XSSDelayMs > 0 {
		args = append(args, "--delay", strconv.Itoa(d.cfg.XSSDelayMs))
	}
	for _, h := range d.cfg.Headers {
		args = append(args, "--header", h)
	}
	return args
}

// ScanURL runs dalfox against one target, splitting the JSON event stream
// off stdout into findings. A timeout is not an error: whatever was found
// before the deadline is kept.
func (d *Dalfox) ScanURL(ctx context.Context, target string, onFinding func(models.Vulnerability)) error {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(d.cfg.TimeoutSeconds)*time.Second)
	defer cancel()

	inv := spawn.Build(d.cfg.DalfoxPath, d.scanArgs(target)...)
	d.log.LogWith("spawn: "+inv.String(), models.LevelDebug, scanlog.Options{ConsoleOnly: true})

	collector := newDalfoxCollector(target, onFinding)
	splitter := &Splitter{}

	cmd := inv.Command(ctx)
	cmd.Stdout = &chunkWriter{fn: func(chunk []byte) {
		for _, obj := range splitter.Feed(chunk) {
			d.log.LogWith("dalfox: "+string(obj), models.LevelDebug, scanlog.Options{ConsoleOnly: true})
			if vuln, ok := collector.consume(obj); ok {
				d.log.Log(fmt.Sprintf("XSS encontrado: %s en %s", vuln.Parameter, vuln.Endpoint), models.LevelSuccess)
			}
		}
	}}
	stderrSink := newLineWriter(d.stderrLine)
	cmd.Stderr = stderrSink

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting dalfox: %w", err)
	}

	name := "dalfox-" + shortTarget(target)
	handle := spawn.NewHandle(name, cmd)
	d.procs.Track(handle)
	defer d.procs.Untrack(name)

	<-handle.Done()
	stderrSink.Flush()
	if ctx.Err() == context.DeadlineExceeded {
		d.log.Log(fmt.Sprintf("dalfox superó el tiempo límite de %ds, conservando %d hallazgos", d.cfg.TimeoutSeconds, collector.count()), models.LevelWarning)
		return nil
	}
	return handle.Err()
}

// stderrLine forwards one dalfox diagnostic line, dropping network-probe
// noise that dalfox emits on some platforms. ERROR/FATAL lines surface as
// warnings so the scan keeps going.
func (d *Dalfox) stderrLine(line string) {
	line = strings.TrimSpace(line)
	if line == "" ||
		strings.Contains(line, "Loopback") ||
		strings.Contains(line, "IPAddressSpace") ||
		strings.Contains(line, "could not unmarshal event") {
		return
	}
	if strings.Contains(line, "ERROR:") || strings.Contains(line, "FATAL:") {
		d.log.Log("dalfox: "+line, models.LevelWarning)
		return
	}
	d.log.LogWith("dalfox: "+line, models.LevelDebug, scanlog.Options{ConsoleOnly: true})
}

func shortTarget(target string) string {
	target = strings.TrimPrefix(strings.TrimPrefix(target, "https://"), "http://")
	if len(target) > 40 {
		target = target[:40]
	}
	return target
}

// dalfoxEvent mirrors the fields of dalfox's JSON output that matter here.
// The data field is either the PoC string or a nested object depending on
// the event type, so it is decoded lazily.
type dalfoxEvent struct {
	Type     string          `json:"type"`
	Param    string          `json:"param"`
	Payload  string          `json:"payload"`
	Severity string          `json:"severity"`
	URL      string          `json:"url"`
	Data     json.RawMessage `json:"data"`
}

// dalfoxCollector turns finding-class events into vulnerabilities,
// deduplicating on (param, payload) within one target.
type dalfoxCollector struct {
	target    string
	onFinding func(models.Vulnerability)
	seen      map[string]bool
}

func newDalfoxCollector(target string, onFinding func(models.Vulnerability)) *dalfoxCollector {
	return &dalfoxCollector{target: target, onFinding: onFinding, seen: map[string]bool{}}
}

func (c *dalfoxCollector) count() int {
	return len(c.seen)
}

// consume decodes one JSON object and reports whether it yielded a new
// finding. Non-finding events and malformed objects are ignored.
func (c *dalfoxCollector) consume(obj []byte) (models.Vulnerability, bool) {
	var ev dalfoxEvent
	if err := json.Unmarshal(obj, &ev); err != nil {
		return models.Vulnerability{}, false
	}

	switch strings.ToUpper(ev.Type) {
	case "V", "POC", "VULN":
	default:
		return models.Vulnerability{}, false
	}

	param := ev.Param
	if param == "" {
		param = "unknown"
	}
	payload := ev.Payload
	if payload == "" {
		payload = "detected"
	}

	key := param + "|" + payload
	if c.seen[key] {
		return models.Vulnerability{}, false
	}
	c.seen[key] = true

	vuln := models.Vulnerability{
		Type:        models.VulnXSS,
		Severity:    mapDalfoxSeverity(ev.Severity),
		Endpoint:    c.endpoint(ev),
		Parameter:   param,
		Description: fmt.Sprintf("XSS reflejado en parámetro '%s' (payload: %s)", param, payload),
	}
	c.onFinding(vuln)
	return vuln, true
}

// endpoint extracts the affected URL, preferring structured fields over a
// regex sweep of the raw data, falling back to the scan target.
func (c *dalfoxCollector) endpoint(ev dalfoxEvent) string {
	if len(ev.Data) > 0 {
		var asString string
		if err := json.Unmarshal(ev.Data, &asString); err == nil {
			if m := urlPattern.FindString(asString); m != "" {
				return m
			}
		}
		var asObject struct {
			URL    string `json:"url"`
			Target string `json:"target"`
		}
		if err := json.Unmarshal(ev.Data, &asObject); err == nil {
			if asObject.URL != "" {
				return asObject.URL
			}
			if asObject.Target != "" {
				return asObject.Target
			}
		}
		if m := urlPattern.Find(ev.Data); m != nil {
			return string(m)
		}
	}
	if ev.URL != "" {
		return ev.URL
	}
	return c.target
}

func mapDalfoxSeverity(s string) models.Severity {
	switch strings.ToLower(s) {
	case "critical", "high":
		return models.SeverityHigh
	case "medium":
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}
