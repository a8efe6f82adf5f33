package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/easyinjection/scand/pkg/config"
	"github.com/easyinjection/scand/pkg/events"
	"github.com/easyinjection/scand/pkg/models"
	"github.com/easyinjection/scand/pkg/scanlog"
	"github.com/easyinjection/scand/pkg/spawn"
)

// TestPhase selects the per-phase sqlmap flags.
type TestPhase string

const (
	PhaseDetection   TestPhase = "detection"
	PhaseFingerprint TestPhase = "fingerprint"
	PhaseExploit     TestPhase = "exploit"
)

// crawlDonePattern is the stdout line that signals the crawl finished
// collecting targets; sqlmap would next start testing them, which the crawl
// run does not need.
var crawlDonePattern = regexp.MustCompile(`(?i)\[?\d{2}:\d{2}:\d{2}\]?.*\[INFO\]\s+found a total of \d+ targets`)

// vulnPattern marks a line reporting an injectable parameter.
var vulnPattern = regexp.MustCompile(`(?i)vulnerable|injectable|injection point`)

// paramHeaderPattern tracks sqlmap's "Parameter: id (GET)" result headers so
// later vulnerable lines can be attributed.
var paramHeaderPattern = regexp.MustCompile(`(?i)parameter:\s*'?([^\s'(]+)'?`)

// timestampPrefix strips sqlmap's leading clock and level tag for
// user-visible messages.
var timestampPrefix = regexp.MustCompile(`^\[?\d{2}:\d{2}:\d{2}\]?\s*(\[[A-Z]+\]\s*)?`)

// noisePatterns filter sqlmap output that is useless to the learner: run
// banners, payload dumps, interactive prompts, thread chatter and place
// selectors. The legal disclaimer and version stamp are additionally
// filtered by the scan logger itself.
var noisePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)legal disclaimer`),
	regexp.MustCompile(`(?i)starting @|ending @`),
	regexp.MustCompile(`^\[\*\]`),
	regexp.MustCompile(`(?i)\[payload\]`),
	regexp.MustCompile(`(?i)do you want to|how do you want to proceed`),
	regexp.MustCompile(`(?i)\(--threads\)`),
	regexp.MustCompile(`(?i)other \(non-custom\) places`),
}

// techniquePattern extracts the injection technique named on a finding line.
var techniquePattern = regexp.MustCompile(`(?i)(boolean-based|time-based|error-based|union|stacked)`)

// CrawlResult is the parsed output of a crawl CSV.
type CrawlResult struct {
	Endpoints  []*models.Endpoint
	Parameters []*models.Parameter
}

// TargetsFiles describes the sidecar target lists written next to the scan
// output.
type TargetsFiles struct {
	GetPath   string
	PostPath  string
	GetCount  int
	PostCount int
}

// SQLMap drives the sqlmap CLI for one scan.
type SQLMap struct {
	cfg    *config.ScanConfig
	scanID string
	bus    *events.Bus
	log    *scanlog.Logger
	procs  *Registry
}

// NewSQLMap creates the executor. procs receives every spawned process.
func NewSQLMap(cfg *config.ScanConfig, scanID string, bus *events.Bus, log *scanlog.Logger, procs *Registry) *SQLMap {
	return &SQLMap{cfg: cfg, scanID: scanID, bus: bus, log: log, procs: procs}
}

// CheckAvailability runs `sqlmap --version` with a short timeout and reports
// whether the tool responded. Failure is logged as a warning; the scan
// continues degraded.
func (s *SQLMap) CheckAvailability(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	inv := spawn.Build(s.cfg.SQLMapPath, "--version")
	out, err := inv.Command(ctx).Output()
	if err != nil {
		s.log.Log(fmt.Sprintf("sqlmap no disponible en '%s': %v", s.cfg.SQLMapPath, err), models.LevelWarning)
		return false
	}
	s.log.Log("sqlmap disponible: "+strings.TrimSpace(string(out)), models.LevelSuccess)
	return true
}

// crawlArgs builds the argument list for the crawl invocation.
func (s *SQLMap) crawlArgs() []string {
	args := []string{
		"-u", s.cfg.URL,
		"--crawl", strconv.Itoa(s.cfg.CrawlDepth),
		"--forms",
		"--batch",
		"--random-agent",
		"--threads", strconv.Itoa(s.cfg.Threads),
		"--tmp-dir", s.cfg.TempDir,
		"-v", "1",
		"--answers", "follow=N,quit=N",
	}
	return s.appendCommonArgs(args)
}

func (s *SQLMap) appendCommonArgs(args []string) []string {
	if s.cfg.DBMS != "" {
		args = append(args, "--dbms", s.cfg.DBMS)
	}
	for _, h := range s.cfg.Headers {
		args = append(args, "--header", h)
	}
	return args
}

// RunCrawl spawns the crawl, watches stdout for the targets-found line,
// terminates the process gracefully, and recovers the results CSV from the
// temp directory. Emits crawler:finished with the CSV path on success,
// crawler:failed otherwise.
func (s *SQLMap) RunCrawl(ctx context.Context) (string, error) {
	if err := os.MkdirAll(s.cfg.TempDir, 0o755); err != nil {
		return "", fmt.Errorf("creating sqlmap temp dir: %w", err)
	}

	inv := spawn.Build(s.cfg.SQLMapPath, s.crawlArgs()...)
	s.log.LogWith("spawn: "+inv.String(), models.LevelDebug, scanlog.Options{ConsoleOnly: true})

	// The crawl is cut short once it announces its target count; sqlmap
	// would otherwise start testing them, which later phases do themselves.
	crawlDone := make(chan struct{})
	var doneOnce sync.Once
	sink := newLineWriter(func(line string) {
		s.logToolLine(line)
		if crawlDonePattern.MatchString(line) {
			s.log.Log("rastreo completado, recuperando objetivos", models.LevelInfo)
			doneOnce.Do(func() { close(crawlDone) })
		}
	})

	cmd := inv.Command(ctx)
	cmd.Stdout = sink
	cmd.Stderr = sink
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("starting sqlmap crawl: %w", err)
	}

	handle := spawn.NewHandle("sqlmap-crawl", cmd)
	s.procs.Track(handle)
	defer s.procs.Untrack(handle.Name())

	go func() {
		select {
		case <-crawlDone:
			handle.Terminate(spawn.KillGrace)
		case <-handle.Done():
		}
	}()

	timeout := time.Duration(s.cfg.TimeoutSeconds) * time.Second
	if !handle.WaitTimeout(timeout) {
		s.log.Log(fmt.Sprintf("el rastreo superó el tiempo límite de %ds", s.cfg.TimeoutSeconds), models.LevelWarning)
		handle.Terminate(spawn.KillGrace)
		handle.WaitTimeout(5 * time.Second)
	}
	sink.Flush()

	// CSV recovery: the crawl process was cut short on purpose, so the
	// results file may land a moment after exit.
	csvPath, found := s.recoverCSV(ctx)
	if !found {
		s.bus.Publish(events.Event{
			Type:    events.EventCrawlerFailed,
			ScanID:  s.scanID,
			Payload: events.CrawlerFailedPayload{Reason: "no results CSV produced"},
		})
		return "", nil
	}

	s.bus.Publish(events.Event{
		Type:    events.EventCrawlerFinished,
		ScanID:  s.scanID,
		Payload: events.CrawlerFinishedPayload{CSVPath: csvPath},
	})
	return csvPath, nil
}

func (s *SQLMap) recoverCSV(ctx context.Context) (string, bool) {
	for attempt := 0; attempt < 3; attempt++ {
		if path, ok := FindRecentCSV(s.cfg.TempDir, time.Hour); ok {
			return path, true
		}
		select {
		case <-ctx.Done():
			return "", false
		case <-time.After(2 * time.Second):
		}
	}
	return "", false
}

// FindRecentCSV returns the newest CSV under dir modified within maxAge.
// The sqlmap temp directory is shared across scans, so older files are
// ignored.
func FindRecentCSV(dir string, maxAge time.Duration) (string, bool) {
	var candidates []string
	mtimes := map[string]time.Time{}

	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".csv") {
			return nil
		}
		info, err := d.Info()
		if err != nil || time.Since(info.ModTime()) > maxAge {
			return nil
		}
		candidates = append(candidates, path)
		mtimes[path] = info.ModTime()
		return nil
	})

	if len(candidates) == 0 {
		return "", false
	}
	sort.Slice(candidates, func(i, j int) bool {
		return mtimes[candidates[i]].After(mtimes[candidates[j]])
	})
	return candidates[0], true
}

// ParseCrawlCSV reads a crawl results CSV into unique endpoints and
// parameters. Each row is `<url>[,<postData>]`; the first comma separates
// the URL from the POST body, and a row without a comma is a GET target.
func ParseCrawlCSV(path string) (*CrawlResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading crawl CSV: %w", err)
	}
	return parseCrawlRows(strings.Split(string(data), "\n")), nil
}

func parseCrawlRows(rows []string) *CrawlResult {
	endpoints := map[string]*models.Endpoint{}
	params := map[string]*models.Parameter{}
	var endpointOrder []string

	for _, row := range rows {
		row = strings.TrimSpace(row)
		if row == "" || !strings.HasPrefix(strings.ToLower(row), "http") {
			continue
		}

		rawURL := row
		postData := ""
		method := models.MethodGet
		if idx := strings.Index(row, ","); idx >= 0 {
			rawURL = row[:idx]
			postData = strings.TrimSpace(row[idx+1:])
			if postData != "" {
				method = models.MethodPost
			}
		}

		ep := &models.Endpoint{
			URL:        rawURL,
			Method:     method,
			Parameters: map[string]bool{},
			PostData:   postData,
		}
		if existing, ok := endpoints[ep.Key()]; ok {
			ep = existing
		} else {
			endpoints[ep.Key()] = ep
			endpointOrder = append(endpointOrder, ep.Key())
		}

		for name, loc := range extractParams(rawURL, postData) {
			ep.Parameters[name] = true
			p := &models.Parameter{
				Endpoint: rawURL,
				Method:   method,
				Name:     name,
				Location: loc,
				Testable: true,
			}
			if _, ok := params[p.Key()]; !ok {
				params[p.Key()] = p
			}
		}
	}

	result := &CrawlResult{}
	for _, key := range endpointOrder {
		result.Endpoints = append(result.Endpoints, endpoints[key])
	}
	for _, p := range params {
		result.Parameters = append(result.Parameters, p)
	}
	sort.Slice(result.Parameters, func(i, j int) bool {
		return result.Parameters[i].Key() < result.Parameters[j].Key()
	})
	return result
}

// extractParams pulls query parameters from the URL and body parameters
// from the POST payload. Empty keys are dropped.
func extractParams(rawURL, postData string) map[string]models.ParamLocation {
	out := map[string]models.ParamLocation{}
	if idx := strings.Index(rawURL, "?"); idx >= 0 {
		for _, name := range splitPairs(rawURL[idx+1:]) {
			out[name] = models.LocationQuery
		}
	}
	for _, name := range splitPairs(postData) {
		out[name] = models.LocationBody
	}
	return out
}

func splitPairs(qs string) []string {
	var names []string
	for _, pair := range strings.Split(qs, "&") {
		name := pair
		if idx := strings.Index(pair, "="); idx >= 0 {
			name = pair[:idx]
		}
		name = strings.TrimSpace(name)
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}

// WriteTargetsFiles writes the GET and POST sidecar lists under dir.
// POST targets are encoded as `url|||postData` per line.
func WriteTargetsFiles(result *CrawlResult, dir string) (*TargetsFiles, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating scan output dir: %w", err)
	}

	var gets, posts []string
	for _, ep := range result.Endpoints {
		if ep.Method == models.MethodPost {
			posts = append(posts, ep.URL+"|||"+ep.PostData)
		} else {
			gets = append(gets, ep.URL)
		}
	}

	files := &TargetsFiles{
		GetPath:   filepath.Join(dir, "get_targets.txt"),
		PostPath:  filepath.Join(dir, "post_targets.txt"),
		GetCount:  len(gets),
		PostCount: len(posts),
	}
	if err := os.WriteFile(files.GetPath, []byte(strings.Join(gets, "\n")), 0o644); err != nil {
		return nil, fmt.Errorf("writing GET targets: %w", err)
	}
	if err := os.WriteFile(files.PostPath, []byte(strings.Join(posts, "\n")), 0o644); err != nil {
		return nil, fmt.Errorf("writing POST targets: %w", err)
	}
	return files, nil
}

// TestEndpoint runs sqlmap against one endpoint, constraining the test to
// the given parameters. Each (endpoint, parameter) pair yields at most one
// finding per invocation.
func (s *SQLMap) TestEndpoint(ctx context.Context, ep *models.Endpoint, paramNames []string, phase TestPhase, onFinding func(models.Vulnerability)) error {
	args := s.testArgs(ep.URL, ep.PostData, paramNames, phase)
	parser := newFindingParser(ep.URL, paramNames, onFinding)
	return s.runTest(ctx, "sqlmap-"+string(phase), args, parser)
}

// TestParameter runs sqlmap against a single parameter.
func (s *SQLMap) TestParameter(ctx context.Context, param *models.Parameter, phase TestPhase, onFinding func(models.Vulnerability)) error {
	args := s.testArgs(param.Endpoint, "", []string{param.Name}, phase)
	parser := newFindingParser(param.Endpoint, []string{param.Name}, onFinding)
	return s.runTest(ctx, "sqlmap-"+string(phase), args, parser)
}

func (s *SQLMap) testArgs(target, postData string, paramNames []string, phase TestPhase) []string {
	args := []string{
		"-u", target,
		"--batch",
		"--random-agent",
		"--level", strconv.Itoa(s.cfg.Level),
		"--risk", strconv.Itoa(s.cfg.Risk),
		"--threads", strconv.Itoa(s.cfg.Threads),
		"--tmp-dir", s.cfg.TempDir,
		"-v", "1",
		"--answers", "follow=N,quit=N",
	}
	if postData != "" {
		args = append(args, "--data", postData)
	}
	if len(paramNames) > 0 {
		args = append(args, "-p", strings.Join(paramNames, ","))
	}
	switch phase {
	case PhaseFingerprint:
		args = append(args, "--fingerprint")
	case PhaseExploit:
		// Read-only proof of concept: current database name and banner.
		args = append(args, "--current-db", "--banner")
	}
	return s.appendCommonArgs(args)
}

// runTest spawns the invocation, streams findings off stdout, and retries
// once through the shell on a non-zero exit (some wrapper scripts only
// resolve that way). The fallback is skipped when the scan was cancelled.
func (s *SQLMap) runTest(ctx context.Context, name string, args []string, parser *findingParser) error {
	err := s.runOnce(ctx, name, spawn.Build(s.cfg.SQLMapPath, args...), parser)
	if err == nil || ctx.Err() != nil {
		return err
	}

	s.log.LogWith("reintentando vía shell: "+name, models.LevelDebug, scanlog.Options{ConsoleOnly: true})
	return s.runOnce(ctx, name+"-fallback", spawn.Fallback(s.cfg.SQLMapPath, args...), parser)
}

func (s *SQLMap) runOnce(ctx context.Context, name string, inv spawn.Invocation, parser *findingParser) error {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.TimeoutSeconds)*time.Second)
	defer cancel()

	s.log.LogWith("spawn: "+inv.String(), models.LevelDebug, scanlog.Options{ConsoleOnly: true})

	sink := newLineWriter(func(line string) {
		s.logToolLine(line)
		if vuln, ok := parser.feed(line); ok {
			s.log.Log(fmt.Sprintf("parámetro inyectable: %s en %s", vuln.Parameter, vuln.Endpoint), models.LevelSuccess)
		}
	})

	cmd := inv.Command(ctx)
	cmd.Stdout = sink
	cmd.Stderr = sink
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", name, err)
	}

	handle := spawn.NewHandle(name, cmd)
	s.procs.Track(handle)
	defer s.procs.Untrack(name)

	<-handle.Done()
	sink.Flush()
	if ctx.Err() == context.DeadlineExceeded {
		s.log.Log(fmt.Sprintf("%s superó el tiempo límite de %ds", name, s.cfg.TimeoutSeconds), models.LevelWarning)
		return nil
	}
	return handle.Err()
}

// logToolLine forwards raw sqlmap output: everything to the console sink at
// debug, and informative non-noise lines to the user-visible log.
func (s *SQLMap) logToolLine(line string) {
	s.log.LogWith("sqlmap: "+line, models.LevelDebug, scanlog.Options{ConsoleOnly: true})

	trimmed := strings.TrimSpace(line)
	if trimmed == "" || isNoise(trimmed) {
		return
	}
	switch {
	case strings.Contains(trimmed, "[CRITICAL]"):
		s.log.Log(timestampPrefix.ReplaceAllString(trimmed, ""), models.LevelError)
	case strings.Contains(trimmed, "[WARNING]"):
		s.log.Log(timestampPrefix.ReplaceAllString(trimmed, ""), models.LevelWarning)
	case strings.Contains(trimmed, "[INFO]"):
		s.log.Log(timestampPrefix.ReplaceAllString(trimmed, ""), models.LevelInfo)
	}
}

func isNoise(line string) bool {
	for _, re := range noisePatterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// findingParser attributes vulnerable-output lines to parameters and
// deduplicates findings within one invocation.
type findingParser struct {
	endpoint  string
	params    []string
	onFinding func(models.Vulnerability)

	lastParam string
	seen      map[string]bool
}

func newFindingParser(endpoint string, params []string, onFinding func(models.Vulnerability)) *findingParser {
	return &findingParser{
		endpoint:  endpoint,
		params:    params,
		onFinding: onFinding,
		seen:      map[string]bool{},
	}
}

// feed consumes one output line and reports whether it produced a new
// finding.
func (p *findingParser) feed(line string) (models.Vulnerability, bool) {
	if m := paramHeaderPattern.FindStringSubmatch(line); m != nil {
		p.lastParam = m[1]
	}
	if !vulnPattern.MatchString(line) {
		return models.Vulnerability{}, false
	}

	param := p.attribute(line)
	if param == "" {
		// No configured parameter is named on the line; surfaced as a
		// wildcard finding rather than dropped.
		param = "*"
	}
	if p.seen[param] {
		return models.Vulnerability{}, false
	}
	p.seen[param] = true

	description := timestampPrefix.ReplaceAllString(strings.TrimSpace(line), "")
	if tech := techniquePattern.FindString(line); tech != "" {
		description = fmt.Sprintf("%s (técnica: %s)", description, strings.ToLower(tech))
	}

	vuln := models.Vulnerability{
		Type:        models.VulnSQLi,
		Severity:    models.SeverityCritical,
		Endpoint:    p.endpoint,
		Parameter:   param,
		Description: description,
	}
	p.onFinding(vuln)
	return vuln, true
}

func (p *findingParser) attribute(line string) string {
	lower := strings.ToLower(line)
	for _, name := range p.params {
		if name != "" && strings.Contains(lower, strings.ToLower(name)) {
			return name
		}
	}
	if p.lastParam != "" {
		return p.lastParam
	}
	return ""
}
