package orchestrator

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/easyinjection/scand/pkg/events"
	"github.com/easyinjection/scand/pkg/executor"
	"github.com/easyinjection/scand/pkg/models"
)

// techniqueWords classifies SQLi finding descriptions into techniques for
// the advisory technique sub-phase.
var techniqueWords = []struct {
	pattern *regexp.Regexp
	label   string
}{
	{regexp.MustCompile(`(?i)boolean`), "boolean-based blind"},
	{regexp.MustCompile(`(?i)union`), "UNION query"},
	{regexp.MustCompile(`(?i)time`), "time-based blind"},
	{regexp.MustCompile(`(?i)error`), "error-based"},
}

// runDiscovery crawls the target and publishes every new endpoint and
// parameter. A failed or empty crawl degrades to a single synthesized
// endpoint for the configured URL.
func (o *Orchestrator) runDiscovery(ctx context.Context) error {
	if err := o.gate.WaitIfPaused(ctx); err != nil {
		return err
	}
	if err := o.askGate(ctx, "discovery"); err != nil {
		return err
	}
	if err := o.gate.WaitIfPaused(ctx); err != nil {
		return err
	}

	var csvPath string
	unsubscribe := o.bus.SubscribeOnce(events.EventCrawlerFinished, func(e events.Event) {
		if p, ok := e.Payload.(events.CrawlerFinishedPayload); ok {
			csvPath = p.CSVPath
		}
	})
	defer unsubscribe()

	o.log.Log(fmt.Sprintf("iniciando rastreo de %s (profundidad %d)", o.cfg.URL, o.cfg.CrawlDepth), models.LevelInfo)
	o.countRequest()
	if _, err := o.sqlmap.RunCrawl(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		o.log.Log(fmt.Sprintf("fallo al lanzar el rastreador: %v", err), models.LevelError)
	}

	if csvPath == "" {
		csvPath = o.retryCSVDiscovery(ctx)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var result *executor.CrawlResult
	if csvPath != "" {
		parsed, err := executor.ParseCrawlCSV(csvPath)
		if err != nil {
			o.log.Log(fmt.Sprintf("no se pudo leer el CSV de rastreo: %v", err), models.LevelWarning)
		} else {
			result = parsed
		}
	}

	if result == nil || len(result.Endpoints) == 0 {
		o.log.Log("el rastreo no produjo objetivos, usando la URL base", models.LevelWarning)
		result = o.syntheticCrawlResult()
	}

	for _, ep := range result.Endpoints {
		o.addEndpoint(ep)
	}
	for _, p := range result.Parameters {
		o.addParameter(p)
	}

	if files, err := executor.WriteTargetsFiles(result, o.cfg.ScanOutputDir(o.scanID)); err != nil {
		o.log.Log(fmt.Sprintf("no se pudieron escribir los ficheros de objetivos: %v", err), models.LevelWarning)
	} else {
		o.log.Log(fmt.Sprintf("objetivos guardados: %d GET, %d POST", files.GetCount, files.PostCount), models.LevelInfo)
	}

	o.mu.RLock()
	endpoints, params := len(o.endpoints), len(o.parameters)
	o.mu.RUnlock()
	o.log.Log(fmt.Sprintf("descubrimiento completado: %d endpoints, %d parámetros", endpoints, params), models.LevelSuccess)
	return nil
}

func (o *Orchestrator) retryCSVDiscovery(ctx context.Context) string {
	for attempt := 0; attempt < 3; attempt++ {
		if o.isStopped() {
			return ""
		}
		if path, ok := executor.FindRecentCSV(o.cfg.TempDir, time.Hour); ok {
			return path
		}
		select {
		case <-ctx.Done():
			return ""
		case <-time.After(2 * time.Second):
		}
	}
	return ""
}

func (o *Orchestrator) syntheticCrawlResult() *executor.CrawlResult {
	ep := o.baseEndpoint()
	result := &executor.CrawlResult{Endpoints: []*models.Endpoint{ep}}
	for name := range ep.Parameters {
		result.Parameters = append(result.Parameters, &models.Parameter{
			Endpoint: ep.URL,
			Method:   ep.Method,
			Name:     name,
			Location: models.LocationQuery,
			Testable: true,
		})
	}
	return result
}

// subPhaseGate is the suspension preamble shared by the gated sub-phases:
// wait, ask the tagged question, wait again.
func (o *Orchestrator) subPhaseGate(ctx context.Context, tag string) error {
	if err := o.gate.WaitIfPaused(ctx); err != nil {
		return err
	}
	if err := o.askGate(ctx, tag); err != nil {
		return err
	}
	return o.gate.WaitIfPaused(ctx)
}

// runSQLi drives the four SQL injection sub-phases.
func (o *Orchestrator) runSQLi(ctx context.Context) error {
	subs := []struct {
		name string
		fn   func(context.Context) error
	}{
		{models.SubPhaseDetection, o.sqliDetection},
		{models.SubPhaseFingerprint, o.sqliFingerprint},
		{models.SubPhaseTechnique, o.sqliTechnique},
		{models.SubPhaseExploit, o.sqliExploit},
	}
	for _, sub := range subs {
		if o.isStopped() {
			return ctx.Err()
		}
		if err := o.subPhaseGate(ctx, "sqli-"+sub.name); err != nil {
			return err
		}
		if err := o.runSubPhase(ctx, models.PhaseSQLi, sub.name, sub.fn); err != nil {
			return err
		}
	}
	return nil
}

// sqliDetection tests every endpoint that carries testable parameters.
// A spawn failure skips to the next endpoint.
func (o *Orchestrator) sqliDetection(ctx context.Context) error {
	for _, ep := range o.testableEndpoints() {
		if o.isStopped() || ctx.Err() != nil {
			return ctx.Err()
		}
		if err := o.gate.WaitIfPaused(ctx); err != nil {
			return err
		}
		names := ep.ParameterNames()
		sort.Strings(names)
		o.log.Log(fmt.Sprintf("probando %s (%s) con %d parámetros", ep.URL, ep.Method, len(names)), models.LevelInfo)
		o.countRequest()
		if err := o.sqlmap.TestEndpoint(ctx, ep, names, executor.PhaseDetection, o.addVulnerability); err != nil {
			o.log.Log(fmt.Sprintf("fallo al probar %s: %v", ep.URL, err), models.LevelError)
		}
	}
	return ctx.Err()
}

// sqliFingerprint identifies the backend DBMS through the first vulnerable
// parameter; skipped when detection found nothing attributable.
func (o *Orchestrator) sqliFingerprint(ctx context.Context) error {
	param := o.firstVulnerableParam()
	if param == nil {
		o.log.Log("sin parámetros vulnerables, omitiendo identificación del gestor", models.LevelInfo)
		return nil
	}
	o.log.Log("identificando el gestor de base de datos vía '"+param.Name+"'", models.LevelInfo)
	o.countRequest()
	if err := o.sqlmap.TestParameter(ctx, param, executor.PhaseFingerprint, o.addVulnerability); err != nil {
		o.log.Log(fmt.Sprintf("fallo en la identificación: %v", err), models.LevelError)
	}
	return ctx.Err()
}

// sqliTechnique derives the technique list from recorded findings. Advisory
// only: no subprocess, no persisted record.
func (o *Orchestrator) sqliTechnique(context.Context) error {
	var techniques []string
	seen := map[string]bool{}
	for _, v := range o.Vulnerabilities() {
		if v.Type != models.VulnSQLi {
			continue
		}
		for _, tw := range techniqueWords {
			if tw.pattern.MatchString(v.Description) && !seen[tw.label] {
				seen[tw.label] = true
				techniques = append(techniques, tw.label)
			}
		}
	}
	if len(techniques) == 0 {
		o.log.Log("ninguna técnica de inyección identificada", models.LevelInfo)
		return nil
	}
	o.log.Log("técnicas detectadas: "+strings.Join(techniques, ", "), models.LevelInfo)
	o.log.Log("técnica óptima: "+techniques[0], models.LevelSuccess)
	return nil
}

// sqliExploit runs the read-only proof of concept (current database and
// banner) unless exploitation is disabled.
func (o *Orchestrator) sqliExploit(ctx context.Context) error {
	if !o.cfg.EnableExploitation {
		o.log.Log("modo seguro activo: explotación deshabilitada", models.LevelInfo)
		return nil
	}
	param := o.firstVulnerableParam()
	if param == nil {
		o.log.Log("sin parámetros vulnerables, omitiendo explotación", models.LevelInfo)
		return nil
	}
	o.log.Log("extrayendo nombre de base de datos y banner vía '"+param.Name+"'", models.LevelInfo)
	o.countRequest()
	if err := o.sqlmap.TestParameter(ctx, param, executor.PhaseExploit, o.addVulnerability); err != nil {
		o.log.Log(fmt.Sprintf("fallo en la explotación: %v", err), models.LevelError)
	}
	return ctx.Err()
}

// runXSS drives the three XSS sub-phases. Only the context sub-phase is
// question-gated; payload is informational and fuzzing does the real work.
func (o *Orchestrator) runXSS(ctx context.Context) error {
	if o.isStopped() {
		return ctx.Err()
	}
	if err := o.subPhaseGate(ctx, "xss-context"); err != nil {
		return err
	}
	if err := o.runSubPhase(ctx, models.PhaseXSS, models.SubPhaseContext, o.xssContext); err != nil {
		return err
	}

	if o.isStopped() {
		return ctx.Err()
	}
	if err := o.gate.WaitIfPaused(ctx); err != nil {
		return err
	}
	if err := o.runSubPhase(ctx, models.PhaseXSS, models.SubPhasePayload, o.xssPayload); err != nil {
		return err
	}

	if o.isStopped() {
		return ctx.Err()
	}
	if err := o.gate.WaitIfPaused(ctx); err != nil {
		return err
	}
	return o.runSubPhase(ctx, models.PhaseXSS, models.SubPhaseFuzzing, o.xssFuzzing)
}

func (o *Orchestrator) xssContext(context.Context) error {
	o.log.Log("analizando contextos de reflexión (HTML, atributo, script)", models.LevelInfo)
	return nil
}

func (o *Orchestrator) xssPayload(context.Context) error {
	o.log.Log("seleccionando payloads según el contexto de cada parámetro", models.LevelInfo)
	return nil
}

// xssFuzzing runs dalfox against every unique endpoint that carries
// testable parameters. Orchestrator-level dedup absorbs repeats across
// invocations.
func (o *Orchestrator) xssFuzzing(ctx context.Context) error {
	targets := o.fuzzTargets()
	if len(targets) == 0 {
		targets = []string{o.cfg.URL}
	}
	for _, target := range targets {
		if o.isStopped() || ctx.Err() != nil {
			return ctx.Err()
		}
		if err := o.gate.WaitIfPaused(ctx); err != nil {
			return err
		}
		o.log.Log("fuzzing XSS sobre "+target, models.LevelInfo)
		o.countRequest()
		if err := o.dalfox.ScanURL(ctx, target, o.addVulnerability); err != nil {
			o.log.Log(fmt.Sprintf("fallo al analizar %s: %v", target, err), models.LevelError)
		}
	}
	return ctx.Err()
}

// fuzzTargets returns the unique endpoint URLs of testable parameters, in
// discovery order.
func (o *Orchestrator) fuzzTargets() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()

	seen := map[string]bool{}
	var targets []string
	for _, p := range o.parameters {
		if !p.Testable || seen[p.Endpoint] {
			continue
		}
		seen[p.Endpoint] = true
		targets = append(targets, p.Endpoint)
	}
	return targets
}

// testableEndpoints returns discovered endpoints that carry at least one
// parameter.
func (o *Orchestrator) testableEndpoints() []*models.Endpoint {
	o.mu.RLock()
	defer o.mu.RUnlock()

	var out []*models.Endpoint
	for _, ep := range o.endpoints {
		if len(ep.Parameters) > 0 {
			out = append(out, ep)
		}
	}
	return out
}

// firstVulnerableParam maps the first attributable SQLi finding back to a
// discovered parameter, falling back to a synthetic one when discovery never
// recorded it. Wildcard findings cannot constrain a tool run.
func (o *Orchestrator) firstVulnerableParam() *models.Parameter {
	o.mu.RLock()
	defer o.mu.RUnlock()

	for _, v := range o.vulns {
		if v.Type != models.VulnSQLi || v.Parameter == "*" {
			continue
		}
		for _, p := range o.parameters {
			if p.Name == v.Parameter && p.Endpoint == v.Endpoint {
				return p
			}
		}
		return &models.Parameter{
			Endpoint: v.Endpoint,
			Method:   models.MethodGet,
			Name:     v.Parameter,
			Location: models.LocationQuery,
			Testable: true,
		}
	}
	return nil
}
