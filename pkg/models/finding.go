package models

import "fmt"

// Method is the HTTP method of a discovered endpoint.
type Method string

const (
	MethodGet  Method = "GET"
	MethodPost Method = "POST"
)

// IsValid checks if the method is one the crawler can produce.
func (m Method) IsValid() bool {
	return m == MethodGet || m == MethodPost
}

// ParamLocation indicates where a parameter travels.
type ParamLocation string

const (
	LocationQuery ParamLocation = "query"
	LocationBody  ParamLocation = "body"
)

// VulnType classifies a finding.
type VulnType string

const (
	VulnSQLi VulnType = "SQLi"
	VulnXSS  VulnType = "XSS"
)

// Severity ranks a finding.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IsValid checks if the severity is a known level.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

// SpanishName returns the locale name used by the persisted severity_levels
// catalog.
func (s Severity) SpanishName() string {
	switch s {
	case SeverityCritical:
		return "Crítica"
	case SeverityHigh:
		return "Alta"
	case SeverityMedium:
		return "Media"
	default:
		return "Baja"
	}
}

// Endpoint is a crawled URL plus method. Identity is (Method, URL);
// parameter sets are union-merged when the same endpoint is reported twice.
type Endpoint struct {
	URL        string          `json:"url"`
	Method     Method          `json:"method"`
	Parameters map[string]bool `json:"parameters"`
	PostData   string          `json:"post_data,omitempty"`
}

// Key returns the endpoint identity key.
func (e *Endpoint) Key() string {
	return string(e.Method) + " " + e.URL
}

// ParameterNames returns the parameter names as a slice for tool invocations.
func (e *Endpoint) ParameterNames() []string {
	names := make([]string, 0, len(e.Parameters))
	for name := range e.Parameters {
		names = append(names, name)
	}
	return names
}

// Parameter is a single testable input on an endpoint.
// Identity is (endpoint key, name).
type Parameter struct {
	Endpoint string        `json:"endpoint"`
	Method   Method        `json:"method"`
	Name     string        `json:"name"`
	Location ParamLocation `json:"location"`
	Testable bool          `json:"testable"`
}

// Key returns the parameter identity key.
func (p *Parameter) Key() string {
	return string(p.Method) + " " + p.Endpoint + "#" + p.Name
}

// Vulnerability is an in-memory finding emitted by an executor.
// Duplicate suppression key is (Type, Endpoint, Parameter).
type Vulnerability struct {
	Type        VulnType `json:"type"`
	Severity    Severity `json:"severity"`
	Endpoint    string   `json:"endpoint"`
	Parameter   string   `json:"parameter"`
	Description string   `json:"description"`
}

// Key returns the duplicate-suppression key.
func (v *Vulnerability) Key() string {
	return fmt.Sprintf("%s|%s|%s", v.Type, v.Endpoint, v.Parameter)
}
