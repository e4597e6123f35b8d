package model

import (
	"cmp"
	"fmt"
	"slices"
	"time"
)

// ScanTarget is the root input of a run: a host plus an optional port
// range restriction. It is constructed once and never mutated.
type ScanTarget struct {
	Host  string `json:"host"`
	Ports string `json:"ports,omitempty"` // nmap port spec, e.g. "1-1000" or "22,80,8000-8100"
}

func NewScanTarget(host, ports string) ScanTarget {
	return ScanTarget{Host: host, Ports: ports}
}

// ScriptOutput is a single scan engine script result attached verbatim
// to the port it ran against.
type ScriptOutput struct {
	ID     string `json:"id"`
	Output string `json:"output"`
}

// PortRecord is one discovered port. (Port, Protocol) is unique within
// a single scan's port list.
type PortRecord struct {
	Port     int            `json:"port"`
	Protocol string         `json:"protocol"` // tcp or udp
	State    string         `json:"state"`    // open, closed, filtered
	Service  string         `json:"service,omitempty"`
	Product  string         `json:"product,omitempty"`
	Version  string         `json:"version,omitempty"`
	Scripts  []ScriptOutput `json:"scripts,omitempty"`
}

// Open reports whether the port was classified as open.
func (p PortRecord) Open() bool {
	return p.State == "open"
}

// SortPorts orders records ascending by port number, protocol breaking
// ties, so reports are deterministic regardless of engine output order.
func SortPorts(records []PortRecord) {
	slices.SortFunc(records, func(a, b PortRecord) int {
		if c := cmp.Compare(a.Port, b.Port); c != 0 {
			return c
		}
		return cmp.Compare(a.Protocol, b.Protocol)
	})
}

// ErrorKind classifies probe and discovery failures.
type ErrorKind string

const (
	ErrKindConnect         ErrorKind = "connect"
	ErrKindTimeout         ErrorKind = "timeout"
	ErrKindParse           ErrorKind = "parse"
	ErrKindToolUnavailable ErrorKind = "tool_unavailable"
	ErrKindCancelled       ErrorKind = "cancelled"
	ErrKindInternal        ErrorKind = "internal"
)

// ProbeError is a failure recorded inside a ProbeResult. It never
// escalates past the dispatch stage.
type ProbeError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// AuthCheck is a three-valued result of a credential-less authentication
// attempt: a missing client capability or a timeout is not the same
// thing as "checked and inconclusive".
type AuthCheck string

const (
	AuthRequired    AuthCheck = "required"
	AuthNotRequired AuthCheck = "not_required"
	AuthNotChecked  AuthCheck = "not_checked"
)

// ProbeResult is the uniform output of any protocol probe. A result
// with a non-nil Error still carries whatever fields were collected
// before the failure point.
type ProbeResult struct {
	Port     int            `json:"port"`
	Protocol string         `json:"protocol"` // family tag: web, ftp, ssh, smb, dns, database
	Fields   map[string]any `json:"fields,omitempty"`
	Notes    []string       `json:"notes,omitempty"`
	Error    *ProbeError    `json:"error,omitempty"`
}

// NewProbeResult returns an empty successful result for port/protocol.
func NewProbeResult(port int, protocol string) ProbeResult {
	return ProbeResult{
		Port:     port,
		Protocol: protocol,
		Fields:   map[string]any{},
	}
}

// SetField records a named field value.
func (r *ProbeResult) SetField(name string, value any) {
	if r.Fields == nil {
		r.Fields = map[string]any{}
	}
	r.Fields[name] = value
}

// AddNote attaches a non-fatal remark, e.g. a missing optional tool.
func (r *ProbeResult) AddNote(format string, args ...any) {
	r.Notes = append(r.Notes, fmt.Sprintf(format, args...))
}

// Fail records err without discarding already collected fields.
func (r *ProbeResult) Fail(kind ErrorKind, format string, args ...any) {
	r.Error = &ProbeError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// AggregateReport is the final per-target structure, owned by the
// dispatch stage during a run and handed to report rendering as a
// read-only snapshot. Ports and Probes are sorted ascending by port.
type AggregateReport struct {
	Target     string        `json:"target"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Ports      []PortRecord  `json:"ports"`
	Probes     []ProbeResult `json:"probes"`
	Notes      []string      `json:"notes,omitempty"`
}

// ProbeFor returns the probe result for port, if any. Closed ports and
// ports without a recognized protocol have no entry.
func (a AggregateReport) ProbeFor(port int) (ProbeResult, bool) {
	for _, p := range a.Probes {
		if p.Port == port {
			return p, true
		}
	}
	return ProbeResult{}, false
}

// OpenPorts returns the subset of Ports in the open state.
func (a AggregateReport) OpenPorts() []PortRecord {
	var open []PortRecord
	for _, p := range a.Ports {
		if p.Open() {
			open = append(open, p)
		}
	}
	return open
}
