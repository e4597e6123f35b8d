// Package dispatch maps discovered ports to protocol probes, fans the
// probe calls out and merges every outcome into one AggregateReport.
// One probe failing, timing out or panicking never aborts the run.
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/recontk/recontk/internal/log"
	"github.com/recontk/recontk/internal/model"
	"github.com/recontk/recontk/internal/parallel"
	"github.com/recontk/recontk/internal/probe"
)

// serviceFamilies recognizes service names declared by the deep scan.
// A recognized name takes precedence over the bare port convention.
var serviceFamilies = map[string]string{
	"http":         "web",
	"https":        "web",
	"http-alt":     "web",
	"http-proxy":   "web",
	"ftp":          "ftp",
	"ssh":          "ssh",
	"domain":       "dns",
	"microsoft-ds": "smb",
	"netbios-ssn":  "smb",
	"mysql":        "database",
	"postgresql":   "database",
	"ms-sql-s":     "database",
}

var portFamilies = map[int]string{
	21:   "ftp",
	22:   "ssh",
	53:   "dns",
	80:   "web",
	139:  "smb",
	443:  "web",
	445:  "smb",
	1433: "database",
	3306: "database",
	5432: "database",
	8080: "web",
	8443: "web",
}

// familyFor selects the probe family of a record, empty when no
// convention matches.
func familyFor(rec model.PortRecord) string {
	if family, ok := serviceFamilies[rec.Service]; ok {
		return family
	}
	return portFamilies[rec.Port]
}

// Dispatcher owns the probe registry and the aggregation of one run.
type Dispatcher struct {
	probes map[string]probe.Probe
	cfg    model.ProbesConfig
}

// New builds a dispatcher over the given probes, keyed by family.
func New(cfg model.ProbesConfig, probes ...probe.Probe) *Dispatcher {
	byFamily := make(map[string]probe.Probe, len(probes))
	for _, p := range probes {
		byFamily[p.Family()] = p
	}
	return &Dispatcher{probes: byFamily, cfg: cfg}
}

type job struct {
	rec    model.PortRecord
	family string
	probe  probe.Probe
}

// Aggregate probes every open port with a recognized protocol and
// merges the results. The returned report lists ports and probe
// results in ascending port order regardless of completion order. On
// context cancellation the report still carries everything assembled
// so far, with not-started probes flagged as cancelled.
func (d *Dispatcher) Aggregate(ctx context.Context, target string, records []model.PortRecord) model.AggregateReport {
	started := time.Now().UTC()
	ctx = log.ContextAttrs(ctx, slog.String("target", target))

	ports := make([]model.PortRecord, len(records))
	copy(ports, records)
	model.SortPorts(ports)

	var jobs []job
	for _, rec := range ports {
		if !rec.Open() {
			continue
		}
		family := familyFor(rec)
		if family == "" {
			slog.DebugContext(ctx, "no probe convention", "port", rec.Port, "service", rec.Service)
			continue
		}
		p, ok := d.probes[family]
		if !ok {
			continue
		}
		jobs = append(jobs, job{rec: rec, family: family, probe: p})
	}

	slog.InfoContext(ctx, "dispatching probes", "count", len(jobs))
	results := parallel.Map(ctx, d.cfg.Concurrency, jobs, func(ctx context.Context, j job) model.ProbeResult {
		return d.runOne(ctx, target, j)
	})

	report := model.AggregateReport{
		Target:     target,
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
		Ports:      ports,
		Probes:     results,
	}
	if err := ctx.Err(); err != nil {
		report.Notes = append(report.Notes, "run cancelled, results are partial")
	}
	return report
}

// runOne bounds a single probe call by its family timeout and converts
// panics and pre-start cancellation into regular result errors.
func (d *Dispatcher) runOne(ctx context.Context, target string, j job) (res model.ProbeResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "probe panicked", "family", j.family, "port", j.rec.Port, "panic", r)
			res = model.NewProbeResult(j.rec.Port, j.family)
			res.Fail(model.ErrKindInternal, "probe %s on port %d panicked: %v", j.family, j.rec.Port, r)
		}
	}()

	if err := ctx.Err(); err != nil {
		res = model.NewProbeResult(j.rec.Port, j.family)
		res.Fail(model.ErrKindCancelled, "run cancelled before probe started")
		return res
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout(j.family))
	defer cancel()

	slog.DebugContext(ctx, "probe started", "family", j.family, "port", j.rec.Port)
	res = j.probe.Run(ctx, target, j.rec)
	// the registry owns the identity of the result, not the probe body
	res.Port = j.rec.Port
	res.Protocol = j.family
	if res.Error != nil {
		slog.DebugContext(ctx, "probe failed", "family", j.family, "port", j.rec.Port, "kind", res.Error.Kind)
	}
	return res
}
