// Package discover turns a single target into a sorted port list using
// the nmap engine in two phases: a fast classification scan, then a
// service/version scan restricted to the open ports found.
package discover

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/recontk/recontk/internal/log"
	"github.com/recontk/recontk/internal/model"

	"github.com/Ullaakut/nmap/v3"
)

type runFunc func(ctx context.Context, options []nmap.Option) (*nmap.Run, error)

// Scanner is a wrapper on top of "github.com/Ullaakut/nmap/v3" driving
// both discovery phases.
type Scanner struct {
	binary   string
	ports    string
	topPorts int
	timeout  time.Duration
	run      runFunc
}

func New(cfg model.ScanConfig) Scanner {
	return Scanner{
		binary:   cfg.Binary,
		ports:    cfg.Ports,
		topPorts: cfg.TopPorts,
		timeout:  cfg.Timeout(),
		run:      runEngine,
	}
}

func (s Scanner) WithBinary(binary string) Scanner {
	s.binary = binary
	return s
}

func (s Scanner) WithPorts(ports string) Scanner {
	s.ports = ports
	return s
}

func (s Scanner) WithTopPorts(n int) Scanner {
	s.topPorts = n
	return s
}

func (s Scanner) WithTimeout(timeout time.Duration) Scanner {
	s.timeout = timeout
	return s
}

// WithRunFunc replaces the engine invocation, used by tests.
func (s Scanner) WithRunFunc(run runFunc) Scanner {
	s.run = run
	return s
}

// Discover runs both phases against target. A phase 1 failure returns
// an error and no records. A phase 2 failure returns the phase 1
// records together with the error so callers can degrade to shallow
// data. Zero open ports after phase 1 is a normal outcome: phase 2 is
// skipped and the phase 1 records are returned.
//
// The returned list is sorted ascending by port number and holds no
// duplicate (port, protocol) pairs.
func (s Scanner) Discover(ctx context.Context, target model.ScanTarget) ([]model.PortRecord, error) {
	ctx = log.ContextAttrs(ctx, slog.String("target", target.Host))

	slog.InfoContext(ctx, "fast scan started")
	run, err := s.runPhase(ctx, s.fastOptions(target))
	if err != nil {
		return nil, fmt.Errorf("fast scan: %w", err)
	}
	if run == nil || len(run.Hosts) == 0 {
		return nil, fmt.Errorf("%w: %s", model.ErrNoHost, target.Host)
	}
	records := portRecords(run)
	model.SortPorts(records)

	var open []string
	for _, rec := range records {
		if rec.Open() {
			open = append(open, strconv.Itoa(rec.Port))
		}
	}
	slog.InfoContext(ctx, "fast scan finished", "ports", len(records), "open", len(open))
	if len(open) == 0 {
		return records, nil
	}

	slog.InfoContext(ctx, "version scan started", "ports", open)
	deepRun, err := s.runPhase(ctx, s.versionOptions(target, open))
	if err != nil {
		// degrade gracefully to the shallow phase 1 data
		slog.WarnContext(ctx, "version scan failed, keeping fast scan results", "error", err)
		return records, fmt.Errorf("version scan: %w", err)
	}
	records = mergeRecords(records, portRecords(deepRun))
	model.SortPorts(records)
	slog.InfoContext(ctx, "version scan finished")
	return records, nil
}

func (s Scanner) runPhase(ctx context.Context, options []nmap.Option) (*nmap.Run, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return s.run(ctx, options)
}

func (s Scanner) baseOptions(target model.ScanTarget) []nmap.Option {
	options := []nmap.Option{
		nmap.WithTargets(target.Host),
		nmap.WithSkipHostDiscovery(),
		nmap.WithTimingTemplate(nmap.TimingAggressive),
	}
	if s.binary != "" {
		options = append(options, nmap.WithBinaryPath(s.binary))
	}
	if addr, err := netip.ParseAddr(target.Host); err == nil && addr.Is6() {
		options = append(options, nmap.WithIPv6Scanning())
	}
	return options
}

func (s Scanner) fastOptions(target model.ScanTarget) []nmap.Option {
	options := s.baseOptions(target)
	switch {
	case target.Ports != "":
		options = append(options, nmap.WithPorts(target.Ports))
	case s.ports != "":
		options = append(options, nmap.WithPorts(s.ports))
	default:
		options = append(options, nmap.WithMostCommonPorts(s.topPorts))
	}
	return options
}

func (s Scanner) versionOptions(target model.ScanTarget, open []string) []nmap.Option {
	options := s.baseOptions(target)
	return append(options,
		nmap.WithPorts(strings.Join(open, ",")),
		nmap.WithServiceInfo(),
		nmap.WithDefaultScript(),
	)
}

func runEngine(ctx context.Context, options []nmap.Option) (*nmap.Run, error) {
	scanner, err := nmap.NewScanner(ctx, options...)
	if err != nil {
		if errors.Is(err, nmap.ErrNmapNotInstalled) {
			return nil, fmt.Errorf("%w: %s", model.ErrEngineUnavailable, err)
		}
		return nil, fmt.Errorf("creating nmap scanner: %w", err)
	}

	now := time.Now()
	slog.DebugContext(ctx, "engine started")
	run, warningsp, err := scanner.Run()
	if err != nil {
		slog.DebugContext(ctx, "engine failed", "error", err)
		return nil, fmt.Errorf("nmap run: %w", err)
	}
	slog.DebugContext(ctx, "engine finished", "elapsed", time.Since(now).String())

	if *warningsp != nil {
		for _, warn := range *warningsp {
			slog.WarnContext(ctx, "engine", "warning", warn)
		}
	}
	return run, nil
}

// portRecords flattens the engine result of a single-target run.
func portRecords(run *nmap.Run) []model.PortRecord {
	if run == nil || len(run.Hosts) == 0 {
		return nil
	}

	seen := map[string]struct{}{}
	var records []model.PortRecord
	for _, host := range run.Hosts {
		for _, port := range host.Ports {
			rec := portRecord(port)
			key := rec.Protocol + "/" + strconv.Itoa(rec.Port)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			records = append(records, rec)
		}
	}
	return records
}

func portRecord(port nmap.Port) model.PortRecord {
	version := port.Service.Version
	if port.Service.ExtraInfo != "" {
		if version != "" {
			version += " "
		}
		version += "(" + port.Service.ExtraInfo + ")"
	}

	var scripts []model.ScriptOutput
	for _, s := range port.Scripts {
		// attached verbatim, interpreting script output is not our job
		scripts = append(scripts, model.ScriptOutput{ID: s.ID, Output: s.Output})
	}

	return model.PortRecord{
		Port:     int(port.ID),
		Protocol: strings.ToLower(port.Protocol),
		State:    strings.ToLower(port.State.State),
		Service:  port.Service.Name,
		Product:  port.Service.Product,
		Version:  version,
		Scripts:  scripts,
	}
}

// mergeRecords overlays the version scan results on the fast scan list,
// keyed by (port, protocol). Ports only present in the fast scan are
// kept as-is.
func mergeRecords(fast, deep []model.PortRecord) []model.PortRecord {
	byKey := make(map[string]model.PortRecord, len(deep))
	for _, rec := range deep {
		byKey[rec.Protocol+"/"+strconv.Itoa(rec.Port)] = rec
	}

	out := make([]model.PortRecord, 0, len(fast))
	for _, rec := range fast {
		if d, ok := byKey[rec.Protocol+"/"+strconv.Itoa(rec.Port)]; ok {
			out = append(out, d)
			continue
		}
		out = append(out, rec)
	}
	return out
}
