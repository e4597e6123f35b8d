package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/recontk/recontk/internal/discover"
	"github.com/recontk/recontk/internal/dispatch"
	"github.com/recontk/recontk/internal/log"
	"github.com/recontk/recontk/internal/model"
	"github.com/recontk/recontk/internal/probe"
	"github.com/recontk/recontk/internal/report"
	"github.com/recontk/recontk/internal/tool"

	"github.com/spf13/cobra"
)

// pipeline wires port discovery, probe dispatch and report rendering
// together for a single scan invocation.
type pipeline struct {
	cfg   model.Config
	tools *tool.Runner
}

func newPipeline(cfg model.Config) pipeline {
	return pipeline{cfg: cfg, tools: tool.NewRunner()}
}

func doScan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	target := args[0]
	attrs := slog.Group("recontk",
		slog.String("cmd", "scan"),
		slog.String("target", target),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)
	return newPipeline(config).Do(ctx, target)
}

func (p pipeline) Do(ctx context.Context, target string) error {
	if err := p.checkDependencies(ctx); err != nil {
		return err
	}

	scanner := discover.New(p.cfg.Scan)
	records, err := scanner.Discover(ctx, model.NewScanTarget(target, flagPorts))
	if err != nil {
		if len(records) == 0 {
			return fmt.Errorf("port discovery: %w", err)
		}
		// version scan failed, the fast scan data is still usable
		slog.WarnContext(ctx, "continuing with fast scan data only", "error", err)
	}

	dispatcher := dispatch.New(p.cfg.Probes, p.probes(target)...)
	rep := dispatcher.Aggregate(ctx, target, records)
	return p.write(ctx, rep)
}

func (p pipeline) probes(target string) []probe.Probe {
	smbTools := p.tools
	if !p.cfg.Tools.Enabled {
		smbTools = nil
	}
	return []probe.Probe{
		probe.NewWeb(p.tools, p.cfg.Tools),
		probe.NewFTP(),
		probe.NewSSH(),
		probe.NewSMB(smbTools),
		probe.NewDNS(target),
		probe.NewDatabase(),
	}
}

// checkDependencies refuses to start without the scan engine and warns
// about missing optional tools, the related probes degrade to notes.
func (p pipeline) checkDependencies(ctx context.Context) error {
	engine := p.cfg.Scan.Binary
	if engine == "" {
		engine = "nmap"
	}
	if !p.tools.Available(engine) {
		return fmt.Errorf("%w: %s not found in PATH", model.ErrEngineUnavailable, engine)
	}
	for _, name := range []string{"feroxbuster", "sublist3r", "smbclient"} {
		if !p.tools.Available(name) {
			slog.WarnContext(ctx, "optional tool not found", "tool", name)
		}
	}
	return nil
}

func (p pipeline) write(ctx context.Context, rep model.AggregateReport) error {
	if err := os.MkdirAll(p.cfg.Report.Dir, 0755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}

	builder := report.NewBuilder(rep)
	stamp := rep.FinishedAt.Format("20060102_150405")
	base := strings.ReplaceAll(rep.Target, ":", "_")

	for _, format := range p.cfg.Report.Formats {
		var render func(io.Writer) error
		switch format {
		case "json":
			render = builder.AsJSON
		case "html":
			render = builder.AsHTML
		default:
			slog.WarnContext(ctx, "unknown report format, skipping", "format", format)
			continue
		}
		path := filepath.Join(p.cfg.Report.Dir, fmt.Sprintf("%s_%s.%s", base, stamp, format))
		if err := writeFile(path, render); err != nil {
			return fmt.Errorf("writing %s report: %w", format, err)
		}
		slog.InfoContext(ctx, "report written", "path", path)
	}
	return nil
}

func writeFile(path string, render func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()
	return render(f)
}
