package probe

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/recontk/recontk/internal/model"
	"github.com/recontk/recontk/internal/tool"
)

// Web fetches HTTP response headers and optionally runs the external
// directory and subdomain enumeration tools.
type Web struct {
	tools *tool.Runner // nil disables external tools
	cfg   model.ToolsConfig
}

// NewWeb builds a web probe. Passing a nil runner disables the
// feroxbuster and sublist3r extensions.
func NewWeb(tools *tool.Runner, cfg model.ToolsConfig) Web {
	return Web{tools: tools, cfg: cfg}
}

func (Web) Family() string { return "web" }

func (w Web) Run(ctx context.Context, target string, rec model.PortRecord) model.ProbeResult {
	res := model.NewProbeResult(rec.Port, "web")

	scheme := "http"
	if rec.Port == 443 || rec.Port == 8443 || strings.Contains(rec.Service, "https") || strings.Contains(rec.Service, "ssl") {
		scheme = "https"
	}
	baseURL := fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(target, strconv.Itoa(rec.Port)))

	headers, url, err := fetchHeaders(ctx, baseURL)
	if err != nil && scheme == "https" {
		// mirror of the classic https-then-http fallback
		slog.DebugContext(ctx, "https failed, retrying plain http", "error", err)
		plain := "http" + strings.TrimPrefix(baseURL, "https")
		headers, url, err = fetchHeaders(ctx, plain)
	}
	if err != nil {
		res.Fail(failKind(err), "fetching headers: %s", err)
	} else {
		res.SetField("url", url)
		res.SetField("headers", headers)
	}

	w.runTools(ctx, target, baseURL, &res)
	return res
}

func fetchHeaders(ctx context.Context, url string) (map[string]string, string, error) {
	client := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, // recon, not trust verification
		},
	}
	defer client.CloseIdleConnections()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	headers := make(map[string]string, len(resp.Header))
	for name := range resp.Header {
		headers[name] = resp.Header.Get(name)
	}
	// final URL after redirects
	return headers, resp.Request.URL.String(), nil
}

func (w Web) runTools(ctx context.Context, target, baseURL string, res *model.ProbeResult) {
	if w.tools == nil || !w.cfg.Enabled {
		return
	}

	w.runFeroxbuster(ctx, baseURL, res)
	w.runSublist3r(ctx, target, res)
}

func (w Web) runFeroxbuster(ctx context.Context, baseURL string, res *model.ProbeResult) {
	if !w.tools.Available("feroxbuster") {
		res.AddNote("feroxbuster not installed, directory enumeration skipped")
		return
	}

	args := []string{"-u", baseURL, "--silent"}
	if w.cfg.Wordlist != "" {
		args = append(args, "-w", w.cfg.Wordlist)
	}
	out, err := w.tools.Run(ctx, timeBudget(ctx, w.cfg.FeroxbusterTimeout()), "feroxbuster", args...)
	if err != nil {
		res.AddNote("feroxbuster: %s", err)
		return
	}
	if out.ExitCode != 0 {
		res.AddNote("feroxbuster exited %d: %s", out.ExitCode, strings.TrimSpace(out.Stderr))
		return
	}
	res.SetField("directories", nonEmptyLines(out.Stdout))
}

func (w Web) runSublist3r(ctx context.Context, target string, res *model.ProbeResult) {
	if !w.tools.Available("sublist3r") {
		res.AddNote("sublist3r not installed, subdomain enumeration skipped")
		return
	}

	domain, _, _ := strings.Cut(target, ":")
	out, err := w.tools.Run(ctx, timeBudget(ctx, w.cfg.Sublist3rTimeout()), "sublist3r", "-d", domain)
	if err != nil {
		res.AddNote("sublist3r: %s", err)
		return
	}
	// sublist3r sometimes exits non-zero even on success
	if out.ExitCode != 0 && out.Stdout == "" {
		res.AddNote("sublist3r exited %d: %s", out.ExitCode, strings.TrimSpace(out.Stderr))
		return
	}
	res.SetField("subdomains", nonEmptyLines(out.Stdout))
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
