package probe

import (
	"context"
	"strings"
	"time"

	"github.com/recontk/recontk/internal/model"
	"github.com/recontk/recontk/internal/tool"
)

// SMB lists shares visible over a null session using the external
// smbclient program.
type SMB struct {
	tools *tool.Runner
}

func NewSMB(tools *tool.Runner) SMB {
	return SMB{tools: tools}
}

func (SMB) Family() string { return "smb" }

func (s SMB) Run(ctx context.Context, target string, rec model.PortRecord) model.ProbeResult {
	res := model.NewProbeResult(rec.Port, "smb")

	if s.tools == nil || !s.tools.Available("smbclient") {
		res.AddNote("smbclient not installed, share enumeration skipped")
		res.Fail(model.ErrKindToolUnavailable, "smbclient not available")
		return res
	}

	out, err := s.tools.Run(ctx, timeBudget(ctx, 30*time.Second), "smbclient", "-L", target, "-N")
	if err != nil {
		res.Fail(failKind(err), "smbclient: %s", err)
		return res
	}
	if out.ExitCode != 0 && out.Stdout == "" {
		res.Fail(model.ErrKindConnect, "smbclient exited %d: %s", out.ExitCode, strings.TrimSpace(out.Stderr))
		return res
	}

	res.SetField("shares", parseShares(out.Stdout))
	return res
}

// parseShares is the text adapter over `smbclient -L` output. Its
// fragility stays here, the rest of the pipeline only sees share names.
func parseShares(output string) []string {
	shares := []string{}
	inSection := false
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)

		if strings.Contains(line, "Sharename") {
			inSection = true
			continue
		}
		if !inSection || line == "" {
			continue
		}
		if strings.HasPrefix(line, "-") {
			continue
		}
		if strings.HasPrefix(line, "Reconnecting") || strings.HasPrefix(line, "SMB1") {
			break
		}

		name := strings.Fields(line)[0]
		// system shares are noise
		if name == "IPC$" || name == "print$" {
			continue
		}
		shares = append(shares, name)
	}
	return shares
}
