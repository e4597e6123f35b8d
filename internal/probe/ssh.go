package probe

import (
	"context"
	"strings"

	"github.com/recontk/recontk/internal/model"
)

// SSH grabs the version exchange banner, e.g.
// "SSH-2.0-OpenSSH_8.2p1 Ubuntu-4ubuntu0.5".
type SSH struct{}

func NewSSH() SSH { return SSH{} }

func (SSH) Family() string { return "ssh" }

func (SSH) Run(ctx context.Context, target string, rec model.PortRecord) model.ProbeResult {
	res := model.NewProbeResult(rec.Port, "ssh")

	banner, err := grabBanner(ctx, target, rec.Port)
	if err != nil {
		res.Fail(failKind(err), "banner grab: %s", err)
		return res
	}
	res.SetField("banner", banner)
	if version := parseSSHVersion(banner); version != "" {
		res.SetField("version", version)
	}
	return res
}

// parseSSHVersion extracts the software version from an SSH banner:
// SSH-protoversion-softwareversion [comments]. It returns the banner
// itself when the format is not recognized.
func parseSSHVersion(banner string) string {
	if !strings.HasPrefix(banner, "SSH-") {
		return banner
	}
	parts := strings.SplitN(banner, "-", 3)
	if len(parts) < 3 {
		return banner
	}
	return parts[2]
}
