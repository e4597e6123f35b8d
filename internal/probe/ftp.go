package probe

import (
	"context"
	"net"
	"strconv"

	"github.com/recontk/recontk/internal/model"

	"github.com/jlaffaye/ftp"
)

// FTP grabs the service banner and checks for anonymous access.
type FTP struct{}

func NewFTP() FTP { return FTP{} }

func (FTP) Family() string { return "ftp" }

func (f FTP) Run(ctx context.Context, target string, rec model.PortRecord) model.ProbeResult {
	res := model.NewProbeResult(rec.Port, "ftp")

	banner, err := grabBanner(ctx, target, rec.Port)
	if err != nil {
		res.Fail(failKind(err), "banner grab: %s", err)
		return res
	}
	res.SetField("banner", banner)

	// a failed login check keeps the banner collected above; when the
	// check itself never ran the field is omitted rather than guessed
	if allowed, checked := f.anonymousLogin(ctx, target, rec.Port, &res); checked {
		res.SetField("anonymous_login", allowed)
	}
	return res
}

func (FTP) anonymousLogin(ctx context.Context, target string, port int, res *model.ProbeResult) (allowed, checked bool) {
	addr := net.JoinHostPort(target, strconv.Itoa(port))
	conn, err := ftp.Dial(addr, ftp.DialWithContext(ctx))
	if err != nil {
		res.AddNote("anonymous login check: %s", err)
		return false, false
	}
	defer func() {
		_ = conn.Quit()
	}()

	return conn.Login("anonymous", "anonymous@") == nil, true
}
