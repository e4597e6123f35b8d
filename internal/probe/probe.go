// Package probe holds one enumeration probe per protocol family. Every
// probe is stateless, captures all failures into its result and keeps
// whatever partial data it collected before a failure point.
package probe

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/recontk/recontk/internal/model"
)

// Probe is a single protocol-specific enumeration capability. Run must
// never panic or return an error out of band: failures live in the
// ProbeResult error field.
type Probe interface {
	Family() string
	Run(ctx context.Context, target string, rec model.PortRecord) model.ProbeResult
}

// grabBanner reads the greeting a service sends upon connection. The
// read is bounded by the context deadline.
func grabBanner(ctx context.Context, target string, port int) (string, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(target, strconv.Itoa(port)))
	if err != nil {
		return "", err
	}
	defer func() {
		_ = conn.Close()
	}()

	deadline := time.Now().Add(5 * time.Second)
	if dl, ok := ctx.Deadline(); ok {
		deadline = dl
	}
	_ = conn.SetReadDeadline(deadline)

	buf := make([]byte, 1024)
	n, err := conn.Read(buf)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(buf[:n])), nil
}

// failKind classifies a network error for the result error field.
func failKind(err error) model.ErrorKind {
	var nerr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &nerr) && nerr.Timeout()) {
		return model.ErrKindTimeout
	}
	return model.ErrKindConnect
}

// timeBudget derives a wall clock bound from
// the remaining context budget, capped by max.
func timeBudget(ctx context.Context, max time.Duration) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		if remaining := time.Until(dl); remaining < max {
			return remaining
		}
	}
	return max
}
