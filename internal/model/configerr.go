package model

import (
	"fmt"
	"strings"

	cueerrors "cuelang.org/go/cue/errors"
)

// CueErrDetails flattens a CUE validation error into one human readable
// line per problem, each with a config file position when known.
func CueErrDetails(err error) []string {
	if err == nil {
		return nil
	}

	var out []string
	seen := map[string]struct{}{}
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		msg := fmt.Sprintf(format, args...)

		if path := normalizePath(e.Path()); path != "" {
			msg = path + ": " + msg
		}
		for _, pos := range cueerrors.Positions(e) {
			if pos.Filename() == "" {
				continue
			}
			msg = fmt.Sprintf("%s (%s:%d:%d)", msg, pos.Filename(), pos.Line(), pos.Column())
			break
		}

		if _, ok := seen[msg]; ok {
			continue
		}
		seen[msg] = struct{}{}
		out = append(out, msg)
	}
	return out
}

func normalizePath(p []string) string {
	if len(p) == 0 {
		return ""
	}
	// drop the leading #Config definition
	if strings.HasPrefix(p[0], "#") {
		p = p[1:]
	}
	return strings.Join(p, ".")
}
