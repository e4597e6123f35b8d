package probe

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/recontk/recontk/internal/model"

	"github.com/miekg/dns"
)

var recordTypes = []struct {
	name string
	code uint16
}{
	{"A", dns.TypeA},
	{"AAAA", dns.TypeAAAA},
	{"MX", dns.TypeMX},
	{"NS", dns.TypeNS},
	{"TXT", dns.TypeTXT},
	{"SOA", dns.TypeSOA},
}

// DNS queries the common record types against the target server and
// attempts a zone transfer.
type DNS struct {
	// Domain to ask about; the target host itself when empty.
	Domain string
}

func NewDNS(domain string) DNS { return DNS{Domain: domain} }

func (DNS) Family() string { return "dns" }

func (d DNS) Run(ctx context.Context, target string, rec model.PortRecord) model.ProbeResult {
	res := model.NewProbeResult(rec.Port, "dns")
	server := net.JoinHostPort(target, strconv.Itoa(rec.Port))

	domain := d.Domain
	if domain == "" {
		domain = target
	}
	fqdn := dns.Fqdn(domain)

	client := &dns.Client{Timeout: timeBudget(ctx, 5*time.Second)}

	records := map[string][]string{}
	var lastErr error
	for _, rt := range recordTypes {
		m := new(dns.Msg)
		m.SetQuestion(fqdn, rt.code)

		in, _, err := client.ExchangeContext(ctx, m, server)
		if err != nil {
			lastErr = err
			continue
		}
		for _, rr := range in.Answer {
			records[rt.name] = append(records[rt.name], rr.String())
		}
	}
	if len(records) > 0 {
		res.SetField("records", records)
	} else if lastErr != nil {
		// every query failed, nothing was collected
		res.Fail(failKind(lastErr), "querying records: %s", lastErr)
		return res
	}

	if transferred := zoneTransfer(ctx, fqdn, server); len(transferred) > 0 {
		res.SetField("zone_transfer", transferred)
	}
	return res
}

// zoneTransfer attempts an AXFR request. Refusal is the expected
// outcome on a sane server and reported as no data.
func zoneTransfer(ctx context.Context, fqdn, server string) []string {
	t := &dns.Transfer{
		DialTimeout: timeBudget(ctx, 5*time.Second),
		ReadTimeout: timeBudget(ctx, 5*time.Second),
	}
	m := new(dns.Msg)
	m.SetAxfr(fqdn)

	ch, err := t.In(m, server)
	if err != nil {
		return nil
	}

	var out []string
	for env := range ch {
		if env.Error != nil {
			return out
		}
		for _, rr := range env.RR {
			out = append(out, rr.String())
		}
	}
	return out
}
