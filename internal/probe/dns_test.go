package probe_test

import (
	"net"
	"testing"

	"github.com/recontk/recontk/internal/model"
	"github.com/recontk/recontk/internal/probe"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func fakeDNS(t *testing.T) (string, int) {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &dns.Server{
		PacketConn: pc,
		Handler: dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
			m := new(dns.Msg)
			m.SetReply(r)
			if r.Question[0].Qtype == dns.TypeA {
				rr, err := dns.NewRR("example.com. 300 IN A 192.0.2.10")
				require.NoError(t, err)
				m.Answer = append(m.Answer, rr)
			}
			_ = w.WriteMsg(m)
		}),
	}
	go func() { _ = srv.ActivateAndServe() }()
	t.Cleanup(func() { _ = srv.Shutdown() })

	addr := pc.LocalAddr().(*net.UDPAddr)
	return addr.IP.String(), addr.Port
}

func TestDNSProbe(t *testing.T) {
	t.Parallel()
	host, port := fakeDNS(t)

	res := probe.NewDNS("example.com").Run(testCtx(t), host, model.PortRecord{Port: port, Protocol: "udp", State: "open"})

	require.Nil(t, res.Error)
	records, ok := res.Fields["records"].(map[string][]string)
	require.True(t, ok)
	require.Len(t, records["A"], 1)
	require.Contains(t, records["A"][0], "192.0.2.10")
	require.NotContains(t, res.Fields, "zone_transfer", "AXFR against a server without TCP yields nothing")
}
