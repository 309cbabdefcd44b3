package server

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dnsforge/dnsforged/internal/rules"
	"github.com/dnsforge/dnsforged/internal/upstream"
)

func startServer(t *testing.T, cfg Config, table *rules.Table, ex Exchanger) *Server {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	s := New(cfg, table, ex, log)
	require.NoError(t, s.Start())
	t.Cleanup(func() { s.Stop() })
	return s
}

func cookedTable() *rules.Table {
	table := rules.New()
	table.Add(dns.TypeA, "acme.test", "192.0.2.1")
	return table
}

func TestServer_UDPEndToEnd(t *testing.T) {
	s := startServer(t, Config{Interface: "127.0.0.1", Port: 0}, cookedTable(), &stubExchanger{})

	c := &dns.Client{Net: "udp", Timeout: 2 * time.Second}
	req := new(dns.Msg)
	req.SetQuestion("acme.test.", dns.TypeA)

	resp, _, err := c.Exchange(req, s.LocalAddr().String())
	require.NoError(t, err)
	require.Len(t, resp.Answer, 1)
	assert.Equal(t, req.Id, resp.Id)
	assert.True(t, resp.Authoritative)
}

func TestServer_TCPEndToEnd(t *testing.T) {
	s := startServer(t, Config{Interface: "127.0.0.1", Port: 0, TCP: true}, cookedTable(), &stubExchanger{})

	c := &dns.Client{Net: "tcp", Timeout: 2 * time.Second}
	req := new(dns.Msg)
	req.SetQuestion("acme.test.", dns.TypeA)

	resp, _, err := c.Exchange(req, s.LocalAddr().String())
	require.NoError(t, err)
	require.Len(t, resp.Answer, 1)

	a, ok := resp.Answer[0].(*dns.A)
	require.True(t, ok)
	assert.Equal(t, "192.0.2.1", a.A.String())
}

// slowExchanger stalls like an unresponsive upstream before replying.
type slowExchanger struct {
	delay time.Duration
	reply []byte
}

func (s *slowExchanger) Exchange(ctx context.Context, _ []byte) ([]byte, upstream.Resolver, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return nil, upstream.Resolver{}, ctx.Err()
	}
	return s.reply, upstream.Resolver{Host: "198.51.100.53", Port: 53, Proto: "udp"}, nil
}

func TestServer_SlowUpstreamDoesNotBlockOthers(t *testing.T) {
	slow := &slowExchanger{delay: 750 * time.Millisecond, reply: []byte{0x00}}
	s := startServer(t, Config{Interface: "127.0.0.1", Port: 0}, cookedTable(), slow)

	// Kick off a query that will sit in the slow proxy path.
	go func() {
		c := &dns.Client{Net: "udp", Timeout: 2 * time.Second}
		req := new(dns.Msg)
		req.SetQuestion("stalled.test.", dns.TypeA)
		c.Exchange(req, s.LocalAddr().String())
	}()
	time.Sleep(50 * time.Millisecond)

	// A cooked query must be answered while the proxy call is in flight.
	c := &dns.Client{Net: "udp", Timeout: 2 * time.Second}
	req := new(dns.Msg)
	req.SetQuestion("acme.test.", dns.TypeA)

	start := time.Now()
	resp, _, err := c.Exchange(req, s.LocalAddr().String())
	require.NoError(t, err)
	require.Len(t, resp.Answer, 1)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestServer_RateLimit(t *testing.T) {
	s := startServer(t, Config{Interface: "127.0.0.1", Port: 0, MaxQPS: 1}, cookedTable(), &stubExchanger{})

	c := &dns.Client{Net: "udp", Timeout: 300 * time.Millisecond}
	req := new(dns.Msg)
	req.SetQuestion("acme.test.", dns.TypeA)

	// Burst of 2 passes, then drops: the limited client just times out.
	answered := 0
	for i := 0; i < 6; i++ {
		if resp, _, err := c.Exchange(req, s.LocalAddr().String()); err == nil && resp != nil {
			answered++
		}
	}
	assert.GreaterOrEqual(t, answered, 1)
	assert.Less(t, answered, 6)
}

func TestServer_StopUnblocksStart(t *testing.T) {
	s := startServer(t, Config{Interface: "127.0.0.1", Port: 0}, cookedTable(), &stubExchanger{})

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
