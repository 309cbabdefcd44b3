package server

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dnsforge/dnsforged/internal/rules"
	"github.com/dnsforge/dnsforged/internal/upstream"
)

// stubExchanger records the forwarded bytes and returns a canned reply.
type stubExchanger struct {
	reply []byte
	err   error
	got   []byte
	calls int
}

func (s *stubExchanger) Exchange(_ context.Context, req []byte) ([]byte, upstream.Resolver, error) {
	s.calls++
	s.got = append([]byte(nil), req...)
	if s.err != nil {
		return nil, upstream.Resolver{}, s.err
	}
	return s.reply, upstream.Resolver{Host: "198.51.100.53", Port: 53, Proto: "udp"}, nil
}

func testServer(table *rules.Table, ex Exchanger) *Server {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return New(Config{Interface: "127.0.0.1", Port: 0}, table, ex, log)
}

var testRemote = &net.UDPAddr{IP: net.IPv4(192, 0, 2, 200), Port: 4242}

func packQuery(t *testing.T, name string, qtype uint16) []byte {
	t.Helper()
	req := new(dns.Msg)
	req.SetQuestion(dns.Fqdn(name), qtype)
	req.Id = 0x1234
	packet, err := req.Pack()
	require.NoError(t, err)
	return packet
}

func unpack(t *testing.T, packet []byte) *dns.Msg {
	t.Helper()
	msg := new(dns.Msg)
	require.NoError(t, msg.Unpack(packet))
	return msg
}

func TestDispatch_CooksMatchingType(t *testing.T) {
	table := rules.New()
	table.Add(dns.TypeA, "acme.test", "192.0.2.1")
	ex := &stubExchanger{}
	s := testServer(table, ex)

	resp := s.dispatch(context.Background(), packQuery(t, "acme.test", dns.TypeA), testRemote, "udp")
	require.NotNil(t, resp)
	assert.Zero(t, ex.calls)

	msg := unpack(t, resp)
	assert.Equal(t, uint16(0x1234), msg.Id)
	assert.True(t, msg.Authoritative)
	require.Len(t, msg.Answer, 1)
	a, ok := msg.Answer[0].(*dns.A)
	require.True(t, ok)
	assert.Equal(t, "192.0.2.1", a.A.String())
}

func TestDispatch_CaseInsensitiveMatch(t *testing.T) {
	table := rules.New()
	table.Add(dns.TypeA, "acme.test", "192.0.2.1")
	s := testServer(table, &stubExchanger{})

	resp := s.dispatch(context.Background(), packQuery(t, "Acme.TEST", dns.TypeA), testRemote, "udp")
	require.NotNil(t, resp)

	msg := unpack(t, resp)
	require.Len(t, msg.Answer, 1)
	// The answer's owner name keeps the query's original case.
	assert.Equal(t, "Acme.TEST.", msg.Answer[0].Header().Name)
}

func TestDispatch_ProxiesUnmatched(t *testing.T) {
	table := rules.New()
	table.Add(dns.TypeA, "acme.test", "192.0.2.1")

	canned := packQuery(t, "other.test", dns.TypeA)
	ex := &stubExchanger{reply: canned}
	s := testServer(table, ex)

	query := packQuery(t, "other.test", dns.TypeA)
	resp := s.dispatch(context.Background(), query, testRemote, "udp")

	require.Equal(t, 1, ex.calls)
	// The original request bytes are forwarded and the upstream's reply
	// is returned verbatim.
	assert.Equal(t, query, ex.got)
	assert.Equal(t, canned, resp)
}

func TestDispatch_NegativeMarkerProxies(t *testing.T) {
	table := rules.New()
	table.AddNegative(dns.TypeA, "acme.test")
	table.Add(dns.TypeA, rules.Sentinel, "192.0.2.1")

	ex := &stubExchanger{reply: []byte{0xab}}
	s := testServer(table, ex)

	resp := s.dispatch(context.Background(), packQuery(t, "acme.test", dns.TypeA), testRemote, "udp")
	assert.Equal(t, 1, ex.calls)
	assert.Equal(t, []byte{0xab}, resp)

	// Names outside the true list are cooked from the sentinel.
	resp = s.dispatch(context.Background(), packQuery(t, "foo.bar", dns.TypeA), testRemote, "udp")
	require.NotNil(t, resp)
	msg := unpack(t, resp)
	require.Len(t, msg.Answer, 1)
	assert.Equal(t, 1, ex.calls)
}

func TestDispatch_ANYExpansion(t *testing.T) {
	table := rules.New()
	table.Add(dns.TypeA, rules.Sentinel, "192.0.2.1")
	table.Add(dns.TypeAAAA, rules.Sentinel, "2001:db8::1")
	table.Add(dns.TypeMX, rules.Sentinel, "mx.fake")

	ex := &stubExchanger{}
	s := testServer(table, ex)

	resp := s.dispatch(context.Background(), packQuery(t, "anything.test", dns.TypeANY), testRemote, "udp")
	require.NotNil(t, resp)
	assert.Zero(t, ex.calls)

	msg := unpack(t, resp)
	require.Len(t, msg.Answer, 3)
	// One RR per matched sub-map, in the table's fixed type order.
	assert.Equal(t, dns.TypeA, msg.Answer[0].Header().Rrtype)
	assert.Equal(t, dns.TypeAAAA, msg.Answer[1].Header().Rrtype)
	assert.Equal(t, dns.TypeMX, msg.Answer[2].Header().Rrtype)
}

func TestDispatch_ANYWithNegativeProxies(t *testing.T) {
	table := rules.New()
	table.AddNegative(dns.TypeA, "acme.test")
	table.Add(dns.TypeA, rules.Sentinel, "192.0.2.1")
	table.Add(dns.TypeMX, rules.Sentinel, "mx.fake")

	ex := &stubExchanger{reply: []byte{0x01}}
	s := testServer(table, ex)

	resp := s.dispatch(context.Background(), packQuery(t, "acme.test", dns.TypeANY), testRemote, "udp")
	assert.Equal(t, 1, ex.calls)
	assert.Equal(t, []byte{0x01}, resp)
}

func TestDispatch_ANYNoMatchesProxies(t *testing.T) {
	table := rules.New()
	ex := &stubExchanger{reply: []byte{0x02}}
	s := testServer(table, ex)

	resp := s.dispatch(context.Background(), packQuery(t, "anything.test", dns.TypeANY), testRemote, "udp")
	assert.Equal(t, 1, ex.calls)
	assert.Equal(t, []byte{0x02}, resp)
}

func TestDispatch_InvalidPacketDropped(t *testing.T) {
	ex := &stubExchanger{}
	s := testServer(rules.New(), ex)

	resp := s.dispatch(context.Background(), []byte{0x00, 0x01, 0x02}, testRemote, "udp")
	assert.Nil(t, resp)
	assert.Zero(t, ex.calls)
}

func TestDispatch_ResponsePacketDropped(t *testing.T) {
	ex := &stubExchanger{}
	s := testServer(rules.New(), ex)

	msg := new(dns.Msg)
	msg.SetQuestion("acme.test.", dns.TypeA)
	msg.Response = true
	packet, err := msg.Pack()
	require.NoError(t, err)

	resp := s.dispatch(context.Background(), packet, testRemote, "udp")
	assert.Nil(t, resp)
	assert.Zero(t, ex.calls)
}

func TestDispatch_EncodeFailureDropsQuery(t *testing.T) {
	table := rules.New()
	table.Add(dns.TypeA, "acme.test", "not-an-ip")
	ex := &stubExchanger{}
	s := testServer(table, ex)

	resp := s.dispatch(context.Background(), packQuery(t, "acme.test", dns.TypeA), testRemote, "udp")
	assert.Nil(t, resp)
	assert.Zero(t, ex.calls)
}

func TestDispatch_UpstreamFailureDropsQuery(t *testing.T) {
	ex := &stubExchanger{err: errors.New("timed out")}
	s := testServer(rules.New(), ex)

	resp := s.dispatch(context.Background(), packQuery(t, "acme.test", dns.TypeA), testRemote, "udp")
	assert.Nil(t, resp)
	assert.Equal(t, 1, ex.calls)
}

func TestDispatch_UnsupportedTypeProxies(t *testing.T) {
	table := rules.New()
	table.Add(dns.TypeA, rules.Sentinel, "192.0.2.1")

	ex := &stubExchanger{reply: []byte{0x03}}
	s := testServer(table, ex)

	resp := s.dispatch(context.Background(), packQuery(t, "acme.test", dns.TypeHINFO), testRemote, "udp")
	assert.Equal(t, 1, ex.calls)
	assert.Equal(t, []byte{0x03}, resp)
}
