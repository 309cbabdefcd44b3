package server

import (
	"context"
	"net"
	"strings"

	"github.com/miekg/dns"

	"github.com/dnsforge/dnsforged/internal/cook"
	"github.com/dnsforge/dnsforged/internal/metrics"
	"github.com/dnsforge/dnsforged/internal/rules"
)

// dispatch decides, for one raw query, between cooking a fabricated
// response and proxying the request upstream, and returns the response
// bytes. A nil return means no response is sent and the client times out
// on its own.
func (s *Server) dispatch(ctx context.Context, packet []byte, remote net.Addr, transport string) []byte {
	metrics.QueriesReceived.WithLabelValues(transport).Inc()

	if s.limiter != nil && !s.limiter.allow(remoteIP(remote)) {
		metrics.RateLimited.Inc()
		return nil
	}

	req := new(dns.Msg)
	if err := req.Unpack(packet); err != nil || len(req.Question) == 0 {
		metrics.InvalidQueries.Inc()
		s.log.Errorf("%s: invalid DNS request", remote)
		return nil
	}

	// Only queries are processed; stray responses are dropped.
	if req.Response {
		metrics.InvalidQueries.Inc()
		return nil
	}

	question := req.Question[0]
	// The original case is kept for logging; matching is case-insensitive.
	qname := strings.TrimSuffix(question.Name, ".")
	matchName := strings.ToLower(qname)
	qtype := question.Qtype
	typeTag := dns.Type(qtype).String()

	if entry, ok := s.table.Lookup(qtype, matchName); ok && !entry.Negative {
		return s.cookOne(req, remote, typeTag, qname, entry.Spec)
	}
	if qtype == dns.TypeANY {
		if resp := s.cookAny(req, remote, qname, matchName); resp != nil {
			return resp
		}
	}
	return s.proxy(ctx, packet, remote, typeTag, qname)
}

// cookOne fabricates a single-answer response for a concrete type match.
func (s *Server) cookOne(req *dns.Msg, remote net.Addr, typeTag, qname, spec string) []byte {
	rr, err := cook.Encode(req.Question[0].Qtype, qname, spec)
	if err != nil {
		metrics.EncodeFailures.Inc()
		s.log.Errorf("%s: dropping %s query for %s: %v", remote, typeTag, qname, err)
		return nil
	}

	out, err := cook.Response(req, []dns.RR{rr}).Pack()
	if err != nil {
		s.log.Errorf("%s: packing response for %s: %v", remote, qname, err)
		return nil
	}

	s.log.Infof("%s: cooking the response of type %q for %s to %s", remote, typeTag, qname, spec)
	metrics.ResponsesCooked.WithLabelValues(typeTag).Inc()
	return out
}

// cookAny expands an ANY query into one RR per type sub-map with a
// concrete match. A negative match for any type means the operator wants
// this name answered upstream, so the whole query falls through to the
// proxy; so does a name with no matches at all.
func (s *Server) cookAny(req *dns.Msg, remote net.Addr, qname, matchName string) []byte {
	type typedEntry struct {
		qtype uint16
		entry rules.Entry
	}
	var matched []typedEntry
	for _, qtype := range s.table.Types() {
		entry, ok := s.table.Lookup(qtype, matchName)
		if !ok {
			continue
		}
		if entry.Negative {
			return nil
		}
		matched = append(matched, typedEntry{qtype, entry})
	}
	if len(matched) == 0 {
		return nil
	}

	answers := make([]dns.RR, 0, len(matched))
	for _, m := range matched {
		rr, err := cook.Encode(m.qtype, qname, m.entry.Spec)
		if err != nil {
			metrics.EncodeFailures.Inc()
			s.log.Errorf("%s: dropping ANY query for %s: %v", remote, qname, err)
			return nil
		}
		answers = append(answers, rr)
	}

	out, err := cook.Response(req, answers).Pack()
	if err != nil {
		s.log.Errorf("%s: packing response for %s: %v", remote, qname, err)
		return nil
	}

	s.log.Infof("%s: cooking the response of type \"ANY\" for %s with all known fake records", remote, qname)
	metrics.ResponsesCooked.WithLabelValues("ANY").Inc()
	return out
}

// proxy forwards the original request bytes to a random upstream and
// returns its reply verbatim.
func (s *Server) proxy(ctx context.Context, packet []byte, remote net.Addr, typeTag, qname string) []byte {
	reply, resolver, err := s.exchange.Exchange(ctx, packet)
	if err != nil {
		metrics.UpstreamFailures.Inc()
		s.log.Errorf("%s: could not proxy request: %v", remote, err)
		return nil
	}

	s.log.Infof("%s: proxying the response of type %q for %s to %s", remote, typeTag, qname, resolver)
	metrics.QueriesProxied.Inc()
	return reply
}

func remoteIP(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.IP
	case *net.TCPAddr:
		return a.IP
	}
	if host, _, err := net.SplitHostPort(addr.String()); err == nil {
		return net.ParseIP(host)
	}
	return nil
}
