package cook

import "github.com/miekg/dns"

// Response assembles the cooked reply for req: the request id and question
// are echoed, RD is carried over, and the answer section holds the fabricated
// records. The proxy always answers authoritatively with recursion marked
// available, since clients pointed at it expect a full resolver.
func Response(req *dns.Msg, answers []dns.RR) *dns.Msg {
	m := new(dns.Msg)
	m.SetReply(req)
	m.Authoritative = true
	m.RecursionAvailable = true
	m.Rcode = dns.RcodeSuccess
	m.Answer = answers
	return m
}
