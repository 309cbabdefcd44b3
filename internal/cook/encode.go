package cook

import (
	"encoding/base64"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// Cooked answers carry TTL 0 so spoofed clients never cache them past the
// current lookup.
const cookedTTL = 0

// Encode parses the operator's textual spec for qtype and returns the
// answer RR, owner-named for qname. Field splitting is on single spaces and
// trailing dots on domain-valued fields are stripped, so "ns1.fake." and
// "ns1.fake" encode identically.
func Encode(qtype uint16, qname, spec string) (dns.RR, error) {
	hdr := dns.RR_Header{
		Name:   dns.Fqdn(qname),
		Rrtype: qtype,
		Class:  dns.ClassINET,
		Ttl:    cookedTTL,
	}

	switch qtype {
	case dns.TypeA:
		return encodeA(hdr, spec)
	case dns.TypeAAAA:
		return encodeAAAA(hdr, spec)
	case dns.TypeMX:
		return &dns.MX{Hdr: hdr, Preference: 10, Mx: dns.Fqdn(trimDot(spec))}, nil
	case dns.TypeCNAME:
		return &dns.CNAME{Hdr: hdr, Target: dns.Fqdn(trimDot(spec))}, nil
	case dns.TypeNS:
		return &dns.NS{Hdr: hdr, Ns: dns.Fqdn(trimDot(spec))}, nil
	case dns.TypePTR:
		return &dns.PTR{Hdr: hdr, Ptr: dns.Fqdn(trimDot(spec))}, nil
	case dns.TypeTXT:
		return &dns.TXT{Hdr: hdr, Txt: []string{trimDot(spec)}}, nil
	case dns.TypeSOA:
		return encodeSOA(hdr, spec)
	case dns.TypeSRV:
		return encodeSRV(hdr, spec)
	case dns.TypeNAPTR:
		return encodeNAPTR(hdr, spec)
	case dns.TypeDNSKEY:
		return encodeDNSKEY(hdr, spec)
	case dns.TypeRRSIG:
		return encodeRRSIG(hdr, spec)
	}
	return nil, fmt.Errorf("no encoder for type %s", dns.TypeToString[qtype])
}

func encodeA(hdr dns.RR_Header, spec string) (dns.RR, error) {
	ip := net.ParseIP(spec)
	if ip == nil || ip.To4() == nil {
		return nil, fmt.Errorf("invalid IPv4 address: %q", spec)
	}
	return &dns.A{Hdr: hdr, A: ip.To4()}, nil
}

func encodeAAAA(hdr dns.RR_Header, spec string) (dns.RR, error) {
	ip := net.ParseIP(spec)
	if ip == nil || !strings.Contains(spec, ":") {
		return nil, fmt.Errorf("invalid IPv6 address: %q", spec)
	}
	// Always the full sixteen octets, even for v4-mapped literals.
	return &dns.AAAA{Hdr: hdr, AAAA: ip.To16()}, nil
}

func encodeSOA(hdr dns.RR_Header, spec string) (dns.RR, error) {
	fields := strings.Split(spec, " ")
	if len(fields) != 7 {
		return nil, fmt.Errorf("SOA spec needs 7 fields, got %d", len(fields))
	}

	soa := &dns.SOA{
		Hdr:  hdr,
		Ns:   dns.Fqdn(trimDot(fields[0])),
		Mbox: dns.Fqdn(trimDot(fields[1])),
	}

	times := [5]*uint32{&soa.Serial, &soa.Refresh, &soa.Retry, &soa.Expire, &soa.Minttl}
	for i, dst := range times {
		v, err := parseUint32(fields[i+2])
		if err != nil {
			return nil, fmt.Errorf("SOA field %d: %w", i+3, err)
		}
		*dst = v
	}
	return soa, nil
}

func encodeSRV(hdr dns.RR_Header, spec string) (dns.RR, error) {
	fields := strings.Split(spec, " ")
	if len(fields) != 4 {
		return nil, fmt.Errorf("SRV spec needs 4 fields, got %d", len(fields))
	}

	priority, err := parseUint16(fields[0])
	if err != nil {
		return nil, fmt.Errorf("SRV priority: %w", err)
	}
	weight, err := parseUint16(fields[1])
	if err != nil {
		return nil, fmt.Errorf("SRV weight: %w", err)
	}
	port, err := parseUint16(fields[2])
	if err != nil {
		return nil, fmt.Errorf("SRV port: %w", err)
	}

	return &dns.SRV{
		Hdr:      hdr,
		Priority: priority,
		Weight:   weight,
		Port:     port,
		Target:   dns.Fqdn(trimDot(fields[3])),
	}, nil
}

func encodeNAPTR(hdr dns.RR_Header, spec string) (dns.RR, error) {
	fields := strings.Split(spec, " ")
	if len(fields) != 6 {
		return nil, fmt.Errorf("NAPTR spec needs 6 fields, got %d", len(fields))
	}

	order, err := parseUint16(fields[0])
	if err != nil {
		return nil, fmt.Errorf("NAPTR order: %w", err)
	}
	preference, err := parseUint16(fields[1])
	if err != nil {
		return nil, fmt.Errorf("NAPTR preference: %w", err)
	}

	return &dns.NAPTR{
		Hdr:         hdr,
		Order:       order,
		Preference:  preference,
		Flags:       fields[2],
		Service:     fields[3],
		Regexp:      fields[4],
		Replacement: dns.Fqdn(trimDot(fields[5])),
	}, nil
}

func encodeDNSKEY(hdr dns.RR_Header, spec string) (dns.RR, error) {
	fields := strings.Split(spec, " ")
	if len(fields) != 4 {
		return nil, fmt.Errorf("DNSKEY spec needs 4 fields, got %d", len(fields))
	}

	flags, err := parseUint16(fields[0])
	if err != nil {
		return nil, fmt.Errorf("DNSKEY flags: %w", err)
	}
	protocol, err := parseUint8(fields[1])
	if err != nil {
		return nil, fmt.Errorf("DNSKEY protocol: %w", err)
	}
	algorithm, err := parseUint8(fields[2])
	if err != nil {
		return nil, fmt.Errorf("DNSKEY algorithm: %w", err)
	}
	if _, err := base64.StdEncoding.DecodeString(fields[3]); err != nil {
		return nil, fmt.Errorf("DNSKEY key: %w", err)
	}

	return &dns.DNSKEY{
		Hdr:       hdr,
		Flags:     flags,
		Protocol:  protocol,
		Algorithm: algorithm,
		PublicKey: fields[3],
	}, nil
}

func encodeRRSIG(hdr dns.RR_Header, spec string) (dns.RR, error) {
	fields := strings.Split(spec, " ")
	if len(fields) != 9 {
		return nil, fmt.Errorf("RRSIG spec needs 9 fields, got %d", len(fields))
	}

	covered, ok := dns.StringToType[fields[0]]
	if !ok {
		return nil, fmt.Errorf("RRSIG covered: unknown RR type %q", fields[0])
	}
	algorithm, err := parseUint8(fields[1])
	if err != nil {
		return nil, fmt.Errorf("RRSIG algorithm: %w", err)
	}
	labels, err := parseUint8(fields[2])
	if err != nil {
		return nil, fmt.Errorf("RRSIG labels: %w", err)
	}
	origTTL, err := parseUint32(fields[3])
	if err != nil {
		return nil, fmt.Errorf("RRSIG original TTL: %w", err)
	}
	expiration, err := parseSigTime(fields[4])
	if err != nil {
		return nil, fmt.Errorf("RRSIG expiration: %w", err)
	}
	inception, err := parseSigTime(fields[5])
	if err != nil {
		return nil, fmt.Errorf("RRSIG inception: %w", err)
	}
	keyTag, err := parseUint16(fields[6])
	if err != nil {
		return nil, fmt.Errorf("RRSIG key tag: %w", err)
	}
	if _, err := base64.StdEncoding.DecodeString(fields[8]); err != nil {
		return nil, fmt.Errorf("RRSIG signature: %w", err)
	}

	return &dns.RRSIG{
		Hdr:         hdr,
		TypeCovered: covered,
		Algorithm:   algorithm,
		Labels:      labels,
		OrigTtl:     origTTL,
		Expiration:  expiration,
		Inception:   inception,
		KeyTag:      keyTag,
		SignerName:  dns.Fqdn(trimDot(fields[7])),
		Signature:   fields[8],
	}, nil
}

// parseSigTime converts an RRSIG YYYYMMDDHHMMSS timestamp, interpreted as
// UTC, to seconds since the Unix epoch.
func parseSigTime(s string) (uint32, error) {
	t, err := time.ParseInLocation("20060102150405", s, time.UTC)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp %q", s)
	}
	return uint32(t.Unix()), nil
}

func parseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", s)
	}
	return uint32(v), nil
}

func parseUint16(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", s)
	}
	return uint16(v), nil
}

func parseUint8(s string) (uint8, error) {
	v, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", s)
	}
	return uint8(v), nil
}

func trimDot(s string) string {
	return strings.TrimSuffix(s, ".")
}
