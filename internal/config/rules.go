package config

import (
	"fmt"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"
	"gopkg.in/ini.v1"

	"github.com/dnsforge/dnsforged/internal/rules"
)

// globalValue pairs one RR type with its command-line cooked value.
type globalValue struct {
	qtype uint16
	value string
}

func (o *Options) globals() []globalValue {
	var g []globalValue
	if o.FakeIP != "" {
		g = append(g, globalValue{dns.TypeA, o.FakeIP})
	}
	if o.FakeIPv6 != "" {
		g = append(g, globalValue{dns.TypeAAAA, o.FakeIPv6})
	}
	if o.FakeMail != "" {
		g = append(g, globalValue{dns.TypeMX, o.FakeMail})
	}
	if o.FakeAlias != "" {
		g = append(g, globalValue{dns.TypeCNAME, o.FakeAlias})
	}
	if o.FakeNS != "" {
		g = append(g, globalValue{dns.TypeNS, o.FakeNS})
	}
	return g
}

// BuildTable constructs the rule table from the global cooked values, the
// fakedomains/truedomains lists and the rule file. File entries are
// inserted last and override pattern-identical global entries.
func (o *Options) BuildTable(log *logrus.Logger) (*rules.Table, error) {
	table := rules.New()

	switch {
	case o.FakeDomains != "":
		for _, domain := range SplitList(o.FakeDomains) {
			for _, g := range o.globals() {
				table.Add(g.qtype, domain, g.value)
				log.Infof("cooking %s replies to point to %s matching: %s",
					dns.TypeToString[g.qtype], g.value, domain)
			}
		}

	case o.TrueDomains != "":
		for _, domain := range SplitList(o.TrueDomains) {
			for _, g := range o.globals() {
				table.AddNegative(g.qtype, domain)
				table.Add(g.qtype, rules.Sentinel, g.value)
				log.Infof("cooking %s replies to point to %s not matching: %s",
					dns.TypeToString[g.qtype], g.value, domain)
			}
		}

	default:
		for _, g := range o.globals() {
			table.Add(g.qtype, rules.Sentinel, g.value)
			log.Infof("cooking all %s replies to point to %s",
				dns.TypeToString[g.qtype], g.value)
		}
	}

	if o.RuleFile != "" {
		if err := loadRuleFile(table, o.RuleFile, log); err != nil {
			return nil, fmt.Errorf("rule file %s: %w", o.RuleFile, err)
		}
	}

	return table, nil
}

// loadRuleFile reads an INI-style rule file whose sections are RR-type tags
// and whose entries are "domain = spec" pairs. Sections naming unsupported
// types are skipped with a warning.
func loadRuleFile(table *rules.Table, path string, log *logrus.Logger) error {
	f, err := ini.Load(path)
	if err != nil {
		return err
	}

	for _, section := range f.Sections() {
		name := section.Name()
		if name == ini.DefaultSection {
			continue
		}

		qtype, ok := dns.StringToType[name]
		if !ok || !table.Supports(qtype) {
			log.Warnf("DNS record type %q is not supported, ignoring section contents", name)
			continue
		}

		for _, key := range section.Keys() {
			table.Add(qtype, key.Name(), key.Value())
			log.Infof("cooking %s replies for domain %s with %q", name, key.Name(), key.Value())
		}
	}
	return nil
}
