package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dnsforge/dnsforged/internal/upstream"
)

// Defaults for the IPv4 listener and upstream; ApplyDefaults swaps both for
// their IPv6 counterparts when the user did not override them.
const (
	DefaultInterface    = "127.0.0.1"
	DefaultInterfaceV6  = "::1"
	DefaultNameserver   = "8.8.8.8"
	DefaultNameserverV6 = "2001:4860:4860::8888"
	DefaultPort         = 53
)

// Options is the complete configuration snapshot handed to the core. It is
// assembled from flags and an optional YAML file before the server starts
// and never mutated afterwards.
type Options struct {
	FakeIP    string `yaml:"fakeip"`
	FakeIPv6  string `yaml:"fakeipv6"`
	FakeMail  string `yaml:"fakemail"`
	FakeAlias string `yaml:"fakealias"`
	FakeNS    string `yaml:"fakens"`

	FakeDomains string `yaml:"fakedomains"`
	TrueDomains string `yaml:"truedomains"`

	RuleFile    string `yaml:"file"`
	Nameservers string `yaml:"nameservers"`

	Interface string `yaml:"interface"`
	Port      int    `yaml:"port"`
	TCP       bool   `yaml:"tcp"`
	IPv6      bool   `yaml:"ipv6"`

	LogFile     string  `yaml:"logfile"`
	Quiet       bool    `yaml:"quiet"`
	MetricsAddr string  `yaml:"metrics"`
	MaxQPS      float64 `yaml:"max_qps"`
}

// Load reads a YAML options file.
func Load(path string) (*Options, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var o Options
	if err := yaml.Unmarshal(b, &o); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &o, nil
}

// HasFakeValue reports whether any global cooked value was supplied.
func (o *Options) HasFakeValue() bool {
	return o.FakeIP != "" || o.FakeIPv6 != "" || o.FakeMail != "" ||
		o.FakeAlias != "" || o.FakeNS != ""
}

// PureProxy reports whether the proxy runs with no rules at all, forwarding
// every query upstream.
func (o *Options) PureProxy() bool {
	return !o.HasFakeValue() && o.RuleFile == ""
}

// Validate enforces the flag combinations the core relies on. Violations
// are operator mistakes, refused before startup.
func (o *Options) Validate() error {
	if o.FakeDomains != "" && o.TrueDomains != "" {
		return fmt.Errorf("you can not specify both 'fakedomains' and 'truedomains' parameters")
	}
	if (o.FakeDomains != "" || o.TrueDomains != "") && !o.HasFakeValue() {
		return fmt.Errorf("you have forgotten to specify which fake values to use for matching domains")
	}
	return nil
}

// ApplyDefaults fills unset fields and swaps the listener and upstream
// defaults for their IPv6 counterparts in IPv6 mode.
func (o *Options) ApplyDefaults() {
	if o.Interface == "" {
		o.Interface = DefaultInterface
	}
	if o.Port == 0 {
		o.Port = DefaultPort
	}
	if o.Nameservers == "" {
		o.Nameservers = DefaultNameserver
	}
	if o.IPv6 {
		if o.Interface == DefaultInterface {
			o.Interface = DefaultInterfaceV6
		}
		if o.Nameservers == DefaultNameserver {
			o.Nameservers = DefaultNameserverV6
		}
	}
}

// ParseNameservers expands the comma-separated nameserver list into
// resolver specs.
func (o *Options) ParseNameservers() ([]upstream.Resolver, error) {
	var resolvers []upstream.Resolver
	for _, entry := range SplitList(o.Nameservers) {
		r, err := upstream.ParseResolver(entry)
		if err != nil {
			return nil, err
		}
		resolvers = append(resolvers, r)
	}
	if len(resolvers) == 0 {
		return nil, fmt.Errorf("no nameservers configured")
	}
	return resolvers, nil
}

// SplitList splits a comma-separated list, trimming whitespace around each
// entry so "a.com,b.com" and "a.com, b.com" read the same.
func SplitList(csv string) []string {
	var out []string
	for _, entry := range strings.Split(csv, ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			out = append(out, entry)
		}
	}
	return out
}
