package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dnsforge/dnsforged/internal/config"
	"github.com/dnsforge/dnsforged/internal/metrics"
	"github.com/dnsforge/dnsforged/internal/server"
	"github.com/dnsforge/dnsforged/internal/upstream"
)

const version = "0.1.0"

func main() {
	opts := parseFlags()

	if err := opts.Validate(); err != nil {
		// Operator mistakes are a refusal, not a failure.
		fmt.Fprintf(os.Stderr, "[!] %v\n", err)
		os.Exit(0)
	}
	opts.ApplyDefaults()

	log, closeLog := newLogger(opts)
	defer closeLog()

	if !opts.Quiet {
		printBanner()
	}

	if opts.Port != config.DefaultPort {
		log.Infof("listening on an alternative port %d", opts.Port)
	}
	if opts.IPv6 {
		log.Info("using IPv6 mode")
	}
	if opts.TCP {
		log.Info("running in TCP mode")
	}
	log.Infof("started on interface: %s", opts.Interface)

	resolvers, err := opts.ParseNameservers()
	if err != nil {
		log.Fatalf("nameservers: %v", err)
	}
	log.Infof("using the following nameservers: %s", resolverList(resolvers))

	table, err := opts.BuildTable(log)
	if err != nil {
		log.Fatalf("building rule table: %v", err)
	}
	if opts.PureProxy() {
		log.Info("no parameters were specified, running in full proxy mode")
	}

	pool := upstream.NewPool(resolvers, opts.IPv6)
	srv := server.New(server.Config{
		Interface: opts.Interface,
		Port:      opts.Port,
		TCP:       opts.TCP,
		IPv6:      opts.IPv6,
		MaxQPS:    opts.MaxQPS,
	}, table, pool, log)

	if err := srv.Start(); err != nil {
		log.Fatalf("starting server: %v", err)
	}

	var metricsSrv *http.Server
	if opts.MetricsAddr != "" {
		metricsSrv, err = metrics.Serve(opts.MetricsAddr)
		if err != nil {
			log.Fatalf("starting metrics endpoint: %v", err)
		}
		log.Infof("metrics available on http://%s/metrics", opts.MetricsAddr)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	if err := srv.Stop(); err != nil {
		log.Errorf("stopping server: %v", err)
	}
	if metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		metricsSrv.Shutdown(ctx)
		cancel()
	}
}

func parseFlags() *config.Options {
	var o config.Options
	var cfgPath string

	flag.StringVar(&o.FakeIP, "fakeip", "", "IP address to use for matching A queries")
	flag.StringVar(&o.FakeIPv6, "fakeipv6", "", "IPv6 address to use for matching AAAA queries")
	flag.StringVar(&o.FakeMail, "fakemail", "", "MX name to use for matching MX queries")
	flag.StringVar(&o.FakeAlias, "fakealias", "", "CNAME name to use for matching CNAME queries")
	flag.StringVar(&o.FakeNS, "fakens", "", "NS name to use for matching NS queries")
	flag.StringVar(&o.FakeDomains, "fakedomains", "", "comma separated list of domains resolved to fake values; all others are resolved to their true values")
	flag.StringVar(&o.TrueDomains, "truedomains", "", "comma separated list of domains resolved to their true values; all others are resolved to fake values")
	flag.StringVar(&o.RuleFile, "file", "", "rule file with per-type sections of domain = spec entries")
	flag.StringVar(&o.Nameservers, "nameservers", "", "comma separated upstream servers as host, host#port or host#port#tcp (default 8.8.8.8)")
	flag.StringVar(&o.Interface, "i", "", "interface address for the DNS listener (default 127.0.0.1, ::1 in IPv6 mode)")
	flag.StringVar(&o.Interface, "interface", "", "interface address for the DNS listener")
	flag.IntVar(&o.Port, "p", 0, "port to listen for DNS requests (default 53)")
	flag.IntVar(&o.Port, "port", 0, "port to listen for DNS requests")
	flag.BoolVar(&o.TCP, "t", false, "use the TCP listener instead of UDP")
	flag.BoolVar(&o.TCP, "tcp", false, "use the TCP listener instead of UDP")
	flag.BoolVar(&o.IPv6, "6", false, "run in IPv6 mode")
	flag.BoolVar(&o.IPv6, "ipv6", false, "run in IPv6 mode")
	flag.StringVar(&o.LogFile, "logfile", "", "append activity log to this file")
	flag.BoolVar(&o.Quiet, "q", false, "don't show the banner")
	flag.BoolVar(&o.Quiet, "quiet", false, "don't show the banner")
	flag.StringVar(&o.MetricsAddr, "metrics", "", "expose prometheus metrics on this address")
	flag.Float64Var(&o.MaxQPS, "max-qps", 0, "per-client query rate limit (0 = unlimited)")
	flag.StringVar(&cfgPath, "config", "", "YAML configuration file; explicit flags override it")
	flag.Parse()

	if cfgPath == "" {
		return &o
	}

	fileOpts, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[!] failed to load config file: %v\n", err)
		os.Exit(1)
	}

	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	merged := *fileOpts
	if set["fakeip"] {
		merged.FakeIP = o.FakeIP
	}
	if set["fakeipv6"] {
		merged.FakeIPv6 = o.FakeIPv6
	}
	if set["fakemail"] {
		merged.FakeMail = o.FakeMail
	}
	if set["fakealias"] {
		merged.FakeAlias = o.FakeAlias
	}
	if set["fakens"] {
		merged.FakeNS = o.FakeNS
	}
	if set["fakedomains"] {
		merged.FakeDomains = o.FakeDomains
	}
	if set["truedomains"] {
		merged.TrueDomains = o.TrueDomains
	}
	if set["file"] {
		merged.RuleFile = o.RuleFile
	}
	if set["nameservers"] {
		merged.Nameservers = o.Nameservers
	}
	if set["i"] || set["interface"] {
		merged.Interface = o.Interface
	}
	if set["p"] || set["port"] {
		merged.Port = o.Port
	}
	if set["t"] || set["tcp"] {
		merged.TCP = o.TCP
	}
	if set["6"] || set["ipv6"] {
		merged.IPv6 = o.IPv6
	}
	if set["logfile"] {
		merged.LogFile = o.LogFile
	}
	if set["q"] || set["quiet"] {
		merged.Quiet = o.Quiet
	}
	if set["metrics"] {
		merged.MetricsAddr = o.MetricsAddr
	}
	if set["max-qps"] {
		merged.MaxQPS = o.MaxQPS
	}
	return &merged
}

// newLogger builds the single activity sink: stderr, plus the logfile when
// configured. A logfile that cannot be opened is fatal at startup.
func newLogger(opts *config.Options) (*logrus.Logger, func()) {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if opts.LogFile == "" {
		return log, func() {}
	}

	f, err := os.OpenFile(opts.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[!] failed to open log file for writing: %v\n", err)
		os.Exit(1)
	}
	log.SetOutput(io.MultiWriter(os.Stderr, f))
	return log, func() { f.Close() }
}

func printBanner() {
	fmt.Println("╔══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                                                              ║")
	fmt.Printf("║            dnsforged %-7s - configurable DNS proxy        ║\n", version)
	fmt.Println("║                                                              ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
	fmt.Println()
}

func resolverList(resolvers []upstream.Resolver) string {
	out := ""
	for i, r := range resolvers {
		if i > 0 {
			out += ", "
		}
		out += r.String()
	}
	return out
}
