package probe

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"
)

type DNSStatus struct {
	Domain        string
	HasAOrAAAA    bool
	HasNS         bool
	Class         string // "NXDOMAIN" | "NO_A_RECORD" | "RESOLVES" | "SERVFAIL_or_TIMEOUT" | "INVALID_NAME"
	ResolverError string
}

type resolver interface {
	LookupIP(ctx context.Context, network, host string) ([]net.IP, error)
	LookupNS(ctx context.Context, name string) ([]*net.NS, error)
}

var dnsTimeout = 3 * time.Second

// CheckDNS classifies why a host may be unreachable. It is only consulted
// after a request failed with a resolver error.
func CheckDNS(ctx context.Context, domain string) DNSStatus {
	return classifyDNS(ctx, net.DefaultResolver, domain)
}

// classifyDNS does one address lookup, plus an NS lookup only when the name
// was not found, to tell a missing zone from a zone without address records.
func classifyDNS(ctx context.Context, r resolver, domain string) DNSStatus {
	s := DNSStatus{Domain: strings.TrimSpace(domain)}
	if s.Domain == "" || strings.Contains(s.Domain, "://") {
		s.Class = "INVALID_NAME"
		return s
	}

	ctx, cancel := context.WithTimeout(ctx, dnsTimeout)
	defer cancel()

	ips, err := r.LookupIP(ctx, "ip", s.Domain)
	if err == nil {
		s.HasAOrAAAA = len(ips) > 0
		s.Class = "RESOLVES"
		if !s.HasAOrAAAA {
			s.Class = "NO_A_RECORD"
		}
		return s
	}
	s.ResolverError = err.Error()

	var de *net.DNSError
	if !errors.As(err, &de) || !de.IsNotFound {
		s.Class = "SERVFAIL_or_TIMEOUT"
		return s
	}
	s.Class = "NXDOMAIN"
	if ns, err := r.LookupNS(ctx, s.Domain); err == nil && len(ns) > 0 {
		s.HasNS = true
		s.Class = "NO_A_RECORD"
	}
	return s
}
