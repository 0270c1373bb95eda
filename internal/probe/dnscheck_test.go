package probe

import (
	"context"
	"errors"
	"net"
	"testing"
)

type fakeResolver struct {
	ips     []net.IP
	ipErr   error
	ns      []*net.NS
	nsCalls int
}

func (f *fakeResolver) LookupIP(ctx context.Context, network, host string) ([]net.IP, error) {
	return f.ips, f.ipErr
}

func (f *fakeResolver) LookupNS(ctx context.Context, name string) ([]*net.NS, error) {
	f.nsCalls++
	if len(f.ns) == 0 {
		return nil, &net.DNSError{Err: "no such host", Name: name, IsNotFound: true}
	}
	return f.ns, nil
}

func TestClassifyDNS(t *testing.T) {
	notFound := &net.DNSError{Err: "no such host", Name: "x.example", IsNotFound: true}
	cases := []struct {
		name    string
		r       *fakeResolver
		want    string
		nsCalls int
	}{
		{"resolves", &fakeResolver{ips: []net.IP{net.ParseIP("192.0.2.1")}}, "RESOLVES", 0},
		{"nxdomain", &fakeResolver{ipErr: notFound}, "NXDOMAIN", 1},
		{"zone without address", &fakeResolver{ipErr: notFound, ns: []*net.NS{{Host: "ns1.example."}}}, "NO_A_RECORD", 1},
		{"servfail", &fakeResolver{ipErr: &net.DNSError{Err: "server misbehaving", IsTemporary: true}}, "SERVFAIL_or_TIMEOUT", 0},
		{"other error", &fakeResolver{ipErr: errors.New("boom")}, "SERVFAIL_or_TIMEOUT", 0},
	}
	for _, c := range cases {
		got := classifyDNS(context.Background(), c.r, "x.example")
		if got.Class != c.want {
			t.Fatalf("%s: class %q want %q", c.name, got.Class, c.want)
		}
		if c.r.nsCalls != c.nsCalls {
			t.Fatalf("%s: %d NS lookups, want %d", c.name, c.r.nsCalls, c.nsCalls)
		}
	}

	if got := classifyDNS(context.Background(), &fakeResolver{}, "https://x.example"); got.Class != "INVALID_NAME" {
		t.Fatalf("url should be an invalid name, got %q", got.Class)
	}
}
