// Package dns resolves the DNS-seedlist form of the connection string
// (scheme mongodb+srv://), and supports re-polling.
package dns

import (
	"context"
	"fmt"
	"net"
	"strings"
)

// Resolver resolves SRV and TXT records for a DNS seedlist connection string.
type Resolver struct {
	resolver *net.Resolver
}

// DefaultResolver uses the system's default resolver.
var DefaultResolver = &Resolver{resolver: net.DefaultResolver}

// ParseHosts resolves the SRV record for the given hosts string (the portion
// of the URI between "mongodb+srv://" and the first '/', '?' or '@') and
// returns the list of "host:port" strings it points at. If requireTXT is
// true, the resolver also requires a valid TXT record to exist (possibly
// empty) in order to succeed.
func (r *Resolver) ParseHosts(host, srvServiceName string, requireTXT bool) ([]string, error) {
	if srvServiceName == "" {
		srvServiceName = "mongodb"
	}
	_, addrs, err := r.resolver.LookupSRV(context.Background(), srvServiceName, "tcp", host)
	if err != nil {
		return nil, fmt.Errorf("error looking up SRV record for %q: %w", host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no SRV records found for %q", host)
	}

	parentDomain := parentDomain(host)
	hosts := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		target := strings.TrimSuffix(addr.Target, ".")
		if !strings.HasSuffix(strings.ToLower(target), strings.ToLower(parentDomain)) {
			return nil, fmt.Errorf("SRV target %q is not a subdomain of %q", target, parentDomain)
		}
		hosts = append(hosts, fmt.Sprintf("%s:%d", target, addr.Port))
	}

	if requireTXT {
		if _, err := r.resolver.LookupTXT(context.Background(), host); err != nil {
			return nil, fmt.Errorf("error looking up TXT record for %q: %w", host, err)
		}
	}

	return hosts, nil
}

// ParseOptions resolves the TXT record containing connection string options
// attached to a DNS seedlist, returning the raw "key=val&key=val" string.
func (r *Resolver) ParseOptions(host string) (string, error) {
	records, err := r.resolver.LookupTXT(context.Background(), host)
	if err != nil {
		if dnsErr, ok := err.(*net.DNSError); ok && dnsErr.IsNotFound {
			return "", nil
		}
		return "", err
	}
	if len(records) == 0 {
		return "", nil
	}
	if len(records) > 1 {
		return "", fmt.Errorf("multiple TXT records found for %q", host)
	}
	return records[0], nil
}

func parentDomain(host string) string {
	idx := strings.Index(host, ".")
	if idx == -1 {
		return host
	}
	return host[idx:]
}
