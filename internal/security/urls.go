package security

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"
)

// BlockedPrefix starts every URL rejection so callers and tests can detect a
// gate refusal without parsing the reason.
const BlockedPrefix = "Error: URL blocked"

// cloud metadata endpoints that must never be reachable through web_fetch.
var metadataHosts = map[string]bool{
	"169.254.169.254":          true,
	"metadata.google.internal": true,
	"metadata":                 true,
}

// CheckURL validates a URL for outbound fetching. It rejects non-HTTP
// schemes, loopback, private, link-local, and multicast addresses, and cloud
// metadata endpoints. Hostnames are resolved so a DNS name pointing at a
// private address is caught before connecting. Every rejection is logged at
// WARN with the offending URL.
func CheckURL(ctx context.Context, raw string) error {
	if err := checkURL(ctx, raw); err != nil {
		slog.Warn("blocked URL fetch attempt", "url", raw, "reason", err)
		return err
	}
	return nil
}

func checkURL(ctx context.Context, raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%s: unparseable URL", BlockedPrefix)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s: scheme %q not allowed", BlockedPrefix, u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("%s: missing host", BlockedPrefix)
	}
	if metadataHosts[strings.ToLower(host)] {
		return fmt.Errorf("%s: cloud metadata endpoint", BlockedPrefix)
	}

	if ip := net.ParseIP(host); ip != nil {
		if reason := ipBlocked(ip); reason != "" {
			return fmt.Errorf("%s: %s", BlockedPrefix, reason)
		}
		return nil
	}

	resolveCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	ips, err := net.DefaultResolver.LookupIPAddr(resolveCtx, host)
	if err != nil {
		return fmt.Errorf("%s: cannot resolve %q", BlockedPrefix, host)
	}
	for _, addr := range ips {
		if reason := ipBlocked(addr.IP); reason != "" {
			return fmt.Errorf("%s: %q resolves to %s (%s)", BlockedPrefix, host, addr.IP, reason)
		}
	}
	return nil
}

func ipBlocked(ip net.IP) string {
	switch {
	case ip.IsLoopback():
		return "loopback address"
	case ip.IsPrivate():
		return "private address"
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return "link-local address"
	case ip.IsMulticast():
		return "multicast address"
	case ip.IsUnspecified():
		return "unspecified address"
	}
	return ""
}
