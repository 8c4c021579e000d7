package helpers

import "net"

// IPClassification is the security classification of an IP address, used to
// keep registered URIs and fetched key sets away from internal networks.
type IPClassification int

const (
	// IPClassificationPublic is a publicly routable address
	IPClassificationPublic IPClassification = iota
	// IPClassificationLoopback is 127.0.0.0/8 or ::1
	IPClassificationLoopback
	// IPClassificationPrivate is RFC 1918 or fc00::/7
	IPClassificationPrivate
	// IPClassificationLinkLocal is 169.254.0.0/16 or fe80::/10
	IPClassificationLinkLocal
	// IPClassificationUnspecified is 0.0.0.0 or ::
	IPClassificationUnspecified
)

// String returns a human-readable name for the classification
func (c IPClassification) String() string {
	switch c {
	case IPClassificationPublic:
		return "public"
	case IPClassificationLoopback:
		return "loopback"
	case IPClassificationPrivate:
		return "private"
	case IPClassificationLinkLocal:
		return "link_local"
	case IPClassificationUnspecified:
		return "unspecified"
	default:
		return "unknown"
	}
}

// ClassifyIP classifies an IP address. Link-local covers cloud metadata
// endpoints such as 169.254.169.254.
func ClassifyIP(ip net.IP) IPClassification {
	if ip == nil || ip.IsUnspecified() {
		return IPClassificationUnspecified
	}
	if ip.IsLoopback() {
		return IPClassificationLoopback
	}
	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return IPClassificationLinkLocal
	}
	if ip.IsPrivate() {
		return IPClassificationPrivate
	}
	return IPClassificationPublic
}

// IsPrivateOrInternal reports whether the IP is anything other than a
// publicly routable address.
func IsPrivateOrInternal(ip net.IP) bool {
	return ClassifyIP(ip) != IPClassificationPublic
}

// IsLoopbackHostname reports whether a hostname (without port, as returned
// by url.URL.Hostname()) denotes a loopback address, including "localhost",
// the whole 127.0.0.0/8 range, and ::1.
func IsLoopbackHostname(hostname string) bool {
	if hostname == "localhost" {
		return true
	}
	clean := hostname
	if len(hostname) > 2 && hostname[0] == '[' && hostname[len(hostname)-1] == ']' {
		clean = hostname[1 : len(hostname)-1]
	}
	if ip := net.ParseIP(clean); ip != nil {
		return ip.IsLoopback()
	}
	return false
}
