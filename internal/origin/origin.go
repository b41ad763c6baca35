package origin

import (
	"net/url"
	"strconv"
	"strings"
)

// NormalizeHeader validates a browser Origin header and returns the
// normalized origin (scheme://host[:port], lower case, default port
// dropped) plus its host[:port] part for same-host comparisons.
//
// The opaque origin "null" is returned as-is with an empty host.
func NormalizeHeader(originHeader string) (normalizedOrigin string, host string, ok bool) {
	trimmed := strings.TrimSpace(originHeader)
	if trimmed == "" {
		return "", "", false
	}
	if trimmed == "null" {
		return "null", "", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", false
	}
	if u.User != nil || u.RawQuery != "" || u.ForceQuery || u.Fragment != "" {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}

	host, ok = normalizeAuthority(u.Host, scheme)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

// IsAllowed reports whether a normalized origin may connect to requestHost.
//
// A non-empty allowedOrigins is an allow list of normalized origins, where
// "*" matches anything. Otherwise only the request's own host[:port] is
// allowed. Scheme is ignored there since TLS is often terminated upstream.
func IsAllowed(normalizedOrigin, originHost, requestHost string, allowedOrigins []string) bool {
	if len(allowedOrigins) > 0 {
		for _, allowed := range allowedOrigins {
			if allowed == "*" || allowed == normalizedOrigin {
				return true
			}
		}
		return false
	}

	scheme, _, found := strings.Cut(normalizedOrigin, "://")
	if !found || (scheme != "http" && scheme != "https") {
		return false
	}
	requestAuthority, ok := normalizeAuthority(strings.TrimSpace(requestHost), scheme)
	if !ok {
		return false
	}
	return originHost == requestAuthority
}

// normalizeAuthority lower-cases host[:port], validates the port, drops the
// scheme's default port and re-brackets IPv6 literals.
func normalizeAuthority(authority, scheme string) (string, bool) {
	rawHostname, rawPort, ok := splitHostPort(authority)
	if !ok {
		return "", false
	}
	hostname := strings.ToLower(rawHostname)
	if hostname == "" {
		return "", false
	}

	var port uint64
	if rawPort != "" {
		n, err := strconv.ParseUint(rawPort, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		port = n
	}
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		port = 0
	}

	host := hostname
	if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	if port != 0 {
		host += ":" + strconv.FormatUint(port, 10)
	}
	return host, true
}

// splitHostPort splits host[:port]. IPv6 literals must be bracketed; the
// returned hostname has the brackets removed.
func splitHostPort(raw string) (hostname, port string, ok bool) {
	if raw == "" {
		return "", "", false
	}

	if rest, found := strings.CutPrefix(raw, "["); found {
		hostname, rest, found = strings.Cut(rest, "]")
		if !found {
			return "", "", false
		}
		if rest == "" {
			return hostname, "", true
		}
		port, found = strings.CutPrefix(rest, ":")
		if !found || port == "" {
			return "", "", false
		}
		return hostname, port, true
	}

	switch strings.Count(raw, ":") {
	case 0:
		return raw, "", true
	case 1:
		hostname, port, _ = strings.Cut(raw, ":")
		if hostname == "" || port == "" {
			return "", "", false
		}
		return hostname, port, true
	default:
		return "", "", false
	}
}
