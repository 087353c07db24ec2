package tonproof

import (
	"net/url"
	"strings"
)

// DomainAllowlist is the normalized set of domains a proof may declare.
type DomainAllowlist struct {
	domains map[string]struct{}
}

// DomainSources lists where allowed domains come from. Entries may be bare
// hosts, host:port pairs or full URLs.
type DomainSources struct {
	Explicit    []string
	CORSOrigins []string
	ManifestURL string
	AppURL      string
}

// NewDomainAllowlist builds the allow-list once from all sources.
func NewDomainAllowlist(sources DomainSources) DomainAllowlist {
	allowlist := DomainAllowlist{domains: map[string]struct{}{}}
	candidates := make([]string, 0, len(sources.Explicit)+len(sources.CORSOrigins)+2)
	candidates = append(candidates, sources.Explicit...)
	candidates = append(candidates, sources.CORSOrigins...)
	candidates = append(candidates, sources.ManifestURL, sources.AppURL)
	for _, candidate := range candidates {
		if normalized := NormalizeDomain(candidate); normalized != "" {
			allowlist.domains[normalized] = struct{}{}
		}
	}
	return allowlist
}

// NormalizeDomain lower-cases, trims and strips trailing dots. URLs are reduced
// to their host (with port).
func NormalizeDomain(raw string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "" || value == "*" {
		return ""
	}
	if strings.Contains(value, "://") {
		parsed, err := url.Parse(value)
		if err != nil {
			return ""
		}
		value = parsed.Host
	}
	if slash := strings.IndexByte(value, '/'); slash >= 0 {
		value = value[:slash]
	}
	return strings.TrimRight(value, ".")
}

// Contains reports whether domain is allowed.
func (allowlist DomainAllowlist) Contains(domain string) bool {
	_, ok := allowlist.domains[NormalizeDomain(domain)]
	return ok
}

// Len returns the number of allowed domains.
func (allowlist DomainAllowlist) Len() int {
	return len(allowlist.domains)
}

// Narrow restricts validation to expected when it is itself allowed.
func (allowlist DomainAllowlist) Narrow(expected string) DomainAllowlist {
	normalized := NormalizeDomain(expected)
	if normalized == "" || !allowlist.Contains(normalized) {
		return allowlist
	}
	return DomainAllowlist{domains: map[string]struct{}{normalized: {}}}
}
