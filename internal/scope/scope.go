// Package scope implements the Scope Enforcer (component A): the kill switch
// that vets every outbound tool invocation against allow/deny/sensitive
// target patterns before the Tool Dispatcher is ever invoked.
//
// Enforcement never panics and never uses exceptions for control flow — every
// decision is an explicit Decision value, per the "exception-for-control-flow"
// redesign note. Callers branch on the returned Decision rather than on error.
package scope

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Decision is the outcome of a scope check.
type Decision string

const (
	Allowed              Decision = "allowed"
	DeniedOutOfScope     Decision = "denied_out_of_scope"
	DeniedExcluded       Decision = "denied_excluded"
	DeniedSensitive      Decision = "denied_sensitive"
	DeniedPrivateIP      Decision = "denied_private_ip"
)

// defaultSensitivePatterns mirrors the always-on blocklist: government,
// healthcare, critical-infrastructure, and major-platform domains that no
// allow list can override.
var defaultSensitivePatterns = []string{
	"*.gov", "*.gov.*", "*.mil",
	"*.nhs.uk", "*.va.gov",
	"*.edu", "*.bank", "*.fin",
	"*.google.com", "*.googleapis.com",
	"*.microsoft.com", "*.azure.com",
	"*.amazon.com", "*.aws.amazon.com",
	"*.cloudflare.com",
	"*.github.com", "*.githubusercontent.com",
	"*.facebook.com", "*.twitter.com", "*.linkedin.com",
}

// targetKeys are the tool-argument field names searched for target values
// when validating a tool call, in the order the original recognizes them.
var targetKeys = []string{"target", "host", "domain", "url", "ip", "hosts", "domains", "urls"}

const auditRingSize = 1000

type (
	// Config declares a mission's scope: what targets are allowed, what is
	// explicitly excluded, and the private-IP/localhost safety toggles.
	Config struct {
		AllowedDomains  []string
		AllowedIPs      []string // CIDR notation
		ExcludedDomains []string
		ExcludedIPs     []string
		AllowPrivateIPs bool
		AllowLocalhost  bool
		// SensitivePatterns overrides the built-in list when non-nil. Leave
		// nil in production; this exists for test fixtures only.
		SensitivePatterns []string
	}

	// AuditEntry records one scope decision for the bounded audit ring.
	AuditEntry struct {
		Target    string
		Decision  Decision
		Reason    string
		Timestamp time.Time
	}

	// Enforcer evaluates targets and tool calls against a Config. One
	// Enforcer is created per mission and is safe for concurrent read access;
	// the audit ring is internally synchronized.
	Enforcer struct {
		cfg Config

		allowedDomainPatterns  []*regexp.Regexp
		excludedDomainPatterns []*regexp.Regexp
		sensitivePatterns      []*regexp.Regexp
		allowedNetworks        []*net.IPNet
		excludedNetworks       []*net.IPNet

		mu    sync.Mutex
		audit []AuditEntry
	}
)

// New compiles a Config into an Enforcer. Invalid wildcard patterns or CIDR
// specs are silently skipped, matching the original's tolerant compilation
// (an operator misconfiguration should narrow scope, never panic the mission).
func New(cfg Config) *Enforcer {
	sensitive := cfg.SensitivePatterns
	if sensitive == nil {
		sensitive = defaultSensitivePatterns
	}
	e := &Enforcer{
		cfg:               cfg,
		allowedDomainPatterns:  compilePatterns(cfg.AllowedDomains),
		excludedDomainPatterns: compilePatterns(cfg.ExcludedDomains),
		sensitivePatterns:      compilePatterns(sensitive),
		allowedNetworks:        compileNetworks(cfg.AllowedIPs),
		excludedNetworks:       compileNetworks(cfg.ExcludedIPs),
	}
	return e
}

func compilePatterns(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		escaped := regexp.QuoteMeta(p)
		expanded := strings.ReplaceAll(escaped, `\*`, ".*")
		re, err := regexp.Compile("(?i)^" + expanded + "$")
		if err != nil {
			continue
		}
		out = append(out, re)
	}
	return out
}

func compileNetworks(specs []string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(specs))
	for _, spec := range specs {
		if !strings.Contains(spec, "/") {
			if ip := net.ParseIP(spec); ip != nil {
				bits := 32
				if ip.To4() == nil {
					bits = 128
				}
				spec = fmt.Sprintf("%s/%d", spec, bits)
			}
		}
		_, n, err := net.ParseCIDR(spec)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}

// CheckTarget evaluates a single target (domain, IPv4/IPv6 address, URL, or
// bracketed host) against the enforcer's configuration and returns the
// decision and a human-readable reason. The decision order is: sensitive,
// excluded, private/loopback, allow-list, default-deny.
func (e *Enforcer) CheckTarget(target string) (Decision, string) {
	domain, ip, ok := normalizeTarget(target)
	if !ok {
		return e.logDecision(target, DeniedOutOfScope, "invalid target format")
	}

	if domain != "" {
		for _, p := range e.sensitivePatterns {
			if p.MatchString(domain) {
				return e.logDecision(target, DeniedSensitive, "target matches sensitive pattern (protected infrastructure)")
			}
		}
		for _, p := range e.excludedDomainPatterns {
			if p.MatchString(domain) {
				return e.logDecision(target, DeniedExcluded, "domain explicitly excluded from scope")
			}
		}
	}

	var parsedIP net.IP
	if ip != "" {
		parsedIP = net.ParseIP(ip)
		for _, n := range e.excludedNetworks {
			if n.Contains(parsedIP) {
				return e.logDecision(target, DeniedExcluded, "IP explicitly excluded from scope")
			}
		}
		if parsedIP.IsLoopback() && !e.cfg.AllowLocalhost {
			return e.logDecision(target, DeniedPrivateIP, "localhost addresses not allowed")
		}
		if isPrivate(parsedIP) && !e.cfg.AllowPrivateIPs {
			return e.logDecision(target, DeniedPrivateIP, "private IP addresses not allowed")
		}
	}

	allowed := false
	if domain != "" {
		for _, p := range e.allowedDomainPatterns {
			if p.MatchString(domain) {
				allowed = true
				break
			}
		}
	}
	if !allowed && ip != "" {
		for _, n := range e.allowedNetworks {
			if n.Contains(parsedIP) {
				allowed = true
				break
			}
		}
	}

	if allowed {
		return e.logDecision(target, Allowed, "target is within defined scope")
	}
	return e.logDecision(target, DeniedOutOfScope, "target not in allowed scope")
}

// ValidateToolCall extracts every targetable argument from a tool call's
// arguments (recognized keys: target, host, domain, url, ip, hosts, domains,
// urls) and returns ok=true only if every extracted target individually
// resolves to Allowed.
func (e *Enforcer) ValidateToolCall(toolName string, arguments map[string]any) (bool, string) {
	var targets []string
	for _, key := range targetKeys {
		v, present := arguments[key]
		if !present {
			continue
		}
		switch t := v.(type) {
		case string:
			targets = append(targets, t)
		case []string:
			targets = append(targets, t...)
		case []any:
			for _, item := range t {
				if s, ok := item.(string); ok {
					targets = append(targets, s)
				}
			}
		}
	}
	if len(targets) == 0 {
		return false, fmt.Sprintf("no target found in tool arguments for %s", toolName)
	}

	var denied []string
	for _, t := range targets {
		decision, reason := e.CheckTarget(t)
		if decision != Allowed {
			denied = append(denied, fmt.Sprintf("%s: %s", t, reason))
		}
	}
	if len(denied) > 0 {
		return false, "scope violation: " + strings.Join(denied, "; ")
	}
	return true, "all targets within scope"
}

// AuditLog returns a snapshot of the bounded audit ring (last 1,000 entries).
func (e *Enforcer) AuditLog() []AuditEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]AuditEntry, len(e.audit))
	copy(out, e.audit)
	return out
}

func (e *Enforcer) logDecision(target string, decision Decision, reason string) (Decision, string) {
	e.mu.Lock()
	e.audit = append(e.audit, AuditEntry{Target: target, Decision: decision, Reason: reason, Timestamp: time.Now()})
	if len(e.audit) > auditRingSize {
		e.audit = e.audit[len(e.audit)-auditRingSize:]
	}
	e.mu.Unlock()
	return decision, reason
}

// normalizeTarget splits a raw target string into (domain, ip) form,
// stripping URL scheme, port, and IPv6 brackets. ok is false when the target
// is neither a valid domain nor a valid IP address.
func normalizeTarget(target string) (domain, ip string, ok bool) {
	t := strings.TrimSpace(target)

	if strings.Contains(t, "://") {
		if u, err := url.Parse(t); err == nil {
			if u.Host != "" {
				t = u.Host
			} else {
				t = u.Path
			}
		}
	}

	if strings.HasPrefix(t, "[") {
		if end := strings.Index(t, "]"); end >= 0 {
			t = t[1:end]
		}
	} else if strings.Contains(t, ":") {
		t = strings.Split(t, ":")[0]
	}

	if parsed := net.ParseIP(t); parsed != nil {
		return "", parsed.String(), true
	}

	if isValidDomain(t) {
		return strings.ToLower(t), "", true
	}
	return "", "", false
}

var domainPattern = regexp.MustCompile(`^(?:[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)*[a-zA-Z]{2,}$`)

func isValidDomain(domain string) bool {
	if domain == "" || len(domain) > 255 {
		return false
	}
	return domainPattern.MatchString(domain)
}

var privateBlocks = func() []*net.IPNet {
	cidrs := []string{
		"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16",
		"fc00::/7", "169.254.0.0/16", "fe80::/10",
	}
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err == nil {
			nets = append(nets, n)
		}
	}
	return nets
}()

func isPrivate(ip net.IP) bool {
	for _, n := range privateBlocks {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
