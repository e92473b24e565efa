// Package detector flags requests that look like probing or injection
// attempts. It inspects the URL, then the User-Agent, then the method, and
// the first hit decides. The reason is meant for logs, not for callers.
package detector

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

// Verdict is the classification of one request.
type Verdict struct {
	Suspicious bool
	Reason     string
}

var clean = Verdict{}

type urlRule struct {
	name    string
	pattern *regexp.Regexp
}

var defaultURLRules = []urlRule{
	{"path_traversal", regexp.MustCompile(`(?i)(\.\./|\.\.\\|\.\.;|%2e%2e|%252e%252e)`)},
	{"script_injection", regexp.MustCompile(`(?i)(<\s*script|javascript:|vbscript:|\bon(error|load|mouseover|focus)\s*=|<\s*iframe|<\s*svg)`)},
	{"sql_injection", regexp.MustCompile(`(?i)(\bunion\b[\s+]+(all[\s+]+)?\bselect\b|;\s*(drop\s+(table|database|schema|view|index)|delete\s+from|insert\s+into|update\s+\w+\s+set|alter\s+(table|database|role|user)|truncate\s+table)\b|'\s*or\s+'?\w+'?\s*=\s*'?\w+|\bsleep\s*\(|\bbenchmark\s*\(|information_schema|/\*.*\*/|\bxp_cmdshell\b)`)},
	{"null_byte", regexp.MustCompile(`(\x00|%00)`)},
	{"sensitive_file", regexp.MustCompile(`(?i)(/\.env\b|/\.git(/|$)|/\.aws/|/\.ssh/|/\.htaccess|/\.htpasswd|/etc/passwd|/etc/shadow|/wp-admin|/wp-login|/phpmyadmin|/server-status)`)},
}

// DefaultScannerSignatures are lower-case User-Agent fragments of common
// vulnerability scanners.
var DefaultScannerSignatures = []string{
	"sqlmap", "nikto", "nmap", "masscan", "acunetix", "nessus", "openvas",
	"w3af", "dirbuster", "gobuster", "wpscan", "zgrab", "havij", "nuclei",
	"hydra", "arachni", "skipfish",
}

// DefaultAllowedMethods are the HTTP methods the API serves.
var DefaultAllowedMethods = []string{
	http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
	http.MethodPatch, http.MethodDelete, http.MethodOptions,
}

// Detector classifies requests. The zero value is not usable; call New.
type Detector struct {
	urlRules   []urlRule
	signatures []string
	methods    map[string]struct{}
}

// Option configures a Detector.
type Option func(*Detector)

// WithScannerSignatures adds User-Agent fragments, matched case-insensitively.
func WithScannerSignatures(sigs ...string) Option {
	return func(d *Detector) {
		for _, s := range sigs {
			if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
				d.signatures = append(d.signatures, s)
			}
		}
	}
}

// WithAllowedMethods replaces the method allowlist.
func WithAllowedMethods(methods ...string) Option {
	return func(d *Detector) {
		d.methods = make(map[string]struct{}, len(methods))
		for _, m := range methods {
			d.methods[strings.ToUpper(m)] = struct{}{}
		}
	}
}

// New returns a Detector with the default rules plus opts.
func New(opts ...Option) *Detector {
	d := &Detector{
		urlRules:   defaultURLRules,
		signatures: append([]string(nil), DefaultScannerSignatures...),
	}
	WithAllowedMethods(DefaultAllowedMethods...)(d)
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Classify inspects r. It never reads the body.
func (d *Detector) Classify(r *http.Request) Verdict {
	if r == nil || r.URL == nil {
		return clean
	}
	for _, candidate := range urlForms(r.URL) {
		for _, rule := range d.urlRules {
			if rule.pattern.MatchString(candidate) {
				return Verdict{Suspicious: true, Reason: "url:" + rule.name}
			}
		}
	}

	if ua := strings.ToLower(r.UserAgent()); ua != "" {
		for _, sig := range d.signatures {
			if strings.Contains(ua, sig) {
				return Verdict{Suspicious: true, Reason: "user_agent:" + sig}
			}
		}
	}

	if _, ok := d.methods[r.Method]; !ok {
		return Verdict{Suspicious: true, Reason: "method:" + r.Method}
	}
	return clean
}

// urlForms returns the raw request URI and its decoded forms, so encoded and
// double-encoded payloads are seen as well.
func urlForms(u *url.URL) []string {
	raw := u.RequestURI()
	forms := []string{raw, u.Path}
	current := raw
	for i := 0; i < 2; i++ {
		decoded, err := url.QueryUnescape(current)
		if err != nil || decoded == current {
			break
		}
		forms = append(forms, decoded)
		current = decoded
	}
	return forms
}
