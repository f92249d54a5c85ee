// Package tenant maps request hosts onto school namespaces.
package tenant

import (
	"net"
	"net/url"
	"strings"
)

type Kind int

const (
	NoTenant Kind = iota
	RootMarketing
	Tenant
)

func (k Kind) String() string {
	switch k {
	case RootMarketing:
		return "root"
	case Tenant:
		return "tenant"
	default:
		return "none"
	}
}

// Resolution is the outcome of resolving a host. Key is set only for Tenant.
type Resolution struct {
	Kind Kind
	Key  string
}

func (r Resolution) HasTenant() bool {
	return r.Kind == Tenant && r.Key != ""
}

const devLabel = "localhost"

type Resolver struct {
	rootLabels []string
}

// NewResolver builds a resolver for a root domain such as "eduvia.space".
func NewResolver(rootDomain string) *Resolver {
	root := strings.Trim(strings.ToLower(strings.TrimSpace(rootDomain)), ".")
	var labels []string
	if root != "" {
		labels = strings.Split(root, ".")
	}
	return &Resolver{rootLabels: labels}
}

// ResolveURL resolves the host part of a raw URL. Unparseable input yields NoTenant.
func (r *Resolver) ResolveURL(raw string) Resolution {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "//" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return Resolution{Kind: NoTenant}
	}
	return r.Resolve(parsed.Host)
}

// Resolve maps a hostname (optionally with port) to a Resolution.
func (r *Resolver) Resolve(host string) Resolution {
	host = normalizeHost(host)
	if host == "" {
		return Resolution{Kind: NoTenant}
	}
	labels := strings.Split(host, ".")
	for _, label := range labels {
		if label == "" {
			return Resolution{Kind: NoTenant}
		}
	}

	if len(labels) == 2 && labels[1] == devLabel {
		return fromPrefix(labels[0])
	}

	n := len(r.rootLabels)
	if n == 0 || len(labels) < n {
		return Resolution{Kind: NoTenant}
	}
	for i := 0; i < n; i++ {
		if labels[len(labels)-n+i] != r.rootLabels[i] {
			return Resolution{Kind: NoTenant}
		}
	}
	return fromPrefix(strings.Join(labels[:len(labels)-n], "."))
}

func fromPrefix(prefix string) Resolution {
	switch prefix {
	case "", "www":
		return Resolution{Kind: RootMarketing}
	default:
		return Resolution{Kind: Tenant, Key: prefix}
	}
}

func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.TrimSuffix(host, ".")
}
