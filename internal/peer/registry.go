// Package peer lets an instance read entities it does not hold locally from
// sibling instances of the same service.
package peer

import (
	"net"
	"net/url"
	"strings"
)

type Peer struct {
	Name    string `json:"name"`
	BaseURL string `json:"base_url"`
}

// Registry is the immutable peer set of this instance, computed once at
// startup with the instance's own address removed.
type Registry struct {
	peers []Peer
}

// NewRegistry drops every configured peer that points back at selfURL, either
// by exact host:port or by a loopback host on the same port, and drops
// duplicate base URLs.
func NewRegistry(selfURL string, configured []Peer) *Registry {
	selfHost, selfPort := hostPort(selfURL)

	seen := make(map[string]bool, len(configured))
	peers := make([]Peer, 0, len(configured))
	for _, p := range configured {
		base := strings.TrimRight(p.BaseURL, "/")
		if base == "" || seen[base] {
			continue
		}
		host, port := hostPort(base)
		if isSelf(host, port, selfHost, selfPort) {
			continue
		}
		seen[base] = true
		name := p.Name
		if name == "" {
			name = host + ":" + port
		}
		peers = append(peers, Peer{Name: name, BaseURL: base})
	}
	return &Registry{peers: peers}
}

// Peers returns a copy of the peer set in configuration order.
func (r *Registry) Peers() []Peer {
	out := make([]Peer, len(r.peers))
	copy(out, r.peers)
	return out
}

func (r *Registry) Len() int { return len(r.peers) }

func isSelf(host, port, selfHost, selfPort string) bool {
	if port != selfPort {
		return false
	}
	if strings.EqualFold(host, selfHost) {
		return true
	}
	return isLoopback(host) && isLoopback(selfHost)
}

func isLoopback(host string) bool {
	switch strings.ToLower(host) {
	case "localhost", "0.0.0.0", "::", "":
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func hostPort(raw string) (host, port string) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", ""
	}
	host = u.Hostname()
	port = u.Port()
	if port == "" {
		switch u.Scheme {
		case "https":
			port = "443"
		default:
			port = "80"
		}
	}
	return host, port
}
