/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package dircd

import (
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// HostResolver performs the reverse-then-forward DNS confirmation that
// derives a connecting client's display hostname from its IP (used as
// the RealHost fed into Cloak before any vhost/cloak override applies).
// A result is only trusted when the forward lookup of the PTR name
// resolves back to the original IP, guarding against a forged PTR record.
//
// Grounded on server.go's net.Listener/Serve accept-loop idiom, the DNS
// exchange itself uses miekg/dns directly rather than net.LookupAddr
// since the engine needs an explicit, bounded-timeout client rather than
// the stdlib resolver's process-wide settings.
type HostResolver struct {
	client  *dns.Client
	servers []string
	timeout time.Duration
}

// NewHostResolver returns a resolver that queries the given nameservers
// (host:port form, e.g. "127.0.0.1:53") with the given per-query timeout.
func NewHostResolver(servers []string, timeout time.Duration) *HostResolver {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HostResolver{
		client:  &dns.Client{Timeout: timeout},
		servers: servers,
		timeout: timeout,
	}
}

// Resolve returns the confirmed reverse-DNS hostname for ip, or ip itself
// (unchanged) if no nameserver is configured, the PTR lookup fails, or
// the forward-confirmation step doesn't round-trip back to ip.
func (r *HostResolver) Resolve(ip string) string {
	if len(r.servers) == 0 {
		return ip
	}

	name, err := dns.ReverseAddr(ip)
	if err != nil {
		return ip
	}

	ptrName, ok := r.lookupPTR(name)
	if !ok {
		return ip
	}

	if !r.confirmForward(ptrName, ip) {
		return ip
	}

	return strings.TrimSuffix(ptrName, ".")
}

func (r *HostResolver) lookupPTR(reverseName string) (string, bool) {
	msg := new(dns.Msg)
	msg.SetQuestion(reverseName, dns.TypePTR)

	for _, server := range r.servers {
		in, _, err := r.client.Exchange(msg, server)
		if err != nil || in == nil {
			continue
		}
		for _, rr := range in.Answer {
			if ptr, ok := rr.(*dns.PTR); ok {
				return ptr.Ptr, true
			}
		}
	}
	return "", false
}

// confirmForward verifies hostname's A records include ip, defeating
// a spoofed reverse record that doesn't control the forward zone. Only A
// records are queried, so an IPv6 ip is never confirmed.
func (r *HostResolver) confirmForward(hostname, ip string) bool {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(hostname), dns.TypeA)

	for _, server := range r.servers {
		in, _, err := r.client.Exchange(msg, server)
		if err != nil || in == nil {
			continue
		}
		for _, rr := range in.Answer {
			if a, ok := rr.(*dns.A); ok && a.A.String() == ip {
				return true
			}
		}
	}
	return false
}

func (r *HostResolver) String() string {
	return fmt.Sprintf("HostResolver(servers=%v)", r.servers)
}
