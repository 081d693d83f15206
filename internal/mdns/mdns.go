// Package mdns advertises and discovers echo search services over DNS-SD.
package mdns

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/grandcat/zeroconf"
	"github.com/miekg/dns"
)

// ServiceType is the DNS-SD service echo search daemons register under.
const ServiceType = "_echosearch._tcp"

const domain = "local."

// register is replaced in tests.
var register = zeroconf.Register

// Host represents a discovered echo search service.
type Host struct {
	Instance  string // Advertised name: "echosearch on lab-1"
	Hostname  string // DNS hostname: "lab-1.local."
	Addresses []net.IP
	Port      int
	TXT       map[string]string
}

// Advertisement is a live service registration.
type Advertisement struct {
	server *zeroconf.Server
}

// Advertise registers instance on port with the given TXT records on all interfaces.
func Advertise(instance string, port int, txt []string) (*Advertisement, error) {
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("advertise %q: invalid port %d", instance, port)
	}
	server, err := register(instance, ServiceType, domain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("advertise %q: %w", instance, err)
	}
	return &Advertisement{server: server}, nil
}

// RetryPolicy bounds AdvertiseRetry. Zero fields take the defaults of
// backoff.NewExponentialBackOff; MaxAttempts zero retries until ctx is done.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxAttempts     uint64
}

// AdvertiseRetry calls Advertise with exponential backoff, for hosts whose multicast
// interfaces come up after the daemon starts. notify, when non-nil, sees every failure.
func AdvertiseRetry(ctx context.Context, instance string, port int, txt []string, policy RetryPolicy, notify func(error, time.Duration)) (*Advertisement, error) {
	exp := backoff.NewExponentialBackOff()
	exp.MaxElapsedTime = 0
	if policy.InitialInterval > 0 {
		exp.InitialInterval = policy.InitialInterval
	}
	if policy.MaxInterval > 0 {
		exp.MaxInterval = policy.MaxInterval
	}
	var b backoff.BackOff = exp
	if policy.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, policy.MaxAttempts-1)
	}

	var adv *Advertisement
	op := func() error {
		if port <= 0 || port > 65535 {
			return backoff.Permanent(fmt.Errorf("advertise %q: invalid port %d", instance, port))
		}
		a, err := Advertise(instance, port, txt)
		if err != nil {
			return err
		}
		adv = a
		return nil
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, err
	}
	return adv, nil
}

// SetText replaces the advertised TXT records.
func (a *Advertisement) SetText(txt []string) {
	if a != nil && a.server != nil {
		a.server.SetText(txt)
	}
}

// Shutdown withdraws the registration.
func (a *Advertisement) Shutdown() {
	if a != nil && a.server != nil {
		a.server.Shutdown()
	}
}

// Discover browses for service until ctx is done and returns the hosts found, deduplicated
// by hostname and port and sorted by instance name. An empty service browses ServiceType.
func Discover(ctx context.Context, service string) ([]Host, error) {
	if service == "" {
		service = ServiceType
	}
	if err := validateService(service); err != nil {
		return nil, err
	}
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("resolver error: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	resultMap := make(map[string]Host)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case e, ok := <-entries:
				if !ok {
					return
				}
				if e == nil {
					continue
				}
				h := hostFromEntry(e)
				resultMap[fmt.Sprintf("%s|%d", h.Hostname, h.Port)] = h
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, service, domain, entries); err != nil {
		return nil, fmt.Errorf("browse error: %w", err)
	}
	<-done

	out := make([]Host, 0, len(resultMap))
	for _, h := range resultMap {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Instance != out[j].Instance {
			return out[i].Instance < out[j].Instance
		}
		return out[i].Port < out[j].Port
	})
	return out, nil
}

func hostFromEntry(e *zeroconf.ServiceEntry) Host {
	addrs := make([]net.IP, 0, len(e.AddrIPv4)+len(e.AddrIPv6))
	addrs = append(addrs, e.AddrIPv4...)
	addrs = append(addrs, e.AddrIPv6...)
	return Host{
		Instance:  cleanInstance(e.Instance),
		Hostname:  e.HostName,
		Addresses: addrs,
		Port:      e.Port,
		TXT:       ParseTXT(e.Text),
	}
}

// validateService accepts DNS-SD service types of the form "_name._tcp" or "_name._udp".
func validateService(service string) error {
	if _, ok := dns.IsDomainName(service); !ok {
		return fmt.Errorf("service %q is not a valid DNS name", service)
	}
	labels := dns.SplitDomainName(service)
	if len(labels) != 2 || len(labels[0]) < 2 || !strings.HasPrefix(labels[0], "_") ||
		(labels[1] != "_tcp" && labels[1] != "_udp") {
		return fmt.Errorf("service %q must look like _name._tcp or _name._udp", service)
	}
	return nil
}

// TXTRecords renders fields as sorted key=value records.
func TXTRecords(fields map[string]string) []string {
	out := make([]string, 0, len(fields))
	for k, v := range fields {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// ParseTXT splits key=value records; a record without '=' maps to an empty value.
func ParseTXT(records []string) map[string]string {
	out := make(map[string]string, len(records))
	for _, r := range records {
		k, v, _ := strings.Cut(r, "=")
		if k != "" {
			out[k] = v
		}
	}
	return out
}

// cleanInstance removes Zeroconf escape sequences: "\ " => " "
func cleanInstance(s string) string {
	return strings.ReplaceAll(s, `\ `, " ")
}
