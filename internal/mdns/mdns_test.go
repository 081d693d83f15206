package mdns

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
)

func TestTXTRoundTrip(t *testing.T) {
	fields := map[string]string{
		"method":      "fft",
		"doppler_min": "-30000",
		"doppler_max": "5000",
		"version":     "",
	}
	records := TXTRecords(fields)
	want := []string{"doppler_max=5000", "doppler_min=-30000", "method=fft", "version="}
	if len(records) != len(want) {
		t.Fatalf("expected %d records got %v", len(want), records)
	}
	for i := range want {
		if records[i] != want[i] {
			t.Fatalf("record %d: got %q want %q", i, records[i], want[i])
		}
	}

	parsed := ParseTXT(append(records, "flag", "=orphan", "expr=a=b"))
	if parsed["method"] != "fft" || parsed["doppler_min"] != "-30000" {
		t.Fatalf("unexpected parse %v", parsed)
	}
	if v, ok := parsed["flag"]; !ok || v != "" {
		t.Fatalf("expected bare key parsed, got %v", parsed)
	}
	if _, ok := parsed[""]; ok {
		t.Fatalf("empty keys must be skipped")
	}
	if parsed["expr"] != "a=b" {
		t.Fatalf("value split on first '=' only, got %q", parsed["expr"])
	}
}

func TestHostFromEntry(t *testing.T) {
	e := zeroconf.NewServiceEntry(`echosearch\ on\ lab-1`, ServiceType, domain)
	e.HostName = "lab-1.local."
	e.Port = 8080
	e.Text = []string{"method=direct"}
	e.AddrIPv4 = []net.IP{net.IPv4(192, 168, 1, 20)}
	e.AddrIPv6 = []net.IP{net.ParseIP("fe80::1")}

	h := hostFromEntry(e)
	if h.Instance != "echosearch on lab-1" {
		t.Fatalf("unexpected instance %q", h.Instance)
	}
	if h.Hostname != "lab-1.local." || h.Port != 8080 || h.TXT["method"] != "direct" {
		t.Fatalf("unexpected host %+v", h)
	}
	if len(h.Addresses) != 2 || !h.Addresses[0].Equal(net.IPv4(192, 168, 1, 20)) {
		t.Fatalf("expected IPv4 first, got %v", h.Addresses)
	}
}

func TestAdvertiseRejectsBadPort(t *testing.T) {
	if _, err := Advertise("x", 0, nil); err == nil {
		t.Fatalf("expected error for port 0")
	}
	var a *Advertisement
	a.SetText([]string{"k=v"})
	a.Shutdown()
}

func TestValidateService(t *testing.T) {
	for _, ok := range []string{ServiceType, "_iio._tcp", "_echosearch._udp."} {
		if err := validateService(ok); err != nil {
			t.Fatalf("validateService(%q) = %v", ok, err)
		}
	}
	for _, bad := range []string{"echosearch._tcp", "_echosearch", "_echosearch._sctp", "_x._tcp.local", "_._tcp", "a..b"} {
		if err := validateService(bad); err == nil {
			t.Fatalf("validateService(%q) accepted", bad)
		}
	}
}

func TestAdvertiseRetry(t *testing.T) {
	orig := register
	defer func() { register = orig }()

	calls := 0
	register = func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error) {
		calls++
		if service != ServiceType || domain != "local." {
			t.Fatalf("unexpected registration %s %s", service, domain)
		}
		if calls < 3 {
			return nil, errors.New("no multicast interface")
		}
		return nil, nil
	}

	var notified int
	adv, err := AdvertiseRetry(context.Background(), "lab", 8080, nil,
		RetryPolicy{InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond},
		func(error, time.Duration) { notified++ })
	if err != nil {
		t.Fatalf("AdvertiseRetry failed: %v", err)
	}
	if adv == nil || calls != 3 || notified != 2 {
		t.Fatalf("expected success on third attempt, calls=%d notified=%d", calls, notified)
	}
}

func TestAdvertiseRetryStops(t *testing.T) {
	orig := register
	defer func() { register = orig }()

	calls := 0
	register = func(string, string, string, int, []string, []net.Interface) (*zeroconf.Server, error) {
		calls++
		return nil, errors.New("down")
	}

	if _, err := AdvertiseRetry(context.Background(), "lab", 8080, nil,
		RetryPolicy{InitialInterval: time.Millisecond, MaxAttempts: 3}, nil); err == nil || calls != 3 {
		t.Fatalf("expected failure after 3 attempts, calls=%d err=%v", calls, err)
	}

	calls = 0
	if _, err := AdvertiseRetry(context.Background(), "lab", 0, nil, RetryPolicy{}, nil); err == nil || calls != 0 {
		t.Fatalf("invalid port must fail without registering, calls=%d", calls)
	}
}
