package discovery

import (
	"net"
	"testing"

	"github.com/grandcat/zeroconf"

	"github.com/tvbridge/core/internal/infrastructure/config"
)

func TestAnnouncementFromEntry(t *testing.T) {
	tests := []struct {
		name        string
		entry       *zeroconf.ServiceEntry
		wantAddress string
		wantOK      bool
	}{
		{
			name: "ipv4 preferred",
			entry: &zeroconf.ServiceEntry{
				AddrIPv4: []net.IP{net.ParseIP("10.0.0.5")},
				AddrIPv6: []net.IP{net.ParseIP("fe80::1")},
				Port:     5555,
			},
			wantAddress: "10.0.0.5:5555",
			wantOK:      true,
		},
		{
			name: "ipv6 fallback",
			entry: &zeroconf.ServiceEntry{
				AddrIPv6: []net.IP{net.ParseIP("fe80::1")},
				Port:     5555,
			},
			wantAddress: "[fe80::1]:5555",
			wantOK:      true,
		},
		{
			name:   "no addresses",
			entry:  &zeroconf.ServiceEntry{Port: 5555},
			wantOK: false,
		},
		{
			name: "no port",
			entry: &zeroconf.ServiceEntry{
				AddrIPv4: []net.IP{net.ParseIP("10.0.0.5")},
			},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ann, ok := announcementFromEntry(tt.entry)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && ann.Address != tt.wantAddress {
				t.Errorf("address = %q, want %q", ann.Address, tt.wantAddress)
			}
		})
	}
}

func TestBrowserDefaults(t *testing.T) {
	b := NewBrowser(config.DiscoveryConfig{})
	if b.service != "_adb-tls-connect._tcp" {
		t.Errorf("service = %q", b.service)
	}
	if b.domain != "local." {
		t.Errorf("domain = %q", b.domain)
	}
}
