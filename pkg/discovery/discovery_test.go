package discovery

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTXTRecords(t *testing.T) {
	records := txtRecords(map[string]string{MetaWidth: "640", MetaHeight: "480"})
	assert.Equal(t, []string{"height=480", "width=640"}, records)

	meta := parseTXT(append(records, "garbage", "k=v=w"))
	assert.Equal(t, map[string]string{"height": "480", "width": "640", "k": "v=w"}, meta)
}

func TestHostFromEntry(t *testing.T) {
	entry := zeroconf.NewServiceEntry("office", ServiceType, Domain)
	entry.HostName = "office.local."
	entry.Port = 5900
	entry.AddrIPv4 = []net.IP{net.IPv4(192, 168, 1, 20)}
	entry.Text = []string{"width=800"}

	h := hostFromEntry(entry)
	assert.Equal(t, "office", h.Instance)
	assert.Equal(t, "192.168.1.20:5900", h.Addr())
	assert.Equal(t, "800", h.Meta[MetaWidth])

	assert.Empty(t, (&HostInfo{Port: 1}).Addr())
}

func TestInstanceName(t *testing.T) {
	assert.Equal(t, "mine", InstanceName("mine"))
	assert.NotEmpty(t, InstanceName(""))
}

func TestDiscovery(t *testing.T) {
	// multicast is often unavailable in CI containers
	if testing.Short() {
		t.Skip("Skipping mDNS test in short mode")
	}

	advertiser := NewAdvertiser()
	port := 12345
	require.NoError(t, advertiser.Start("deskview-test", port, map[string]string{"test": "true"}))
	defer advertiser.Stop()

	time.Sleep(500 * time.Millisecond)

	resolver, err := NewResolver()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	h, err := resolver.Find(ctx, "deskview-test")
	if err != nil {
		t.Skipf("mDNS not available here: %v", err)
	}
	assert.Equal(t, port, h.Port)
	assert.Equal(t, "true", h.Meta["test"])
	assert.NotEmpty(t, h.IPs)
}
