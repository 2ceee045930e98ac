// Package discovery advertises screen hosts on the LAN over mDNS and lets
// viewers find them.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"

	"tarun-kavipurapu/desk-viewer/pkg/logger"
)

const (
	// ServiceType is the mDNS service type screen hosts register under.
	ServiceType = "_deskview._tcp"
	// Domain is the local domain for mDNS
	Domain = "local."

	// MetaWidth and MetaHeight carry the host screen size in TXT records.
	MetaWidth  = "width"
	MetaHeight = "height"
)

// ErrNotFound is returned by Find when no host answered in time.
var ErrNotFound = errors.New("no screen host found")

// HostInfo describes a discovered screen host.
type HostInfo struct {
	Instance string
	HostName string
	Port     int
	IPs      []string
	Meta     map[string]string
}

// Addr returns a dialable host:port using the first IPv4 address.
func (h *HostInfo) Addr() string {
	if len(h.IPs) == 0 {
		return ""
	}
	return net.JoinHostPort(h.IPs[0], strconv.Itoa(h.Port))
}

// Advertiser broadcasts one screen host.
type Advertiser struct {
	server *zeroconf.Server
}

func NewAdvertiser() *Advertiser {
	return &Advertiser{}
}

// InstanceName picks the advertised name, falling back to the hostname.
func InstanceName(name string) string {
	if name != "" {
		return name
	}
	hostname, err := os.Hostname()
	if err != nil {
		return "deskview"
	}
	return "deskview-" + hostname
}

// Start registers the host on all interfaces.
func (a *Advertiser) Start(instance string, port int, meta map[string]string) error {
	instance = InstanceName(instance)
	server, err := zeroconf.Register(instance, ServiceType, Domain, port, txtRecords(meta), nil)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}
	a.server = server
	logger.Sugar.Infof("[Discovery] advertising: instance=%s port=%d", instance, port)
	return nil
}

// Stop stops broadcasting. Safe to call when not started.
func (a *Advertiser) Stop() {
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// Resolver browses for screen hosts.
type Resolver struct {
	resolver *zeroconf.Resolver
}

func NewResolver() (*Resolver, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}
	return &Resolver{resolver: resolver}, nil
}

// Browse reports hosts until ctx is done. Entries without an IPv4 address
// are skipped.
func (r *Resolver) Browse(ctx context.Context) (<-chan *HostInfo, error) {
	entries := make(chan *zeroconf.ServiceEntry)
	results := make(chan *HostInfo, 10)

	if err := r.resolver.Browse(ctx, ServiceType, Domain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse services: %w", err)
	}

	go func() {
		defer close(results)
		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-entries:
				if !ok {
					return
				}
				info := hostFromEntry(entry)
				if len(info.IPs) == 0 {
					continue
				}
				logger.Sugar.Infof("[Discovery] found host: instance=%s addr=%s", info.Instance, info.Addr())
				select {
				case results <- info:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return results, nil
}

// Find returns the first host that answers before ctx is done. An empty
// instance matches any host.
func (r *Resolver) Find(ctx context.Context, instance string) (*HostInfo, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	hosts, err := r.Browse(ctx)
	if err != nil {
		return nil, err
	}
	for h := range hosts {
		if instance == "" || h.Instance == instance {
			return h, nil
		}
	}
	return nil, ErrNotFound
}

func hostFromEntry(entry *zeroconf.ServiceEntry) *HostInfo {
	info := &HostInfo{
		Instance: entry.Instance,
		HostName: entry.HostName,
		Port:     entry.Port,
		IPs:      make([]string, 0, len(entry.AddrIPv4)),
		Meta:     parseTXT(entry.Text),
	}
	for _, ip := range entry.AddrIPv4 {
		info.IPs = append(info.IPs, ip.String())
	}
	return info
}

func txtRecords(meta map[string]string) []string {
	records := make([]string, 0, len(meta))
	for k, v := range meta {
		records = append(records, k+"="+v)
	}
	sort.Strings(records)
	return records
}

func parseTXT(records []string) map[string]string {
	meta := make(map[string]string, len(records))
	for _, record := range records {
		k, v, ok := strings.Cut(record, "=")
		if ok {
			meta[k] = v
		}
	}
	return meta
}
