package discovery

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/mdns"

	"github.com/nerrad567/ipx800-bridge/internal/infrastructure/config"
)

// TXT record keys.
const (
	txtVersion  = "version"
	txtDeviceID = "device_id"
	txtAPIPath  = "api"
)

// DefaultBrowseTimeout bounds Browse when no timeout is given.
const DefaultBrowseTimeout = 3 * time.Second

var (
	// ErrDisabled is returned by Advertise when discovery is off in config.
	ErrDisabled = errors.New("discovery: disabled in configuration")

	// ErrInvalidPort is returned when the advertised port is out of range.
	ErrInvalidPort = errors.New("discovery: invalid port")
)

// Announcement describes what the bridge advertises.
type Announcement struct {
	Port     int
	DeviceID string
	Version  string
	APIPath  string

	// Host and IPs override hostname resolution. Both are optional.
	Host string
	IPs  []net.IP
}

// Advertiser keeps an mDNS responder running until Close.
type Advertiser struct {
	server  *mdns.Server
	service *mdns.MDNSService

	closeOnce sync.Once
}

// Advertise starts answering mDNS queries for cfg.Service.
func Advertise(cfg config.DiscoveryConfig, a Announcement) (*Advertiser, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	service, err := newService(cfg, a)
	if err != nil {
		return nil, err
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("discovery: starting responder: %w", err)
	}

	return &Advertiser{server: server, service: service}, nil
}

func newService(cfg config.DiscoveryConfig, a Announcement) (*mdns.MDNSService, error) {
	if a.Port <= 0 || a.Port > 65535 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPort, a.Port)
	}

	instance := cfg.Instance
	if instance == "" {
		host, _ := os.Hostname()
		instance = "ipx800-bridge-" + host
	}

	host := a.Host
	if host != "" && !strings.HasSuffix(host, ".") {
		host += "."
	}

	service, err := mdns.NewMDNSService(instance, cfg.Service, "", host, a.Port, a.IPs, txtRecords(a))
	if err != nil {
		return nil, fmt.Errorf("discovery: building service: %w", err)
	}
	return service, nil
}

func txtRecords(a Announcement) []string {
	var txt []string
	if a.DeviceID != "" {
		txt = append(txt, txtDeviceID+"="+a.DeviceID)
	}
	if a.Version != "" {
		txt = append(txt, txtVersion+"="+a.Version)
	}
	if a.APIPath != "" {
		txt = append(txt, txtAPIPath+"="+a.APIPath)
	}
	return txt
}

// Instance returns the advertised instance name.
func (a *Advertiser) Instance() string {
	return a.service.Instance
}

// Close stops the responder. Safe to call more than once.
func (a *Advertiser) Close() error {
	var err error
	a.closeOnce.Do(func() {
		err = a.server.Shutdown()
	})
	return err
}

// Peer is a bridge found on the network.
type Peer struct {
	Name     string
	Host     string
	Addr     net.IP
	Port     int
	DeviceID string
	Version  string
	APIPath  string
}

// Browse queries the LAN for service and returns what answered before
// timeout. Duplicate answers for the same instance are collapsed.
func Browse(service string, timeout time.Duration) ([]Peer, error) {
	if timeout <= 0 {
		timeout = DefaultBrowseTimeout
	}

	var (
		mu    sync.Mutex
		peers []Peer
		seen  = make(map[string]bool)
		done  = make(chan struct{})
	)

	entries := make(chan *mdns.ServiceEntry, 16)
	go func() {
		defer close(done)
		for entry := range entries {
			p := peerFromEntry(entry)
			mu.Lock()
			if !seen[p.Name] {
				seen[p.Name] = true
				peers = append(peers, p)
			}
			mu.Unlock()
		}
	}()

	params := mdns.DefaultParams(service)
	params.Entries = entries
	params.Timeout = timeout
	params.DisableIPv6 = true

	err := mdns.Query(params)
	close(entries)
	<-done

	if err != nil {
		return peers, fmt.Errorf("discovery: mDNS query failed: %w", err)
	}
	return peers, nil
}

func peerFromEntry(entry *mdns.ServiceEntry) Peer {
	p := Peer{
		Name: entry.Name,
		Host: strings.TrimSuffix(entry.Host, "."),
		Addr: entry.AddrV4,
		Port: entry.Port,
	}
	if p.Addr == nil {
		p.Addr = entry.AddrV6
	}
	for _, field := range entry.InfoFields {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch key {
		case txtDeviceID:
			p.DeviceID = value
		case txtVersion:
			p.Version = value
		case txtAPIPath:
			p.APIPath = value
		}
	}
	return p
}
