// ABOUTME: mDNS advertisement and browsing for motion-server instances
// ABOUTME: TXT records carry the hosted timing objects and the server's delta, not just a bare service name
package discovery

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/hashicorp/mdns"
)

const (
	serviceType       = "_timingsrc._tcp"
	serverServiceType = "_timingsrc-server._tcp"
)

// Config holds discovery configuration.
type Config struct {
	ServiceName string
	Port        int
	ServerMode  bool // If true, advertise as serverServiceType, otherwise serviceType.

	// Delta is the server's configured future-dating offset in
	// milliseconds, advertised in the TXT record so a browsing client can
	// display it before ever opening a connection.
	Delta int64

	// ObjectIDs lists the timing-object paths currently hosted by this
	// server, advertised as a comma-joined TXT field. Nil or empty is
	// fine; a freshly started server hosts no objects until a client
	// requests one.
	ObjectIDs []string
}

// Manager handles mDNS operations.
type Manager struct {
	config Config
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	mdnsSrv   *mdns.Server
	objectIDs []string

	servers chan *ServerInfo
}

// ServerInfo describes a discovered motion-server, including the domain
// data pulled out of its TXT record.
type ServerInfo struct {
	Name      string
	Host      string
	Port      int
	Delta     int64
	ObjectIDs []string
}

// NewManager creates a discovery manager.
func NewManager(config Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		config:    config,
		ctx:       ctx,
		cancel:    cancel,
		objectIDs: config.ObjectIDs,
		servers:   make(chan *ServerInfo, 10),
	}
}

// Advertise advertises this motion-server via mDNS, publishing its delta
// and currently hosted object ids in the TXT record.
func (m *Manager) Advertise() error {
	if err := m.reregister(); err != nil {
		return err
	}

	go func() {
		<-m.ctx.Done()
		m.mu.Lock()
		if m.mdnsSrv != nil {
			m.mdnsSrv.Shutdown()
		}
		m.mu.Unlock()
	}()

	return nil
}

// RefreshObjectIDs re-registers the mDNS zone with an updated object list,
// so a server that creates timing objects lazily (see Server.ObjectIDs)
// keeps its advertisement current instead of forever announcing the empty
// set it started with.
func (m *Manager) RefreshObjectIDs(ids []string) error {
	m.mu.Lock()
	m.objectIDs = ids
	m.mu.Unlock()
	return m.reregister()
}

// reregister builds a fresh mDNS zone from the manager's current config and
// object list and swaps it in, shutting down the previous registration.
func (m *Manager) reregister() error {
	ips, err := getLocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	svcType := serviceType
	if m.config.ServerMode {
		svcType = serverServiceType
	}

	m.mu.Lock()
	ids := m.objectIDs
	m.mu.Unlock()

	txt := []string{
		"proto=timingsrc/1",
		fmt.Sprintf("delta=%d", m.config.Delta),
		"objects=" + strings.Join(ids, ","),
	}

	service, err := mdns.NewMDNSService(
		m.config.ServiceName,
		svcType,
		"",
		"",
		m.config.Port,
		ips,
		txt,
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}

	log.Printf("Advertising mDNS service: %s on port %d (type: %s, delta=%dms, objects=%v)",
		m.config.ServiceName, m.config.Port, svcType, m.config.Delta, ids)

	m.mu.Lock()
	old := m.mdnsSrv
	m.mdnsSrv = server
	m.mu.Unlock()

	if old != nil {
		old.Shutdown()
	}

	return nil
}

// Browse searches for motion-servers.
func (m *Manager) Browse() error {
	go m.browseLoop()
	return nil
}

// browseLoop continuously browses for servers.
func (m *Manager) browseLoop() {
	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		entries := make(chan *mdns.ServiceEntry, 10)

		go func() {
			for entry := range entries {
				server := &ServerInfo{
					Name: entry.Name,
					Host: entry.AddrV4.String(),
					Port: entry.Port,
				}
				parseTXT(entry.InfoFields, server)

				log.Printf("Discovered server: %s at %s:%d (delta=%dms, objects=%v)",
					server.Name, server.Host, server.Port, server.Delta, server.ObjectIDs)

				select {
				case m.servers <- server:
				case <-m.ctx.Done():
					return
				}
			}
		}()

		params := &mdns.QueryParam{
			Service: serverServiceType,
			Domain:  "local",
			Timeout: 3,
			Entries: entries,
		}

		mdns.Query(params)
		close(entries)
	}
}

// parseTXT extracts the delta and objects fields Advertise publishes.
// Unknown fields (and a server too old to publish them) are ignored.
func parseTXT(fields []string, info *ServerInfo) {
	for _, field := range fields {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch key {
		case "delta":
			if d, err := strconv.ParseInt(value, 10, 64); err == nil {
				info.Delta = d
			}
		case "objects":
			if value != "" {
				info.ObjectIDs = strings.Split(value, ",")
			}
		}
	}
}

// Servers returns the channel of discovered servers.
func (m *Manager) Servers() <-chan *ServerInfo {
	return m.servers
}

// Stop stops the discovery manager.
func (m *Manager) Stop() {
	m.cancel()
}

// getLocalIPs returns local IP addresses.
func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}
