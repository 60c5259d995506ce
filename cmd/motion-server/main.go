// ABOUTME: Entry point for the motion timing server
// ABOUTME: Parses CLI flags and the positional delta argument, then starts the server
package main

import (
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/timingsrc/timingsrc-go/internal/config"
	"github.com/timingsrc/timingsrc-go/internal/discovery"
	"github.com/timingsrc/timingsrc-go/internal/server"
)

func main() {
	cfg, err := config.ParseServer(os.Args[1:])
	if err != nil {
		log.Fatalf("argument error: %v", err)
	}

	f, err := os.OpenFile(cfg.LogFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer f.Close()

	if cfg.NoTUI {
		// No TUI owns the terminal, so mirror logs to stdout too.
		log.SetOutput(io.MultiWriter(os.Stdout, f))
	} else {
		log.SetOutput(f)
	}

	log.Printf("Starting motion server: %s on %s (delta=%dms)", cfg.Name, cfg.Addr, cfg.Delta)
	if cfg.Debug {
		log.Printf("[DEBUG] Debug logging enabled")
	}

	srv := server.New(server.Config{
		Addr:   cfg.Addr,
		Delta:  cfg.Delta,
		UseTUI: !cfg.NoTUI,
	})

	var mdnsMgr *discovery.Manager
	if !cfg.NoMDNS {
		mdnsMgr = discovery.NewManager(discovery.Config{
			ServiceName: cfg.Name,
			Port:        portOf(cfg.Addr),
			ServerMode:  true,
			Delta:       cfg.Delta,
		})
		if err := mdnsMgr.Advertise(); err != nil {
			log.Printf("mDNS advertisement failed: %v", err)
		}
		go refreshMDNSObjects(mdnsMgr, srv)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("received %v signal, shutting down gracefully...", sig)
		if mdnsMgr != nil {
			mdnsMgr.Stop()
		}
		srv.Stop()
	}()

	if err := srv.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}

	log.Printf("motion server stopped")
}

// refreshMDNSObjects keeps the mDNS TXT record's object list current as
// clients cause new timing objects to be created, since Advertise only
// captures a snapshot at startup (typically empty).
func refreshMDNSObjects(mgr *discovery.Manager, srv *server.Server) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := mgr.RefreshObjectIDs(srv.ObjectIDs()); err != nil {
				log.Printf("mDNS object refresh failed: %v", err)
			}
		case <-srv.Done():
			return
		}
	}
}

// portOf extracts the numeric port from an addr of the form ":8080" or
// "host:8080" for use in the mDNS TXT record. Falls back to 8080.
func portOf(addr string) int {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 8080
	}
	p, err := strconv.Atoi(portStr)
	if err != nil {
		return 8080
	}
	return p
}
