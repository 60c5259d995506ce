// ABOUTME: CLI flag parsing shared by the server and client entrypoints
// ABOUTME: Flat flag.* declarations plus hostname-derived defaults
package config

import (
	"flag"
	"fmt"
	"os"
)

// ServerConfig holds motion-server startup configuration, parsed from CLI
// flags plus the single positional delta argument.
type ServerConfig struct {
	Addr    string
	Delta   int64
	Name    string
	LogFile string
	Debug   bool
	NoTUI   bool
	NoMDNS  bool
}

// ParseServer parses args (normally os.Args[1:]) into a ServerConfig. The
// first positional argument, if present, is the delta in milliseconds
// (default 0), matching the reference CLI shape of a single positional
// delta argument.
func ParseServer(args []string) (ServerConfig, error) {
	fs := flag.NewFlagSet("motion-server", flag.ContinueOnError)

	addr := fs.String("addr", ":8080", "TCP address to listen on")
	name := fs.String("name", "", "Server friendly name (default: hostname-motion-server)")
	logFile := fs.String("log-file", "motion-server.log", "Log file path")
	debug := fs.Bool("debug", false, "Enable debug logging")
	noTUI := fs.Bool("no-tui", false, "Disable the interactive TUI and stream logs instead")
	noMDNS := fs.Bool("no-mdns", false, "Disable mDNS advertisement")

	if err := fs.Parse(args); err != nil {
		return ServerConfig{}, err
	}

	var delta int64
	if fs.NArg() > 0 {
		if _, err := fmt.Sscanf(fs.Arg(0), "%d", &delta); err != nil {
			return ServerConfig{}, fmt.Errorf("invalid delta argument %q: %w", fs.Arg(0), err)
		}
	}

	serverName := *name
	if serverName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		serverName = fmt.Sprintf("%s-motion-server", hostname)
	}

	return ServerConfig{
		Addr:    *addr,
		Delta:   delta,
		Name:    serverName,
		LogFile: *logFile,
		Debug:   *debug,
		NoTUI:   *noTUI,
		NoMDNS:  *noMDNS,
	}, nil
}

// ClientConfig holds motion-client startup configuration.
type ClientConfig struct {
	ServerAddr string
	ObjectID   string
	ClientID   string
	LogFile    string
	Debug      bool
	NoTUI      bool
	NoMDNS     bool
}

// ParseClient parses args (normally os.Args[1:]) into a ClientConfig. If
// -server is empty, the client falls back to mDNS discovery of a
// motion-server on the local network.
func ParseClient(args []string) (ClientConfig, error) {
	fs := flag.NewFlagSet("motion-client", flag.ContinueOnError)

	serverAddr := fs.String("server", "", "Server address (host:port). If empty, discover via mDNS")
	objectID := fs.String("object", "/default", "Timing object path to subscribe to")
	clientID := fs.String("id", "", "Client id (default: random uuid)")
	logFile := fs.String("log-file", "motion-client.log", "Log file path")
	debug := fs.Bool("debug", false, "Enable debug logging")
	noTUI := fs.Bool("no-tui", false, "Disable the interactive TUI and stream logs instead")
	noMDNS := fs.Bool("no-mdns", false, "Disable mDNS discovery fallback")

	if err := fs.Parse(args); err != nil {
		return ClientConfig{}, err
	}

	return ClientConfig{
		ServerAddr: *serverAddr,
		ObjectID:   *objectID,
		ClientID:   *clientID,
		LogFile:    *logFile,
		Debug:      *debug,
		NoTUI:      *noTUI,
		NoMDNS:     *noMDNS,
	}, nil
}
