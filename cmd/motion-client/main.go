// ABOUTME: Entry point for the motion timing client demo
// ABOUTME: Connects to a motion-server (direct address or mDNS discovery) and drives a TimingObject
package main

import (
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/timingsrc/timingsrc-go/internal/config"
	"github.com/timingsrc/timingsrc-go/internal/discovery"
	"github.com/timingsrc/timingsrc-go/internal/ui"
	"github.com/timingsrc/timingsrc-go/pkg/eventbus"
	"github.com/timingsrc/timingsrc-go/pkg/provider"
	"github.com/timingsrc/timingsrc-go/pkg/readystate"
	"github.com/timingsrc/timingsrc-go/pkg/timingobject"
	"github.com/timingsrc/timingsrc-go/pkg/vector"
)

func main() {
	cfg, err := config.ParseClient(os.Args[1:])
	if err != nil {
		log.Fatalf("argument error: %v", err)
	}

	f, err := os.OpenFile(cfg.LogFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer f.Close()

	if cfg.NoTUI {
		log.SetOutput(io.MultiWriter(os.Stdout, f))
	} else {
		log.SetOutput(f)
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = uuid.New().String()
	}

	addr := cfg.ServerAddr
	if addr == "" {
		if cfg.NoMDNS {
			log.Fatalf("no -server address given and mDNS discovery is disabled")
		}
		addr, err = discoverServer()
		if err != nil {
			log.Fatalf("mDNS discovery failed: %v", err)
		}
	}

	log.Printf("Starting motion client %s: connecting to %s%s", clientID, addr, cfg.ObjectID)

	p, err := provider.Connect(addr, cfg.ObjectID, cfg.ObjectID)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}

	to := timingobject.NewFromProvider(p, false)
	defer to.Close()

	if cfg.Debug {
		to.On("change", func(e eventbus.Event) {
			log.Printf("[DEBUG] change: %v", e.Payload)
		})
	}

	if cfg.NoTUI {
		runStreaming(to, p, addr, clientID)
		return
	}
	runTUI(to, p, addr, clientID, cfg.ObjectID)
}

// discoverServer waits for the first mDNS-advertised motion-server and
// returns its host:port.
func discoverServer() (string, error) {
	mgr := discovery.NewManager(discovery.Config{ServiceName: "motion-client-discovery"})
	defer mgr.Stop()

	if err := mgr.Browse(); err != nil {
		return "", err
	}

	select {
	case srv := <-mgr.Servers():
		return net.JoinHostPort(srv.Host, strconv.Itoa(srv.Port)), nil
	case <-time.After(5 * time.Second):
		return "", fmt.Errorf("no motion-server found via mDNS")
	}
}

// runStreaming logs periodic status lines instead of running the TUI.
func runStreaming(to *timingobject.TimingObject, p *provider.SocketTimingProvider, addr, clientID string) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for range ticker.C {
		v := to.Query()
		skew := skewOf(p)
		log.Printf("state=%s p=%.3f v=%.3f a=%.3f skew=%dms",
			to.ReadyState(), v.Position, v.Velocity, v.Acceleration, skew)
	}
}

// runTUI drives the client status TUI, forwarding velocity change requests
// from the keyboard to the active provider.
func runTUI(to *timingobject.TimingObject, p *provider.SocketTimingProvider, addr, clientID, objectID string) {
	motionCtrl := ui.NewMotionControl()
	program, err := ui.Run(motionCtrl)
	if err != nil {
		log.Fatalf("tui: %v", err)
	}

	connected := true
	program.Send(ui.StatusMsg{
		Connected:  &connected,
		ServerAddr: addr,
		ObjectID:   objectID,
	})

	unsubChange := to.On("change", func(e eventbus.Event) {
		v, ok := e.Payload.(vector.StateVector)
		if !ok {
			return
		}
		program.Send(ui.StatusMsg{
			Position:     v.Position,
			Velocity:     v.Velocity,
			Acceleration: v.Acceleration,
			ReadyState:   to.ReadyState(),
			SkewMs:       skewOf(p),
		})
	})
	defer unsubChange()

	unsubState := to.On("readystatechange", func(e eventbus.Event) {
		rs, ok := e.Payload.(readystate.ReadyState)
		if !ok {
			return
		}
		program.Send(ui.StatusMsg{ReadyState: rs})
	})
	defer unsubState()

	go func() {
		for {
			select {
			case change := <-motionCtrl.Changes:
				v := change.Velocity
				<-to.Update(provider.UpdateFields{Velocity: &v})
			case <-motionCtrl.Quit:
				to.Close()
				return
			}
		}
	}()

	if _, err := program.Run(); err != nil {
		log.Fatalf("tui run: %v", err)
	}
}

func skewOf(p *provider.SocketTimingProvider) int64 {
	c := p.Clock()
	if c == nil {
		return 0
	}
	return c.Skew()
}
