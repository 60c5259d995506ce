// ABOUTME: Probabilistic skew estimation over a shared message channel
// ABOUTME: Round-trips "sync" probes, tracks a roundtrip threshold, rejects outliers
package syncclock

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/timingsrc/timingsrc-go/pkg/eventbus"
	"github.com/timingsrc/timingsrc-go/pkg/protocol"
	"github.com/timingsrc/timingsrc-go/pkg/readystate"
	"github.com/timingsrc/timingsrc-go/pkg/transport"
)

// Config tunes the initialization burst and steady-state batching.
type Config struct {
	NInit                 int
	IInit                 time.Duration
	InitAttemptTimeout    time.Duration
	BatchInterval         time.Duration
	MaxAttempts           int
	AttemptInterval       time.Duration
	MinRoundtripThreshold int64 // ms
}

// DefaultConfig returns the init-burst and steady-state batching constants
// used when a caller doesn't need to override them.
func DefaultConfig() Config {
	return Config{
		NInit:                 10,
		IInit:                 10 * time.Millisecond,
		InitAttemptTimeout:    time.Second,
		BatchInterval:         10 * time.Second,
		MaxAttempts:           10,
		AttemptInterval:       500 * time.Millisecond,
		MinRoundtripThreshold: 5,
	}
}

// SocketSyncClock estimates skew against a server's reference clock by
// round-tripping "sync" probes over a shared transport.Channel. See the
// clock-synchronization protocol for the two-phase algorithm.
type SocketSyncClock struct {
	cfg Config
	id  string
	ch  *transport.Channel
	bus *eventbus.Bus

	mu                 sync.Mutex
	readyState         readystate.ReadyState
	skew               int64
	delta              int64
	roundtripMin       int64
	roundtripThreshold int64
	firstTransition    bool

	pendingMu sync.Mutex
	pending   map[string]chan protocol.RawMessage

	attemptSeq atomic.Uint64

	closeOnce sync.Once
	closeCh   chan struct{}
}

// NewSocketSyncClock builds a clock that syncs against id's server using
// ch, and immediately starts the initialization burst in the background.
// The caller does not own ch's lifetime unless it also created it.
func NewSocketSyncClock(ch *transport.Channel, id string, cfg Config) *SocketSyncClock {
	c := &SocketSyncClock{
		cfg:                cfg,
		id:                 id,
		ch:                 ch,
		bus:                eventbus.New(),
		readyState:         readystate.Connecting,
		roundtripThreshold: cfg.MinRoundtripThreshold,
		pending:            make(map[string]chan protocol.RawMessage),
		closeCh:            make(chan struct{}),
	}
	ch.OnSync(c.handleResponse)
	go c.run()
	return c
}

func (c *SocketSyncClock) ReadyState() readystate.ReadyState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readyState
}

func (c *SocketSyncClock) Skew() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.skew
}

func (c *SocketSyncClock) Delta() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delta
}

func (c *SocketSyncClock) GetTime(localMs int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return localMs + c.skew - c.delta
}

func (c *SocketSyncClock) Now() int64 {
	return c.GetTime(nowMs())
}

func (c *SocketSyncClock) On(eventType string, handler eventbus.Handler) eventbus.Unsubscribe {
	return c.bus.On(eventType, handler)
}

// Close stops all scheduled sync attempts. Idempotent.
func (c *SocketSyncClock) Close() {
	c.closeOnce.Do(func() {
		close(c.closeCh)
		c.setReadyState(readystate.Closed)
	})
}

func (c *SocketSyncClock) run() {
	c.initPhase()
	select {
	case <-c.closeCh:
		return
	default:
	}
	c.setReadyState(readystate.Open)
	c.steadyStateLoop()
}

// --- shared helpers ---

func (c *SocketSyncClock) nextAttemptID() string {
	return fmt.Sprintf("a%d", c.attemptSeq.Add(1))
}

func (c *SocketSyncClock) registerPending(attemptID string) chan protocol.RawMessage {
	respCh := make(chan protocol.RawMessage, 1)
	c.pendingMu.Lock()
	c.pending[attemptID] = respCh
	c.pendingMu.Unlock()
	return respCh
}

func (c *SocketSyncClock) unregisterPending(attemptID string) {
	c.pendingMu.Lock()
	delete(c.pending, attemptID)
	c.pendingMu.Unlock()
}

func (c *SocketSyncClock) handleResponse(raw protocol.RawMessage) {
	ct, err := raw.DecodeClientTime()
	if err != nil || ct.AttemptID == "" {
		return
	}
	c.pendingMu.Lock()
	respCh, ok := c.pending[ct.AttemptID]
	if ok {
		delete(c.pending, ct.AttemptID)
	}
	c.pendingMu.Unlock()
	if !ok {
		return // stale or unknown attempt id
	}
	respCh <- raw
}

func (c *SocketSyncClock) setReadyState(rs readystate.ReadyState) {
	c.mu.Lock()
	if c.readyState == rs {
		c.mu.Unlock()
		return
	}
	c.readyState = rs
	deferFirst := !c.firstTransition
	c.firstTransition = true
	c.mu.Unlock()

	if deferFirst {
		c.bus.EmitDeferred("readystatechange", rs)
	} else {
		c.bus.Emit("readystatechange", rs)
	}
}

func (c *SocketSyncClock) setSkew(newSkew int64) {
	c.mu.Lock()
	changed := newSkew != c.skew
	c.skew = newSkew
	c.mu.Unlock()
	if changed {
		c.bus.Emit("change", nil)
	}
}

func (c *SocketSyncClock) adoptDelta(newDelta int64) {
	c.mu.Lock()
	changed := newDelta != c.delta
	c.delta = newDelta
	c.mu.Unlock()
	if changed {
		c.bus.Emit("change", nil)
	}
}

func computeRoundtripAndSkew(sentLocal, serverReceived, serverSent, receivedLocal int64) (roundtrip, skew int64) {
	roundtrip = receivedLocal - sentLocal
	skew = ((serverReceived + serverSent) - (sentLocal + receivedLocal)) / 2
	return
}

// --- initialization phase ---

type initSample struct {
	roundtrip int64
	skew      int64
}

func (c *SocketSyncClock) initPhase() {
	var (
		mu           sync.Mutex
		samples      []initSample
		wg           sync.WaitGroup
		deltaSeen    int64
		deltaAdopted bool
	)

	for i := 0; i < c.cfg.NInit; i++ {
		select {
		case <-c.closeCh:
			wg.Wait()
			return
		default:
		}

		attemptID := c.nextAttemptID()
		sentLocal := nowMs()
		respCh := c.registerPending(attemptID)
		c.ch.Send(protocol.NewSyncRequest(c.id, sentLocal, attemptID))

		wg.Add(1)
		go func(attemptID string, sentLocal int64, respCh chan protocol.RawMessage) {
			defer wg.Done()
			select {
			case raw := <-respCh:
				receivedLocal := nowMs()
				st, err := raw.DecodeServerTime()
				if err != nil {
					return
				}
				roundtrip, skew := computeRoundtripAndSkew(sentLocal, st.Received, st.Sent, receivedLocal)
				mu.Lock()
				samples = append(samples, initSample{roundtrip: roundtrip, skew: skew})
				if raw.Delta != nil {
					deltaSeen = *raw.Delta
					deltaAdopted = true
				}
				mu.Unlock()
			case <-time.After(c.cfg.InitAttemptTimeout):
				c.unregisterPending(attemptID)
			case <-c.closeCh:
				c.unregisterPending(attemptID)
			}
		}(attemptID, sentLocal, respCh)

		if i < c.cfg.NInit-1 {
			select {
			case <-time.After(c.cfg.IInit):
			case <-c.closeCh:
				wg.Wait()
				return
			}
		}
	}

	wg.Wait()

	if len(samples) == 0 {
		return
	}

	sort.Slice(samples, func(i, j int) bool { return samples[i].roundtrip < samples[j].roundtrip })

	roundtripMin := samples[0].roundtrip
	skew := samples[0].skew

	thresholdIdx := int(math.Ceil(float64(c.cfg.NInit)/2)) - 1
	if thresholdIdx >= len(samples) {
		thresholdIdx = len(samples) - 1
	}
	threshold := samples[thresholdIdx].roundtrip

	minAllowed := int64(math.Ceil(1.30 * float64(roundtripMin)))
	if minAllowed < c.cfg.MinRoundtripThreshold {
		minAllowed = c.cfg.MinRoundtripThreshold
	}
	if threshold < minAllowed {
		threshold = minAllowed
	}

	c.mu.Lock()
	changed := c.skew != skew || (deltaAdopted && c.delta != deltaSeen)
	c.roundtripMin = roundtripMin
	c.roundtripThreshold = threshold
	c.skew = skew
	if deltaAdopted {
		c.delta = deltaSeen
	}
	c.mu.Unlock()
	if changed {
		c.bus.Emit("change", nil)
	}
}

// --- steady state ---

func (c *SocketSyncClock) steadyStateLoop() {
	ticker := time.NewTicker(c.cfg.BatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closeCh:
			return
		case <-ticker.C:
			c.runBatch()
		}
	}
}

func (c *SocketSyncClock) currentThreshold() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roundtripThreshold
}

func (c *SocketSyncClock) runBatch() {
	attempts := 0
	for {
		attempts++

		attemptID := c.nextAttemptID()
		sentLocal := nowMs()
		respCh := c.registerPending(attemptID)
		c.ch.Send(protocol.NewSyncRequest(c.id, sentLocal, attemptID))

		threshold := c.currentThreshold()

		select {
		case raw := <-respCh:
			c.handleBatchSuccess(raw, sentLocal, threshold)
			return

		case <-time.After(time.Duration(threshold) * time.Millisecond):
			c.unregisterPending(attemptID)
			if attempts < c.cfg.MaxAttempts {
				select {
				case <-time.After(c.cfg.AttemptInterval):
					continue
				case <-c.closeCh:
					return
				}
			}
			c.mu.Lock()
			c.roundtripThreshold = int64(math.Ceil(float64(c.roundtripThreshold) * 1.20))
			c.mu.Unlock()
			return

		case <-c.closeCh:
			c.unregisterPending(attemptID)
			return
		}
	}
}

func (c *SocketSyncClock) handleBatchSuccess(raw protocol.RawMessage, sentLocal, threshold int64) {
	receivedLocal := nowMs()
	st, err := raw.DecodeServerTime()
	if err != nil {
		return
	}

	if raw.Delta != nil {
		c.adoptDelta(*raw.Delta)
	}

	roundtrip, skew := computeRoundtripAndSkew(sentLocal, st.Received, st.Sent, receivedLocal)
	if roundtrip > threshold {
		return // outlier, drop the sample
	}

	c.mu.Lock()
	if roundtrip < c.roundtripMin {
		scaled := int64(math.Ceil(float64(c.roundtripThreshold) * (float64(roundtrip) / float64(c.roundtripMin))))
		if scaled < c.cfg.MinRoundtripThreshold {
			scaled = c.cfg.MinRoundtripThreshold
		}
		c.roundtripThreshold = scaled
		c.roundtripMin = roundtrip
	}
	current := c.skew
	c.mu.Unlock()

	diff := skew - current
	if diff < 0 {
		diff = -diff
	}
	if diff >= 1 {
		c.setSkew(skew)
	}
}
