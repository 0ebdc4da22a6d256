// Package scale implements the driver core for a Bookoo Themis BLE scale:
// connection lifecycle, telemetry decoding into weight/flow/timer state, and
// the command surface the UI layer calls. Reads are synchronous snapshots of
// in-memory state; commands go through a single-consumer queue so callers
// never interleave wire writes.
package scale

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chaz8081/bookoo-scale/internal/ble"
	"github.com/chaz8081/bookoo-scale/internal/scale/protocol"
)

// Options configures the driver.
type Options struct {
	NamePrefix     string        // case-insensitive device name prefix to discover
	Address        string        // pinned device address; skips discovery when set
	ScanTimeout    time.Duration // how long discovery may take
	ConnectTimeout time.Duration // bound on session establishment
	WindowCapacity int           // flow-rate sample window size
	Filter         FilterFunc    // flow-rate smoothing filter
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		NamePrefix:     "bookoo",
		ScanTimeout:    10 * time.Second,
		ConnectTimeout: 10 * time.Second,
		WindowCapacity: DefaultWindowCapacity,
		Filter:         MedianFilter(DefaultFilterWindow),
	}
}

// command is one queued intent with its reply channel.
type command struct {
	cmd   protocol.Command
	reply chan error
}

// Scale is the driver facade. One Scale drives one device; construct it
// explicitly and inject the adapter so tests can substitute a fake radio.
type Scale struct {
	adapter ble.Adapter
	opts    Options

	// now is the sample clock; swapped out in tests.
	now func() time.Time

	// mu guards everything below. The notification callback is the only
	// writer of weight/flow state and the command loop the only writer of
	// timer state; readers take a snapshot under the same lock.
	mu         sync.Mutex
	conn       ble.Connection
	cmdChar    ble.Characteristic
	connected  bool
	connecting bool

	weight     float64
	status     protocol.Status
	haveStatus bool
	timer      *Timer
	flow       *FlowEstimator

	cmds chan command
	quit chan struct{}
}

// New creates a disconnected driver for one scale.
func New(adapter ble.Adapter, opts Options) *Scale {
	if opts.NamePrefix == "" {
		opts.NamePrefix = "bookoo"
	}
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = 10 * time.Second
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	return &Scale{
		adapter: adapter,
		opts:    opts,
		now:     time.Now,
		timer:   NewTimer(),
		flow:    NewFlowEstimator(opts.WindowCapacity, opts.Filter),
	}
}

// Discover scans for the first peripheral whose name starts with the
// configured prefix, case-insensitively. A single attempt: when the scan
// window passes without a match it fails with ErrDiscoveryFailed.
func (s *Scale) Discover(ctx context.Context) (ble.Device, error) {
	if err := s.adapter.Enable(); err != nil {
		return ble.Device{}, fmt.Errorf("%w: enable adapter: %v", ErrDiscoveryFailed, err)
	}

	prefix := strings.ToLower(s.opts.NamePrefix)
	scanCtx, cancel := context.WithTimeout(ctx, s.opts.ScanTimeout)
	defer cancel()

	dev, err := s.adapter.Scan(scanCtx, func(d ble.Device) bool {
		return strings.HasPrefix(strings.ToLower(d.Name), prefix)
	})
	if err != nil {
		return ble.Device{}, fmt.Errorf("%w: %v", ErrDiscoveryFailed, err)
	}
	slog.Info("[scale] device found", "name", dev.Name, "address", dev.Address, "rssi", dev.RSSI)
	return dev, nil
}

// Connect establishes the session: discovery (unless an address is pinned),
// connection, characteristic resolution, telemetry subscription, and the
// command loop. A single attempt; it either succeeds or reports failure.
// Already connected is a no-op; a Connect overlapping one still in flight
// fails rather than opening a second session.
func (s *Scale) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return nil
	}
	if s.connecting {
		s.mu.Unlock()
		return fmt.Errorf("%w: connect already in progress", ErrConnectionFailed)
	}
	s.connecting = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.connecting = false
		s.mu.Unlock()
	}()

	addr := s.opts.Address
	if addr == "" {
		dev, err := s.Discover(ctx)
		if err != nil {
			return err
		}
		addr = dev.Address
	} else if err := s.adapter.Enable(); err != nil {
		return fmt.Errorf("%w: enable adapter: %v", ErrConnectionFailed, err)
	}

	connCtx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	defer cancel()

	conn, err := s.adapter.Connect(connCtx, addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	cmdChar, err := conn.DiscoverCharacteristic(ble.CommandCharUUID)
	if err != nil {
		conn.Disconnect()
		return fmt.Errorf("%w: command characteristic: %v", ErrConnectionFailed, err)
	}
	weightChar, err := conn.DiscoverCharacteristic(ble.WeightCharUUID)
	if err != nil {
		conn.Disconnect()
		return fmt.Errorf("%w: telemetry characteristic: %v", ErrConnectionFailed, err)
	}
	if err := weightChar.Subscribe(s.handleNotification); err != nil {
		conn.Disconnect()
		return fmt.Errorf("%w: subscribe telemetry: %v", ErrConnectionFailed, err)
	}

	conn.OnDisconnect(func() {
		slog.Warn("[scale] link lost")
		s.teardown()
	})

	cmds := make(chan command, 8)
	quit := make(chan struct{})

	s.mu.Lock()
	s.conn = conn
	s.cmdChar = cmdChar
	s.connected = true
	s.cmds = cmds
	s.quit = quit
	s.mu.Unlock()

	go s.commandLoop(cmds, quit)

	slog.Info("[scale] connected", "address", addr)
	return nil
}

// Disconnect tears down the session. Idempotent. It does not interrupt a
// command the loop is already executing; that command settles first.
func (s *Scale) Disconnect() error {
	conn := s.teardown()
	if conn == nil {
		return nil
	}
	if err := conn.Disconnect(); err != nil {
		return fmt.Errorf("scale: disconnect: %w", err)
	}
	slog.Info("[scale] disconnected")
	return nil
}

// teardown clears the session state and stops the command loop, returning
// the connection that was active, if any.
func (s *Scale) teardown() ble.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil
	}
	conn := s.conn
	s.connected = false
	s.conn = nil
	s.cmdChar = nil
	close(s.quit)
	s.cmds = nil
	s.quit = nil
	return conn
}

// handleNotification is the single writer for weight and flow state. It
// runs on the BLE notification goroutine, in wire arrival order. Malformed
// frames are radio noise and are dropped without surfacing an error.
func (s *Scale) handleNotification(data []byte) {
	status, err := protocol.DecodeFrame(data)
	if err != nil {
		slog.Debug("[scale] dropped telemetry frame", "error", err)
		return
	}
	at := s.now()

	s.mu.Lock()
	s.weight = status.Grams
	s.status = status
	s.haveStatus = true
	s.flow.Add(WeightSample{Grams: status.Grams, At: at})
	s.mu.Unlock()
}

// --- synchronous reads: last-known in-memory state, no I/O ---

// Weight returns the last decoded weight in grams.
func (s *Scale) Weight() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.weight
}

// FlowRate returns the locally smoothed flow rate in g/s.
func (s *Scale) FlowRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flow.Rate()
}

// ElapsedTime returns the current shot-timer value.
func (s *Scale) ElapsedTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer.Elapsed()
}

// TimerRunning reports whether the local timer is counting.
func (s *Scale) TimerRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer.Running()
}

// Connected reports whether a session is active.
func (s *Scale) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// BatteryPercent returns the device battery level from the last frame.
func (s *Scale) BatteryPercent() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.BatteryPercent
}

// DeviceStatus returns the last fully decoded frame and whether one has
// been received this session.
func (s *Scale) DeviceStatus() (protocol.Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, s.haveStatus
}

// --- asynchronous commands: wireless I/O via the command queue ---

// Tare zeroes the scale.
func (s *Scale) Tare(ctx context.Context) error {
	return s.send(ctx, protocol.CmdTare)
}

// StartTimer starts the shot timer on the device and locally. Fails with
// an InvalidTransitionError when the timer is running or needs a reset; in
// that case nothing is written to the wire.
func (s *Scale) StartTimer(ctx context.Context) error {
	return s.send(ctx, protocol.CmdTimerStart)
}

// StopTimer stops the shot timer, folding the run into the elapsed total.
func (s *Scale) StopTimer(ctx context.Context) error {
	return s.send(ctx, protocol.CmdTimerStop)
}

// ResetTimer clears the stopped timer back to zero.
func (s *Scale) ResetTimer(ctx context.Context) error {
	return s.send(ctx, protocol.CmdTimerReset)
}

// TareAndStartTimer tares and starts the timer as one atomic device
// command, not a tare followed by a start.
func (s *Scale) TareAndStartTimer(ctx context.Context) error {
	return s.send(ctx, protocol.CmdTareAndTimerStart)
}

// SetBuzzerGear would adjust the scale's beeper volume. The frame field is
// decoded but the write path has not been confirmed against hardware.
func (s *Scale) SetBuzzerGear(context.Context, uint8) error {
	return ErrUnsupported
}

// send enqueues cmd for the command loop and waits for it to settle.
// Enqueueing happens under the mutex that teardown also holds when it closes
// the queue, so every command that makes it into the queue is answered either
// by exec or by the loop's shutdown drain; a reply is always forthcoming.
func (s *Scale) send(ctx context.Context, cmd protocol.Command) error {
	c := command{cmd: cmd, reply: make(chan error, 1)}

	for {
		s.mu.Lock()
		cmds, quit := s.cmds, s.quit
		if cmds == nil {
			s.mu.Unlock()
			return ErrNotConnected
		}
		select {
		case cmds <- c:
			s.mu.Unlock()
			select {
			case err := <-c.reply:
				return err
			case <-ctx.Done():
				return ctx.Err()
			}
		default:
			// Queue full: that takes eight commands already in flight.
			// Back off without the lock and retry.
			s.mu.Unlock()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-quit:
			return ErrNotConnected
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// commandLoop is the single consumer of queued commands. Executing them on
// one goroutine serializes wire writes and makes the loop the only writer
// of timer state.
func (s *Scale) commandLoop(cmds chan command, quit chan struct{}) {
	for {
		select {
		case c := <-cmds:
			c.reply <- s.exec(c.cmd)
		case <-quit:
			// Answer anything still queued so no caller hangs.
			for {
				select {
				case c := <-cmds:
					c.reply <- ErrNotConnected
				default:
					return
				}
			}
		}
	}
}

// exec validates the local timer transition, then writes the command frame.
// An invalid transition never reaches the wire; a failed write rolls the
// local transition back so device and driver stay consistent. The write
// itself runs unlocked: a slow radio must not stall reads or telemetry.
func (s *Scale) exec(cmd protocol.Command) error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	cmdChar := s.cmdChar

	snap := s.timer.snapshot()
	var err error
	switch cmd {
	case protocol.CmdTimerStart, protocol.CmdTareAndTimerStart:
		err = s.timer.Start()
	case protocol.CmdTimerStop:
		err = s.timer.Stop()
	case protocol.CmdTimerReset:
		err = s.timer.Reset()
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}

	frame, err := protocol.EncodeCommand(cmd)
	if err == nil {
		if werr := cmdChar.Write(frame); werr != nil {
			err = fmt.Errorf("scale: write %s: %w", cmd, werr)
		}
	}
	if err != nil {
		// The command loop is the sole timer writer, so restoring under
		// a fresh lock cannot lose anyone else's transition.
		s.mu.Lock()
		s.timer.restore(snap)
		s.mu.Unlock()
		return err
	}
	slog.Debug("[scale] command sent", "command", cmd.String())
	return nil
}
