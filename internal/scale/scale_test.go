package scale

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/chaz8081/bookoo-scale/internal/ble"
)

// telemetryFrame builds a valid 20-byte frame carrying the given weight.
func telemetryFrame(grams float64) []byte {
	frame := make([]byte, 20)
	frame[0] = 0x03
	frame[1] = 0x0B

	centigrams := int(math.Round(grams * 100))
	sign := byte('+')
	if centigrams < 0 {
		sign = '-'
		centigrams = -centigrams
	}
	frame[6] = sign
	frame[7] = byte(centigrams >> 16)
	frame[8] = byte(centigrams >> 8)
	frame[9] = byte(centigrams)
	frame[10] = '+'
	frame[13] = 90 // battery

	var checksum byte
	for _, b := range frame[:19] {
		checksum ^= b
	}
	frame[19] = checksum
	return frame
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.ScanTimeout = 100 * time.Millisecond
	opts.ConnectTimeout = 100 * time.Millisecond
	return opts
}

// connectedScale returns a Scale connected through a fake adapter.
func connectedScale(t *testing.T) (*Scale, *ble.FakeAdapter) {
	t.Helper()
	adapter := ble.NewFakeAdapter(ble.Device{Name: "BOOKOO_SC Themis", Address: "AA:BB:CC:DD:EE:FF", RSSI: -50})
	s := New(adapter, testOptions())
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Disconnect() })
	return s, adapter
}

func TestConnectSubscribesTelemetry(t *testing.T) {
	s, adapter := connectedScale(t)

	if !s.Connected() {
		t.Error("Connected() = false after Connect()")
	}
	if !adapter.LastConnection().WeightChar().Subscribed() {
		t.Error("Connect() did not subscribe to the telemetry characteristic")
	}
}

func TestConnectAlreadyConnectedIsNoop(t *testing.T) {
	s, adapter := connectedScale(t)
	first := adapter.LastConnection()

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect() error = %v", err)
	}
	if adapter.LastConnection() != first {
		t.Error("second Connect() opened a new session")
	}
}

func TestConnectWhileConnectInFlightFails(t *testing.T) {
	// Nothing advertised, so the first Connect sits in discovery until the
	// scan window expires.
	adapter := ble.NewFakeAdapter()
	opts := testOptions()
	opts.ScanTimeout = 300 * time.Millisecond
	s := New(adapter, opts)

	first := make(chan error, 1)
	go func() { first <- s.Connect(context.Background()) }()

	deadline := time.Now().Add(time.Second)
	for {
		s.mu.Lock()
		inFlight := s.connecting
		s.mu.Unlock()
		if inFlight {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first Connect() never entered the connecting state")
		}
		time.Sleep(time.Millisecond)
	}

	if err := s.Connect(context.Background()); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("overlapping Connect() error = %v, want ErrConnectionFailed", err)
	}
	if err := <-first; !errors.Is(err, ErrDiscoveryFailed) {
		t.Errorf("first Connect() error = %v, want ErrDiscoveryFailed", err)
	}
}

func TestDiscoverMatchesPrefixCaseInsensitive(t *testing.T) {
	adapter := ble.NewFakeAdapter(
		ble.Device{Name: "Kitchen Thermometer", Address: "11:11"},
		ble.Device{Name: "bookoo_sc 42", Address: "22:22"},
	)
	s := New(adapter, testOptions())

	dev, err := s.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if dev.Address != "22:22" {
		t.Errorf("Discover() address = %q, want 22:22", dev.Address)
	}
}

func TestDiscoverTimeout(t *testing.T) {
	adapter := ble.NewFakeAdapter(ble.Device{Name: "SomeOtherDevice", Address: "11:11"})
	s := New(adapter, testOptions())

	_, err := s.Discover(context.Background())
	if !errors.Is(err, ErrDiscoveryFailed) {
		t.Errorf("Discover() error = %v, want ErrDiscoveryFailed", err)
	}
}

func TestConnectFailureSurfaced(t *testing.T) {
	adapter := ble.NewFakeAdapter(ble.Device{Name: "bookoo_sc", Address: "22:22"})
	adapter.FailConnect(fmt.Errorf("radio busy"))
	s := New(adapter, testOptions())

	err := s.Connect(context.Background())
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
	if s.Connected() {
		t.Error("Connected() = true after failed Connect()")
	}
}

func TestNotificationUpdatesReads(t *testing.T) {
	s, adapter := connectedScale(t)

	weightChar := adapter.LastConnection().WeightChar()
	weightChar.PushNotification(telemetryFrame(123.45))

	if got := s.Weight(); math.Abs(got-123.45) > 1e-9 {
		t.Errorf("Weight() = %v, want 123.45", got)
	}
	if got := s.BatteryPercent(); got != 90 {
		t.Errorf("BatteryPercent() = %d, want 90", got)
	}
	if _, ok := s.DeviceStatus(); !ok {
		t.Error("DeviceStatus() ok = false after a frame")
	}
}

func TestNotificationBadChecksumDropped(t *testing.T) {
	s, adapter := connectedScale(t)
	weightChar := adapter.LastConnection().WeightChar()

	weightChar.PushNotification(telemetryFrame(10))

	bad := telemetryFrame(999)
	bad[19] ^= 0x01
	weightChar.PushNotification(bad)

	if got := s.Weight(); got != 10 {
		t.Errorf("Weight() = %v, want 10 (tampered frame must not change state)", got)
	}
	s.mu.Lock()
	n := s.flow.Len()
	s.mu.Unlock()
	if n != 1 {
		t.Errorf("flow window holds %d samples, want 1 (tampered frame appended)", n)
	}
}

func TestNotificationFeedsFlowRate(t *testing.T) {
	s, adapter := connectedScale(t)
	weightChar := adapter.LastConnection().WeightChar()

	// Inject a deterministic sample clock: each frame arrives 100 ms apart.
	clock := newFakeClock()
	s.now = func() time.Time {
		now := clock.t
		clock.advance(100 * time.Millisecond)
		return now
	}

	for i := 0; i < 5; i++ {
		weightChar.PushNotification(telemetryFrame(float64(i) * 0.5))
	}

	if got := s.FlowRate(); math.Abs(got-5.0) > 1e-9 {
		t.Errorf("FlowRate() = %v, want 5.0", got)
	}
}

func TestTareWritesCommandFrame(t *testing.T) {
	s, adapter := connectedScale(t)

	if err := s.Tare(context.Background()); err != nil {
		t.Fatalf("Tare() error = %v", err)
	}

	writes := adapter.LastConnection().CommandChar().Writes()
	if len(writes) != 1 {
		t.Fatalf("got %d command writes, want 1", len(writes))
	}
	want := []byte{0x03, 0x0A, 0x01, 0x00, 0x00, 0x08}
	if !bytes.Equal(writes[0], want) {
		t.Errorf("Tare() wrote %x, want %x", writes[0], want)
	}
}

func TestTimerCommandsDriveLocalState(t *testing.T) {
	s, adapter := connectedScale(t)
	ctx := context.Background()

	if err := s.StartTimer(ctx); err != nil {
		t.Fatalf("StartTimer() error = %v", err)
	}
	if !s.TimerRunning() {
		t.Error("TimerRunning() = false after StartTimer()")
	}

	if err := s.StopTimer(ctx); err != nil {
		t.Fatalf("StopTimer() error = %v", err)
	}
	if s.TimerRunning() {
		t.Error("TimerRunning() = true after StopTimer()")
	}

	if err := s.ResetTimer(ctx); err != nil {
		t.Fatalf("ResetTimer() error = %v", err)
	}
	if got := s.ElapsedTime(); got != 0 {
		t.Errorf("ElapsedTime() after reset = %v, want 0", got)
	}

	writes := adapter.LastConnection().CommandChar().Writes()
	if len(writes) != 3 {
		t.Errorf("got %d command writes, want 3", len(writes))
	}
}

func TestInvalidTransitionWritesNothing(t *testing.T) {
	s, adapter := connectedScale(t)
	ctx := context.Background()

	if err := s.StartTimer(ctx); err != nil {
		t.Fatalf("StartTimer() error = %v", err)
	}

	err := s.StartTimer(ctx)
	var invalid *InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("second StartTimer() error = %v, want InvalidTransitionError", err)
	}
	if invalid.Reason != AlreadyRunning {
		t.Errorf("Reason = %v, want AlreadyRunning", invalid.Reason)
	}

	if got := len(adapter.LastConnection().CommandChar().Writes()); got != 1 {
		t.Errorf("got %d command writes, want 1 (invalid transition must not hit the wire)", got)
	}
}

func TestWriteFailureRollsBackTimer(t *testing.T) {
	s, adapter := connectedScale(t)
	adapter.LastConnection().CommandChar().FailWrites(fmt.Errorf("gatt write failed"))

	if err := s.StartTimer(context.Background()); err == nil {
		t.Fatal("StartTimer() with failing writes returned nil error")
	}
	if s.TimerRunning() {
		t.Error("TimerRunning() = true after a failed write (transition not rolled back)")
	}
}

func TestTareAndStartTimerIsSingleFrame(t *testing.T) {
	s, adapter := connectedScale(t)

	if err := s.TareAndStartTimer(context.Background()); err != nil {
		t.Fatalf("TareAndStartTimer() error = %v", err)
	}

	writes := adapter.LastConnection().CommandChar().Writes()
	if len(writes) != 1 {
		t.Fatalf("got %d writes, want 1 (tare+start must be one atomic frame)", len(writes))
	}
	want := []byte{0x03, 0x0A, 0x07, 0x00, 0x00, 0x00}
	if !bytes.Equal(writes[0], want) {
		t.Errorf("wrote %x, want %x", writes[0], want)
	}
	if !s.TimerRunning() {
		t.Error("TimerRunning() = false after TareAndStartTimer()")
	}
}

func TestCommandsWithoutConnection(t *testing.T) {
	s := New(ble.NewFakeAdapter(), testOptions())

	if err := s.Tare(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Tare() error = %v, want ErrNotConnected", err)
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	s, adapter := connectedScale(t)

	if err := s.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if !adapter.LastConnection().Disconnected() {
		t.Error("Disconnect() did not tear down the BLE session")
	}
	if err := s.Disconnect(); err != nil {
		t.Errorf("second Disconnect() error = %v, want nil", err)
	}

	if err := s.Tare(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Tare() after disconnect error = %v, want ErrNotConnected", err)
	}
}

func TestCommandRacingDisconnectSettles(t *testing.T) {
	// A command issued while another goroutine tears the session down must
	// always come back: success if it beat the teardown, ErrNotConnected
	// otherwise. Never a hang. Iterate to shake out orderings.
	for i := 0; i < 200; i++ {
		adapter := ble.NewFakeAdapter(ble.Device{Name: "bookoo_sc", Address: "AA:BB"})
		s := New(adapter, testOptions())
		if err := s.Connect(context.Background()); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}

		done := make(chan error, 1)
		go func() { done <- s.Tare(context.Background()) }()
		_ = s.Disconnect()

		select {
		case err := <-done:
			if err != nil && !errors.Is(err, ErrNotConnected) {
				t.Fatalf("Tare() racing Disconnect() error = %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Tare() racing Disconnect() never returned")
		}
	}
}

func TestReadsDoNotWaitForSlowWrite(t *testing.T) {
	s, adapter := connectedScale(t)
	cmdChar := adapter.LastConnection().CommandChar()
	entered, release := cmdChar.GateWrites()
	defer release()

	tared := make(chan error, 1)
	go func() { tared <- s.Tare(context.Background()) }()
	<-entered // the command write is now held in flight

	read := make(chan float64, 1)
	go func() { read <- s.Weight() }()
	select {
	case <-read:
	case <-time.After(time.Second):
		t.Fatal("Weight() blocked behind an in-flight command write")
	}

	release()
	if err := <-tared; err != nil {
		t.Errorf("Tare() error = %v", err)
	}
}

func TestLinkLossMarksDisconnected(t *testing.T) {
	s, adapter := connectedScale(t)

	adapter.LastConnection().DropLink()

	if s.Connected() {
		t.Error("Connected() = true after link loss")
	}
}

func TestSetBuzzerGearUnsupported(t *testing.T) {
	s, _ := connectedScale(t)
	if err := s.SetBuzzerGear(context.Background(), 3); !errors.Is(err, ErrUnsupported) {
		t.Errorf("SetBuzzerGear() error = %v, want ErrUnsupported", err)
	}
}
