package ble

import (
	"context"
	"fmt"
	"sync"
)

// FakeAdapter is an in-memory Adapter for tests. It hands out
// FakeConnections and lets tests inject scan results, connection failures,
// and inbound notifications without a radio.
type FakeAdapter struct {
	mu         sync.Mutex
	devices    []Device
	enableErr  error
	connectErr error
	connection *FakeConnection // most recent connection for assertions
}

// NewFakeAdapter creates a fake adapter advertising the given devices.
func NewFakeAdapter(devices ...Device) *FakeAdapter {
	return &FakeAdapter{devices: devices}
}

// FailEnable makes Enable return err.
func (a *FakeAdapter) FailEnable(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enableErr = err
}

// FailConnect makes Connect return err.
func (a *FakeAdapter) FailConnect(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connectErr = err
}

func (a *FakeAdapter) Enable() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enableErr
}

// Scan checks the advertised devices against match. With no match it blocks
// until ctx expires, mirroring a real scan that never sees the peripheral.
func (a *FakeAdapter) Scan(ctx context.Context, match func(Device) bool) (Device, error) {
	a.mu.Lock()
	devices := a.devices
	a.mu.Unlock()

	for _, dev := range devices {
		if match(dev) {
			return dev, nil
		}
	}
	<-ctx.Done()
	return Device{}, fmt.Errorf("ble: scan: %w", ctx.Err())
}

func (a *FakeAdapter) Connect(_ context.Context, _ string) (Connection, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.connectErr != nil {
		return nil, a.connectErr
	}
	a.connection = NewFakeConnection()
	return a.connection, nil
}

// LastConnection returns the most recently created connection.
func (a *FakeAdapter) LastConnection() *FakeConnection {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connection
}

// FakeConnection simulates an established BLE session.
type FakeConnection struct {
	mu           sync.Mutex
	chars        map[string]*FakeCharacteristic
	disconnectCb func()
	disconnected bool
}

func NewFakeConnection() *FakeConnection {
	return &FakeConnection{
		chars: map[string]*FakeCharacteristic{
			WeightCharUUID:  {},
			CommandCharUUID: {},
		},
	}
}

func (c *FakeConnection) DiscoverCharacteristic(charUUID string) (Characteristic, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	char, ok := c.chars[charUUID]
	if !ok {
		return nil, fmt.Errorf("fake: unknown characteristic UUID %q", charUUID)
	}
	return char, nil
}

func (c *FakeConnection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
	return nil
}

// Disconnected reports whether Disconnect has been called.
func (c *FakeConnection) Disconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

func (c *FakeConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

// DropLink fires the disconnect callback, as if the peripheral went away.
func (c *FakeConnection) DropLink() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// WeightChar returns the fake telemetry characteristic.
func (c *FakeConnection) WeightChar() *FakeCharacteristic {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chars[WeightCharUUID]
}

// CommandChar returns the fake command characteristic.
func (c *FakeConnection) CommandChar() *FakeCharacteristic {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chars[CommandCharUUID]
}

// FakeCharacteristic records writes and lets tests push notifications.
type FakeCharacteristic struct {
	mu           sync.Mutex
	writes       [][]byte
	writeErr     error
	writeEntered chan struct{}
	writeGate    chan struct{}
	callback     func([]byte)
}

// FailWrites makes subsequent Writes return err.
func (c *FakeCharacteristic) FailWrites(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

// GateWrites makes each subsequent Write block until release is called,
// simulating a slow radio. entered receives once as a write begins, so a
// test can hold a write in flight and poke at the driver meanwhile.
func (c *FakeCharacteristic) GateWrites() (entered <-chan struct{}, release func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	in := make(chan struct{}, 1)
	gate := make(chan struct{})
	c.writeEntered = in
	c.writeGate = gate
	var once sync.Once
	return in, func() { once.Do(func() { close(gate) }) }
}

func (c *FakeCharacteristic) Write(data []byte) error {
	c.mu.Lock()
	entered, gate := c.writeEntered, c.writeGate
	c.mu.Unlock()
	if gate != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-gate
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.writes = append(c.writes, cp)
	return nil
}

func (c *FakeCharacteristic) Subscribe(cb func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callback = cb
	return nil
}

// Writes returns a copy of everything written so far.
func (c *FakeCharacteristic) Writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.writes))
	copy(out, c.writes)
	return out
}

// PushNotification delivers data to the subscriber, if any.
func (c *FakeCharacteristic) PushNotification(data []byte) {
	c.mu.Lock()
	cb := c.callback
	c.mu.Unlock()
	if cb != nil {
		cb(data)
	}
}

// Subscribed reports whether a notification callback is registered.
func (c *FakeCharacteristic) Subscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callback != nil
}

var (
	_ Adapter        = (*FakeAdapter)(nil)
	_ Connection     = (*FakeConnection)(nil)
	_ Characteristic = (*FakeCharacteristic)(nil)
)
