// Package ble provides the Bluetooth Low Energy transport for talking to a
// Bookoo scale. It abstracts the hardware adapter behind small interfaces so
// the driver core can be tested against an in-memory fake.
package ble

import "context"

// Bookoo Themis GATT UUIDs
const (
	WeightCharUUID  = "0000ff11-0000-1000-8000-00805f9b34fb"
	CommandCharUUID = "0000ff12-0000-1000-8000-00805f9b34fb"
)

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	// Write sends data to the characteristic.
	Write(data []byte) error
	// Subscribe registers a callback for notifications on this characteristic.
	Subscribe(callback func(data []byte)) error
}

// Device represents a discovered BLE peripheral.
type Device struct {
	Name    string
	Address string
	RSSI    int
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverCharacteristic finds a characteristic by UUID.
	DiscoverCharacteristic(charUUID string) (Characteristic, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan discovers BLE peripherals until match reports true for one of
	// them, returning that device. It fails when ctx expires first.
	Scan(ctx context.Context, match func(Device) bool) (Device, error)
	// Connect establishes a connection to the device at the given address.
	Connect(ctx context.Context, address string) (Connection, error)
}
