// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/aquaclean/pkg/errcodes"
)

// BlueZ D-Bus names
const (
	bluezBus          = "org.bluez"
	bluezAdapter1     = "org.bluez.Adapter1"
	bluezDevice1      = "org.bluez.Device1"
	bluezGattChar     = "org.bluez.GattCharacteristic1"
	dbusProperties    = "org.freedesktop.DBus.Properties"
	dbusObjectManager = "org.freedesktop.DBus.ObjectManager"
	propertiesChanged = dbusProperties + ".PropertiesChanged"
)

// BlueZ timings
const (
	servicesResolvedTimeout = 15 * time.Second
	servicesResolvedPoll    = 200 * time.Millisecond
	presencePoll            = 250 * time.Millisecond
	signalBuffer            = 64
)

type managedObjects = map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// BlueZ is a Transport using the local Bluetooth adapter through BlueZ
type BlueZ struct {
	adapter        string
	log            logrus.FieldLogger
	ConnectTimeout time.Duration

	mu           sync.Mutex
	conn         *dbus.Conn
	address      string
	devicePath   dbus.ObjectPath
	writePath    dbus.ObjectPath
	readPaths    []dbus.ObjectPath
	name         string
	connected    bool
	handler      func([]byte)
	onDisconnect []func(error)
	matchRules   []string
	sigCh        chan *dbus.Signal
	stopCh       chan struct{}
}

// NewBlueZ creates a local transport on adapter (hci0 when empty)
func NewBlueZ(adapter string, log logrus.FieldLogger) *BlueZ {
	if adapter == "" {
		adapter = "hci0"
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &BlueZ{
		adapter:        adapter,
		log:            log.WithFields(logrus.Fields{"component": "bluez", "adapter": adapter}),
		ConnectTimeout: DefaultConnectTimeout,
	}
}

// Kind implements Transport
func (b *BlueZ) Kind() Kind {
	return KindLocal
}

// Name implements Transport
func (b *BlueZ) Name() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.name
}

// OnDisconnect implements Transport
func (b *BlueZ) OnDisconnect(f func(err error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onDisconnect = append(b.onDisconnect, f)
}

// Connect implements Transport
func (b *BlueZ) Connect(ctx context.Context, address string) error {
	if _, err := net.ParseMAC(address); err != nil {
		return fmt.Errorf("invalid BLE address %q: %w", address, err)
	}

	conn, err := dbus.SystemBus()
	if err != nil {
		return fmt.Errorf("failed to connect to system D-Bus: %w", err)
	}

	// BlueZ only knows devices it has seen advertise
	found, err := b.ScanForPresence(ctx, address, b.ConnectTimeout)
	if err != nil {
		return err
	}
	if !found {
		return &DeviceNotFoundError{Address: address, Kind: KindLocal}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.conn = conn
	b.address = address
	b.devicePath = adapterDevicePath(b.adapter, address)

	connectCtx, cancel := context.WithTimeout(ctx, b.ConnectTimeout)
	defer cancel()

	call := conn.Object(bluezBus, b.devicePath).CallWithContext(connectCtx, bluezDevice1+".Connect", 0)
	if call.Err != nil {
		return &ConnectTimeoutError{Address: address, Err: call.Err}
	}

	if err := b.waitServicesResolved(ctx); err != nil {
		b.disconnectDevice()
		return &GATTError{Op: "service discovery", Code: errcodes.BLEServiceNotFound, Err: err}
	}

	var objects managedObjects
	if err := conn.Object(bluezBus, "/").CallWithContext(ctx, dbusObjectManager+".GetManagedObjects", 0).Store(&objects); err != nil {
		b.disconnectDevice()
		return &GATTError{Op: "GetManagedObjects", Code: errcodes.BLEServiceNotFound, Err: err}
	}
	b.writePath, b.readPaths, err = findCharacteristics(objects, b.devicePath)
	if err != nil {
		b.disconnectDevice()
		return &GATTError{Op: "characteristic discovery", Code: errcodes.BLECharacteristicsNotFound, Err: err}
	}

	b.name = deviceName(objects[b.devicePath][bluezDevice1])

	b.stopCh = make(chan struct{})
	b.sigCh = make(chan *dbus.Signal, signalBuffer)
	conn.Signal(b.sigCh)
	if err := b.addMatch(b.devicePath); err != nil {
		b.teardownLocked()
		return &GATTError{Op: "AddMatch", Code: errcodes.BLENotifyFailed, Err: err}
	}
	go b.signalLoop(b.sigCh, b.stopCh)

	b.connected = true
	b.log.WithFields(logrus.Fields{"address": address, "name": b.name}).Info("Connected")
	return nil
}

// Subscribe implements Transport
func (b *BlueZ) Subscribe(handler func(datagram []byte)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.connected {
		return ErrNotConnected
	}
	b.handler = handler

	for _, path := range b.readPaths {
		if err := b.addMatch(path); err != nil {
			return &GATTError{Op: "AddMatch", Code: errcodes.BLENotifyFailed, Err: err}
		}
		call := b.conn.Object(bluezBus, path).Call(bluezGattChar+".StartNotify", 0)
		if call.Err != nil {
			return &GATTError{Op: "StartNotify " + string(path), Code: errcodes.BLENotifyFailed, Err: call.Err}
		}
	}
	return nil
}

// Write implements Transport
func (b *BlueZ) Write(ctx context.Context, datagram []byte) error {
	b.mu.Lock()
	conn, path, connected := b.conn, b.writePath, b.connected
	b.mu.Unlock()

	if !connected {
		return ErrNotConnected
	}

	call := conn.Object(bluezBus, path).CallWithContext(ctx, bluezGattChar+".WriteValue", 0, datagram, map[string]dbus.Variant{
		"type": dbus.MakeVariant("request"),
	})
	if call.Err != nil {
		return &GATTError{Op: "write", Code: errcodes.BLEWriteFailed, Err: call.Err}
	}
	return nil
}

// Disconnect implements Transport
func (b *BlueZ) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil {
		return nil
	}
	b.connected = false
	b.teardownLocked()
	b.disconnectDevice()
	return nil
}

// ScanForPresence implements Transport. A device counts as present when
// BlueZ reports an RSSI for it during discovery, or it is connected.
func (b *BlueZ) ScanForPresence(ctx context.Context, address string, timeout time.Duration) (bool, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return false, fmt.Errorf("failed to connect to system D-Bus: %w", err)
	}

	adapter := conn.Object(bluezBus, dbus.ObjectPath("/org/bluez/"+b.adapter))
	filter := map[string]dbus.Variant{
		"Transport": dbus.MakeVariant("le"),
	}
	if call := adapter.CallWithContext(ctx, bluezAdapter1+".SetDiscoveryFilter", 0, filter); call.Err != nil {
		return false, fmt.Errorf("failed to set discovery filter: %w", call.Err)
	}
	if call := adapter.CallWithContext(ctx, bluezAdapter1+".StartDiscovery", 0); call.Err != nil {
		// Discovery may already be running for someone else
		b.log.WithError(call.Err).Debug("StartDiscovery failed, checking known devices")
	} else {
		defer adapter.Call(bluezAdapter1+".StopDiscovery", 0)
	}

	path := adapterDevicePath(b.adapter, address)
	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(presencePoll)
	defer ticker.Stop()

	for {
		var objects managedObjects
		call := conn.Object(bluezBus, "/").CallWithContext(scanCtx, dbusObjectManager+".GetManagedObjects", 0)
		if call.Err == nil && call.Store(&objects) == nil && devicePresent(objects, path) {
			return true, nil
		}

		select {
		case <-scanCtx.Done():
			if err := ctx.Err(); err != nil {
				return false, err
			}
			return false, nil
		case <-ticker.C:
		}
	}
}

func (b *BlueZ) waitServicesResolved(ctx context.Context) error {
	deadline := time.After(servicesResolvedTimeout)
	ticker := time.NewTicker(servicesResolvedPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("service discovery timed out after %s", servicesResolvedTimeout)
		case <-ticker.C:
			resolved, err := getDBusProperty[bool](b.conn, b.devicePath, bluezDevice1, "ServicesResolved")
			if err == nil && resolved {
				return nil
			}
		}
	}
}

func (b *BlueZ) addMatch(path dbus.ObjectPath) error {
	rule := fmt.Sprintf(
		"type='signal',sender='%s',interface='%s',member='PropertiesChanged',path='%s'",
		bluezBus, dbusProperties, path,
	)
	call := b.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule)
	if call.Err != nil {
		return call.Err
	}
	b.matchRules = append(b.matchRules, rule)
	return nil
}

// teardownLocked stops notifications and signal delivery. The system bus
// connection is shared by the process and stays open.
func (b *BlueZ) teardownLocked() {
	if b.stopCh != nil {
		close(b.stopCh)
		b.stopCh = nil
	}
	if b.sigCh != nil {
		b.conn.RemoveSignal(b.sigCh)
		b.sigCh = nil
	}
	for _, path := range b.readPaths {
		b.conn.Object(bluezBus, path).Call(bluezGattChar+".StopNotify", 0)
	}
	for _, rule := range b.matchRules {
		b.conn.BusObject().Call("org.freedesktop.DBus.RemoveMatch", 0, rule)
	}
	b.matchRules = nil
	b.handler = nil
}

func (b *BlueZ) disconnectDevice() {
	if b.conn == nil || b.devicePath == "" {
		return
	}
	b.conn.Object(bluezBus, b.devicePath).Call(bluezDevice1+".Disconnect", 0)
}

func (b *BlueZ) signalLoop(sigCh chan *dbus.Signal, stopCh chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		case sig, ok := <-sigCh:
			if !ok {
				return
			}
			b.handleSignal(sig)
		}
	}
}

func (b *BlueZ) handleSignal(sig *dbus.Signal) {
	if sig.Name != propertiesChanged {
		return
	}

	b.mu.Lock()
	devicePath := b.devicePath
	handler := b.handler
	isRead := false
	for _, p := range b.readPaths {
		if p == sig.Path {
			isRead = true
			break
		}
	}
	b.mu.Unlock()

	switch {
	case sig.Path == devicePath:
		if deviceDisconnected(sig) {
			b.lost()
		}
	case isRead && handler != nil:
		if value, ok := notificationValue(sig); ok {
			handler(value)
		}
	}
}

func (b *BlueZ) lost() {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return
	}
	b.connected = false
	handlers := append([]func(error){}, b.onDisconnect...)
	b.teardownLocked()
	b.mu.Unlock()

	b.log.Warn("Peripheral disconnected")
	err := &GATTError{Op: "link", Code: errcodes.BLEDisconnected, Err: errors.New("device reported Connected=false")}
	for _, h := range handlers {
		h(err)
	}
}

// ============================================================
// D-Bus helpers
// ============================================================

func adapterDevicePath(adapter, address string) dbus.ObjectPath {
	devAddr := strings.ReplaceAll(strings.ToUpper(address), ":", "_")
	return dbus.ObjectPath(fmt.Sprintf("/org/bluez/%s/dev_%s", adapter, devAddr))
}

func getDBusProperty[T any](conn *dbus.Conn, path dbus.ObjectPath, iface, property string) (T, error) {
	var zero T
	variant, err := conn.Object(bluezBus, path).GetProperty(iface + "." + property)
	if err != nil {
		return zero, err
	}
	val, ok := variant.Value().(T)
	if !ok {
		return zero, fmt.Errorf("property %s.%s has unexpected type %T", iface, property, variant.Value())
	}
	return val, nil
}

// findCharacteristics locates the bulk write and read characteristics
// below devicePath
func findCharacteristics(objects managedObjects, devicePath dbus.ObjectPath) (dbus.ObjectPath, []dbus.ObjectPath, error) {
	prefix := string(devicePath) + "/"
	var write dbus.ObjectPath
	reads := make([]dbus.ObjectPath, len(BulkReadUUIDs))
	found := 0

	for path, ifaces := range objects {
		props, ok := ifaces[bluezGattChar]
		if !ok || !strings.HasPrefix(string(path), prefix) {
			continue
		}
		s, ok := props["UUID"].Value().(string)
		if !ok {
			continue
		}
		u, err := uuid.Parse(s)
		if err != nil {
			continue
		}
		if u == WriteUUID {
			write = path
			continue
		}
		for i, r := range BulkReadUUIDs {
			if u == r && reads[i] == "" {
				reads[i] = path
				found++
			}
		}
	}

	if write == "" {
		return "", nil, fmt.Errorf("write characteristic %s not found", WriteUUID)
	}
	if found == 0 {
		return "", nil, fmt.Errorf("no bulk read characteristics found")
	}

	out := make([]dbus.ObjectPath, 0, found)
	for _, p := range reads {
		if p != "" {
			out = append(out, p)
		}
	}
	return write, out, nil
}

func deviceName(props map[string]dbus.Variant) string {
	for _, key := range []string{"Name", "Alias"} {
		if s, ok := props[key].Value().(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func devicePresent(objects managedObjects, path dbus.ObjectPath) bool {
	props, ok := objects[path][bluezDevice1]
	if !ok {
		return false
	}
	if _, ok := props["RSSI"]; ok {
		return true
	}
	connected, _ := props["Connected"].Value().(bool)
	return connected
}

// changedProperties returns the changed map of a PropertiesChanged signal
// when it was emitted for iface
func changedProperties(sig *dbus.Signal, iface string) (map[string]dbus.Variant, bool) {
	if len(sig.Body) < 2 {
		return nil, false
	}
	if name, ok := sig.Body[0].(string); !ok || name != iface {
		return nil, false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	return changed, ok
}

func notificationValue(sig *dbus.Signal) ([]byte, bool) {
	changed, ok := changedProperties(sig, bluezGattChar)
	if !ok {
		return nil, false
	}
	v, ok := changed["Value"]
	if !ok {
		return nil, false
	}
	data, ok := v.Value().([]byte)
	return data, ok
}

func deviceDisconnected(sig *dbus.Signal) bool {
	changed, ok := changedProperties(sig, bluezDevice1)
	if !ok {
		return false
	}
	v, ok := changed["Connected"]
	if !ok {
		return false
	}
	connected, ok := v.Value().(bool)
	return ok && !connected
}
