// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package errcodes

// Categories
const (
	CategoryBLE      = "BLE"
	CategoryProxy    = "PROXY"
	CategoryRecovery = "RECOVERY"
	CategoryCommand  = "COMMAND"
	CategoryRequest  = "REQUEST"
	CategoryConfig   = "CONFIG"
	CategorySystem   = "SYSTEM"
)

// None clears a previously reported error
var None = Code{ID: "E0000", Message: "No error", Category: CategoryBLE, Severity: SeverityInfo}

// ============================================================
// E0xxx - BLE
// ============================================================

var (
	BLENotFoundLocal = Code{
		ID: "E0001", Message: "BLE device not found (local adapter)", Category: CategoryBLE, Severity: SeverityError,
		Hint: "Ensure the AquaClean is powered on and within BLE range. Check that the Bluetooth adapter is enabled and known to BlueZ.",
	}
	BLENotFoundProxy = Code{
		ID: "E0002", Message: "BLE device not found (proxy)", Category: CategoryBLE, Severity: SeverityError,
		Hint: "Ensure the AquaClean is powered on and within BLE range of the proxy. Try moving the proxy closer to the device.",
	}
	BLEConnectTimeout = Code{
		ID: "E0003", Message: "BLE connection timeout", Category: CategoryBLE, Severity: SeverityError,
		Hint: "The device did not respond in time. Power cycle the AquaClean (unplug for 10 seconds). If using a proxy, power cycle it as well.",
	}
	BLEServiceNotFound = Code{
		ID: "E0004", Message: "GATT service not found", Category: CategoryBLE, Severity: SeverityError,
		Hint: "The AquaClean service was not found on the device. Power cycle the AquaClean and verify the --address value.",
	}
	BLECharacteristicsNotFound = Code{
		ID: "E0005", Message: "GATT characteristics not found", Category: CategoryBLE, Severity: SeverityError,
		Hint: "BLE characteristics were not found on the device. Power cycle the AquaClean.",
	}
	BLEReadFailed = Code{
		ID: "E0006", Message: "Characteristic read failed", Category: CategoryBLE, Severity: SeverityError,
		Hint: "Reading from the device failed. Power cycle the AquaClean, and the proxy if one is used.",
	}
	BLEWriteFailed = Code{
		ID: "E0007", Message: "Characteristic write failed", Category: CategoryBLE, Severity: SeverityError,
		Hint: "Writing to the device failed. Power cycle the AquaClean, and the proxy if one is used.",
	}
	BLEDisconnected = Code{
		ID: "E0008", Message: "BLE disconnected unexpectedly", Category: CategoryBLE, Severity: SeverityWarning,
		Hint: "The AquaClean dropped the BLE connection and a reconnect is under way. If this happens often, check the signal strength.",
	}
	BLENotifyFailed = Code{
		ID: "E0009", Message: "Start notify failed", Category: CategoryBLE, Severity: SeverityError,
		Hint: "Subscribing to BLE notifications failed. Power cycle the AquaClean, and the proxy if one is used.",
	}
)

// ============================================================
// E1xxx - Proxy
// ============================================================

var (
	ProxyTimeout = Code{
		ID: "E1001", Message: "Proxy connection timeout", Category: CategoryProxy, Severity: SeverityError,
		Hint: "The proxy did not respond in time. Ensure it is powered on and reachable, then power cycle it if needed.",
	}
	ProxyUnreachable = Code{
		ID: "E1002", Message: "Proxy connection failed", Category: CategoryProxy, Severity: SeverityError,
		Hint: "Cannot reach the proxy. Verify --proxy-url (or the serial port) and that the proxy is powered on.",
	}
	ProxyBLEError = Code{
		ID: "E1003", Message: "Proxy BLE connection error", Category: CategoryProxy, Severity: SeverityError,
		Hint: "The proxy reported a BLE error while connecting to the AquaClean. Power cycle the proxy, then the AquaClean if it stays unresponsive.",
	}
	ProxyLogFailed = Code{
		ID: "E1004", Message: "Proxy log streaming failed", Category: CategoryProxy, Severity: SeverityWarning,
		Hint: "Log streaming from the proxy is unavailable. The BLE connection itself is unaffected.",
	}
	ProxyInfoFailed = Code{
		ID: "E1005", Message: "Proxy device info failed", Category: CategoryProxy, Severity: SeverityWarning,
		Hint: "Could not fetch information from the proxy. Operation continues with defaults.",
	}
	ProxySubscribeFailed = Code{
		ID: "E1006", Message: "Proxy service fetch failed", Category: CategoryProxy, Severity: SeverityError,
		Hint: "The proxy could not subscribe to the AquaClean characteristics. Power cycle the proxy and the AquaClean.",
	}
	ProxyWriteTimeout = Code{
		ID: "E1007", Message: "Proxy write timeout", Category: CategoryProxy, Severity: SeverityError,
		Hint: "Writing to the AquaClean through the proxy timed out. Power cycle the proxy and check the link stability.",
	}
	ProxyWorkerError = Code{
		ID: "E1008", Message: "Proxy notification worker error", Category: CategoryProxy, Severity: SeverityError,
		Hint: "The proxy notification reader stopped. Power cycle the proxy and restart aquaclean if it persists.",
	}
)

// ============================================================
// E2xxx - Recovery
// ============================================================

var (
	RecoveryNoDisappearProxy = Code{
		ID: "E2001", Message: "Recovery: device won't disappear (proxy)", Category: CategoryRecovery, Severity: SeverityWarning,
		Hint: "The AquaClean is still advertising after 2 minutes. Unplug it for at least 10 seconds to force a restart. Recovery continues once it goes offline.",
	}
	RecoveryNoReappearProxy = Code{
		ID: "E2002", Message: "Recovery: device won't reappear (proxy)", Category: CategoryRecovery, Severity: SeverityError,
		Hint: "The AquaClean did not come back after 2 minutes. Ensure it is powered and within range of the proxy.",
	}
	RecoveryNoDisappearLocal = Code{
		ID: "E2003", Message: "Recovery: device won't disappear (local)", Category: CategoryRecovery, Severity: SeverityWarning,
		Hint: "The AquaClean is still advertising after 2 minutes. Unplug it for at least 10 seconds to force a restart. Recovery continues once it goes offline.",
	}
	RecoveryNoReappearLocal = Code{
		ID: "E2004", Message: "Recovery: device won't reappear (local)", Category: CategoryRecovery, Severity: SeverityError,
		Hint: "The AquaClean did not come back after 2 minutes. Ensure it is powered and within range of the local Bluetooth adapter.",
	}
	RecoveryProxyFallback = Code{
		ID: "E2005", Message: "Recovery: proxy connection failed", Category: CategoryRecovery, Severity: SeverityError,
		Hint: "The proxy is unreachable and presence scanning fell back to the local Bluetooth adapter, which must be present. Power cycle the proxy.",
	}
)

// ============================================================
// E3xxx - Command
// ============================================================

var (
	CommandNotConnected = Code{
		ID: "E3001", Message: "Command failed: BLE not connected", Category: CategoryCommand, Severity: SeverityError,
		Hint: "The AquaClean is not connected. Wait for the reconnect and try again.",
	}
	CommandUnknown = Code{
		ID: "E3002", Message: "Command failed: unknown command", Category: CategoryCommand, Severity: SeverityError,
		Hint: "Run 'aquaclean command --help' for the list of command names.",
	}
	CommandFailed = Code{
		ID: "E3003", Message: "Command failed: execution error", Category: CategoryCommand, Severity: SeverityError,
		Hint: "The command could not be executed. Ensure the AquaClean is connected and try again.",
	}
)

// ============================================================
// E4xxx - Request validation
// ============================================================

var (
	InvalidConnectionMode = Code{
		ID: "E4001", Message: "Invalid BLE connection mode", Category: CategoryRequest, Severity: SeverityError,
		Hint: "Valid values are 'persistent' and 'on-demand'.",
	}
	InvalidPollInterval = Code{
		ID: "E4002", Message: "Invalid poll interval", Category: CategoryRequest, Severity: SeverityError,
		Hint: "The poll interval must be a non-negative duration. Use 0 to pause polling.",
	}
	ClientNotConnected = Code{
		ID: "E4003", Message: "BLE client not connected", Category: CategoryRequest, Severity: SeverityError,
		Hint: "The AquaClean is not connected. Wait for the reconnect or request one explicitly.",
	}
)

// ============================================================
// E6xxx - Configuration
// ============================================================

var (
	ConfigPollInterval = Code{
		ID: "E6001", Message: "Config: poll interval parse failed", Category: CategoryConfig, Severity: SeverityWarning,
		Hint: "Check that --poll-interval is a valid duration such as 2.5s. The default is used instead.",
	}
	ConfigAddress = Code{
		ID: "E6002", Message: "Config: device address missing or invalid", Category: CategoryConfig, Severity: SeverityError,
		Hint: "Pass --address or set AQUACLEAN_ADDRESS to the AquaClean MAC address (AA:BB:CC:DD:EE:FF).",
	}
)

// ============================================================
// E7xxx - Internal
// ============================================================

var (
	ShutdownTimeout = Code{
		ID: "E7001", Message: "Shutdown timeout", Category: CategorySystem, Severity: SeverityWarning,
		Hint: "Shutdown did not finish in time. This is usually harmless.",
	}
	PollLoopError = Code{
		ID: "E7002", Message: "Poll loop error", Category: CategorySystem, Severity: SeverityWarning,
		Hint: "An error occurred in the polling loop. Operation continues; check the logs for details.",
	}
	Fatal = Code{
		ID: "E7003", Message: "Service discovery error (fatal)", Category: CategorySystem, Severity: SeverityCritical,
		Hint: "A fatal error stopped the supervisor. Restart aquaclean, and power cycle the AquaClean and the adapter if it persists.",
	}
	General = Code{
		ID: "E7004", Message: "General exception", Category: CategorySystem, Severity: SeverityError,
		Hint: "An unexpected error occurred. Check the logs for details.",
	}
)

// All returns every code in ID order
func All() []Code {
	return []Code{
		None,
		BLENotFoundLocal, BLENotFoundProxy, BLEConnectTimeout, BLEServiceNotFound,
		BLECharacteristicsNotFound, BLEReadFailed, BLEWriteFailed, BLEDisconnected, BLENotifyFailed,
		ProxyTimeout, ProxyUnreachable, ProxyBLEError, ProxyLogFailed,
		ProxyInfoFailed, ProxySubscribeFailed, ProxyWriteTimeout, ProxyWorkerError,
		RecoveryNoDisappearProxy, RecoveryNoReappearProxy, RecoveryNoDisappearLocal,
		RecoveryNoReappearLocal, RecoveryProxyFallback,
		CommandNotConnected, CommandUnknown, CommandFailed,
		InvalidConnectionMode, InvalidPollInterval, ClientNotConnected,
		ConfigPollInterval, ConfigAddress,
		ShutdownTimeout, PollLoopError, Fatal, General,
	}
}
