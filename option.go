package blehost

import (
	"time"
)

// StackOption is implemented by a host stack instance to accept configuration options.
type StackOption interface {
	SetTickPeriod(time.Duration) error
	SetQuickTickPeriod(time.Duration) error
	SetMailboxSize(int) error
	SetRegistryCapacity(events, timers int) error
	SetPreloadGate(bool) error
	SetIdentityKey([16]byte) error
	SetRotationInterval(time.Duration) error
	SetPrivacy(bool) error
	SetDeviceRecords(interface{}) error
	SetErrorHandler(handler func(error)) error
	SetLogger(Logger) error

	SetTransportHCISocket(id int) error
	SetTransportH4Socket(addr string, timeout time.Duration) error
	SetTransportH4Uart(path string, baud uint) error
}

// An Option is a configuration function, which configures the stack.
type Option func(StackOption) error

// OptTickPeriod sets the period of the coarse (seconds) timer domain.
func OptTickPeriod(d time.Duration) Option {
	return func(opt StackOption) error {
		return opt.SetTickPeriod(d)
	}
}

// OptQuickTickPeriod sets the period of the fine timer domain. Zero disables it.
func OptQuickTickPeriod(d time.Duration) Option {
	return func(opt StackOption) error {
		return opt.SetQuickTickPeriod(d)
	}
}

// OptMailboxSize sets the depth of the dispatcher mailbox.
func OptMailboxSize(n int) Option {
	return func(opt StackOption) error {
		return opt.SetMailboxSize(n)
	}
}

// OptRegistryCapacity sets the event range and timer callback table sizes.
func OptRegistryCapacity(events, timers int) Option {
	return func(opt StackOption) error {
		return opt.SetRegistryCapacity(events, timers)
	}
}

// OptPreloadGate makes the dispatcher wait for Start before running.
func OptPreloadGate() Option {
	return func(opt StackOption) error {
		return opt.SetPreloadGate(true)
	}
}

// OptIdentityKey sets the local identity resolving key, little-endian.
func OptIdentityKey(irk [16]byte) Option {
	return func(opt StackOption) error {
		return opt.SetIdentityKey(irk)
	}
}

// OptRotationInterval overrides the private address refresh interval.
func OptRotationInterval(d time.Duration) Option {
	return func(opt StackOption) error {
		return opt.SetRotationInterval(d)
	}
}

// OptPrivacy enables resolvable private addresses for the local device.
func OptPrivacy(enable bool) Option {
	return func(opt StackOption) error {
		return opt.SetPrivacy(enable)
	}
}

// OptDeviceRecords sets the bonded device record store.
func OptDeviceRecords(records interface{}) Option {
	return func(opt StackOption) error {
		return opt.SetDeviceRecords(records)
	}
}

// OptErrorHandler sets error handler
func OptErrorHandler(handler func(error)) Option {
	return func(opt StackOption) error {
		return opt.SetErrorHandler(handler)
	}
}

// OptLogger replaces the logger of a single stack instance.
func OptLogger(l Logger) Option {
	return func(opt StackOption) error {
		return opt.SetLogger(l)
	}
}

// OptTransportHCISocket set hci socket transport
func OptTransportHCISocket(id int) Option {
	return func(opt StackOption) error {
		return opt.SetTransportHCISocket(id)
	}
}

// OptTransportH4Socket set h4 socket transport
func OptTransportH4Socket(addr string, timeout time.Duration) Option {
	return func(opt StackOption) error {
		return opt.SetTransportH4Socket(addr, timeout)
	}
}

// OptTransportH4Uart set h4 uart transport
func OptTransportH4Uart(path string, baud uint) Option {
	return func(opt StackOption) error {
		return opt.SetTransportH4Uart(path, baud)
	}
}
