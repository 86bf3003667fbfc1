package hci

import (
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/blehost"
	"github.com/rigado/blehost/linux/hci/task"
)

// Dispatcher and record options shape the stack and are rejected once it
// is built, which NewHost does right after applying its options.

func (h *Host) built() error {
	if h.d != nil {
		return ErrInitialized
	}
	return nil
}

// SetTickPeriod sets the coarse timer period.
func (h *Host) SetTickPeriod(d time.Duration) error {
	if err := h.built(); err != nil {
		return err
	}
	if d <= 0 {
		return errors.Errorf("invalid tick period %v", d)
	}
	h.period = d
	h.dopts = append(h.dopts, task.WithTickPeriod(d))
	return nil
}

// SetQuickTickPeriod sets the fine timer period. Zero disables fine timers.
func (h *Host) SetQuickTickPeriod(d time.Duration) error {
	if err := h.built(); err != nil {
		return err
	}
	h.dopts = append(h.dopts, task.WithQuickTickPeriod(d))
	return nil
}

// SetMailboxSize sets the dispatcher mailbox depth.
func (h *Host) SetMailboxSize(n int) error {
	if err := h.built(); err != nil {
		return err
	}
	h.dopts = append(h.dopts, task.WithMailboxSize(n))
	return nil
}

// SetRegistryCapacity sets the sizes of the event range and timer tables.
func (h *Host) SetRegistryCapacity(events, timers int) error {
	if err := h.built(); err != nil {
		return err
	}
	h.dopts = append(h.dopts, task.WithRegistryCapacity(events, timers))
	return nil
}

// SetPreloadGate holds the dispatcher until Start.
func (h *Host) SetPreloadGate(enable bool) error {
	if err := h.built(); err != nil {
		return err
	}
	if enable {
		h.dopts = append(h.dopts, task.WithPreloadGate())
	}
	return nil
}

// SetTicks replaces the tick sources, mostly for tests.
func (h *Host) SetTicks(coarse, fine task.TickSource) error {
	if err := h.built(); err != nil {
		return err
	}
	h.dopts = append(h.dopts, task.WithTicks(coarse, fine))
	return nil
}

// SetIdentityKey sets the local identity resolving key, little-endian.
func (h *Host) SetIdentityKey(irk [16]byte) error {
	h.irk = irk
	if h.priv != nil {
		return h.d.Do(func() { h.priv.SetIdentityKey(irk) })
	}
	return nil
}

// SetRotationInterval sets how long a resolvable private address is used.
func (h *Host) SetRotationInterval(d time.Duration) error {
	if err := h.built(); err != nil {
		return err
	}
	if d <= 0 {
		return errors.Errorf("invalid rotation interval %v", d)
	}
	h.rotation = d
	return nil
}

// SetPrivacy makes the stack use resolvable private addresses, starting at
// Init and after every successful pairing.
func (h *Host) SetPrivacy(enable bool) error {
	if err := h.built(); err != nil {
		return err
	}
	h.privacy = enable
	return nil
}

// SetDeviceRecords sets the bonded device records: a *bond.Table, a
// *bond.FileStore or the path of a bonds file.
func (h *Host) SetDeviceRecords(records interface{}) error {
	if err := h.built(); err != nil {
		return err
	}
	return h.setRecords(records)
}

// SetErrorHandler sets the handler the host reports asynchronous errors to.
func (h *Host) SetErrorHandler(handler func(error)) error {
	h.errorHandler = handler
	return nil
}

// SetLogger replaces the logger of this instance.
func (h *Host) SetLogger(l blehost.Logger) error {
	if err := h.built(); err != nil {
		return err
	}
	h.log = l
	return nil
}

// SetTransport uses rw, which must return one whole packet per Read.
func (h *Host) SetTransport(rw io.ReadWriteCloser) error {
	if h.inited {
		return ErrInitialized
	}
	h.skt = rw
	return nil
}

// SetTransportHCISocket sets HCI device for hci socket
func (h *Host) SetTransportHCISocket(id int) error {
	h.transport = transport{
		hci: &transportHci{id},
	}
	return nil
}

// SetTransportH4Socket sets h4 socket server
func (h *Host) SetTransportH4Socket(addr string, timeout time.Duration) error {
	h.transport = transport{
		h4socket: &transportH4Socket{addr, timeout},
	}
	return nil
}

// SetTransportH4Uart sets h4 uart path
func (h *Host) SetTransportH4Uart(path string, baud uint) error {
	h.transport = transport{
		h4uart: &transportH4Uart{path, baud},
	}
	return nil
}
