// Package privacy generates the stack's private addresses and resolves the
// private addresses of bonded peers.
//
// All methods run on the dispatcher goroutine. Random numbers and
// encryption complete on later dispatcher iterations, so a resolution in
// progress is a sequence of steps, one record per step.
package privacy

import (
	"time"

	"github.com/rigado/blehost"
	"github.com/rigado/blehost/linux/hci/bond"
	"github.com/rigado/blehost/linux/hci/timer"
)

// DefaultRotationInterval is how long a resolvable private address is used.
const DefaultRotationInterval = 900 * time.Second

// Controller programs the controller's random address.
type Controller interface {
	SetRandomAddress(a blehost.Addr) error
}

// Records is the device record table resolution walks.
type Records interface {
	Get(i int) (bond.Record, bool)
	Lookup(addr blehost.Addr) (bond.Record, bool)
}

// Scheduler arms the rotation timer.
type Scheduler interface {
	Deferrer
	Arm(e *timer.Entry, typ timer.Type, ticks int)
	Disarm(e *timer.Entry)
}

// ResolveFunc reports the record a private address resolved to, or nil.
type ResolveFunc func(rec *bond.Record, ctx interface{})

// AddrFunc reports a generated address, or nil on failure.
type AddrFunc func(addr *blehost.Addr, ctx interface{})

// Config collects the collaborators of a Manager. Random and Cipher default
// to crypto/rand and AES run through the scheduler.
type Config struct {
	Scheduler  Scheduler
	Controller Controller
	Records    Records
	Random     Random
	Cipher     Cipher

	// RotationTicks is the rotation interval in coarse ticks.
	RotationTicks int
	Logger        blehost.Logger
}

// Manager holds the private address state of one stack instance.
type Manager struct {
	sched   Scheduler
	ctl     Controller
	records Records
	rng     Random
	cipher  Cipher
	log     blehost.Logger

	irk      [16]byte
	ownType  blehost.AddrType
	current  blehost.Addr
	rotation timer.Entry
	ticks    int

	// resolution in progress
	busy      bool
	target    blehost.Addr
	cursor    int
	resolveCb ResolveFunc
	resolveCx interface{}

	// non-resolvable generation in progress
	genCb AddrFunc
	genCx interface{}
}

// NewManager returns a manager using a public own address.
func NewManager(cfg Config) *Manager {
	l := cfg.Logger
	if l == nil {
		l = blehost.GetLogger()
	}
	m := &Manager{
		sched:   cfg.Scheduler,
		ctl:     cfg.Controller,
		records: cfg.Records,
		rng:     cfg.Random,
		cipher:  cfg.Cipher,
		ticks:   cfg.RotationTicks,
		ownType: blehost.AddrPublic,
		log:     l.ChildLogger(map[string]interface{}{"pkg": "privacy"}),
	}
	if m.rng == nil {
		m.rng = NewRandom(cfg.Scheduler)
	}
	if m.cipher == nil {
		m.cipher = NewCipher(cfg.Scheduler)
	}
	if m.ticks <= 0 {
		m.ticks = int(DefaultRotationInterval / time.Second)
	}
	m.rotation.Type = timer.BLERandomAddr
	return m
}

// SetIdentityKey sets the local identity resolving key, little-endian.
func (m *Manager) SetIdentityKey(irk [16]byte) {
	m.irk = irk
}

// OwnAddrType returns the address type the stack advertises and connects with.
func (m *Manager) OwnAddrType() blehost.AddrType {
	return m.ownType
}

// Current returns the private address last programmed.
func (m *Manager) Current() blehost.Addr {
	return m.current
}

// StartRotation switches to resolvable private addresses, renewed every
// rotation interval.
func (m *Manager) StartRotation() {
	m.GenerateResolvable()
}

// StopRotation stops renewing the address and goes back to the public one.
func (m *Manager) StopRotation() {
	m.sched.Disarm(&m.rotation)
	m.ownType = blehost.AddrPublic
}

// Timeout handles expiry of the rotation timer.
func (m *Manager) Timeout(e *timer.Entry) {
	if e != &m.rotation {
		return
	}
	if m.ownType == blehost.AddrRandom {
		m.GenerateResolvable()
	}
}

// RotationEntry returns the rotation timer, for inspection.
func (m *Manager) RotationEntry() *timer.Entry {
	return &m.rotation
}

// MapIdentity rewrites addr to the identity address of its record and
// returns the type to connect with.
func (m *Manager) MapIdentity(addr *blehost.Addr) blehost.AddrType {
	if m.records == nil {
		return blehost.AddrPublic
	}
	rec, ok := m.records.Lookup(*addr)
	if !ok || !rec.DeviceType.LE() {
		return blehost.AddrPublic
	}
	if rec.AddrType != blehost.AddrPublic {
		*addr = rec.StaticAddr
	}
	return rec.AddrType
}
