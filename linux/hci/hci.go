package hci

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rigado/blehost"
	"github.com/rigado/blehost/linux/hci/bond"
	"github.com/rigado/blehost/linux/hci/evt"
	"github.com/rigado/blehost/linux/hci/privacy"
	"github.com/rigado/blehost/linux/hci/smp"
	"github.com/rigado/blehost/linux/hci/task"
	"github.com/rigado/blehost/linux/hci/timer"
)

// ErrInitialized is returned by options that only apply before Init.
var ErrInitialized = errors.New("host already initialized")

type handlerFn func(b []byte) error

var (
	_ blehost.StackOption  = (*Host)(nil)
	_ task.Layers          = (*Host)(nil)
	_ privacy.Controller   = (*Host)(nil)
	_ smp.Link             = (*Host)(nil)
	_ smp.ChannelCanceller = (*Host)(nil)
)

// NewHost returns a host stack instance. Nothing runs until Init.
func NewHost(opts ...blehost.Option) (*Host, error) {
	h := &Host{
		id:       uuid.New(),
		period:   task.DefaultTickPeriod,
		rotation: privacy.DefaultRotationInterval,

		evth: map[int]handlerFn{},
		subh: map[int]handlerFn{},

		conns: map[uint16]*conn{},
		done:  make(chan struct{}),
	}
	if err := h.Option(opts...); err != nil {
		return nil, errors.Wrap(err, "can't set options")
	}
	h.build()
	return h, nil
}

// Host wires the dispatcher, the device records, the private address
// manager and the pairing front end to a controller transport. All protocol
// state is owned by the dispatcher goroutine; the exported methods hand
// their work over to it.
type Host struct {
	id  uuid.UUID
	log blehost.Logger

	d     *task.Dispatcher
	dopts []task.Option

	records *bond.Table
	store   *bond.FileStore
	priv    *privacy.Manager
	smp     *smp.Manager

	privacy  bool
	irk      [16]byte
	period   time.Duration
	rotation time.Duration

	transport transport
	skt       io.ReadWriteCloser
	inited    bool

	// evtHub
	evth map[int]handlerFn
	subh map[int]handlerFn

	// loop only
	conns     map[uint16]*conn
	pending   *dial
	cancelled *dial

	errorHandler func(error)
	muErr        sync.Mutex
	err          error

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func (h *Host) build() {
	if h.log == nil {
		h.log = blehost.GetLogger()
	}
	h.log = h.log.ChildLogger(map[string]interface{}{"stack": h.id.String()})

	h.d = task.New(h, append(h.dopts, task.WithLogger(h.log))...)
	if h.records == nil {
		h.records = bond.NewTable(0)
	}

	h.priv = privacy.NewManager(privacy.Config{
		Scheduler:     h.d,
		Controller:    h,
		Records:       h.records,
		RotationTicks: h.rotationTicks(),
		Logger:        h.log,
	})
	h.priv.SetIdentityKey(h.irk)

	h.smp = smp.NewManager(h, h.records, h.log)
	if h.privacy {
		h.smp.SetStateMachine(smp.NewBasicMachine(h.smp, h.priv))
	}

	h.evth[evt.LEMetaCode] = h.handleLEMeta
	h.evth[evt.CommandCompleteCode] = h.handleCommandComplete
	h.evth[evt.CommandStatusCode] = h.handleCommandStatus
	h.evth[evt.DisconnectionCompleteCode] = h.handleDisconnectionComplete
	h.evth[evt.EncryptionChangeCode] = h.handleEncryptionChange

	h.subh[evt.LEConnectionCompleteSubCode] = h.handleLEConnectionComplete
	h.subh[evt.LEConnectionUpdateCompleteSubCode] = h.handleLEConnectionUpdateComplete
	h.subh[evt.LELongTermKeyRequestSubCode] = h.handleLELongTermKeyRequest
}

// rotationTicks converts the rotation interval to coarse ticks.
func (h *Host) rotationTicks() int {
	ticks := int(h.rotation / h.period)
	if ticks < 1 {
		ticks = 1
	}
	return ticks
}

// Option sets the options specified.
func (h *Host) Option(opts ...blehost.Option) error {
	for _, opt := range opts {
		if err := opt(h); err != nil {
			return err
		}
	}
	return nil
}

// ID identifies this instance in the logs.
func (h *Host) ID() uuid.UUID {
	return h.id
}

// Init opens the transport and starts the dispatcher. Without a transport
// the host runs detached and commands are dropped.
func (h *Host) Init() error {
	if h.inited {
		return ErrInitialized
	}
	h.inited = true

	if h.store != nil {
		if err := h.store.Load(); err != nil {
			h.log.Warnf("can't load device records: %v", err)
		}
	}

	if h.skt == nil && !h.transport.empty() {
		skt, err := getTransport(h.transport)
		if err != nil {
			return errors.Wrap(err, "can't open transport")
		}
		h.skt = skt
	}
	if h.skt == nil {
		h.log.Warn("no transport, running detached")
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		if err := h.d.Run(ctx); err != nil && errors.Cause(err) != context.Canceled {
			h.close(err)
		}
	}()
	if h.skt != nil {
		go h.sktReadLoop()
	}

	if h.privacy {
		h.d.Do(h.priv.StartRotation)
	}
	return nil
}

// Start releases a dispatcher held by the preload gate.
func (h *Host) Start() {
	h.d.Start()
}

// Close stops the host and closes the transport.
func (h *Host) Close() error {
	return h.close(nil)
}

// Done is closed once the host stopped.
func (h *Host) Done() <-chan struct{} {
	return h.done
}

// Error returns the error the host stopped on, if any.
func (h *Host) Error() error {
	h.muErr.Lock()
	defer h.muErr.Unlock()
	return h.err
}

func (h *Host) close(err error) error {
	var cerr error
	h.closeOnce.Do(func() {
		if err != nil {
			h.muErr.Lock()
			h.err = err
			h.muErr.Unlock()
			h.dispatchError(err)
		}

		close(h.done)
		if h.cancel != nil {
			h.cancel()
		}
		h.d.Close()
		if h.skt != nil {
			cerr = h.skt.Close()
		}
		h.smp.Close()
		h.log.Info("host closed")
	})
	return cerr
}

func (h *Host) dispatchError(err error) {
	if h.errorHandler != nil {
		h.errorHandler(err)
		return
	}
	h.log.Error(err)
}

func (h *Host) sktReadLoop() {
	b := make([]byte, 4096)
	for {
		n, err := h.skt.Read(b)

		switch {
		case n == 0 && err == nil:
			// read timeout
			select {
			case <-h.done:
				return
			default:
				continue
			}

		//callers depend on detecting io.EOF, don't wrap it.
		case err == io.EOF:
			h.close(err)
			return

		case err != nil:
			h.close(errors.Wrap(err, "skt read error"))
			return

		default:
			if err := h.postPkt(b[:n]); err != nil {
				h.log.Debugf("%v", err)
			}
		}
	}
}

// postPkt hands a packet read from the transport to the dispatcher.
func (h *Host) postPkt(b []byte) error {
	// Strip the 1-byte HCI header and pass down the rest of the packet.
	t, b := b[0], b[1:]
	var tag task.Tag
	switch t {
	case pktTypeEvent:
		tag = task.TagHCIEvent
	case pktTypeACLData:
		tag = task.TagACLData
	case pktTypeSCOData:
		tag = task.TagSCOData

		//unhandled stuff
	case pktTypeCommand:
		return fmt.Errorf("unmanaged cmd: % X", b)
	case pktTypeVendor:
		return fmt.Errorf("unsupported vendor packet: % X", b)
	default:
		return fmt.Errorf("invalid packet: 0x%02X % X", t, b)
	}
	return h.d.Post(h.d.Pool().New(tag, b))
}

// command queues an hci command for the controller.
func (h *Host) command(op uint16, params []byte) error {
	if len(params) > maxHciPayload {
		return fmt.Errorf("invalid length %v; max hci payload length is %v", len(params), maxHciPayload)
	}
	m := h.d.Pool().Get(task.TagHCICommand, 4+len(params))
	m.Data[0] = pktTypeCommand
	binary.LittleEndian.PutUint16(m.Data[1:], op)
	m.Data[3] = byte(len(params))
	copy(m.Data[4:], params)
	return h.d.Post(m)
}

// HandleEvent implements task.Layers.
func (h *Host) HandleEvent(m *task.Message) {
	if err := h.handleEvt(m.Data); err != nil {
		h.log.Warnf("%v", err)
	}
}

func (h *Host) handleEvt(b []byte) error {
	if len(b) < 2 {
		return fmt.Errorf("invalid event packet: % X", b)
	}
	code, plen := int(b[0]), int(b[1])
	if plen != len(b[2:]) {
		return fmt.Errorf("invalid event packet: % X", b)
	}

	if f := h.evth[code]; f != nil {
		return f(b[2:])
	}
	if code == evt.VendorCode {
		return nil
	}
	h.log.Debugf("unhandled event packet: % X", b)
	return nil
}

func (h *Host) handleLEMeta(b []byte) error {
	if len(b) == 0 {
		return fmt.Errorf("empty le meta event")
	}
	subcode := int(b[0])
	if f := h.subh[subcode]; f != nil {
		return f(b)
	}
	h.log.Debugf("unhandled le meta event 0x%02X", subcode)
	return nil
}

func (h *Host) handleCommandComplete(b []byte) error {
	e := evt.CommandComplete(b)
	op, err := e.CommandOpcodeWErr()
	if err != nil {
		return errors.Wrapf(err, "command complete % X", b)
	}
	rp := e.ReturnParameters()
	if len(rp) > 0 && rp[0] != 0 {
		h.log.Warnf("command 0x%04X failed: status 0x%02X", op, rp[0])
		if op == opLECreateConnectionCancel {
			// nothing left to cancel, the connection complete already came
			h.cancelled = nil
		}
		return nil
	}
	h.log.Debugf("command 0x%04X complete", op)
	return nil
}

func (h *Host) handleCommandStatus(b []byte) error {
	e := evt.CommandStatus(b)
	op, err := e.CommandOpcodeWErr()
	if err != nil {
		return errors.Wrapf(err, "command status % X", b)
	}
	if e.Status() != 0 {
		h.log.Warnf("command 0x%04X rejected: status 0x%02X", op, e.Status())
		if op == opLECreateConnection {
			h.dialFailed()
		}
		return nil
	}
	h.log.Debugf("command 0x%04X pending", op)
	return nil
}

func (h *Host) handleLEConnectionComplete(b []byte) error {
	e := evt.LEConnectionComplete(b)
	if _, err := e.PeerAddressWErr(); err != nil {
		return errors.Wrapf(err, "le connection complete % X", b)
	}

	if e.Status() != 0 {
		h.log.Warnf("connection failed: % X", b)
		switch {
		case h.cancelled != nil:
			h.cancelled = nil
		case e.Role() == roleMaster:
			h.dialFailed()
		}
		return nil
	}

	c := newConn(e)
	h.conns[c.handle] = c
	h.log.Debugf("connection complete %04X: addr %v, type %v, role %v", c.handle, c.peer, c.addrType, c.role)

	if d := h.pending; d != nil && d.matches(c.peer) {
		h.pending = nil
		h.smp.Execute(smp.EvtL2CAPConnected, d.peer)
		return nil
	}
	if d := h.cancelled; d != nil && d.matches(c.peer) {
		h.cancelled = nil
		h.log.Debugf("connection to %v completed after cancel", c.peer)
	}
	return nil
}

func (h *Host) handleLEConnectionUpdateComplete(b []byte) error {
	return nil
}

func (h *Host) handleDisconnectionComplete(b []byte) error {
	e := evt.DisconnectionComplete(b)
	ch, err := e.ConnectionHandleWErr()
	if err != nil {
		return errors.Wrapf(err, "disconnection complete % X", b)
	}

	c, found := h.conns[ch]
	if !found {
		h.log.Warnf("disconnecting unknown handle %04X", ch)
		return nil
	}
	delete(h.conns, ch)
	h.log.Debugf("disconnected %04X: addr %v, reason 0x%02X", ch, c.peer, e.Reason())

	if p := h.smp.Pairing(); p.Active() && p.Peer == c.peer {
		h.smp.Execute(smp.EvtL2CAPDisconnected, c.peer)
	}
	return nil
}

func (h *Host) handleEncryptionChange(b []byte) error {
	e := evt.EncryptionChange(b)
	c, found := h.conns[e.ConnectionHandle()]
	if !found {
		return nil
	}
	c.encrypted = e.Status() == 0 && e.EncryptionEnabled() != 0
	h.log.Debugf("encryption change %04X: %v", c.handle, c.encrypted)
	if c.encrypted {
		h.smp.Execute(smp.EvtEncryptComplete, c.peer)
	}
	return nil
}

// HandleACL implements task.Layers. Only the security manager channel is
// consumed here.
func (h *Host) HandleACL(m *task.Message) {
	defer m.Free()

	b := m.Data
	if len(b) < aclHeaderLen+l2capHeaderLen {
		h.log.Warnf("short acl packet: % X", b)
		return
	}
	handle := binary.LittleEndian.Uint16(b) & 0x0FFF
	pbf := (b[1] >> 4) & 0x3
	c, found := h.conns[handle]
	if !found {
		h.log.Warnf("invalid connection handle on ACL packet %04X", handle)
		return
	}
	if pbf == pbfContinuing {
		h.log.Debugf("acl continuation on %04X dropped", handle)
		return
	}

	cid := binary.LittleEndian.Uint16(b[aclHeaderLen+2:])
	pdu := b[aclHeaderLen+l2capHeaderLen:]
	if cid != smp.CID || len(pdu) == 0 {
		h.log.Debugf("acl on %04X cid %04X dropped", handle, cid)
		return
	}

	op := smp.Event(pdu[0])
	if op == smp.EvtSecurityRequest {
		h.smp.Execute(op, c.peer)
		return
	}
	// the message goes back to the pool
	h.smp.Execute(op, append([]byte(nil), pdu[1:]...))
}

// HandleSCO implements task.Layers.
func (h *Host) HandleSCO(m *task.Message) {
	h.log.Debugf("unsupported sco packet: % X", m.Data)
}

// SendCommand implements task.Layers.
func (h *Host) SendCommand(m *task.Message) {
	defer m.Free()
	if h.skt == nil {
		h.log.Debugf("detached, dropping command % X", m.Data)
		return
	}
	if _, err := h.skt.Write(m.Data); err != nil {
		h.dispatchError(errors.Wrap(err, "can't send command"))
	}
}

// SegmentsSent implements task.Layers.
func (h *Host) SegmentsSent(m *task.Message) {}

// Timeout implements task.Layers.
func (h *Host) Timeout(e *timer.Entry) {
	switch e.Type {
	case timer.BLERandomAddr:
		h.priv.Timeout(e)
	default:
		h.log.Debugf("unhandled timeout %v", e)
	}
}

// QuickTimeout implements task.Layers.
func (h *Host) QuickTimeout(e *timer.Entry) {
	h.log.Debugf("unhandled quick timeout %v", e)
}

// SetRandomAddress implements privacy.Controller.
func (h *Host) SetRandomAddress(a blehost.Addr) error {
	return h.command(opLESetRandomAddress, a.LE())
}
