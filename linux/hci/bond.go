package hci

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/rigado/blehost"
	"github.com/rigado/blehost/linux/hci/bond"
	"github.com/rigado/blehost/linux/hci/evt"
)

// setRecords accepts a *bond.Table, a *bond.FileStore or the path of a
// bonds file.
func (h *Host) setRecords(v interface{}) error {
	switch r := v.(type) {
	case *bond.Table:
		h.records, h.store = r, nil
	case *bond.FileStore:
		h.records, h.store = r.Table(), r
	case string:
		t := bond.NewTable(0)
		h.records, h.store = t, bond.NewFileStore(r, t)
	default:
		return errors.Errorf("unknown device record store type %T", v)
	}
	return nil
}

// Records returns the device record table.
func (h *Host) Records() *bond.Table {
	return h.records
}

// Bond saves rec, and writes the bonds file when there is one.
func (h *Host) Bond(rec bond.Record) error {
	if h.store != nil {
		return h.store.Save(rec)
	}
	return h.records.Save(rec)
}

// Unbond forgets the peer at addr.
func (h *Host) Unbond(addr blehost.Addr) error {
	if h.store != nil {
		return h.store.Delete(addr)
	}
	if !h.records.Delete(addr) {
		return errors.Errorf("no record for %v", addr)
	}
	return nil
}

// handleLELongTermKeyRequest answers with the bonded key of the peer, or
// a negative reply when there is none.
func (h *Host) handleLELongTermKeyRequest(b []byte) error {
	e := evt.LELongTermKeyRequest(b)
	ch, err := e.ConnectionHandleWErr()
	if err != nil {
		return errors.Wrapf(err, "ltk request % X", b)
	}

	hb := make([]byte, 2)
	binary.LittleEndian.PutUint16(hb, ch)

	c, found := h.conns[ch]
	if !found {
		h.log.Warnf("ltk request for unknown handle %04X", ch)
		return h.command(opLELTKRequestNegReply, hb)
	}

	rec, ok := h.records.Lookup(c.peer)
	if !ok || len(rec.LTK) != 16 {
		h.log.Debugf("no ltk for %v", c.peer)
		return h.command(opLELTKRequestNegReply, hb)
	}
	if rec.Legacy && (rec.EDiv != e.EncryptionDiversifier() || rec.Rand != e.RandomNumber()) {
		h.log.Warnf("ltk request from %v: ediv/rand mismatch", c.peer)
		return h.command(opLELTKRequestNegReply, hb)
	}
	return h.command(opLELTKRequestReply, append(hb, rec.LTK...))
}
