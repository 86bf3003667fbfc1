package bond

import (
	"encoding/binary"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/rigado/blehost"
)

const bondFilename = "bonds.json"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type bondFile struct {
	Bonds []remoteKeyInfo `json:"bonds"`
}

type remoteKeyInfo struct {
	Address               string `json:"address"`
	DeviceType            uint8  `json:"deviceType"`
	AddressType           string `json:"addressType"`
	StaticAddress         string `json:"staticAddress,omitempty"`
	IdentityResolvingKey  string `json:"identityResolvingKey,omitempty"`
	LongTermKey           string `json:"longTermKey,omitempty"`
	EncryptionDiversifier string `json:"encryptionDiversifier,omitempty"`
	RandomValue           string `json:"randomValue,omitempty"`
	Legacy                bool   `json:"legacy"`
}

// DefaultPath returns the bond file location, under $SNAP_DATA when set.
func DefaultPath() string {
	return filepath.Join(os.Getenv("SNAP_DATA"), bondFilename)
}

// FileStore persists a Table as JSON.
type FileStore struct {
	lock  sync.Mutex
	path  string
	table *Table
}

// NewFileStore returns a store syncing t with the file at path.
func NewFileStore(path string, t *Table) *FileStore {
	if path == "" {
		path = DefaultPath()
	}
	return &FileStore{path: path, table: t}
}

// Table returns the table backing the store.
func (s *FileStore) Table() *Table {
	return s.table
}

// Load reads the file into the table. A missing file is an empty table.
func (s *FileStore) Load() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "failed to read bond file")
	}
	if len(data) == 0 {
		return nil
	}

	var bf bondFile
	if err := json.Unmarshal(data, &bf); err != nil {
		return errors.Wrap(err, "failed to unmarshal bond file")
	}

	for _, rki := range bf.Bonds {
		rec, err := rki.record()
		if err != nil {
			return errors.Wrapf(err, "bond %s", rki.Address)
		}
		if err := s.table.Save(rec); err != nil {
			return err
		}
	}
	return nil
}

// Store writes every record of the table to the file.
func (s *FileStore) Store() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	recs := s.table.Records()
	bf := bondFile{Bonds: make([]remoteKeyInfo, 0, len(recs))}
	for _, r := range recs {
		bf.Bonds = append(bf.Bonds, newRemoteKeyInfo(r))
	}

	out, err := json.MarshalIndent(bf, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal bonds")
	}
	if err := os.WriteFile(s.path, out, 0644); err != nil {
		return errors.Wrap(err, "failed to update bond file")
	}
	return nil
}

// Save stores rec in the table and writes the file.
func (s *FileStore) Save(rec Record) error {
	if err := s.table.Save(rec); err != nil {
		return err
	}
	return s.Store()
}

// Delete removes addr from the table and writes the file.
func (s *FileStore) Delete(addr blehost.Addr) error {
	if !s.table.Delete(addr) {
		return nil
	}
	return s.Store()
}

func newRemoteKeyInfo(r Record) remoteKeyInfo {
	rki := remoteKeyInfo{
		Address:     hex.EncodeToString(r.Addr[:]),
		DeviceType:  uint8(r.DeviceType),
		AddressType: r.AddrType.String(),
		Legacy:      r.Legacy,
	}
	if !r.StaticAddr.IsZero() {
		rki.StaticAddress = hex.EncodeToString(r.StaticAddr[:])
	}
	if r.HasIRK {
		rki.IdentityResolvingKey = hex.EncodeToString(r.IRK[:])
	}
	if len(r.LTK) > 0 {
		rki.LongTermKey = hex.EncodeToString(r.LTK)

		eDiv := make([]byte, 2)
		binary.LittleEndian.PutUint16(eDiv, r.EDiv)
		randVal := make([]byte, 8)
		binary.LittleEndian.PutUint64(randVal, r.Rand)

		rki.EncryptionDiversifier = hex.EncodeToString(eDiv)
		rki.RandomValue = hex.EncodeToString(randVal)
	}
	return rki
}

func (rki remoteKeyInfo) record() (Record, error) {
	var r Record

	if err := r.Addr.UnmarshalText([]byte(rki.Address)); err != nil {
		return r, err
	}
	if rki.StaticAddress != "" {
		if err := r.StaticAddr.UnmarshalText([]byte(rki.StaticAddress)); err != nil {
			return r, err
		}
	}
	if err := r.AddrType.UnmarshalText([]byte(rki.AddressType)); err != nil {
		return r, err
	}
	r.DeviceType = DeviceType(rki.DeviceType)
	r.Legacy = rki.Legacy

	if rki.IdentityResolvingKey != "" {
		irk, err := hex.DecodeString(rki.IdentityResolvingKey)
		if err != nil || len(irk) != len(r.IRK) {
			return r, errors.New("invalid identity resolving key")
		}
		copy(r.IRK[:], irk)
		r.HasIRK = true
	}

	if rki.LongTermKey != "" {
		ltk, err := hex.DecodeString(rki.LongTermKey)
		if err != nil {
			return r, errors.Wrap(err, "failed to decode long term key")
		}
		eDiv, err := hex.DecodeString(rki.EncryptionDiversifier)
		if err != nil || len(eDiv) != 2 {
			return r, errors.New("invalid ediv in bond file")
		}
		randVal, err := hex.DecodeString(rki.RandomValue)
		if err != nil || len(randVal) != 8 {
			return r, errors.New("invalid random value in bond file")
		}
		r.LTK = ltk
		r.EDiv = binary.LittleEndian.Uint16(eDiv)
		r.Rand = binary.LittleEndian.Uint64(randVal)
	}
	return r, nil
}
