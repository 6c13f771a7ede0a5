package storage

import (
	"errors"
	"fmt"

	"subfee/internal/models"
)

// NullID never denotes a registered address
const NullID uint64 = 0

var (
	// ErrUnknownAddress is returned when an address has no id
	ErrUnknownAddress = errors.New("unknown address")
	// ErrAddressExists is returned by InsertNew for an already mapped address
	ErrAddressExists = errors.New("address already registered")
)

// AddressIDMapper interns addresses as compact ids. Ids are issued from a
// monotonic counter and never reused after removal.
type AddressIDMapper struct {
	tag string
}

// NewAddressIDMapper returns the mapper stored under tag
func NewAddressIDMapper(tag string) AddressIDMapper {
	return AddressIDMapper{tag: tag}
}

func (m AddressIDMapper) idKey(addr models.Address) []byte {
	return Key(m.tag, []byte("addr"), addr[:])
}

func (m AddressIDMapper) addressKey(id uint64) []byte {
	return Key(m.tag, []byte("id"), U64(id))
}

func (m AddressIDMapper) lastIDKey() []byte {
	return Key(m.tag, []byte("lastId"))
}

// GetID returns the id of addr, or NullID when addr is not mapped
func (m AddressIDMapper) GetID(r Reader, addr models.Address) (uint64, error) {
	raw := r.Get(m.idKey(addr))
	if raw == nil {
		return NullID, nil
	}
	return decodeU64(raw)
}

// GetIDNonZero returns the id of addr or ErrUnknownAddress
func (m AddressIDMapper) GetIDNonZero(r Reader, addr models.Address) (uint64, error) {
	id, err := m.GetID(r, addr)
	if err != nil {
		return NullID, err
	}
	if id == NullID {
		return NullID, fmt.Errorf("%w: %s", ErrUnknownAddress, addr)
	}
	return id, nil
}

// GetAddress resolves an id. ok is false for NullID and unknown ids.
func (m AddressIDMapper) GetAddress(r Reader, id uint64) (models.Address, bool, error) {
	if id == NullID {
		return models.Address{}, false, nil
	}
	raw := r.Get(m.addressKey(id))
	if raw == nil {
		return models.Address{}, false, nil
	}
	if len(raw) != models.AddressLength {
		return models.Address{}, false, fmt.Errorf("corrupted address entry for id %d", id)
	}
	return models.BytesToAddress(raw), true, nil
}

// LastID returns the most recently issued id
func (m AddressIDMapper) LastID(r Reader) (uint64, error) {
	raw := r.Get(m.lastIDKey())
	if raw == nil {
		return NullID, nil
	}
	return decodeU64(raw)
}

// GetIDOrInsert returns the id of addr, issuing a new one if needed
func (m AddressIDMapper) GetIDOrInsert(s Store, addr models.Address) (uint64, error) {
	id, err := m.GetID(s, addr)
	if err != nil || id != NullID {
		return id, err
	}
	return m.insert(s, addr)
}

// InsertNew issues an id for an address that must not be mapped yet
func (m AddressIDMapper) InsertNew(s Store, addr models.Address) (uint64, error) {
	id, err := m.GetID(s, addr)
	if err != nil {
		return NullID, err
	}
	if id != NullID {
		return NullID, fmt.Errorf("%w: %s", ErrAddressExists, addr)
	}
	return m.insert(s, addr)
}

func (m AddressIDMapper) insert(s Store, addr models.Address) (uint64, error) {
	last, err := m.LastID(s)
	if err != nil {
		return NullID, err
	}
	id := last + 1

	s.Set(m.lastIDKey(), U64(id))
	s.Set(m.idKey(addr), U64(id))
	s.Set(m.addressKey(id), addr[:])
	return id, nil
}

// Remove drops the mapping for addr and returns the freed id. The id is
// not recycled.
func (m AddressIDMapper) Remove(s Store, addr models.Address) (uint64, error) {
	id, err := m.GetID(s, addr)
	if err != nil || id == NullID {
		return id, err
	}
	s.Delete(m.idKey(addr))
	s.Delete(m.addressKey(id))
	return id, nil
}

// At binds the mapper to a foreign contract's namespace for read-only use
func (m AddressIDMapper) At(r Reader) RemoteAddressIDMapper {
	return RemoteAddressIDMapper{mapper: m, reader: r}
}

// RemoteAddressIDMapper resolves ids stored by another contract. Reads are
// as of the current block.
type RemoteAddressIDMapper struct {
	mapper AddressIDMapper
	reader Reader
}

// GetID returns the id of addr in the foreign registry, or NullID
func (m RemoteAddressIDMapper) GetID(addr models.Address) (uint64, error) {
	return m.mapper.GetID(m.reader, addr)
}

// GetIDNonZero returns the id of addr in the foreign registry or ErrUnknownAddress
func (m RemoteAddressIDMapper) GetIDNonZero(addr models.Address) (uint64, error) {
	return m.mapper.GetIDNonZero(m.reader, addr)
}

// GetAddress resolves an id in the foreign registry
func (m RemoteAddressIDMapper) GetAddress(id uint64) (models.Address, bool, error) {
	return m.mapper.GetAddress(m.reader, id)
}
