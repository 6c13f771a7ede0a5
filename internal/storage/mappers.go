package storage

import (
	"fmt"
)

// Value is a single typed record stored under one key
type Value[T any] struct {
	key []byte
}

// NewValue returns the record stored under key
func NewValue[T any](key []byte) Value[T] {
	return Value[T]{key: key}
}

// Key returns the raw storage key
func (v Value[T]) Key() []byte {
	return v.key
}

// Get loads the record. ok is false when nothing is stored.
func (v Value[T]) Get(r Reader) (val T, ok bool, err error) {
	raw := r.Get(v.key)
	if raw == nil {
		return val, false, nil
	}
	val, err = Decode[T](raw)
	if err != nil {
		return val, false, err
	}
	return val, true, nil
}

// GetOrDefault loads the record, returning def when nothing is stored
func (v Value[T]) GetOrDefault(r Reader, def T) (T, error) {
	val, ok, err := v.Get(r)
	if err != nil {
		return def, err
	}
	if !ok {
		return def, nil
	}
	return val, nil
}

// IsEmpty reports whether nothing is stored
func (v Value[T]) IsEmpty(r Reader) bool {
	return !r.Has(v.key)
}

// Set stores the record
func (v Value[T]) Set(s Store, val T) error {
	raw, err := Encode(val)
	if err != nil {
		return err
	}
	s.Set(v.key, raw)
	return nil
}

// Take loads and clears the record
func (v Value[T]) Take(s Store) (T, bool, error) {
	val, ok, err := v.Get(s)
	if err != nil || !ok {
		return val, ok, err
	}
	s.Delete(v.key)
	return val, true, nil
}

// Clear removes the record
func (v Value[T]) Clear(s Store) {
	s.Delete(v.key)
}

// UnorderedSet is a 1-based indexed set supporting O(1) swap removal.
// Removing the element at position k moves the last element into slot k.
type UnorderedSet[T any] struct {
	base string
}

// NewUnorderedSet returns the set rooted at base
func NewUnorderedSet[T any](base []byte) UnorderedSet[T] {
	return UnorderedSet[T]{base: string(base)}
}

func (s UnorderedSet[T]) lenKey() []byte {
	return Key(s.base, []byte(".len"))
}

func (s UnorderedSet[T]) itemKey(index uint64) []byte {
	return Key(s.base, []byte(".item"), U64(index))
}

func (s UnorderedSet[T]) indexKey(encoded []byte) []byte {
	return Key(s.base, []byte(".index"), encoded)
}

// Len returns the number of elements
func (s UnorderedSet[T]) Len(r Reader) (uint64, error) {
	raw := r.Get(s.lenKey())
	if raw == nil {
		return 0, nil
	}
	return decodeU64(raw)
}

// Get returns the element at 1-based position index. ok is false when
// index is out of range.
func (s UnorderedSet[T]) Get(r Reader, index uint64) (val T, ok bool, err error) {
	if index == 0 {
		return val, false, nil
	}
	raw := r.Get(s.itemKey(index))
	if raw == nil {
		return val, false, nil
	}
	val, err = Decode[T](raw)
	if err != nil {
		return val, false, err
	}
	return val, true, nil
}

// IndexOf returns the 1-based position of val, or 0 when absent
func (s UnorderedSet[T]) IndexOf(r Reader, val T) (uint64, error) {
	encoded, err := Encode(val)
	if err != nil {
		return 0, err
	}
	raw := r.Get(s.indexKey(encoded))
	if raw == nil {
		return 0, nil
	}
	return decodeU64(raw)
}

// Contains reports whether val is in the set
func (s UnorderedSet[T]) Contains(r Reader, val T) (bool, error) {
	index, err := s.IndexOf(r, val)
	return index != 0, err
}

// Insert appends val. It returns false when val was already present.
func (s UnorderedSet[T]) Insert(st Store, val T) (bool, error) {
	encoded, err := Encode(val)
	if err != nil {
		return false, err
	}
	if st.Has(s.indexKey(encoded)) {
		return false, nil
	}

	length, err := s.Len(st)
	if err != nil {
		return false, err
	}
	length++

	st.Set(s.itemKey(length), encoded)
	st.Set(s.indexKey(encoded), U64(length))
	st.Set(s.lenKey(), U64(length))
	return true, nil
}

// SwapRemove removes val. It returns false when val was not present.
func (s UnorderedSet[T]) SwapRemove(st Store, val T) (bool, error) {
	encoded, err := Encode(val)
	if err != nil {
		return false, err
	}
	raw := st.Get(s.indexKey(encoded))
	if raw == nil {
		return false, nil
	}
	index, err := decodeU64(raw)
	if err != nil {
		return false, err
	}
	length, err := s.Len(st)
	if err != nil {
		return false, err
	}
	if length == 0 || index > length {
		return false, fmt.Errorf("corrupted set %q: index %d beyond length %d", s.base, index, length)
	}

	if index != length {
		last := st.Get(s.itemKey(length))
		st.Set(s.itemKey(index), last)
		st.Set(s.indexKey(last), U64(index))
	}
	st.Delete(s.itemKey(length))
	st.Delete(s.indexKey(encoded))

	if length == 1 {
		st.Delete(s.lenKey())
	} else {
		st.Set(s.lenKey(), U64(length-1))
	}
	return true, nil
}

// Items returns all elements in position order
func (s UnorderedSet[T]) Items(r Reader) ([]T, error) {
	length, err := s.Len(r)
	if err != nil {
		return nil, err
	}
	items := make([]T, 0, length)
	for i := uint64(1); i <= length; i++ {
		val, ok, err := s.Get(r, i)
		if err != nil {
			return nil, err
		}
		if ok {
			items = append(items, val)
		}
	}
	return items, nil
}

// Clear removes every element
func (s UnorderedSet[T]) Clear(st Store) error {
	length, err := s.Len(st)
	if err != nil {
		return err
	}
	for i := uint64(1); i <= length; i++ {
		key := s.itemKey(i)
		if raw := st.Get(key); raw != nil {
			st.Delete(s.indexKey(raw))
		}
		st.Delete(key)
	}
	st.Delete(s.lenKey())
	return nil
}
