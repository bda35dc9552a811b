package kveql

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
)

type memStorage struct {
	mu         sync.Mutex
	cond       *sync.Cond
	partitions map[string]*memPartition
	closed     bool
	writer     bool
}

// newMemStorage returns a transient in-memory storage implementation
// intended for tests.
func newMemStorage() storage {
	s := &memStorage{partitions: make(map[string]*memPartition)}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *memStorage) BeginTx(writable bool) (storageTx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if writable {
		for s.writer && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			return nil, ErrClosed
		}
		s.writer = true
	}

	// Snapshot everything for transactional isolation (simplicity over
	// efficiency).
	snap := make(map[string]*memPartition, len(s.partitions))
	for k, p := range s.partitions {
		snap[k] = p.clone()
	}

	return &memTx{
		writable:   writable,
		base:       s,
		partitions: snap,
	}, nil
}

func (s *memStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.partitions = nil
	if s.cond != nil {
		s.cond.Broadcast()
	}
	return nil
}

type memTx struct {
	base       *memStorage
	writable   bool
	partitions map[string]*memPartition
	closed     bool
}

func (tx *memTx) Writable() bool { return tx.writable }

func (tx *memTx) Partition(name string) storagePartition {
	if tx.closed {
		panic("tx is closed")
	}
	p := tx.partitions[name]
	if p == nil {
		return nil
	}
	return p
}

func (tx *memTx) CreatePartition(name string) (storagePartition, error) {
	if tx.closed {
		panic("tx is closed")
	}
	if !tx.writable {
		return nil, fmt.Errorf("read-only tx")
	}
	p := tx.partitions[name]
	if p == nil {
		p = &memPartition{data: make(map[string][]byte)}
		tx.partitions[name] = p
	}
	return p, nil
}

func (tx *memTx) DeletePartition(name string) error {
	if tx.closed {
		panic("tx is closed")
	}
	if !tx.writable {
		return fmt.Errorf("read-only tx")
	}
	if tx.partitions[name] == nil {
		return ErrPartitionNotFound
	}
	delete(tx.partitions, name)
	return nil
}

func (tx *memTx) Commit() error {
	if tx.closed {
		return fmt.Errorf("tx is closed")
	}
	if !tx.writable {
		return fmt.Errorf("read-only tx")
	}
	s := tx.base
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.partitions = tx.partitions
	}
	tx.closeLocked()
	return nil
}

func (tx *memTx) Rollback() error {
	s := tx.base
	s.mu.Lock()
	defer s.mu.Unlock()
	tx.closeLocked()
	return nil
}

func (tx *memTx) closeLocked() {
	if tx.closed {
		return
	}
	tx.closed = true
	tx.partitions = nil
	if tx.writable {
		tx.base.writer = false
		tx.base.cond.Broadcast()
	}
}

type memPartition struct {
	data map[string][]byte
}

func (p *memPartition) clone() *memPartition {
	data := make(map[string][]byte, len(p.data))
	for k, v := range p.data {
		data[k] = v
	}
	return &memPartition{data: data}
}

func (p *memPartition) Get(key []byte) []byte {
	return p.data[string(key)]
}

func (p *memPartition) Put(key, value []byte) error {
	p.data[string(key)] = bytes.Clone(value)
	return nil
}

func (p *memPartition) Delete(key []byte) error {
	delete(p.data, string(key))
	return nil
}

// memCursor iterates a sorted snapshot of the keys taken when the cursor is
// created; mutations made while iterating are not observed.
func (p *memPartition) Cursor() storageCursor {
	keys := make([]string, 0, len(p.data))
	for k := range p.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return &memCursor{part: p, keys: keys, pos: -1}
}

type memCursor struct {
	part *memPartition
	keys []string
	pos  int
}

func (c *memCursor) First() ([]byte, []byte) {
	c.pos = 0
	return c.current()
}

func (c *memCursor) Seek(seek []byte) ([]byte, []byte) {
	c.pos = sort.SearchStrings(c.keys, string(seek))
	return c.current()
}

func (c *memCursor) Next() ([]byte, []byte) {
	if c.pos < len(c.keys) {
		c.pos++
	}
	return c.current()
}

func (c *memCursor) current() ([]byte, []byte) {
	if c.pos < 0 || c.pos >= len(c.keys) {
		return nil, nil
	}
	k := c.keys[c.pos]
	v, ok := c.part.data[k]
	if !ok {
		return []byte(k), nil
	}
	return []byte(k), v
}
