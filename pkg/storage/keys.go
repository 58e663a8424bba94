package storage

import (
	"encoding/binary"
	"fmt"
)

// Key schema
//
//   role:<name>                         → role account
//   nonce:<hex>                         → consumed order nonce
//   ask:<collection>:<item>             → resting Ask
//   bid:<collection>:<item>:<price>     → resting Bid (price as 64 hex digits)
//   acc:<address>                       → ledger account
//   coll:<collection>                   → collection
//   item:<collection>:<item>            → item
//   escrow:<id>                         → escrow deposit
//   trade:<seq>                         → executed trade
//   seq:<name>                          → sequence counter
//
// Numeric components are zero-padded so lexicographic order matches numeric
// order and prefix scans stay bounded.

// Uint32 formats a key component as 10 zero-padded digits.
func Uint32(v uint32) string {
	return fmt.Sprintf("%010d", v)
}

// Uint64 formats a key component as 20 zero-padded digits.
func Uint64(v uint64) string {
	return fmt.Sprintf("%020d", v)
}

// Prefix returns the scan prefix "<name>:".
func Prefix(name string) []byte {
	return []byte(name + ":")
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
// Example: prefix "ask:" -> upper bound "ask;" (next byte after ':')
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	for i := len(bound) - 1; i >= 0; i-- {
		if bound[i] < 0xff {
			bound[i]++
			return bound[:i+1]
		}
	}
	return nil // prefix is all 0xff: no upper bound
}

// NextSeq increments and returns the named counter.
func NextSeq(rw ReadWriter, name string) (uint64, error) {
	key := []byte("seq:" + name)
	var raw []byte
	if _, err := rw.Get(key, &raw); err != nil {
		return 0, err
	}
	var next uint64 = 1
	if len(raw) == 8 {
		next = binary.BigEndian.Uint64(raw) + 1
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, next)
	if err := rw.Put(key, buf); err != nil {
		return 0, err
	}
	return next, nil
}
