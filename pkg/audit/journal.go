// Package audit keeps a tamper-evident journal of mutations confirmed
// by the remote backend, using hash chaining.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Record is a single journal entry.
type Record struct {
	Timestamp    string `json:"timestamp"`
	PreviousHash string `json:"previous_hash"`
	EntryID      string `json:"entry_id"`
	Action       string `json:"action"`
	Payload      string `json:"payload"`
	Hash         string `json:"hash"`
}

// Journal provides a tamper-evident log of applied sync entries.
type Journal struct {
	mu           sync.Mutex
	previousHash string
	records      []*Record
}

// NewJournal creates a journal initialized with a zero hash.
func NewJournal() *Journal {
	return &Journal{
		previousHash: strings.Repeat("0", 64),
	}
}

// Append records a confirmed mutation and links it to the chain.
func (j *Journal) Append(entryID, action, payload string) *Record {
	j.mu.Lock()
	defer j.mu.Unlock()

	rec := &Record{
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		PreviousHash: j.previousHash,
		EntryID:      entryID,
		Action:       action,
		Payload:      payload,
	}

	rec.Hash = recordHash(rec)
	j.previousHash = rec.Hash
	j.records = append(j.records, rec)
	return rec
}

// Records returns a copy of the chain in append order.
func (j *Journal) Records() []*Record {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]*Record, len(j.records))
	copy(out, j.records)
	return out
}

// VerifyChain checks that a slice of records forms a valid hash chain.
func VerifyChain(records []*Record) bool {
	for i, rec := range records {
		if i > 0 && rec.PreviousHash != records[i-1].Hash {
			return false
		}
		if recordHash(rec) != rec.Hash {
			return false
		}
	}
	return true
}

func recordHash(rec *Record) string {
	input := fmt.Sprintf("%s|%s|%s|%s|%s",
		rec.PreviousHash, rec.Timestamp, rec.EntryID, rec.Action, rec.Payload)
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])
}
