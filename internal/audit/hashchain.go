package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// chainSeed is the prev_hash of the first record in a fresh store.
var chainSeed = ComputeSeed("clawguard.audit_events")

// StoredRecord is a record as persisted in the hash-chained store.
type StoredRecord struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Event     string    `json:"event"`
	Fields    string    `json:"fields"`
	PrevHash  string    `json:"prev_hash"`
	Hash      string    `json:"hash"`
}

// ComputeHash computes the SHA-256 hash of a stored record, chaining to its
// predecessor.
func ComputeHash(r *StoredRecord) string {
	data := fmt.Sprintf("%s|%s|%s|%s|%s",
		r.ID,
		r.Timestamp.UTC().Format(time.RFC3339Nano),
		r.Event,
		r.Fields,
		r.PrevHash,
	)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// ComputeSeed derives an initial prev_hash from a name.
func ComputeSeed(name string) string {
	hash := sha256.Sum256([]byte(name))
	return hex.EncodeToString(hash[:])
}

// VerifyChain checks each record's hash and its link to the previous record.
// It returns (true, -1) when the chain is intact, otherwise false and the
// index of the first bad record.
func VerifyChain(records []*StoredRecord) (bool, int) {
	for i, r := range records {
		if r.Hash != ComputeHash(r) {
			return false, i
		}
		if i > 0 && r.PrevHash != records[i-1].Hash {
			return false, i
		}
	}
	return true, -1
}
