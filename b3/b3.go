// Package b3 fingerprints uploaded audio with BLAKE3.
package b3

import (
	"encoding/hex"
	"fmt"
	"io"

	"lukechampine.com/blake3"
)

const size = 32

// Sum returns the hex BLAKE3-256 digest of everything read from r.
func Sum(r io.Reader) (string, error) {
	h := blake3.New(size, nil)
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("calculating blake3 hash: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SumAndRewind hashes rs from its start and seeks back so the caller can
// read it again.
func SumAndRewind(rs io.ReadSeeker) (string, error) {
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewinding before hash: %w", err)
	}
	sum, err := Sum(rs)
	if err != nil {
		return "", err
	}
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewinding after hash: %w", err)
	}
	return sum, nil
}
