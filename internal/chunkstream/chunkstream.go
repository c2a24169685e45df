// Package chunkstream implements the self-delimiting, checksummable
// container used to serve bootstrap snapshot chunks (component C5): a
// sequence of framed JSON rows wrapped in gzip, addressed by a content
// hash the client verifies before applying anything.
package chunkstream

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
)

// Row is one snapshot row frame (spec §4.5: {row_id, row_json, server_version}).
type Row struct {
	RowID         string          `json:"row_id"`
	Table         string          `json:"table"`
	RowJSON       json.RawMessage `json:"row_json"`
	ServerVersion uint64          `json:"server_version"`
}

// Encode builds a chunk body from rows: each row is length-prefixed
// JSON, the whole frame sequence is gzip-compressed, and the returned
// hash is SHA-256 over the gzip-compressed bytes (what travels over the
// wire and what the client must verify before applying anything).
func Encode(rows []Row) (body []byte, hash string, err error) {
	var raw bytes.Buffer
	for _, row := range rows {
		b, err := json.Marshal(row)
		if err != nil {
			return nil, "", fmt.Errorf("chunkstream: marshal row %s: %w", row.RowID, err)
		}
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
		raw.Write(lenBuf[:])
		raw.Write(b)
	}

	var compressed bytes.Buffer
	gw := gzip.NewWriter(&compressed)
	if _, err := gw.Write(raw.Bytes()); err != nil {
		return nil, "", fmt.Errorf("chunkstream: gzip write: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, "", fmt.Errorf("chunkstream: gzip close: %w", err)
	}

	sum := sha256.Sum256(compressed.Bytes())
	return compressed.Bytes(), hex.EncodeToString(sum[:]), nil
}

// ErrIntegrityFailure is returned by Decode when the supplied hash does
// not match the body, or the body is truncated or malformed — the
// conditions spec §7's INTEGRITY_FAILURE covers.
var ErrIntegrityFailure = fmt.Errorf("chunkstream: integrity failure")

// Decode verifies body against wantHash and returns the decoded rows.
// No row is returned unless the whole chunk verifies and decodes
// cleanly, matching the "no partial chunk may be applied" invariant.
func Decode(body []byte, wantHash string) ([]Row, error) {
	sum := sha256.Sum256(body)
	if hex.EncodeToString(sum[:]) != wantHash {
		return nil, ErrIntegrityFailure
	}

	gr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntegrityFailure, err)
	}
	defer gr.Close()

	raw, err := io.ReadAll(gr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntegrityFailure, err)
	}

	var rows []Row
	for len(raw) > 0 {
		if len(raw) < 4 {
			return nil, fmt.Errorf("%w: truncated frame length", ErrIntegrityFailure)
		}
		n := binary.BigEndian.Uint32(raw[:4])
		raw = raw[4:]
		if uint64(len(raw)) < uint64(n) {
			return nil, fmt.Errorf("%w: truncated frame body", ErrIntegrityFailure)
		}
		var row Row
		if err := json.Unmarshal(raw[:n], &row); err != nil {
			return nil, fmt.Errorf("%w: malformed frame: %v", ErrIntegrityFailure, err)
		}
		rows = append(rows, row)
		raw = raw[n:]
	}
	return rows, nil
}
