package chunkstream_test

import (
	"encoding/json"
	"testing"

	"github.com/go-mizu/dgsync/internal/chunkstream"
)

func sampleRows() []chunkstream.Row {
	return []chunkstream.Row{
		{RowID: "1", Table: "users", RowJSON: json.RawMessage(`{"name":"a"}`), ServerVersion: 1},
		{RowID: "2", Table: "users", RowJSON: json.RawMessage(`{"name":"b"}`), ServerVersion: 3},
	}
}

func TestEncodeDecode_RoundTrips(t *testing.T) {
	body, hash, err := chunkstream.Encode(sampleRows())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	rows, err := chunkstream.Decode(body, hash)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(rows) != 2 || rows[0].RowID != "1" || rows[1].ServerVersion != 3 {
		t.Fatalf("rows = %+v", rows)
	}
}

func TestDecode_HashMismatch(t *testing.T) {
	body, _, err := chunkstream.Encode(sampleRows())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	_, err = chunkstream.Decode(body, "0000000000000000000000000000000000000000000000000000000000000000")
	if err == nil {
		t.Fatalf("expected integrity failure on mismatched hash")
	}
}

func TestDecode_TruncatedBody(t *testing.T) {
	body, hash, err := chunkstream.Encode(sampleRows())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	truncated := body[:len(body)/2]

	_, err = chunkstream.Decode(truncated, hash)
	if err == nil {
		t.Fatalf("expected integrity failure on truncated body")
	}
}

func TestEncode_Empty(t *testing.T) {
	body, hash, err := chunkstream.Encode(nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	rows, err := chunkstream.Decode(body, hash)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("rows = %+v, want empty", rows)
	}
}
