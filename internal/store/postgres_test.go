package store

import (
	"encoding/hex"
	"strings"
	"testing"

	"routetrace/internal/model"
)

func TestComputeDedupKeyFromID(t *testing.T) {
	body := []byte(`{"id":"evt_123","type":"x"}`)
	got := computeDedupKey(body)
	if got != "evt_123" {
		t.Fatalf("want evt_123, got %s", got)
	}
}

func TestComputeDedupKeyFromHash(t *testing.T) {
	body := []byte(`{"notId":"x"}`)
	got := computeDedupKey(body)
	// hex-encoded first 8 bytes -> 16 hex chars
	b, err := hex.DecodeString(got)
	if err != nil {
		t.Fatalf("invalid hex: %v", err)
	}
	if len(b) != 8 {
		t.Fatalf("expected 8 bytes, got %d", len(b))
	}
}

func TestJSONOrNil(t *testing.T) {
	if v := jsonOrNil[model.TraceOptions](nil); v != nil {
		t.Fatalf("nil pointer -> nil expected, got %v", v)
	}
	v := jsonOrNil(&model.TraceOptions{MaxGenerations: 7})
	s, ok := v.(string)
	if !ok || !strings.Contains(s, `"maxGenerations":7`) {
		t.Fatalf("unexpected encoding: %v", v)
	}
}

func TestListTracesQuery(t *testing.T) {
	q, args := listTracesQuery("", "", "", 10)
	if strings.Contains(q, "WHERE") || len(args) != 1 || args[0] != 10 {
		t.Fatalf("unfiltered query: %s %v", q, args)
	}
	q, args = listTracesQuery("alice", "queued", "abc", 5)
	if len(args) != 4 {
		t.Fatalf("want 4 args, got %v", args)
	}
	for _, want := range []string{"owner=$1", "status=$2", "id::text=$3", "LIMIT $4"} {
		if !strings.Contains(q, want) {
			t.Fatalf("query missing %q: %s", want, q)
		}
	}
}

func TestNullIfEmpty(t *testing.T) {
	if nullIfEmpty("") != nil {
		t.Fatal("empty string should map to nil")
	}
	if nullIfEmpty("x") != "x" {
		t.Fatal("non-empty string should pass through")
	}
}
