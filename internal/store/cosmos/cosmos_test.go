package cosmos

import (
	"testing"
	"time"

	"github.com/azsession/cosmosstate/internal/store"
)

func TestScriptIDIsStableAndTwentyHexChars(t *testing.T) {
	id := scriptID(tryLockScriptBody)
	const prefix = "tryLock_"
	if len(id) != len(prefix)+20 {
		t.Fatalf("expected %d-char id, got %q (len %d)", len(prefix)+20, id, len(id))
	}
	if id[:len(prefix)] != prefix {
		t.Fatalf("expected prefix %q, got %q", prefix, id)
	}
	if id != scriptID(tryLockScriptBody) {
		t.Fatalf("scriptID must be deterministic for the same body")
	}
}

func TestParseConnectionString(t *testing.T) {
	endpoint, key, err := parseConnectionString("AccountEndpoint=https://acct.documents.azure.com:443/;AccountKey=secret==;")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if endpoint != "https://acct.documents.azure.com:443/" {
		t.Fatalf("unexpected endpoint: %q", endpoint)
	}
	if key != "secret==" {
		t.Fatalf("unexpected key: %q", key)
	}
}

func TestParseConnectionStringRejectsIncomplete(t *testing.T) {
	if _, _, err := parseConnectionString("AccountEndpoint=https://acct.documents.azure.com/;"); err == nil {
		t.Fatalf("expected an error for a connection string missing AccountKey")
	}
}

func TestContentDocumentRoundTrip(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rec := &store.ContentRecord{
		ID:          "sess-1",
		TTLSeconds:  120,
		CreatedDate: now,
		Payload:     []byte{0x01, 0x02, 0x03},
		Compressed:  true,
		IsNew:       true,
	}
	doc := contentDocumentFrom(rec)
	back := doc.toRecord()
	if back.ID != rec.ID || back.TTLSeconds != rec.TTLSeconds || back.Compressed != rec.Compressed || back.IsNew != rec.IsNew {
		t.Fatalf("round trip mismatch: %+v vs original %+v", back, rec)
	}
	if string(back.Payload) != string(rec.Payload) {
		t.Fatalf("payload mismatch: %v vs %v", back.Payload, rec.Payload)
	}
	if !back.CreatedDate.Equal(rec.CreatedDate) {
		t.Fatalf("created date mismatch: %v vs %v", back.CreatedDate, rec.CreatedDate)
	}
}

func TestContentDocumentOmitsEmptyPayloadAndIsNew(t *testing.T) {
	rec := &store.ContentRecord{ID: "sess-2", TTLSeconds: 60, CreatedDate: time.Now().UTC()}
	doc := contentDocumentFrom(rec)
	if doc.Payload != "" {
		t.Fatalf("expected empty payload to stay empty, got %q", doc.Payload)
	}
	if doc.IsNew != "" {
		t.Fatalf("expected IsNew to be absent when false, got %q", doc.IsNew)
	}
}
