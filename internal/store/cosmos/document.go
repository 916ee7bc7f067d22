package cosmos

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/azsession/cosmosstate/internal/store"
)

// contentDocument is the on-the-wire JSON shape of a content record:
// field names match the documented schema exactly so a container can be
// inspected with a generic JSON viewer.
type contentDocument struct {
	ID          string `json:"id"`
	TTL         int64  `json:"ttl"`
	CreatedDate string `json:"CreatedDate"`
	Payload     string `json:"Payload,omitempty"`
	Compressed  bool   `json:"Compressed"`
	IsNew       string `json:"IsNew,omitempty"`
}

func contentDocumentFrom(rec *store.ContentRecord) contentDocument {
	doc := contentDocument{
		ID:          rec.ID,
		TTL:         rec.TTLSeconds,
		CreatedDate: rec.CreatedDate.UTC().Format(time.RFC3339Nano),
		Compressed:  rec.Compressed,
	}
	if len(rec.Payload) > 0 {
		doc.Payload = base64.StdEncoding.EncodeToString(rec.Payload)
	}
	if rec.IsNew {
		doc.IsNew = "yes"
	}
	return doc
}

func (d contentDocument) toRecord() store.ContentRecord {
	rec := store.ContentRecord{
		ID:         d.ID,
		TTLSeconds: d.TTL,
		Compressed: d.Compressed,
		IsNew:      d.IsNew == "yes",
	}
	if d.Payload != "" {
		if decoded, err := base64.StdEncoding.DecodeString(d.Payload); err == nil {
			rec.Payload = decoded
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, d.CreatedDate); err == nil {
		rec.CreatedDate = t
	}
	return rec
}

// lockDocument is the on-the-wire JSON shape of a lock record (spec.md §3).
type lockDocument struct {
	ID          string    `json:"id"`
	TTL         int64     `json:"ttl"`
	CreatedDate time.Time `json:"CreatedDate"`
}

func marshalItem(v any) ([]byte, error) {
	return json.Marshal(v)
}

func unmarshalItem(body []byte, v any) error {
	return json.Unmarshal(body, v)
}
