// Package codec implements the record codec (C1): the wire format used to
// serialize a session's timeout plus its two opaque dictionaries into the
// byte buffer stored as a content record's Payload.
package codec

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

// Dictionary is an opaque, ordered key→value collection owned by the
// embedding web framework. The codec never inspects its contents; it only
// asks the configured ItemsCodec to turn it into bytes and back.
type Dictionary = any

// ItemsCodec serializes and deserializes the two opaque dictionaries that
// make up a session value. Both dictionaries go through the same codec —
// the wire format does not distinguish their shape, only their presence.
type ItemsCodec interface {
	Encode(w io.Writer, dict Dictionary) error
	Decode(r io.Reader) (Dictionary, error)
}

// Value is the decoded form of a content record's Payload: the session
// timeout plus its two dictionaries. Either dictionary may be nil, meaning
// the corresponding wire section is entirely absent.
type Value struct {
	Timeout       time.Duration
	Items         Dictionary
	StaticObjects Dictionary
}

func (v Value) hasItems() bool         { return v.Items != nil }
func (v Value) hasStaticObjects() bool { return v.StaticObjects != nil }

// Codec assembles/parses the fixed-order wire layout documented in
// spec.md §4.1 and applies optional gzip compression around it.
type Codec struct {
	Items ItemsCodec
}

// New returns a Codec that delegates dictionary (de)serialization to items.
func New(items ItemsCodec) *Codec {
	return &Codec{Items: items}
}

// Encode produces the wire bytes for v. When compress is true the entire
// buffer is wrapped in a gzip stream at best-compression quality; the
// Compressed flag on the content record is what tells Decode to expect
// gzip, not anything embedded in the buffer itself.
func (c *Codec) Encode(v Value, compress bool) ([]byte, error) {
	var body bytes.Buffer

	if err := binary.Write(&body, binary.LittleEndian, int32(v.Timeout/time.Minute)); err != nil {
		return nil, fmt.Errorf("codec: write timeout: %w", err)
	}
	if err := writeBool(&body, v.hasItems()); err != nil {
		return nil, fmt.Errorf("codec: write hasSessionItems: %w", err)
	}
	if err := writeBool(&body, v.hasStaticObjects()); err != nil {
		return nil, fmt.Errorf("codec: write hasStaticObjects: %w", err)
	}
	if v.hasItems() {
		if err := c.encodeDict(&body, v.Items); err != nil {
			return nil, fmt.Errorf("codec: encode session items: %w", err)
		}
	}
	if v.hasStaticObjects() {
		if err := c.encodeDict(&body, v.StaticObjects); err != nil {
			return nil, fmt.Errorf("codec: encode static objects: %w", err)
		}
	}

	if !compress {
		return body.Bytes(), nil
	}

	var out bytes.Buffer
	gz, err := gzip.NewWriterLevel(&out, gzip.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("codec: init gzip writer: %w", err)
	}
	if _, err := gz.Write(body.Bytes()); err != nil {
		_ = gz.Close()
		return nil, fmt.Errorf("codec: gzip write: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("codec: gzip close: %w", err)
	}
	return out.Bytes(), nil
}

// Decode parses bytes produced by Encode. compressed must match the flag
// the caller recorded alongside the payload (a deployment may toggle
// compression between restarts without invalidating prior records, since
// the flag travels per record, not per codec instance).
func (c *Codec) Decode(data []byte, compressed bool) (Value, error) {
	r := io.Reader(bytes.NewReader(data))
	if compressed {
		gz, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return Value{}, fmt.Errorf("codec: init gzip reader: %w", err)
		}
		defer gz.Close()
		// gzip.Reader is not an io.ByteReader; without the bufio wrapper an
		// ItemsCodec that buffers its reads (gob does) would consume bytes
		// belonging to the next dictionary.
		r = bufio.NewReader(gz)
	}

	var timeoutMinutes int32
	if err := binary.Read(r, binary.LittleEndian, &timeoutMinutes); err != nil {
		return Value{}, fmt.Errorf("codec: read timeout: %w", err)
	}
	hasItems, err := readBool(r)
	if err != nil {
		return Value{}, fmt.Errorf("codec: read hasSessionItems: %w", err)
	}
	hasStatic, err := readBool(r)
	if err != nil {
		return Value{}, fmt.Errorf("codec: read hasStaticObjects: %w", err)
	}

	v := Value{Timeout: time.Duration(timeoutMinutes) * time.Minute}
	if hasItems {
		v.Items, err = c.decodeDict(r)
		if err != nil {
			return Value{}, fmt.Errorf("codec: decode session items: %w", err)
		}
	}
	if hasStatic {
		v.StaticObjects, err = c.decodeDict(r)
		if err != nil {
			return Value{}, fmt.Errorf("codec: decode static objects: %w", err)
		}
	}
	return v, nil
}

func (c *Codec) encodeDict(w io.Writer, dict Dictionary) error {
	if c.Items == nil {
		return fmt.Errorf("no items codec configured")
	}
	return c.Items.Encode(w, dict)
}

func (c *Codec) decodeDict(r io.Reader) (Dictionary, error) {
	if c.Items == nil {
		return nil, fmt.Errorf("no items codec configured")
	}
	return c.Items.Decode(r)
}

func writeBool(w io.Writer, b bool) error {
	var v byte
	if b {
		v = 1
	}
	_, err := w.Write([]byte{v})
	return err
}

func readBool(r io.Reader) (bool, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return false, err
	}
	return buf[0] != 0, nil
}
