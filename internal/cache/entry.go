package cache

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"
)

// On-disk layout, all integers big endian:
//
//	magic "OPLC" | version u8 | created_at i64 unix nanos | ttl i64 nanos |
//	account u16+bytes | fingerprint u16+bytes | nonce u8+bytes | ciphertext
//
// Everything before the ciphertext is the AEAD additional data.
var magic = []byte("OPLC")

const formatVersion = 1

// Entry is one persisted cache file. The header is readable without the key;
// the mapping is only available through Store.Open.
type Entry struct {
	AccountID   string
	CreatedAt   time.Time
	TTL         time.Duration
	Fingerprint string
	Nonce       []byte
	Ciphertext  []byte

	path   string
	header []byte
}

// Path is the file the entry was read from.
func (e *Entry) Path() string { return e.path }

// IsFresh reports whether e is usable at now: now - created_at < ttl.
// An entry is stale at exactly created_at + ttl.
func IsFresh(e *Entry, now time.Time) bool {
	if e == nil || e.TTL <= 0 {
		return false
	}
	return now.Sub(e.CreatedAt) < e.TTL
}

// ExpiresAt is the first instant the entry is stale.
func (e *Entry) ExpiresAt() time.Time {
	return e.CreatedAt.Add(e.TTL)
}

func encodeHeader(accountID string, createdAt time.Time, ttl time.Duration, fingerprint string, nonce []byte) ([]byte, error) {
	if len(accountID) > 0xFFFF || len(fingerprint) > 0xFFFF || len(nonce) > 0xFF {
		return nil, fmt.Errorf("cache header field too long")
	}

	var buf bytes.Buffer
	buf.Write(magic)
	buf.WriteByte(formatVersion)
	_ = binary.Write(&buf, binary.BigEndian, createdAt.UnixNano())
	_ = binary.Write(&buf, binary.BigEndian, int64(ttl))
	_ = binary.Write(&buf, binary.BigEndian, uint16(len(accountID)))
	buf.WriteString(accountID)
	_ = binary.Write(&buf, binary.BigEndian, uint16(len(fingerprint)))
	buf.WriteString(fingerprint)
	buf.WriteByte(byte(len(nonce)))
	buf.Write(nonce)
	return buf.Bytes(), nil
}

func decodeEntry(data []byte) (*Entry, error) {
	r := bytes.NewReader(data)

	head := make([]byte, len(magic)+1)
	if _, err := r.Read(head); err != nil || !bytes.Equal(head[:len(magic)], magic) {
		return nil, fmt.Errorf("missing cache file magic")
	}
	if head[len(magic)] != formatVersion {
		return nil, fmt.Errorf("unsupported cache format version %d", head[len(magic)])
	}

	var created, ttl int64
	if err := binary.Read(r, binary.BigEndian, &created); err != nil {
		return nil, fmt.Errorf("read created_at: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &ttl); err != nil {
		return nil, fmt.Errorf("read ttl: %w", err)
	}

	account, err := readString16(r)
	if err != nil {
		return nil, fmt.Errorf("read account: %w", err)
	}
	fingerprint, err := readString16(r)
	if err != nil {
		return nil, fmt.Errorf("read fingerprint: %w", err)
	}

	nonceLen, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read nonce length: %w", err)
	}
	nonce := make([]byte, nonceLen)
	if _, err := readFull(r, nonce); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}

	headerLen := len(data) - r.Len()
	ciphertext := data[headerLen:]
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("empty ciphertext")
	}

	return &Entry{
		AccountID:   account,
		CreatedAt:   time.Unix(0, created),
		TTL:         time.Duration(ttl),
		Fingerprint: fingerprint,
		Nonce:       nonce,
		Ciphertext:  ciphertext,
		header:      data[:headerLen],
	}, nil
}

func readString16(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := readFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func readFull(r *bytes.Reader, b []byte) (int, error) {
	if r.Len() < len(b) {
		return 0, fmt.Errorf("truncated: need %d bytes, have %d", len(b), r.Len())
	}
	return r.Read(b)
}
