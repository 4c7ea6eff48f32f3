package domain

import (
	"time"
)

type Digest struct {
	Algorithm string
	Hex       string
}

func (d Digest) String() string {
	if d.Algorithm == "" {
		return d.Hex
	}
	return d.Algorithm + ":" + d.Hex
}

// Envelope holds what is needed to unseal a ciphertext besides the key.
type Envelope struct {
	Algorithm      string
	Nonce          []byte
	Tag            []byte
	CiphertextSize int64
	ChunkSize      int
}

type ScanResult struct {
	Status    ScanStatus
	Engine    string
	ScannedAt time.Time
	Details   string
}

type Version struct {
	Number       int
	Locator      string
	Checksum     Digest
	OriginalName string
	MediaType    string
	Size         int64
	// Envelope is nil for legacy plaintext payloads.
	Envelope  *Envelope
	Scan      ScanResult
	Comments  *string
	CreatedAt time.Time
}

func (v Version) Sealed() bool {
	return v.Envelope != nil
}

// CloneAs copies v for a restore: the payload metadata is shared, the number,
// locator and timestamp are fresh and evaluator comments are dropped.
func (v Version) CloneAs(number int, locator string, now time.Time) Version {
	clone := v
	clone.Number = number
	clone.Locator = locator
	clone.CreatedAt = now
	clone.Comments = nil
	if v.Envelope != nil {
		env := *v.Envelope
		env.Nonce = append([]byte(nil), v.Envelope.Nonce...)
		env.Tag = append([]byte(nil), v.Envelope.Tag...)
		clone.Envelope = &env
	}
	return clone
}
