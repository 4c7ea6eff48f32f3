package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"

	"github.com/zeebo/blake3"

	"submission_service/internal/domain"
	"submission_service/internal/errdefs"
)

const (
	SHA256 = "sha256"
	BLAKE3 = "blake3"
)

// Hasher accumulates a content digest. Write never fails.
type Hasher struct {
	algorithm string
	h         hash.Hash
}

func New(algorithm string) (*Hasher, error) {
	switch algorithm {
	case "", SHA256:
		return &Hasher{algorithm: SHA256, h: sha256.New()}, nil
	case BLAKE3:
		return &Hasher{algorithm: BLAKE3, h: blake3.New()}, nil
	default:
		return nil, fmt.Errorf("unsupported digest algorithm %q: %w", algorithm, errdefs.ErrValidation)
	}
}

func (h *Hasher) Write(p []byte) (int, error) {
	return h.h.Write(p)
}

func (h *Hasher) Algorithm() string {
	return h.algorithm
}

func (h *Hasher) Sum() domain.Digest {
	return domain.Digest{Algorithm: h.algorithm, Hex: hex.EncodeToString(h.h.Sum(nil))}
}

// Reader returns a reader that feeds everything read from r into h.
func (h *Hasher) Reader(r io.Reader) io.Reader {
	return io.TeeReader(r, h)
}

// Of reads r to the end and returns its digest.
func Of(algorithm string, r io.Reader) (domain.Digest, error) {
	h, err := New(algorithm)
	if err != nil {
		return domain.Digest{}, err
	}
	if _, err := io.Copy(h, r); err != nil {
		return domain.Digest{}, fmt.Errorf("hashing content: %w", err)
	}
	return h.Sum(), nil
}
