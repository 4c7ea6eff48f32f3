package envelope

import (
	"bufio"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"submission_service/internal/domain"
	"submission_service/internal/errdefs"
)

// Ciphertext layout: the plaintext is split into ChunkSize segments, each
// sealed with AES-256-GCM and written as ciphertext||tag. Only the last
// segment may be shorter and it is the only one authenticated with the final
// flag, so truncation, reordering and extension all fail to open.
const (
	Algorithm        = "aes-256-gcm-stream"
	NonceSize        = 12
	TagSize          = 16
	DefaultChunkSize = 64 * 1024
)

var hkdfInfo = []byte("submission.envelope.v1")

var (
	aadIntermediate = []byte{0x00}
	aadFinal        = []byte{0x01}
)

type Codec struct {
	key       []byte
	chunkSize int
}

func NewCodec(key []byte) (*Codec, error) {
	return NewCodecWithChunkSize(key, DefaultChunkSize)
}

func NewCodecWithChunkSize(key []byte, chunkSize int) (*Codec, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key is %d bytes, want %d: %w", len(key), KeySize, errdefs.ErrValidation)
	}
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive: %w", errdefs.ErrValidation)
	}
	return &Codec{key: append([]byte(nil), key...), chunkSize: chunkSize}, nil
}

// Seal encrypts src into dst and returns the envelope needed to unseal it.
func (c *Codec) Seal(ctx context.Context, dst io.Writer, src io.Reader) (*domain.Envelope, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	aead, err := c.aead(nonce)
	if err != nil {
		return nil, err
	}

	reader := bufio.NewReaderSize(src, c.chunkSize)
	plain := make([]byte, c.chunkSize)
	sealed := make([]byte, 0, c.chunkSize+TagSize)
	segNonce := make([]byte, NonceSize)

	var (
		written int64
		counter uint64
		lastTag []byte
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, readErr := io.ReadFull(reader, plain)
		final := false
		switch {
		case errors.Is(readErr, io.EOF), errors.Is(readErr, io.ErrUnexpectedEOF):
			final = true
		case readErr != nil:
			return nil, fmt.Errorf("reading plaintext: %w", readErr)
		default:
			if _, peekErr := reader.Peek(1); errors.Is(peekErr, io.EOF) {
				final = true
			} else if peekErr != nil {
				return nil, fmt.Errorf("reading plaintext: %w", peekErr)
			}
		}

		segmentNonce(segNonce, nonce, counter)
		aad := aadIntermediate
		if final {
			aad = aadFinal
		}
		sealed = aead.Seal(sealed[:0], segNonce, plain[:n], aad)
		if _, err := dst.Write(sealed); err != nil {
			return nil, fmt.Errorf("writing ciphertext: %w", err)
		}
		written += int64(len(sealed))
		counter++

		if final {
			lastTag = append([]byte(nil), sealed[len(sealed)-TagSize:]...)
			break
		}
	}

	return &domain.Envelope{
		Algorithm:      Algorithm,
		Nonce:          nonce,
		Tag:            lastTag,
		CiphertextSize: written,
		ChunkSize:      c.chunkSize,
	}, nil
}

// Verify authenticates every segment of src without releasing plaintext.
func (c *Codec) Verify(ctx context.Context, env *domain.Envelope, src io.ReadSeeker) error {
	aead, err := c.prepare(env, src)
	if err != nil {
		return err
	}
	return c.walk(ctx, env, aead, src, nil)
}

// Unseal authenticates the whole ciphertext first and only then decrypts it
// into dst, so a tampered payload yields ErrIntegrity and no output.
func (c *Codec) Unseal(ctx context.Context, env *domain.Envelope, dst io.Writer, src io.ReadSeeker) error {
	aead, err := c.prepare(env, src)
	if err != nil {
		return err
	}
	if err := c.walk(ctx, env, aead, src, nil); err != nil {
		return err
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding ciphertext: %w", err)
	}
	return c.walk(ctx, env, aead, src, dst)
}

func (c *Codec) prepare(env *domain.Envelope, src io.ReadSeeker) (cipher.AEAD, error) {
	if env == nil {
		return nil, fmt.Errorf("missing envelope: %w", errdefs.ErrIntegrity)
	}
	if env.Algorithm != Algorithm {
		return nil, fmt.Errorf("unsupported algorithm %q: %w", env.Algorithm, errdefs.ErrIntegrity)
	}
	if len(env.Nonce) != NonceSize || len(env.Tag) != TagSize || env.ChunkSize <= 0 || env.CiphertextSize < TagSize {
		return nil, fmt.Errorf("malformed envelope: %w", errdefs.ErrIntegrity)
	}

	size, err := src.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("measuring ciphertext: %w", err)
	}
	if size != env.CiphertextSize {
		return nil, fmt.Errorf("ciphertext is %d bytes, envelope says %d: %w", size, env.CiphertextSize, errdefs.ErrIntegrity)
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewinding ciphertext: %w", err)
	}

	return c.aead(env.Nonce)
}

// walk opens each segment in order. With a nil dst it only authenticates.
func (c *Codec) walk(ctx context.Context, env *domain.Envelope, aead cipher.AEAD, src io.Reader, dst io.Writer) error {
	segmentSize := int64(env.ChunkSize) + TagSize
	full := env.CiphertextSize / segmentSize
	rem := env.CiphertextSize % segmentSize
	count := full
	if rem != 0 {
		if rem < TagSize {
			return fmt.Errorf("truncated final segment: %w", errdefs.ErrIntegrity)
		}
		count++
	}

	reader := bufio.NewReaderSize(src, int(segmentSize))
	segment := make([]byte, segmentSize)
	plain := make([]byte, 0, env.ChunkSize)
	segNonce := make([]byte, NonceSize)

	for i := int64(0); i < count; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		length := segmentSize
		final := i == count-1
		if final && rem != 0 {
			length = rem
		}
		if _, err := io.ReadFull(reader, segment[:length]); err != nil {
			return fmt.Errorf("reading segment %d: %w", i, errdefs.ErrIntegrity)
		}

		aad := aadIntermediate
		if final {
			aad = aadFinal
			if subtle.ConstantTimeCompare(segment[length-TagSize:length], env.Tag) != 1 {
				return fmt.Errorf("authentication tag mismatch: %w", errdefs.ErrIntegrity)
			}
		}

		segmentNonce(segNonce, env.Nonce, uint64(i))
		var err error
		plain, err = aead.Open(plain[:0], segNonce, segment[:length], aad)
		if err != nil {
			return fmt.Errorf("segment %d failed authentication: %w", i, errdefs.ErrIntegrity)
		}

		if dst != nil && len(plain) > 0 {
			if _, err := dst.Write(plain); err != nil {
				return fmt.Errorf("writing plaintext: %w", err)
			}
		}
	}
	return nil
}

func (c *Codec) aead(nonce []byte) (cipher.AEAD, error) {
	subkey := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, c.key, nonce, hkdfInfo), subkey); err != nil {
		return nil, fmt.Errorf("deriving file key: %w", err)
	}
	block, err := aes.NewCipher(subkey)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return aead, nil
}

func segmentNonce(dst, base []byte, counter uint64) {
	copy(dst, base)
	var ctr [8]byte
	binary.BigEndian.PutUint64(ctr[:], counter)
	for i := 0; i < 8; i++ {
		dst[NonceSize-8+i] ^= ctr[i]
	}
}
