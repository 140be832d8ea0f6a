// Package envelope implements the EP wire-encryption scheme shared by both
// the Bot (JSON) and Application (XML) channels: AES-256-CBC with a
// non-standard PKCS#7 block size of 32, IV derived from the key itself, and
// a sorted-SHA1 request signature.
package envelope

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

const blockSize = 32

var (
	// ErrInvalidKeyLength is returned when the decoded AES key is not 32 bytes.
	ErrInvalidKeyLength = errors.New("envelope: encoding key must decode to 32 bytes")
	// ErrInvalidPadding is returned when PKCS#7 unpadding finds an inconsistent trailer.
	ErrInvalidPadding = errors.New("envelope: invalid padding")
	// ErrInvalidFraming is returned when the ciphertext is empty or not a whole number of AES blocks,
	// when the decrypted plaintext is shorter than the fixed framing prefix, or when its length field
	// points past the end of the plaintext.
	ErrInvalidFraming = errors.New("envelope: plaintext shorter than framing prefix")
	// ErrReceiverMismatch is returned when the framed receiver id does not match the configured corp id.
	ErrReceiverMismatch = errors.New("envelope: receiver id mismatch")
	// ErrSignatureMismatch is returned when the computed signature does not match the supplied one.
	ErrSignatureMismatch = errors.New("envelope: signature mismatch")
)

// Codec holds the per-account crypto material needed to seal and open
// envelopes for one EP account (one corpId/AIBot).
type Codec struct {
	token      string
	aesKey     []byte // 32 bytes
	receiverID string // corpId, embedded in/checked against every envelope
}

// NewCodec builds a Codec from the EP-issued token, the base64 (no padding)
// encoding key, and the corp/receiver id this account answers for.
func NewCodec(token, encodingKey, receiverID string) (*Codec, error) {
	key, err := base64.StdEncoding.DecodeString(encodingKey + "=")
	if err != nil {
		return nil, fmt.Errorf("envelope: decode encoding key: %w", err)
	}
	if len(key) != blockSize {
		return nil, ErrInvalidKeyLength
	}
	return &Codec{token: token, aesKey: key, receiverID: receiverID}, nil
}

// Signature computes the sorted-SHA1 signature used both to verify a
// callback URL and to authenticate a POSTed envelope.
func Signature(token, timestamp, nonce, encrypt string) string {
	parts := []string{token, timestamp, nonce, encrypt}
	sort.Strings(parts)
	joined := ""
	for _, p := range parts {
		joined += p
	}
	sum := sha1.Sum([]byte(joined))
	return fmt.Sprintf("%x", sum)
}

// VerifySignature reports whether sig matches the signature computed over
// the given fields, using a constant-time comparison.
func (c *Codec) VerifySignature(sig, timestamp, nonce, encrypt string) bool {
	expected := Signature(c.token, timestamp, nonce, encrypt)
	return subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) == 1
}

// VerifyURL validates a GET-challenge signature and returns the decrypted
// echostr, for use as both the Bot and Application channel's URL-ownership
// verification step.
func (c *Codec) VerifyURL(signature, timestamp, nonce, echostr string) (string, error) {
	if !c.VerifySignature(signature, timestamp, nonce, echostr) {
		return "", ErrSignatureMismatch
	}
	plain, err := c.Open(echostr)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// Seal encrypts msg into the base64 envelope format: 16 random bytes, a
// 4-byte big-endian length, msg itself, then the receiver id, PKCS#7
// padded to a 32-byte block and AES-256-CBC encrypted with the key's own
// first 16 bytes as IV.
func (c *Codec) Seal(msg []byte) (string, error) {
	randBytes := make([]byte, 16)
	if _, err := rand.Read(randBytes); err != nil {
		return "", fmt.Errorf("envelope: read random prefix: %w", err)
	}

	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(msg)))

	plain := make([]byte, 0, 16+4+len(msg)+len(c.receiverID))
	plain = append(plain, randBytes...)
	plain = append(plain, lenBuf...)
	plain = append(plain, msg...)
	plain = append(plain, []byte(c.receiverID)...)

	padded := pkcs7Pad(plain, blockSize)

	block, err := aes.NewCipher(c.aesKey)
	if err != nil {
		return "", fmt.Errorf("envelope: new cipher: %w", err)
	}
	iv := c.aesKey[:aes.BlockSize]
	mode := cipher.NewCBCEncrypter(block, iv)
	cipherText := make([]byte, len(padded))
	mode.CryptBlocks(cipherText, padded)

	return base64.StdEncoding.EncodeToString(cipherText), nil
}

// Open decrypts a base64 envelope and returns the embedded message bytes,
// verifying the framed receiver id matches this Codec's configured id.
func (c *Codec) Open(cipherB64 string) ([]byte, error) {
	cipherText, err := base64.StdEncoding.DecodeString(cipherB64)
	if err != nil {
		return nil, fmt.Errorf("envelope: decode base64: %w", err)
	}
	if len(cipherText) == 0 || len(cipherText)%aes.BlockSize != 0 {
		return nil, ErrInvalidFraming
	}

	block, err := aes.NewCipher(c.aesKey)
	if err != nil {
		return nil, fmt.Errorf("envelope: new cipher: %w", err)
	}
	iv := c.aesKey[:aes.BlockSize]
	mode := cipher.NewCBCDecrypter(block, iv)
	plain := make([]byte, len(cipherText))
	mode.CryptBlocks(plain, cipherText)

	plain, err = pkcs7Unpad(plain, blockSize)
	if err != nil {
		return nil, err
	}
	if len(plain) < 20 {
		return nil, ErrInvalidFraming
	}

	msgLen := binary.BigEndian.Uint32(plain[16:20])
	end := 20 + int(msgLen)
	if end > len(plain) {
		return nil, ErrInvalidFraming
	}
	msg := plain[20:end]
	receiver := string(plain[end:])
	if c.receiverID != "" && receiver != c.receiverID {
		return nil, ErrReceiverMismatch
	}
	return msg, nil
}

func pkcs7Pad(data []byte, size int) []byte {
	padLen := size - len(data)%size
	if padLen == 0 {
		padLen = size
	}
	return append(data, bytes.Repeat([]byte{byte(padLen)}, padLen)...)
}

func pkcs7Unpad(data []byte, size int) ([]byte, error) {
	if len(data) == 0 || len(data)%size != 0 {
		return nil, ErrInvalidPadding
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > size || padLen > len(data) {
		return nil, ErrInvalidPadding
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, ErrInvalidPadding
		}
	}
	return data[:len(data)-padLen], nil
}
