package utils

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"io"
)

// SignString signs data with HMAC-SHA256 and returns it base64 encoded.
// SMS fallback messages carry this signature in their sig field.
func SignString(data, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// VerifyStringSignature checks a SignString signature in constant time.
func VerifyStringSignature(data, signature, secret string) bool {
	return hmac.Equal([]byte(signature), []byte(SignString(data, secret)))
}

// ChainHash links a record to its predecessor: hex(HMAC(secret, prevHash || canonical JSON of record)).
func ChainHash(record interface{}, prevHash, secret string) (string, error) {
	body, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("failed to marshal record: %w", err)
	}
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(prevHash))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyChainHash recomputes ChainHash and compares it in constant time.
func VerifyChainHash(record interface{}, prevHash, hash, secret string) bool {
	expected, err := ChainHash(record, prevHash, secret)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(hash), []byte(expected))
}

// HashingReader passes reads through while computing their SHA-256 digest.
type HashingReader struct {
	r io.Reader
	h hash.Hash
	n int64
}

func NewHashingReader(r io.Reader) *HashingReader {
	return &HashingReader{r: r, h: sha256.New()}
}

func (hr *HashingReader) Read(p []byte) (int, error) {
	n, err := hr.r.Read(p)
	if n > 0 {
		hr.h.Write(p[:n])
		hr.n += int64(n)
	}
	return n, err
}

// Sum returns the hex digest of everything read so far.
func (hr *HashingReader) Sum() string {
	return hex.EncodeToString(hr.h.Sum(nil))
}

func (hr *HashingReader) Size() int64 {
	return hr.n
}
