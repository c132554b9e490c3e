package memo

import (
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/postfiatorg/pftnoded/internal/wallet"
)

// EncryptedPrefix marks WHISPER-sealed payloads.
const EncryptedPrefix = "WHISPER__"

// channelInfo binds derived channel keys to this protocol.
var channelInfo = []byte("postfiat-memo-channel-v1")

// Channel seals and opens memo payloads between two accounts that exchanged
// handshake keys. Both directions derive the same key, so one Channel serves
// sends to and receives from the same peer.
type Channel struct {
	aead cipher.AEAD
}

// ChannelPublicKey returns the hex of the 32-byte Ed25519 key a wallet
// advertises in its HANDSHAKE memo.
func ChannelPublicKey(seed string) (string, error) {
	pub, _, err := wallet.Ed25519Keys(seed)
	if err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(pub)), nil
}

// NewChannel derives the shared AEAD between our wallet seed and a peer's
// handshake public key.
func NewChannel(seed, peerPublicKeyHex string) (*Channel, error) {
	_, priv, err := wallet.Ed25519Keys(seed)
	if err != nil {
		return nil, err
	}
	peer, err := parseHandshakeKey(peerPublicKeyHex)
	if err != nil {
		return nil, err
	}
	secret, err := sharedSecret(priv, peer)
	if err != nil {
		return nil, err
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, channelInfo), key); err != nil {
		return nil, fmt.Errorf("derive channel key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init channel cipher: %w", err)
	}
	return &Channel{aead: aead}, nil
}

// parseHandshakeKey accepts the raw 64-hex form and the ED-prefixed account
// key form.
func parseHandshakeKey(keyHex string) (ed25519.PublicKey, error) {
	s := strings.TrimSpace(keyHex)
	if len(s) == 2*ed25519.PublicKeySize+2 && strings.EqualFold(s[:2], "ed") {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: bad handshake key %q", ErrMalformedMemo, keyHex)
	}
	return ed25519.PublicKey(b), nil
}

// sharedSecret computes the X25519 agreement between an Ed25519 private key
// and an Ed25519 public key, both mapped to Curve25519.
func sharedSecret(priv ed25519.PrivateKey, peer ed25519.PublicKey) ([]byte, error) {
	p, err := new(edwards25519.Point).SetBytes(peer)
	if err != nil {
		return nil, fmt.Errorf("%w: handshake key not on curve", ErrMalformedMemo)
	}
	h := sha512.Sum512(priv.Seed())
	scalar := h[:curve25519.ScalarSize]
	scalar[0] &= 248
	scalar[31] &= 127
	scalar[31] |= 64
	secret, err := curve25519.X25519(scalar, p.BytesMontgomery())
	if err != nil {
		return nil, fmt.Errorf("key agreement: %w", err)
	}
	return secret, nil
}

// IsEncrypted reports whether data carries the WHISPER envelope.
func IsEncrypted(data string) bool {
	return strings.HasPrefix(data, EncryptedPrefix)
}

// Encrypt seals plaintext into the WHISPER envelope. The random nonce rides
// in front of the ciphertext inside the base64 body.
func (c *Channel) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return EncryptedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a WHISPER envelope.
func (c *Channel) Decrypt(data string) (string, error) {
	if !strings.HasPrefix(data, EncryptedPrefix) {
		return "", fmt.Errorf("%w: missing %s envelope", ErrDecryptFailed, EncryptedPrefix)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(data, EncryptedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	if len(raw) < c.aead.NonceSize() {
		return "", fmt.Errorf("%w: short ciphertext", ErrDecryptFailed)
	}
	nonce, ct := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	return string(plain), nil
}
