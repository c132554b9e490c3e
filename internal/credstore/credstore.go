// Package credstore implements the encrypted store for operator secrets:
// wallet seeds, the database connection string, and LLM API keys.
//
// Credentials are sealed one record per key in a local LevelDB database.
// The sealing key is derived from the operator password with Argon2id.
// Records are encrypted with XChaCha20-Poly1305 using the credential key
// as associated data, and LZ4-compressed first when that pays off. A
// canary record written at initialization lets Open reject a wrong
// password without touching real credentials.
package credstore

import (
	"bytes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/ugorji/go/codec"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/postfiatorg/pftnoded/internal/logging"
)

const (
	metaKey        = "__meta__"
	canaryKey      = "__canary__"
	reservedPrefix = "__"

	canaryValue = "pftnode.credstore.v1"

	storeVersion = 1
	saltSize     = 16

	// Argon2id parameters, recorded in the meta record so they can be
	// raised later without breaking existing stores.
	kdfTime    = 1
	kdfMemory  = 64 * 1024 // KiB
	kdfThreads = 4

	// Entries below this size are stored uncompressed.
	minCompressSize = 128
)

var cborHandle codec.CborHandle

// metadata is the plaintext bootstrap record stored under metaKey.
type metadata struct {
	Version int    `codec:"v"`
	Salt    []byte `codec:"salt"`
	Time    uint32 `codec:"time"`
	Memory  uint32 `codec:"mem"`
	Threads uint8  `codec:"par"`
}

// record is one sealed credential.
type record struct {
	Nonce      []byte `codec:"n"`
	Ciphertext []byte `codec:"c"`
	Compressor string `codec:"z"`
	PlainSize  int    `codec:"s"`
}

// Store is an encrypted key/value store for operator secrets.
type Store struct {
	mu             sync.RWMutex
	db             *leveldb.DB
	aead           cipher.AEAD
	compressor     Compressor
	compressorName string
	log            logging.Logger
	closed         bool
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithCompressor selects the compressor for new records ("none" or "lz4").
func WithCompressor(name string) Option {
	return func(s *Store) { s.compressorName = name }
}

// Open opens the store at path, creating and initializing it when absent.
// The password unlocks every record; opening an existing store with the
// wrong password fails with ErrInvalidPassword and leaves it untouched.
func Open(path, password string, opts ...Option) (*Store, error) {
	if password == "" {
		return nil, fmt.Errorf("credential store password must not be empty")
	}

	s := &Store{
		log:            logging.NopLogger{},
		compressorName: "lz4",
	}
	for _, opt := range opts {
		opt(s)
	}

	comp, err := getCompressor(s.compressorName)
	if err != nil {
		return nil, err
	}
	s.compressor = comp

	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential store at %s: %w", path, err)
	}
	s.db = db

	meta, err := s.loadMeta()
	switch {
	case err == nil:
		if err := s.unlock(meta, password); err != nil {
			db.Close()
			return nil, err
		}
	case errors.Is(err, leveldb.ErrNotFound):
		if err := s.initialize(password); err != nil {
			db.Close()
			return nil, err
		}
		s.log.Info("initialized credential store at %s", path)
	default:
		db.Close()
		return nil, err
	}

	return s, nil
}

// Get returns the credential stored under key.
func (s *Store) Get(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", ErrStoreClosed
	}
	if err := validateKey(key); err != nil {
		return "", err
	}

	plain, err := s.getSealed(key)
	if err != nil {
		if errors.Is(err, errDecryptFailed) {
			return "", fmt.Errorf("%w: record %q failed authentication", ErrCorrupted, key)
		}
		return "", err
	}
	return string(plain), nil
}

// Set stores value under key, replacing any existing credential.
func (s *Store) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if err := validateKey(key); err != nil {
		return err
	}
	return s.putSealed(key, []byte(value))
}

// Delete removes the credential under key. Deleting an absent key is not
// an error.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if err := validateKey(key); err != nil {
		return err
	}
	if err := s.db.Delete([]byte(key), nil); err != nil {
		return fmt.Errorf("failed to delete credential %q: %w", key, err)
	}
	return nil
}

// Keys returns every credential key in the store in lexical order.
// Internal bookkeeping records are excluded.
func (s *Store) Keys() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	iter := s.db.NewIterator(nil, nil)
	defer iter.Release()

	var keys []string
	for iter.Next() {
		k := string(iter.Key())
		if strings.HasPrefix(k, reservedPrefix) {
			continue
		}
		keys = append(keys, k)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("failed to iterate credential store: %w", err)
	}
	return keys, nil
}

// Close closes the underlying database. The store cannot be used afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *Store) loadMeta() (metadata, error) {
	var meta metadata
	data, err := s.db.Get([]byte(metaKey), nil)
	if err != nil {
		return meta, err
	}
	if err := cborDecode(data, &meta); err != nil {
		return meta, fmt.Errorf("%w: bad metadata record: %v", ErrCorrupted, err)
	}
	return meta, nil
}

func (s *Store) initialize(password string) error {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}

	meta := metadata{
		Version: storeVersion,
		Salt:    salt,
		Time:    kdfTime,
		Memory:  kdfMemory,
		Threads: kdfThreads,
	}
	if err := s.deriveKey(meta, password); err != nil {
		return err
	}

	enc, err := cborEncode(meta)
	if err != nil {
		return fmt.Errorf("failed to encode store metadata: %w", err)
	}
	if err := s.db.Put([]byte(metaKey), enc, nil); err != nil {
		return fmt.Errorf("failed to write store metadata: %w", err)
	}
	return s.putSealed(canaryKey, []byte(canaryValue))
}

func (s *Store) unlock(meta metadata, password string) error {
	if meta.Version != storeVersion {
		return fmt.Errorf("%w: unsupported store version %d", ErrCorrupted, meta.Version)
	}
	if err := s.deriveKey(meta, password); err != nil {
		return err
	}

	plain, err := s.getSealed(canaryKey)
	if err != nil {
		if errors.Is(err, errDecryptFailed) {
			return ErrInvalidPassword
		}
		if errors.Is(err, ErrCredentialNotFound) {
			return fmt.Errorf("%w: canary record missing", ErrCorrupted)
		}
		return err
	}
	if !bytes.Equal(plain, []byte(canaryValue)) {
		return ErrInvalidPassword
	}
	return nil
}

func (s *Store) deriveKey(meta metadata, password string) error {
	key := argon2.IDKey([]byte(password), meta.Salt, meta.Time, meta.Memory, meta.Threads,
		uint32(chacha20poly1305.KeySize))
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return fmt.Errorf("failed to initialize cipher: %w", err)
	}
	s.aead = aead
	return nil
}

// putSealed encrypts plain under key and writes the record. Compression is
// applied only when the value is large enough and actually shrinks.
func (s *Store) putSealed(key string, plain []byte) error {
	blob := plain
	compName := "none"
	if s.compressor.Name() != "none" && len(plain) >= minCompressSize {
		if c, err := s.compressor.Compress(plain); err == nil && len(c) > 0 && len(c) < len(plain) {
			blob = c
			compName = s.compressor.Name()
		}
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	rec := record{
		Nonce:      nonce,
		Ciphertext: s.aead.Seal(nil, nonce, blob, []byte(key)),
		Compressor: compName,
		PlainSize:  len(plain),
	}
	enc, err := cborEncode(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	if err := s.db.Put([]byte(key), enc, nil); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}

func (s *Store) getSealed(key string) ([]byte, error) {
	data, err := s.db.Get([]byte(key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("failed to read record: %w", err)
	}

	var rec record
	if err := cborDecode(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	if len(rec.Nonce) != chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("%w: bad nonce length %d", ErrCorrupted, len(rec.Nonce))
	}

	blob, err := s.aead.Open(nil, rec.Nonce, rec.Ciphertext, []byte(key))
	if err != nil {
		return nil, errDecryptFailed
	}

	if rec.Compressor == "" || rec.Compressor == "none" {
		return blob, nil
	}
	comp, err := getCompressor(rec.Compressor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	plain, err := comp.Decompress(blob, rec.PlainSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	return plain, nil
}

func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("credential key must not be empty")
	}
	if strings.HasPrefix(key, reservedPrefix) {
		return ErrReservedKey
	}
	return nil
}

func cborEncode(v interface{}) ([]byte, error) {
	var buf []byte
	if err := codec.NewEncoderBytes(&buf, &cborHandle).Encode(v); err != nil {
		return nil, err
	}
	return buf, nil
}

func cborDecode(data []byte, v interface{}) error {
	return codec.NewDecoderBytes(data, &cborHandle).Decode(v)
}
