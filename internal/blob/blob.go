// Package blob implements §4.6's blob encryption and storage: a blob sent on
// behalf of a room is encrypted under that room's current group secret and
// written to disk keyed by a room-mixed content hash, with metadata kept in
// badger so retrieval can find the nonce and secret id needed to re-decrypt.
package blob

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/joindelta/delta/internal/encryption"
	"github.com/joindelta/delta/internal/errs"
	"github.com/joindelta/delta/internal/keys"
	"github.com/joindelta/delta/internal/store"
)

const hkdfInfo = "delta:blob:v1"

// Hash is a blob's content hash: BLAKE3(plaintext ‖ room_id), which mixes the
// room id in so identical plaintext in two different rooms never collides.
type Hash [32]byte

func (h Hash) Hex() string { return hex.EncodeToString(h[:]) }

// Meta is the blob_meta read-model row (§3).
type Meta struct {
	Hash      Hash
	MimeType  string
	RoomID    string
	SenderHex string
	SecretID  encryption.GroupSecretID
	Nonce     []byte
}

// Prefixes is the badger key-prefix registry for blob metadata.
type Prefixes struct {
	PrefixBlobMeta []byte `prefix_id:"[0]"`
}

var prefixes = func() *Prefixes {
	p := &Prefixes{}
	store.LoadPrefixes(p)
	return p
}()

// Store persists encrypted blob bytes under dir and their metadata in db.
type Store struct {
	db  *badger.DB
	dir string
}

func Open(db *badger.DB, dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errs.WrapPersistence(err, "create blob directory %s", dir)
	}
	return &Store{db: db, dir: dir}, nil
}

func contentHash(plaintext []byte, roomID string) Hash {
	h := blake3.New()
	h.Write(plaintext)
	h.Write([]byte(roomID))
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

func blobKey(secret []byte, hash Hash) ([]byte, error) {
	return keys.HKDF(secret, hash[:], hkdfInfo, chacha20poly1305.KeySize)
}

// Put encrypts plaintext under the room's current secret (secretID, secret)
// and writes it to disk, recording metadata so a later Get can find it.
func (s *Store) Put(roomID string, secretID encryption.GroupSecretID, secret, plaintext []byte, senderHex, mimeType string) (Hash, error) {
	hash := contentHash(plaintext, roomID)
	key, err := blobKey(secret, hash)
	if err != nil {
		return Hash{}, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return Hash{}, errs.WrapCrypto(err, "construct blob aead")
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return Hash{}, errs.WrapCrypto(err, "generate blob nonce")
	}
	ciphertext := aead.Seal(nil, nonce, plaintext, nil)

	if err := os.WriteFile(s.path(hash), ciphertext, 0o600); err != nil {
		return Hash{}, errs.WrapPersistence(err, "write blob %s", hash.Hex())
	}

	meta := Meta{Hash: hash, MimeType: mimeType, RoomID: roomID, SenderHex: senderHex, SecretID: secretID, Nonce: nonce}
	encoded, err := cbor.Marshal(meta)
	if err != nil {
		return Hash{}, errs.WrapCrypto(err, "encode blob metadata")
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(store.Key(prefixes.PrefixBlobMeta, hash[:]), encoded); err != nil {
			return errs.WrapPersistence(err, "write blob metadata")
		}
		return nil
	}); err != nil {
		return Hash{}, err
	}
	return hash, nil
}

// Get loads a blob's metadata and decrypts its bytes using secret, the
// group secret matching meta.SecretID — callers look this up via the
// encryption.Coordinator for the room before calling Get.
func (s *Store) Get(hash Hash, secret []byte) ([]byte, Meta, error) {
	var meta Meta
	err := s.db.View(func(txn *badger.Txn) error {
		raw, getErr := store.Get(txn, store.Key(prefixes.PrefixBlobMeta, hash[:]))
		if getErr != nil {
			return getErr
		}
		if raw == nil {
			return errs.InvalidInput("unknown blob %s", hash.Hex())
		}
		return cbor.Unmarshal(raw, &meta)
	})
	if err != nil {
		return nil, Meta{}, err
	}

	ciphertext, err := os.ReadFile(s.path(hash))
	if err != nil {
		return nil, Meta{}, errs.WrapPersistence(err, "read blob %s", hash.Hex())
	}
	key, err := blobKey(secret, hash)
	if err != nil {
		return nil, Meta{}, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, Meta{}, errs.WrapCrypto(err, "construct blob aead")
	}
	plaintext, err := aead.Open(nil, meta.Nonce, ciphertext, nil)
	if err != nil {
		return nil, Meta{}, errs.Crypto("blob %s failed to decrypt", hash.Hex())
	}
	return plaintext, meta, nil
}

func (s *Store) path(hash Hash) string { return filepath.Join(s.dir, hash.Hex()) }
