package keystore

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"

	"portalsync/internal/components/assert"
	"portalsync/internal/components/telemetry"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	report_get = "sqlite.get"
	report_set = "sqlite.set"
)

const verifierPlaintext = "portalsync keystore v1"

// argon2id parameters, see the recommendations in RFC 9106 section 4.
const (
	kdfTime    = 1
	kdfMemory  = 64 * 1024
	kdfThreads = 4
	saltSize   = 16
)

// SQLite stores values sealed with XChaCha20-Poly1305, the key is derived
// from a passphrase with Argon2id. Each value is bound to its key through the
// associated data so rows cannot be swapped.
type SQLite struct {
	db   *sql.DB
	aead cipher.AEAD
	tel  telemetry.API
}

// NewSQLite expects `database` to carry Schema. ErrWrongPassphrase is returned
// when the store was created with another passphrase.
func NewSQLite(ctx context.Context, database *sql.DB, passphrase string, tel telemetry.API) (*SQLite, error) {
	assert.NotNil(database)
	assert.NotNil(tel)
	if passphrase == "" {
		return nil, ErrNoPassphrase
	}

	var salt, verifierNonce, verifier []byte
	err := database.QueryRowContext(
		ctx,
		"SELECT salt, verifier_nonce, verifier FROM keystore_meta WHERE id = 1",
	).Scan(&salt, &verifierNonce, &verifier)
	isNew := errors.Is(err, sql.ErrNoRows)
	if err != nil && !isNew {
		return nil, fmt.Errorf("keystore: read meta: %w", err)
	}

	if isNew {
		salt = make([]byte, saltSize)
		_, err = rand.Read(salt)
		if err != nil {
			return nil, err
		}
	}

	key := argon2.IDKey([]byte(passphrase), salt, kdfTime, kdfMemory, kdfThreads, chacha20poly1305.KeySize)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}

	if isNew {
		verifierNonce, verifier, err = seal(aead, []byte(verifierPlaintext), nil)
		if err != nil {
			return nil, err
		}
		_, err = database.ExecContext(
			ctx,
			"INSERT INTO keystore_meta (id, salt, verifier_nonce, verifier) VALUES (1, ?, ?, ?)",
			salt, verifierNonce, verifier,
		)
		if err != nil {
			return nil, fmt.Errorf("keystore: write meta: %w", err)
		}
	} else {
		plain, err := aead.Open(nil, verifierNonce, verifier, nil)
		if err != nil || string(plain) != verifierPlaintext {
			return nil, ErrWrongPassphrase
		}
	}

	return &SQLite{db: database, aead: aead, tel: tel}, nil
}

func seal(aead cipher.AEAD, plaintext, additional []byte) (nonce, sealed []byte, err error) {
	nonce = make([]byte, aead.NonceSize())
	_, err = rand.Read(nonce)
	if err != nil {
		return nil, nil, err
	}
	return nonce, aead.Seal(nil, nonce, plaintext, additional), nil
}

func (s *SQLite) SetString(ctx context.Context, key, value string) error {
	nonce, sealed, err := seal(s.aead, []byte(value), []byte(key))
	if err != nil {
		s.tel.ReportBroken(report_set, err, key)
		return err
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO keystore_entry (key, nonce, sealed) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET nonce = excluded.nonce, sealed = excluded.sealed`,
		key, nonce, sealed,
	)
	if err != nil {
		s.tel.ReportBroken(report_set, err, key)
		return err
	}
	return nil
}

func (s *SQLite) GetString(ctx context.Context, key, def string) (string, error) {
	var nonce, sealed []byte
	err := s.db.QueryRowContext(
		ctx,
		"SELECT nonce, sealed FROM keystore_entry WHERE key = ?",
		key,
	).Scan(&nonce, &sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		s.tel.ReportBroken(report_get, err, key)
		return def, err
	}

	plain, err := s.aead.Open(nil, nonce, sealed, []byte(key))
	if err != nil {
		err = fmt.Errorf("keystore: entry %q failed authentication: %w", key, err)
		s.tel.ReportBroken(report_get, err)
		return def, err
	}
	return string(plain), nil
}

func (s *SQLite) Remove(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM keystore_entry WHERE key = ?", key)
	return err
}

// Clear removes every entry but keeps the passphrase binding.
func (s *SQLite) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM keystore_entry")
	return err
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
