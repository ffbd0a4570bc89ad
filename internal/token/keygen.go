// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package token

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/oops"
)

const rsaKeyBits = 2048

// GenerateKey creates a signing key suited to method: P-256 for ES256 and a
// 2048-bit RSA key for RS256.
func GenerateKey(method string) (crypto.Signer, error) {
	switch method {
	case jwt.SigningMethodES256.Alg():
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, oops.Code("TOKEN_KEYGEN_FAILED").With("method", method).Wrap(err)
		}
		return key, nil
	case jwt.SigningMethodRS256.Alg():
		key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
		if err != nil {
			return nil, oops.Code("TOKEN_KEYGEN_FAILED").With("method", method).Wrap(err)
		}
		return key, nil
	default:
		return nil, oops.Code("TOKEN_KEYGEN_FAILED").With("method", method).
			Errorf("no key to generate for signing method")
	}
}

// EncodePrivateKey returns key as a PKCS#8 PEM block.
func EncodePrivateKey(key crypto.Signer) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, oops.Code("TOKEN_KEY_INVALID").Wrap(err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// SavePrivateKey writes key to path with 0600 permissions. The parent
// directory must exist. An existing file is left alone unless overwrite is
// set.
func SavePrivateKey(path string, key crypto.Signer, overwrite bool) error {
	data, err := EncodePrivateKey(key)
	if err != nil {
		return err
	}
	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if overwrite {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(filepath.Clean(path), flags, 0o600)
	if err != nil {
		return oops.Code("TOKEN_KEY_SAVE_FAILED").With("path", path).Wrap(err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return oops.Code("TOKEN_KEY_SAVE_FAILED").With("path", path).Wrap(err)
	}
	if err := f.Close(); err != nil {
		return oops.Code("TOKEN_KEY_SAVE_FAILED").With("path", path).Wrap(err)
	}
	return nil
}
