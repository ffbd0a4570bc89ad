// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package token

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"os"
	"strings"

	"github.com/samber/oops"
)

// LoadPEM returns s itself when it is inline PEM, otherwise the contents of
// the file at path s.
func LoadPEM(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, oops.Code("TOKEN_KEY_INVALID").Errorf("key is empty")
	}
	if strings.HasPrefix(s, "-----BEGIN") {
		return []byte(s), nil
	}
	data, err := os.ReadFile(s) //nolint:gosec // operator-supplied key path
	if err != nil {
		return nil, oops.Code("TOKEN_KEY_INVALID").With("path", s).Wrap(err)
	}
	return data, nil
}

// ParsePrivateKey parses a PEM-encoded RSA or ECDSA private key in PKCS#1,
// SEC 1, or PKCS#8 form. s may be inline PEM or a file path.
func ParsePrivateKey(s string) (crypto.Signer, error) {
	pemBytes, err := LoadPEM(s)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, oops.Code("TOKEN_KEY_INVALID").Errorf("no PEM block found")
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, oops.Code("TOKEN_KEY_INVALID").With("type", block.Type).Wrap(err)
		}
		return key, nil
	case "EC PRIVATE KEY":
		key, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, oops.Code("TOKEN_KEY_INVALID").With("type", block.Type).Wrap(err)
		}
		return key, nil
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, oops.Code("TOKEN_KEY_INVALID").With("type", block.Type).Wrap(err)
		}
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, oops.Code("TOKEN_KEY_INVALID").Errorf("PKCS#8 key of type %T cannot sign", key)
		}
		return signer, nil
	default:
		return nil, oops.Code("TOKEN_KEY_INVALID").With("type", block.Type).Errorf("unsupported PEM block type")
	}
}
