package domain

import (
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"
)

// PublicKey is one RSA signing key published by AuthHub. Validation happens
// at construction so malformed keys never enter the cache.
type PublicKey struct {
	Kid       string `json:"kid"`
	KeyType   string `json:"kty"`
	Algorithm string `json:"alg"`
	Use       string `json:"use"`
	Modulus   string `json:"n"`
	Exponent  string `json:"e"`
}

// NewPublicKey validates the JWK fields. Key type must be RSA and the
// algorithm RS256, both case-insensitive.
func NewPublicKey(kid, keyType, algorithm, use, modulus, exponent string) (PublicKey, error) {
	if strings.TrimSpace(kid) == "" {
		return PublicKey{}, fmt.Errorf("%w: missing kid", ErrInvalidKey)
	}
	if !strings.EqualFold(keyType, "RSA") {
		return PublicKey{}, fmt.Errorf("%w: unsupported key type %q", ErrInvalidKey, keyType)
	}
	if !strings.EqualFold(algorithm, "RS256") {
		return PublicKey{}, fmt.Errorf("%w: unsupported algorithm %q", ErrInvalidKey, algorithm)
	}
	if modulus == "" || exponent == "" {
		return PublicKey{}, fmt.Errorf("%w: missing modulus or exponent", ErrInvalidKey)
	}

	key := PublicKey{
		Kid:       kid,
		KeyType:   keyType,
		Algorithm: algorithm,
		Use:       use,
		Modulus:   modulus,
		Exponent:  exponent,
	}
	if _, err := key.ToRSA(); err != nil {
		return PublicKey{}, err
	}
	return key, nil
}

// ToRSA converts the record into a native RSA public key.
func (k PublicKey) ToRSA() (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.Modulus)
	if err != nil {
		return nil, fmt.Errorf("%w: decode modulus: %v", ErrInvalidKey, err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.Exponent)
	if err != nil {
		return nil, fmt.Errorf("%w: decode exponent: %v", ErrInvalidKey, err)
	}

	e := 0
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}
	if e <= 1 {
		return nil, fmt.Errorf("%w: exponent out of range", ErrInvalidKey)
	}

	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: e}, nil
}

// PublicKeyFromRSA builds the cacheable record from a native key.
func PublicKeyFromRSA(kid string, key *rsa.PublicKey) PublicKey {
	eBytes := big.NewInt(int64(key.E)).Bytes()
	return PublicKey{
		Kid:       kid,
		KeyType:   "RSA",
		Algorithm: "RS256",
		Use:       "sig",
		Modulus:   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		Exponent:  base64.RawURLEncoding.EncodeToString(eBytes),
	}
}
