package authz

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is r || s || v.
const SignatureLength = 65

// Signer produces EIP-191 signatures over 32-byte digests. Implementations
// backed by a remote key service must honor ctx.
type Signer interface {
	Address() common.Address
	SignDigest(ctx context.Context, digest common.Hash) ([]byte, error)
}

// KeySigner signs with an in-process secp256k1 key.
type KeySigner struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

// NewKeySigner wraps an existing private key.
func NewKeySigner(key *ecdsa.PrivateKey) *KeySigner {
	return &KeySigner{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}
}

// KeySignerFromHex loads a hex-encoded private key (with or without 0x).
func KeySignerFromHex(hexKey string) (*KeySigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid signing key: %w", err)
	}
	return NewKeySigner(key), nil
}

// KeySignerFromKeystore decrypts a V3 keystore file.
func KeySignerFromKeystore(path, password string) (*KeySigner, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-configured keystore path
	if err != nil {
		return nil, fmt.Errorf("read keystore: %w", err)
	}
	k, err := keystore.DecryptKey(data, password)
	if err != nil {
		return nil, fmt.Errorf("decrypt keystore: %w", err)
	}
	return NewKeySigner(k.PrivateKey), nil
}

func (s *KeySigner) Address() common.Address { return s.addr }

func (s *KeySigner) SignDigest(ctx context.Context, digest common.Hash) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(accounts.TextHash(digest.Bytes()), s.key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// RecoverSigner returns the address that produced sig over digest.
// v may be 0/1 or 27/28.
func RecoverSigner(digest common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes, got %d", SignatureLength, len(sig))
	}
	s := make([]byte, SignatureLength)
	copy(s, sig)
	if s[crypto.RecoveryIDOffset] >= 27 {
		s[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash(digest.Bytes()), s)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// EncodeSignature returns the 0x-hex form used on the wire.
func EncodeSignature(sig []byte) string { return hexutil.Encode(sig) }

// DecodeSignature parses a 0x-hex signature.
func DecodeSignature(s string) ([]byte, error) {
	sig, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("invalid signature hex: %w", err)
	}
	return sig, nil
}
