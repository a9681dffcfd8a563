package authz

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/mbd888/swapgate/internal/idgen"
	"github.com/mbd888/swapgate/internal/usdc"
)

// DomainTag prefixes every digest so signatures cannot be replayed into
// another protocol.
const DomainTag = "swapgate.authorization.v1"

// Nonce is a 128-bit single-use identifier.
type Nonce [16]byte

// NewNonce draws a random nonce.
func NewNonce() (Nonce, error) {
	b, err := idgen.Random128()
	return Nonce(b), err
}

// String returns the 0x-prefixed lowercase hex form.
func (n Nonce) String() string { return "0x" + hex.EncodeToString(n[:]) }

// ParseNonce parses a 0x-prefixed 32-character hex nonce.
func ParseNonce(s string) (Nonce, error) {
	var n Nonce
	raw := strings.TrimPrefix(strings.ToLower(s), "0x")
	if len(raw) != 2*len(n) {
		return n, fmt.Errorf("%w: nonce must be 16 bytes of hex", ErrInvalidRequest)
	}
	if _, err := hex.Decode(n[:], []byte(raw)); err != nil {
		return n, fmt.Errorf("%w: nonce: %v", ErrInvalidRequest, err)
	}
	return n, nil
}

// Message holds the fields covered by the signature. Both the issuer and the
// executor build it; the executor from caller-supplied fields plus its own
// chain id and address.
type Message struct {
	ChainID   *big.Int
	Executor  common.Address
	Actor     common.Address
	Gross     *big.Int
	Net       *big.Int
	ServiceID string
	Deadline  int64
	Nonce     Nonce
}

// Digest is the canonical hash:
//
//	keccak256(DomainTag || chainId:32 || executor:20 || actor:20 ||
//	          gross:32 || net:32 || keccak256(serviceId):32 ||
//	          deadline:32 || nonce:16)
//
// Integers are big-endian and left-padded.
func (m *Message) Digest() common.Hash {
	return crypto.Keccak256Hash(
		[]byte(DomainTag),
		math.PaddedBigBytes(m.ChainID, 32),
		m.Executor.Bytes(),
		m.Actor.Bytes(),
		math.PaddedBigBytes(m.Gross, 32),
		math.PaddedBigBytes(m.Net, 32),
		crypto.Keccak256([]byte(m.ServiceID)),
		math.PaddedBigBytes(big.NewInt(m.Deadline), 32),
		m.Nonce[:],
	)
}

// Fields are the caller-supplied parts of a message in wire form.
type Fields struct {
	Actor     string
	Gross     string
	Net       string
	ServiceID string
	Deadline  int64
	Nonce     string
}

// FieldsOf returns the wire fields of an authorization.
func FieldsOf(a *Authorization) Fields {
	return Fields{
		Actor:     a.Actor,
		Gross:     a.Gross,
		Net:       a.Net,
		ServiceID: a.ServiceID,
		Deadline:  a.Deadline,
		Nonce:     a.Nonce,
	}
}

// ParseMessage rebuilds a message from wire fields. chainID and executor are
// never taken from the caller.
func ParseMessage(f Fields, chainID *big.Int, executor common.Address) (*Message, error) {
	if !common.IsHexAddress(f.Actor) {
		return nil, fmt.Errorf("%w: actor must be an address", ErrInvalidRequest)
	}
	gross, ok := usdc.Parse(f.Gross)
	if !ok || !usdc.InRange(gross) {
		return nil, fmt.Errorf("%w: amount %q", ErrInvalidRequest, f.Gross)
	}
	net, ok := usdc.Parse(f.Net)
	if !ok || !usdc.InRange(net) {
		return nil, fmt.Errorf("%w: net %q", ErrInvalidRequest, f.Net)
	}
	if f.ServiceID == "" {
		return nil, fmt.Errorf("%w: serviceId is required", ErrInvalidRequest)
	}
	if f.Deadline <= 0 {
		return nil, fmt.Errorf("%w: deadline is required", ErrInvalidRequest)
	}
	nonce, err := ParseNonce(f.Nonce)
	if err != nil {
		return nil, err
	}
	return &Message{
		ChainID:   chainID,
		Executor:  executor,
		Actor:     common.HexToAddress(f.Actor),
		Gross:     gross,
		Net:       net,
		ServiceID: f.ServiceID,
		Deadline:  f.Deadline,
		Nonce:     nonce,
	}, nil
}
