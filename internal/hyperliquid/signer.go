package hyperliquid

import (
	"crypto/ecdsa"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// HyperLiquid L1 actions are signed over a phantom "Agent" typed struct:
// the action bytes, nonce and optional vault address are hashed into a
// connectionId, and that digest is what the EIP-712 envelope commits to.
const (
	signingDomainName  = "Exchange"
	signingChainID     = 1337
	agentSourceMainnet = "a"
	agentSourceTestnet = "b"
)

// Signer owns one private key and produces deterministic signatures for L1
// actions. An instance must not be shared across agents with different
// accounts. Key material is never logged.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	source     string
}

// NewSigner creates a signer from a hex-encoded private key
func NewSigner(hexKey string, mainnet bool) (*Signer, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	source := agentSourceTestnet
	if mainnet {
		source = agentSourceMainnet
	}

	return &Signer{
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
		source:     source,
	}, nil
}

// NewSignerFromEnv resolves an opaque account handle to a key held in the
// named environment variable
func NewSignerFromEnv(envVar string, mainnet bool) (*Signer, error) {
	hexKey := os.Getenv(envVar)
	if hexKey == "" {
		return nil, fmt.Errorf("signing key env %q is not set", envVar)
	}
	return NewSigner(hexKey, mainnet)
}

// Address returns the lowercase hex address derived from the private key
func (s *Signer) Address() string {
	return strings.ToLower(s.address.Hex())
}

// Sign produces the {r,s,v} signature for an action at a given nonce.
// The action must already be in canonical wire form (decimal strings without
// trailing zeros, lowercase addresses, contract field order).
func (s *Signer) Sign(action any, nonce int64, vault *string) (SigRSV, error) {
	connectionID, err := actionHash(action, nonce, vault)
	if err != nil {
		return SigRSV{}, err
	}

	digest, err := s.agentDigest(connectionID)
	if err != nil {
		return SigRSV{}, err
	}

	sig, err := crypto.Sign(digest, s.privateKey)
	if err != nil {
		return SigRSV{}, fmt.Errorf("failed to sign action: %w", err)
	}

	return SigRSV{
		R: hexutil.Encode(sig[:32]),
		S: hexutil.Encode(sig[32:64]),
		V: sig[64] + 27,
	}, nil
}

// actionHash commits to the action bytes, the nonce, and the vault address
// (or its absence). The canonical JSON encoding of the wire structs is the
// byte representation the exchange verifies against.
func actionHash(action any, nonce int64, vault *string) ([32]byte, error) {
	payload, err := json.Marshal(action)
	if err != nil {
		return [32]byte{}, fmt.Errorf("failed to encode action: %w", err)
	}

	data := make([]byte, 0, len(payload)+8+21)
	data = append(data, payload...)

	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], uint64(nonce))
	data = append(data, nonceBytes[:]...)

	if vault == nil {
		data = append(data, 0x00)
	} else {
		data = append(data, 0x01)
		data = append(data, common.HexToAddress(*vault).Bytes()...)
	}

	var out [32]byte
	copy(out[:], crypto.Keccak256(data))
	return out, nil
}

// agentDigest builds the EIP-712 digest over the phantom Agent struct
func (s *Signer) agentDigest(connectionID [32]byte) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Agent": {
				{Name: "source", Type: "string"},
				{Name: "connectionId", Type: "bytes32"},
			},
		},
		PrimaryType: "Agent",
		Domain: apitypes.TypedDataDomain{
			Name:              signingDomainName,
			Version:           "1",
			ChainId:           math.NewHexOrDecimal256(signingChainID),
			VerifyingContract: common.Address{}.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"source":       s.source,
			"connectionId": hexutil.Encode(connectionID[:]),
		},
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	raw := make([]byte, 0, 2+len(domainSeparator)+len(messageHash))
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSeparator...)
	raw = append(raw, messageHash...)
	return crypto.Keccak256(raw), nil
}

// RecoverAddress recovers the signing address from a signature; used by
// tests to verify determinism without exposing the key
func RecoverAddress(action any, nonce int64, vault *string, source string, sig SigRSV) (string, error) {
	connectionID, err := actionHash(action, nonce, vault)
	if err != nil {
		return "", err
	}

	s := &Signer{source: source}
	digest, err := s.agentDigest(connectionID)
	if err != nil {
		return "", err
	}

	r, err := hexutil.Decode(sig.R)
	if err != nil {
		return "", fmt.Errorf("invalid r: %w", err)
	}
	sBytes, err := hexutil.Decode(sig.S)
	if err != nil {
		return "", fmt.Errorf("invalid s: %w", err)
	}

	raw := make([]byte, 65)
	copy(raw[32-len(r):32], r)
	copy(raw[64-len(sBytes):64], sBytes)
	raw[64] = sig.V - 27

	pub, err := crypto.SigToPub(digest, raw)
	if err != nil {
		return "", fmt.Errorf("failed to recover public key: %w", err)
	}
	return strings.ToLower(crypto.PubkeyToAddress(*pub).Hex()), nil
}
