package chain

import (
	"crypto/ecdsa"
	"errors"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrInvalidSigner     = errors.New("chain: invalid signer")
	ErrInvalidPrivateKey = errors.New("chain: invalid private key")
)

// Signer signs transactions for the account that deploys contracts and submits verifications.
type Signer interface {
	Address() common.Address
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// KeySigner holds the bot's secp256k1 key in memory.
type KeySigner struct {
	key  *ecdsa.PrivateKey
	addr common.Address

	mu      sync.Mutex
	signers map[string]types.Signer
}

// KeySignerFromHex loads a 32-byte hex key, with or without 0x. Errors never echo key material.
func KeySignerFromHex(hexKey string) (*KeySigner, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if len(hexKey) != 64 {
		return nil, ErrInvalidPrivateKey
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, ErrInvalidPrivateKey
	}
	return &KeySigner{
		key:     key,
		addr:    crypto.PubkeyToAddress(key.PublicKey),
		signers: make(map[string]types.Signer),
	}, nil
}

func (s *KeySigner) Address() common.Address { return s.addr }

func (s *KeySigner) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if tx == nil || chainID == nil || chainID.Sign() <= 0 {
		return nil, ErrInvalidSigner
	}
	return types.SignTx(tx, s.signerFor(chainID), s.key)
}

func (s *KeySigner) signerFor(chainID *big.Int) types.Signer {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := chainID.String()
	if signer, ok := s.signers[id]; ok {
		return signer
	}
	signer := types.LatestSignerForChainID(chainID)
	s.signers[id] = signer
	return signer
}
