package chain

import (
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const testKeyHex = "0x4f3edf983ac636a65a842ce7c78d9aa706d3b113b37c2b1b4c1c5f5d8f5e2d3a"

func TestKeySigner_SignsVerifyTx(t *testing.T) {
	t.Parallel()

	s, err := KeySignerFromHex(testKeyHex)
	if err != nil {
		t.Fatalf("KeySignerFromHex: %v", err)
	}
	if (s.Address() == common.Address{}) {
		t.Fatalf("expected non-zero address")
	}

	verifier := common.HexToAddress("0x90f8bf6a479f320ead074411a4b0e7944ea8c9c1")
	for _, chainID := range []*big.Int{big.NewInt(84532), big.NewInt(31337), big.NewInt(84532)} {
		tx := types.NewTx(&types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     7,
			GasTipCap: big.NewInt(1),
			GasFeeCap: big.NewInt(2),
			Gas:       90_000,
			To:        &verifier,
			Value:     big.NewInt(0),
			Data:      []byte{0xde, 0xad},
		})
		signed, err := s.SignTx(tx, chainID)
		if err != nil {
			t.Fatalf("SignTx(%s): %v", chainID, err)
		}
		from, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
		if err != nil {
			t.Fatalf("Sender: %v", err)
		}
		if from != s.Address() {
			t.Fatalf("chain %s: from %s want %s", chainID, from, s.Address())
		}
	}
	if len(s.signers) != 2 {
		t.Fatalf("cached signers: got %d want 2", len(s.signers))
	}
}

func TestKeySigner_RejectsBadInput(t *testing.T) {
	t.Parallel()

	s, err := KeySignerFromHex(strings.TrimPrefix(testKeyHex, "0x"))
	if err != nil {
		t.Fatalf("KeySignerFromHex without prefix: %v", err)
	}
	if _, err := s.SignTx(nil, big.NewInt(1)); !errors.Is(err, ErrInvalidSigner) {
		t.Fatalf("nil tx: %v", err)
	}
	tx := types.NewTx(&types.DynamicFeeTx{ChainID: big.NewInt(1)})
	if _, err := s.SignTx(tx, big.NewInt(0)); !errors.Is(err, ErrInvalidSigner) {
		t.Fatalf("zero chain id: %v", err)
	}

	for _, in := range []string{"", "0x1234", "zz", strings.Repeat("g", 64)} {
		_, err := KeySignerFromHex(in)
		if !errors.Is(err, ErrInvalidPrivateKey) {
			t.Fatalf("%q: expected ErrInvalidPrivateKey, got %v", in, err)
		}
		if in != "" && strings.Contains(err.Error(), in) {
			t.Fatalf("error echoes key input: %v", err)
		}
	}
}
