package runid

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

const runIDDomainV1 = "NEWSBOT_RUN_V1"

// RunIDV1 identifies one pipeline pass:
//
//	runId = keccak256("NEWSBOT_RUN_V1" || updateIdBE64 || keccak256(text))
//
// A redelivered update with the same text maps to the same id.
func RunIDV1(updateID int64, text string) common.Hash {
	var id [8]byte
	binary.BigEndian.PutUint64(id[:], uint64(updateID))
	hText := keccak256([]byte(text))

	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write([]byte(runIDDomainV1))
	_, _ = h.Write(id[:])
	_, _ = h.Write(hText[:])
	return common.BytesToHash(h.Sum(nil))
}

func keccak256(v []byte) common.Hash {
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write(v)
	return common.BytesToHash(h.Sum(nil))
}
