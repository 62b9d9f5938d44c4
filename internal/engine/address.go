package engine

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/zmartlabs/zmart-engine/internal/domain"
)

// Canonical addresses are derived from typed seeds so records can be
// referenced by a stable identity that callers cannot forge. The last 20
// bytes of the keccak256 digest form the address.

func deriveAddress(seeds ...[]byte) common.Address {
	var buf []byte
	for _, s := range seeds {
		buf = append(buf, s...)
	}
	return common.BytesToAddress(crypto.Keccak256(buf)[12:])
}

func u64Seed(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

// DeriveConfigAddress returns the canonical global config address for the
// given admin authority.
func DeriveConfigAddress(authority common.Address) common.Address {
	return deriveAddress([]byte("config"), authority.Bytes())
}

// DeriveMarketAddress returns the canonical address of a market record.
func DeriveMarketAddress(id uint64) common.Address {
	return deriveAddress([]byte("market"), u64Seed(id))
}

// DerivePositionAddress returns the canonical address of a position record.
func DerivePositionAddress(marketID uint64, owner common.Address) common.Address {
	return deriveAddress([]byte("position"), u64Seed(marketID), owner.Bytes())
}

// DeriveVoteAddress returns the canonical address of a vote record.
func DeriveVoteAddress(marketID uint64, voter common.Address, kind domain.VoteKind) common.Address {
	return deriveAddress([]byte("vote"), u64Seed(marketID), voter.Bytes(), []byte(kind))
}
