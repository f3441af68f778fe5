package store

import (
	"encoding/binary"

	"github.com/gagliardetto/solana-go"
)

// DefaultProgramID is the program the record addresses are derived under.
var DefaultProgramID = solana.MustPublicKeyFromBase58("CAMMCzo5YL8w4VFF8KVHrK22GGUsp5VTaW7grrKgrWqK")

var (
	ammConfigSeed = []byte("amm_config")
	poolSeed      = []byte("pool")
	positionSeed  = []byte("position")
)

// AmmConfigAddress returns the address of fee tier index.
func AmmConfigAddress(programID solana.PublicKey, index uint16) (solana.PublicKey, error) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], index)
	addr, _, err := solana.FindProgramAddress([][]byte{ammConfigSeed, b[:]}, programID)
	return addr, err
}

// PoolAddress returns the address of the pool trading mint0 against mint1 in fee tier index.
func PoolAddress(programID solana.PublicKey, index uint16, mint0, mint1 solana.PublicKey) (solana.PublicKey, error) {
	config, err := AmmConfigAddress(programID, index)
	if err != nil {
		return solana.PublicKey{}, err
	}
	addr, _, err := solana.FindProgramAddress([][]byte{poolSeed, config.Bytes(), mint0.Bytes(), mint1.Bytes()}, programID)
	return addr, err
}

// PositionAddress returns the address of the position minted as positionMint.
func PositionAddress(programID, positionMint solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{positionSeed, positionMint.Bytes()}, programID)
	return addr, err
}
