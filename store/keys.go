package store

import (
	"encoding/binary"

	"github.com/gagliardetto/solana-go"
)

// Key layout: prefix | pool id | sub-key. Signed indexes are stored with the sign bit flipped so
// that big-endian byte order matches numeric order.
const (
	poolPrefix        = 'p'
	tickPrefix        = 't'
	wordPrefix        = 'b'
	positionPrefix    = 'n'
	observationPrefix = 'o'
)

func poolKey(pool solana.PublicKey) []byte {
	return append([]byte{poolPrefix}, pool[:]...)
}

func scopedPrefix(prefix byte, pool solana.PublicKey) []byte {
	key := make([]byte, 0, 1+solana.PublicKeyLength+solana.PublicKeyLength)
	key = append(key, prefix)
	return append(key, pool[:]...)
}

func tickKey(pool solana.PublicKey, tick int32) []byte {
	return binary.BigEndian.AppendUint32(scopedPrefix(tickPrefix, pool), uint32(tick)^(1<<31))
}

func tickFromKey(key []byte) int32 {
	return int32(binary.BigEndian.Uint32(key[len(key)-4:]) ^ (1 << 31))
}

func wordKey(pool solana.PublicKey, word int16) []byte {
	return binary.BigEndian.AppendUint16(scopedPrefix(wordPrefix, pool), uint16(word)^(1<<15))
}

func wordFromKey(key []byte) int16 {
	return int16(binary.BigEndian.Uint16(key[len(key)-2:]) ^ (1 << 15))
}

func positionKey(pool, position solana.PublicKey) []byte {
	return append(scopedPrefix(positionPrefix, pool), position[:]...)
}

func observationKey(pool solana.PublicKey, index uint16) []byte {
	return binary.BigEndian.AppendUint16(scopedPrefix(observationPrefix, pool), index)
}

func observationFromKey(key []byte) uint16 {
	return binary.BigEndian.Uint16(key[len(key)-2:])
}
