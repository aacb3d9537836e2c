// Package auth restricts sponsor-spending endpoints to the configured
// operator wallet. The operator signs each admin request as a personal
// message (EIP-191) and the server recovers the signer from it.
package auth

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// HashMessage is the digest an operator wallet signs for msg.
func HashMessage(msg []byte) []byte { return accounts.TextHash(msg) }

// Sign signs msg the way operator tooling does; the recovery id is shifted
// to 27/28 as wallets emit it.
func Sign(msg []byte, key *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := crypto.Sign(HashMessage(msg), key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// Recover returns the wallet that signed msg. Signatures from wallets (27/28)
// and from raw secp256k1 signers (0/1) are both accepted.
func Recover(msg, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature is %d bytes, want %d", len(sig), crypto.SignatureLength)
	}
	raw := common.CopyBytes(sig)
	if v := raw[crypto.RecoveryIDOffset]; v == 27 || v == 28 {
		raw[crypto.RecoveryIDOffset] = v - 27
	}
	pub, err := crypto.SigToPub(HashMessage(msg), raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover operator signature: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
