// Package cryptoutil provides the hash/sign/verify primitives the protocol
// signs every prepared artifact and peer request with. Grounded on
// github.com/ethereum/go-ethereum/crypto for secp256k1 ECDSA (the pack's
// other go-ethereum dependent, studyzy-chainmaker-go, pulls in the same
// package for its EVM surface) plus stdlib crypto/sha256 for hashing.
package cryptoutil

import (
	"crypto/sha256"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// SignatureSize is the fixed length of a compact secp256k1 signature: a
// 32-byte R and a 32-byte S. The protocol never transmits a recovery byte;
// the signer's public key always travels alongside the signature in the
// PeerPrepareRecord / config, so recovery is unnecessary.
const SignatureSize = 64

// Hash returns the SHA-256 digest of buf.
func Hash(buf []byte) [32]byte {
	return sha256.Sum256(buf)
}

// Sign computes a 64-byte compact ECDSA signature over SHA-256(buf) using
// the given secp256k1 private key (32-byte big-endian scalar).
func Sign(buf []byte, privKey []byte) ([]byte, error) {
	priv, err := ethcrypto.ToECDSA(privKey)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: invalid private key: %w", err)
	}
	digest := Hash(buf)
	sig, err := ethcrypto.Sign(digest[:], priv)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: sign failed: %w", err)
	}
	// ethcrypto.Sign returns 65 bytes: R(32) || S(32) || V(1). The protocol's
	// compact signature format is R || S only; the recovery byte is dropped.
	return sig[:SignatureSize], nil
}

// Verify reports whether sig is a valid compact ECDSA signature over
// SHA-256(buf) under pubKey (33-byte compressed secp256k1 public key).
func Verify(buf []byte, sig []byte, pubKey []byte) bool {
	if len(sig) != SignatureSize {
		return false
	}
	digest := Hash(buf)
	return ethcrypto.VerifySignature(pubKey, digest[:], sig)
}

// DecompressPublicKey validates a 33-byte compressed secp256k1 public key,
// returning an error if it does not lie on the curve. The decompressed key
// itself is not returned.
func DecompressPublicKey(pubKey []byte) error {
	_, err := ethcrypto.DecompressPubkey(pubKey)
	if err != nil {
		return fmt.Errorf("cryptoutil: invalid public key: %w", err)
	}
	return nil
}
