package auth

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureWindow bounds how old a signed wallet proof may be
const SignatureWindow = 5 * time.Minute

// WalletProofMessage is the text an investor signs to prove control of a wallet
func WalletProofMessage(investorID string, timestamp int64) string {
	return fmt.Sprintf("SimpleFund wallet registration:%s:%d", investorID, timestamp)
}

// VerifyWalletProof checks that signature over WalletProofMessage was produced by address
// within SignatureWindow of now.
func VerifyWalletProof(investorID, address, signature string, timestamp int64, now time.Time) error {
	if !common.IsHexAddress(address) {
		return fmt.Errorf("invalid address format")
	}

	signedAt := time.Unix(timestamp, 0)
	if now.Sub(signedAt) > SignatureWindow || signedAt.Sub(now) > time.Minute {
		return fmt.Errorf("timestamp out of valid range")
	}

	return VerifyEthereumSignature(WalletProofMessage(investorID, timestamp), signature, address)
}

// VerifyEthereumSignature verifies a personal_sign signature
func VerifyEthereumSignature(message, signature, expectedAddress string) error {
	signature = strings.TrimPrefix(signature, "0x")

	sigBytes, err := hex.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("invalid signature encoding")
	}
	if len(sigBytes) != crypto.SignatureLength {
		return fmt.Errorf("invalid signature length")
	}
	// wallets emit v as 27/28
	if sigBytes[crypto.RecoveryIDOffset] >= 27 {
		sigBytes[crypto.RecoveryIDOffset] -= 27
	}

	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	hash := crypto.Keccak256Hash([]byte(prefixed))

	pubKey, err := crypto.SigToPub(hash.Bytes(), sigBytes)
	if err != nil {
		return fmt.Errorf("failed to recover public key")
	}

	if crypto.PubkeyToAddress(*pubKey) != common.HexToAddress(expectedAddress) {
		return fmt.Errorf("signature address mismatch")
	}
	return nil
}
