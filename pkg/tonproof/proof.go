// Package tonproof verifies TON Connect ton_proof signatures: message
// construction, domain allow-listing, freshness and wallet public key
// resolution from state-init cells or chain account state.
package tonproof

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/MarkoPoloResearchLab/tonboost/pkg/faults"
	"github.com/tonkeeper/tongo/boc"
	"github.com/tonkeeper/tongo/ton"
)

const (
	proofItemPrefix   = "ton-proof-item-v2/"
	connectPrefix     = "ton-connect"
	addressHashLength = 32
)

var (
	ErrInvalidSignature = fmt.Errorf("%w: invalid signature encoding", faults.ErrInvalidInput)
	ErrInvalidBOC       = fmt.Errorf("%w: invalid boc", faults.ErrInvalidInput)
	ErrInvalidAddress   = fmt.Errorf("%w: invalid wallet address", faults.ErrInvalidInput)
)

// Domain is the domain field of a ton_proof.
type Domain struct {
	LengthBytes uint32 `json:"lengthBytes"`
	Value       string `json:"value"`
}

// Proof is the ton_proof object produced by the wallet.
type Proof struct {
	Timestamp uint64 `json:"timestamp"`
	Domain    Domain `json:"domain"`
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
	StateInit string `json:"state_init,omitempty"`
}

// Account is the wallet account a proof is claimed for.
type Account struct {
	Address   string
	Network   string
	PublicKey string
	StateInit string
}

// ParseAddress parses raw ("wc:hex") and user-friendly addresses.
func ParseAddress(raw string) (ton.AccountID, error) {
	account, err := ton.ParseAccountID(strings.TrimSpace(raw))
	if err != nil {
		return ton.AccountID{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return account, nil
}

// SameAddress reports whether two address strings identify the same account.
func SameAddress(left string, right string) bool {
	leftAccount, leftErr := ParseAddress(left)
	rightAccount, rightErr := ParseAddress(right)
	if leftErr != nil || rightErr != nil {
		return false
	}
	return leftAccount == rightAccount
}

// BuildMessage assembles the signed ton_proof message.
func BuildMessage(account ton.AccountID, domain Domain, timestamp uint64, payload string) []byte {
	message := make([]byte, 0, len(proofItemPrefix)+4+addressHashLength+4+len(domain.Value)+8+len(payload))
	message = append(message, proofItemPrefix...)
	message = binary.BigEndian.AppendUint32(message, uint32(account.Workchain))
	message = append(message, account.Address[:]...)
	message = binary.BigEndian.AppendUint32(message, domain.LengthBytes)
	message = append(message, domain.Value...)
	message = binary.LittleEndian.AppendUint64(message, timestamp)
	message = append(message, payload...)
	return message
}

// SigningDigest returns sha256(0xffff ‖ "ton-connect" ‖ sha256(message)).
func SigningDigest(message []byte) [32]byte {
	messageHash := sha256.Sum256(message)
	full := make([]byte, 0, 2+len(connectPrefix)+len(messageHash))
	full = append(full, 0xff, 0xff)
	full = append(full, connectPrefix...)
	full = append(full, messageHash[:]...)
	return sha256.Sum256(full)
}

// DecodeSignature accepts standard or URL base64, padded or not.
func DecodeSignature(raw string) ([]byte, error) {
	decoded, err := decodeBase64(raw)
	if err != nil {
		return nil, ErrInvalidSignature
	}
	return decoded, nil
}

// DecodeBOC parses a single-root BOC given as base64, base64url or hex.
func DecodeBOC(raw string) (*boc.Cell, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, ErrInvalidBOC
	}
	var payload []byte
	if decoded, err := hex.DecodeString(trimmed); err == nil {
		payload = decoded
	} else if decoded, err := decodeBase64(trimmed); err == nil {
		payload = decoded
	} else {
		return nil, ErrInvalidBOC
	}
	cells, err := boc.DeserializeBoc(payload)
	if err != nil || len(cells) == 0 {
		return nil, ErrInvalidBOC
	}
	return cells[0], nil
}

func decodeBase64(raw string) ([]byte, error) {
	normalized := strings.TrimRight(strings.TrimSpace(raw), "=")
	normalized = strings.NewReplacer("-", "+", "_", "/").Replace(normalized)
	return base64.RawStdEncoding.DecodeString(normalized)
}
