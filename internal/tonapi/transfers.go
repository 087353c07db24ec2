package tonapi

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/MarkoPoloResearchLab/tonboost/pkg/faults"
	"github.com/MarkoPoloResearchLab/tonboost/pkg/settlement"
	"github.com/MarkoPoloResearchLab/tonboost/pkg/tonproof"
	"github.com/shopspring/decimal"
)

const hashLength = 32

var (
	ErrInvalidTxHash      = fmt.Errorf("%w: invalid transaction hash", faults.ErrInvalidInput)
	ErrInvalidDestination = fmt.Errorf("%w: invalid destination address", faults.ErrInvalidInput)

	nanoPerTON = decimal.New(1, 9)
)

var (
	_ settlement.TransferVerifier  = (*Client)(nil)
	_ settlement.HashCanonicalizer = (*Client)(nil)
	_ tonproof.ChainStateReader    = (*Client)(nil)
)

type transactionResponse struct {
	Hash    string            `json:"hash"`
	Success *bool             `json:"success"`
	InMsg   *messageResponse  `json:"in_msg"`
	OutMsgs []messageResponse `json:"out_msgs"`
}

type messageResponse struct {
	Value       json.Number     `json:"value"`
	Destination *accountAddress `json:"destination"`
	Source      *accountAddress `json:"source"`
}

type accountAddress struct {
	Address string `json:"address"`
}

// CanonicalHash normalizes a transaction hash to lowercase hex. It accepts hex,
// base64 and base64url hashes, or an external-message BOC whose root hash is used.
func (client *Client) CanonicalHash(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ErrInvalidTxHash
	}
	if decoded, err := hex.DecodeString(trimmed); err == nil && len(decoded) == hashLength {
		return strings.ToLower(trimmed), nil
	}
	if decoded, err := decodeBase64(trimmed); err == nil && len(decoded) == hashLength {
		return hex.EncodeToString(decoded), nil
	}
	root, err := tonproof.DecodeBOC(trimmed)
	if err != nil {
		return "", ErrInvalidTxHash
	}
	rootHash, err := root.Hash256()
	if err != nil {
		return "", ErrInvalidTxHash
	}
	return hex.EncodeToString(rootHash[:]), nil
}

// VerifyTransfer reports whether the transaction carries a message of at least
// the expected value to the expected destination. Unknown transactions yield false.
func (client *Client) VerifyTransfer(ctx context.Context, query settlement.TransferQuery) (bool, error) {
	canonical, err := client.CanonicalHash(query.TxHash)
	if err != nil {
		return false, err
	}
	destination := strings.TrimSpace(query.ExpectedDestination)
	if destination != "" {
		if _, err := tonproof.ParseAddress(destination); err != nil {
			return false, ErrInvalidDestination
		}
	}
	transaction, found, err := client.lookupTransaction(ctx, canonical)
	if err != nil || !found {
		return false, err
	}
	if transaction.Success != nil && !*transaction.Success {
		return false, nil
	}
	required := query.ExpectedAmountTON.Mul(nanoPerTON)
	messages := transaction.OutMsgs
	if transaction.InMsg != nil {
		messages = append(messages, *transaction.InMsg)
	}
	for _, message := range messages {
		if message.matches(destination, required) {
			return true, nil
		}
	}
	return false, nil
}

// lookupTransaction tries the hex, base64url and base64 spellings of a hash.
func (client *Client) lookupTransaction(ctx context.Context, canonical string) (transactionResponse, bool, error) {
	decoded, err := hex.DecodeString(canonical)
	if err != nil {
		return transactionResponse{}, false, ErrInvalidTxHash
	}
	candidates := []string{
		canonical,
		base64.RawURLEncoding.EncodeToString(decoded),
		base64.StdEncoding.EncodeToString(decoded),
	}
	for _, candidate := range candidates {
		var transaction transactionResponse
		err := client.getJSON(ctx, "/v2/blockchain/transactions/"+url.PathEscape(candidate), &transaction)
		if isNotFound(err) {
			continue
		}
		if err != nil {
			return transactionResponse{}, false, err
		}
		return transaction, true, nil
	}
	return transactionResponse{}, false, nil
}

func (message messageResponse) matches(destination string, requiredNano decimal.Decimal) bool {
	if message.Destination == nil {
		return false
	}
	if destination != "" && !tonproof.SameAddress(message.Destination.Address, destination) {
		return false
	}
	value, err := decimal.NewFromString(message.Value.String())
	if err != nil {
		return false
	}
	return value.GreaterThanOrEqual(requiredNano)
}

func decodeBase64(raw string) ([]byte, error) {
	normalized := strings.TrimRight(raw, "=")
	normalized = strings.NewReplacer("-", "+", "_", "/").Replace(normalized)
	return base64.RawStdEncoding.DecodeString(normalized)
}
