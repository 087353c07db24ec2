package tonapi

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/MarkoPoloResearchLab/tonboost/pkg/faults"
	"github.com/MarkoPoloResearchLab/tonboost/pkg/settlement"
	"github.com/shopspring/decimal"
	"github.com/tonkeeper/tongo/boc"
	"github.com/tonkeeper/tongo/ton"
)

const (
	merchantRaw = "0:a3935861f79daf59a13d6d182e1640210c02f98e3df18fda74b8f5ab141abf18"
	otherRaw    = "0:0000000000000000000000000000000000000000000000000000000000000001"
	txHashHex   = "9a1f6b1e0c9dd6bc0b6fa0b2e0f1a7b5c3d2e1f0a9b8c7d6e5f4a3b2c1d0e9f8"
)

func newTestClient(test *testing.T, handler http.HandlerFunc) *Client {
	test.Helper()
	server := httptest.NewServer(handler)
	test.Cleanup(server.Close)
	return NewClient(server.URL, "secret-key", WithRateLimit(0))
}

func transactionJSON(destination string, value string) string {
	return fmt.Sprintf(`{"hash":"%s","success":true,"in_msg":{"value":0,"destination":{"address":"%s"}},"out_msgs":[{"value":%s,"destination":{"address":"%s"}}]}`,
		txHashHex, otherRaw, value, destination)
}

func TestCanonicalHashVariants(test *testing.T) {
	test.Parallel()
	client := NewClient("", "")
	decoded, _ := hex.DecodeString(txHashHex)

	cell := boc.NewCell()
	if err := cell.WriteUint(42, 32); err != nil {
		test.Fatalf("write cell: %v", err)
	}
	bocBytes, err := cell.ToBoc()
	if err != nil {
		test.Fatalf("serialize cell: %v", err)
	}
	cellHash, err := cell.Hash256()
	if err != nil {
		test.Fatalf("hash cell: %v", err)
	}

	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "hex uppercase", input: strings.ToUpper(txHashHex), expected: txHashHex},
		{name: "base64", input: base64.StdEncoding.EncodeToString(decoded), expected: txHashHex},
		{name: "base64url", input: base64.RawURLEncoding.EncodeToString(decoded), expected: txHashHex},
		{name: "boc", input: base64.StdEncoding.EncodeToString(bocBytes), expected: hex.EncodeToString(cellHash[:])},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			canonical, err := client.CanonicalHash(testCase.input)
			if err != nil {
				test.Fatalf("canonical hash: %v", err)
			}
			if canonical != testCase.expected {
				test.Fatalf("expected %s, got %s", testCase.expected, canonical)
			}
		})
	}

	if _, err := client.CanonicalHash("not-a-hash"); !errors.Is(err, ErrInvalidTxHash) {
		test.Fatalf("expected ErrInvalidTxHash, got %v", err)
	}
}

func TestVerifyTransferMatchesDestinationAndAmount(test *testing.T) {
	test.Parallel()
	merchant, err := ton.ParseAccountID(merchantRaw)
	if err != nil {
		test.Fatalf("parse merchant: %v", err)
	}
	friendlyMerchant := merchant.ToHuman(true, false)

	testCases := []struct {
		name     string
		body     string
		amount   string
		expected bool
	}{
		{name: "exact amount", body: transactionJSON(merchantRaw, "700000000"), amount: "0.7", expected: true},
		{name: "overpayment", body: transactionJSON(merchantRaw, "900000000"), amount: "0.7", expected: true},
		{name: "underpayment", body: transactionJSON(merchantRaw, "699999999"), amount: "0.7", expected: false},
		{name: "wrong destination", body: transactionJSON(otherRaw, "700000000"), amount: "0.7", expected: false},
		{name: "failed transaction", body: strings.Replace(transactionJSON(merchantRaw, "700000000"), `"success":true`, `"success":false`, 1), amount: "0.7", expected: false},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			client := newTestClient(test, func(writer http.ResponseWriter, request *http.Request) {
				if request.Header.Get("Authorization") != "Bearer secret-key" {
					writer.WriteHeader(http.StatusUnauthorized)
					return
				}
				if request.URL.Path != "/v2/blockchain/transactions/"+txHashHex {
					writer.WriteHeader(http.StatusNotFound)
					return
				}
				writer.Header().Set("Content-Type", "application/json")
				_, _ = writer.Write([]byte(testCase.body))
			})
			verified, err := client.VerifyTransfer(context.Background(), settlement.TransferQuery{
				TxHash:              txHashHex,
				ExpectedAmountTON:   decimal.RequireFromString(testCase.amount),
				ExpectedDestination: friendlyMerchant,
			})
			if err != nil {
				test.Fatalf("verify: %v", err)
			}
			if verified != testCase.expected {
				test.Fatalf("expected %v, got %v", testCase.expected, verified)
			}
		})
	}
}

func TestVerifyTransferFallsBackToBase64Lookups(test *testing.T) {
	test.Parallel()
	decoded, _ := hex.DecodeString(txHashHex)
	base64URL := base64.RawURLEncoding.EncodeToString(decoded)
	var calls atomic.Int32
	client := newTestClient(test, func(writer http.ResponseWriter, request *http.Request) {
		calls.Add(1)
		if strings.TrimPrefix(request.URL.Path, "/v2/blockchain/transactions/") != base64URL {
			writer.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = writer.Write([]byte(transactionJSON(merchantRaw, "300000000")))
	})
	verified, err := client.VerifyTransfer(context.Background(), settlement.TransferQuery{
		TxHash:              txHashHex,
		ExpectedAmountTON:   decimal.RequireFromString("0.3"),
		ExpectedDestination: merchantRaw,
	})
	if err != nil || !verified {
		test.Fatalf("expected verified transfer, got %v %v", verified, err)
	}
	if calls.Load() != 2 {
		test.Fatalf("expected 2 lookups, got %d", calls.Load())
	}
}

func TestVerifyTransferUnknownAndFailures(test *testing.T) {
	test.Parallel()
	notFound := newTestClient(test, func(writer http.ResponseWriter, _ *http.Request) {
		writer.WriteHeader(http.StatusNotFound)
	})
	verified, err := notFound.VerifyTransfer(context.Background(), settlement.TransferQuery{TxHash: txHashHex, ExpectedDestination: merchantRaw})
	if err != nil || verified {
		test.Fatalf("expected unknown transaction to be unverified, got %v %v", verified, err)
	}

	broken := newTestClient(test, func(writer http.ResponseWriter, _ *http.Request) {
		writer.WriteHeader(http.StatusBadGateway)
	})
	if _, err := broken.VerifyTransfer(context.Background(), settlement.TransferQuery{TxHash: txHashHex}); !errors.Is(err, faults.ErrInfrastructure) {
		test.Fatalf("expected infrastructure error, got %v", err)
	}

	if _, err := broken.VerifyTransfer(context.Background(), settlement.TransferQuery{TxHash: txHashHex, ExpectedDestination: "garbage"}); !errors.Is(err, ErrInvalidDestination) {
		test.Fatalf("expected ErrInvalidDestination, got %v", err)
	}
}

func TestAccountState(test *testing.T) {
	test.Parallel()
	client := newTestClient(test, func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/v2/blockchain/accounts/"+merchantRaw {
			writer.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = writer.Write([]byte(`{"address":"` + merchantRaw + `","status":"active","code":"b5ee","data":"b5ef","balance":12}`))
	})
	merchant, _ := ton.ParseAccountID(merchantRaw)
	state, err := client.AccountState(context.Background(), merchant)
	if err != nil {
		test.Fatalf("account state: %v", err)
	}
	if state.Status != "active" || state.Code != "b5ee" || state.Data != "b5ef" {
		test.Fatalf("unexpected state %+v", state)
	}
	other, _ := ton.ParseAccountID(otherRaw)
	if _, err := client.AccountState(context.Background(), other); !errors.Is(err, faults.ErrNotFound) {
		test.Fatalf("expected ErrNotFound, got %v", err)
	}
}
