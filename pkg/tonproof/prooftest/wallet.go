// Package prooftest builds synthetic wallets and signed ton_proof objects for tests.
package prooftest

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/MarkoPoloResearchLab/tonboost/pkg/tonproof"
	"github.com/tonkeeper/tongo/boc"
	"github.com/tonkeeper/tongo/ton"
)

// Wallet is a synthetic wallet contract whose address is derived from its state-init.
type Wallet struct {
	Layout     tonproof.WalletLayout
	PrivateKey ed25519.PrivateKey
	PublicKey  ed25519.PublicKey
	Account    ton.AccountID
	StateInit  string
	Code       string
	Data       string
}

// NewWallet builds a wallet whose code cell is unique to version and whose data
// cell stores the public key after keyOffsetBits of zero bits.
func NewWallet(tb testing.TB, version string, keyOffsetBits int) Wallet {
	tb.Helper()
	code := boc.NewCell()
	must(tb, code.WriteBytes([]byte("wallet-code-"+version)))
	return NewWalletWithCode(tb, version, code, keyOffsetBits)
}

// NewWalletWithCode builds a wallet around an existing code cell, such as a
// real wallet contract.
func NewWalletWithCode(tb testing.TB, version string, code *boc.Cell, keyOffsetBits int) Wallet {
	tb.Helper()
	seed := sha256.Sum256([]byte("seed:" + version))
	privateKey := ed25519.NewKeyFromSeed(seed[:])
	publicKey := privateKey.Public().(ed25519.PublicKey)

	data := boc.NewCell()
	for remaining := keyOffsetBits; remaining > 0; {
		chunk := remaining
		if chunk > 32 {
			chunk = 32
		}
		must(tb, data.WriteUint(0, chunk))
		remaining -= chunk
	}
	must(tb, data.WriteBytes(publicKey))
	// empty plugin or extension dictionary
	must(tb, data.WriteBit(false))

	root := boc.NewCell()
	must(tb, root.WriteBit(false)) // split_depth
	must(tb, root.WriteBit(false)) // special
	must(tb, root.WriteBit(true))  // code
	must(tb, root.WriteBit(true))  // data
	must(tb, root.WriteBit(false)) // library
	must(tb, root.AddRef(code))
	must(tb, root.AddRef(data))

	codeHash, err := code.Hash256()
	must(tb, err)
	rootHash, err := root.Hash256()
	must(tb, err)

	return Wallet{
		Layout:     tonproof.WalletLayout{Version: version, CodeHash: codeHash, KeyOffsetBits: keyOffsetBits},
		PrivateKey: privateKey,
		PublicKey:  publicKey,
		Account:    ton.AccountID{Workchain: 0, Address: rootHash},
		StateInit:  encodeBase64(tb, root),
		Code:       encodeHex(tb, code),
		Data:       encodeHex(tb, data),
	}
}

// Layouts collects the layouts of wallets.
func Layouts(wallets ...Wallet) []tonproof.WalletLayout {
	layouts := make([]tonproof.WalletLayout, 0, len(wallets))
	for _, wallet := range wallets {
		layouts = append(layouts, wallet.Layout)
	}
	return layouts
}

// Address returns the raw address of the wallet.
func (wallet Wallet) Address() string {
	return wallet.Account.ToRaw()
}

// PublicKeyHex returns the hex public key.
func (wallet Wallet) PublicKeyHex() string {
	return hex.EncodeToString(wallet.PublicKey)
}

// Sign produces a ton_proof for domain, timestamp and payload.
func (wallet Wallet) Sign(domain string, timestamp uint64, payload string) tonproof.Proof {
	proofDomain := tonproof.Domain{LengthBytes: uint32(len(domain)), Value: domain}
	digest := tonproof.SigningDigest(tonproof.BuildMessage(wallet.Account, proofDomain, timestamp, payload))
	signature := ed25519.Sign(wallet.PrivateKey, digest[:])
	return tonproof.Proof{
		Timestamp: timestamp,
		Domain:    proofDomain,
		Payload:   payload,
		Signature: base64.StdEncoding.EncodeToString(signature),
		StateInit: wallet.StateInit,
	}
}

func encodeBase64(tb testing.TB, cell *boc.Cell) string {
	tb.Helper()
	raw, err := cell.ToBoc()
	must(tb, err)
	return base64.StdEncoding.EncodeToString(raw)
}

func encodeHex(tb testing.TB, cell *boc.Cell) string {
	tb.Helper()
	raw, err := cell.ToBoc()
	must(tb, err)
	return hex.EncodeToString(raw)
}

func must(tb testing.TB, err error) {
	tb.Helper()
	if err != nil {
		tb.Fatalf("prooftest: %v", err)
	}
}
