package tonproof

import (
	"crypto/ed25519"
	"errors"

	"github.com/tonkeeper/tongo/boc"
	"github.com/tonkeeper/tongo/wallet"
)

// WalletLayout maps a wallet contract code hash to the bit offset of the
// public key inside the contract's data cell.
type WalletLayout struct {
	Version       string
	CodeHash      [32]byte
	KeyOffsetBits int
}

var errLayoutNotMatched = errors.New("wallet layout not matched")

var standardWallets = []struct {
	name          string
	version       wallet.Version
	keyOffsetBits int
}{
	// seqno:uint32
	{name: "v1r1", version: wallet.V1R1, keyOffsetBits: 32},
	{name: "v1r2", version: wallet.V1R2, keyOffsetBits: 32},
	{name: "v1r3", version: wallet.V1R3, keyOffsetBits: 32},
	{name: "v2r1", version: wallet.V2R1, keyOffsetBits: 32},
	{name: "v2r2", version: wallet.V2R2, keyOffsetBits: 32},
	// seqno:uint32 subwallet:uint32
	{name: "v3r1", version: wallet.V3R1, keyOffsetBits: 64},
	{name: "v3r2", version: wallet.V3R2, keyOffsetBits: 64},
	{name: "v4r2", version: wallet.V4R2, keyOffsetBits: 64},
	// seqno:uint33 wallet_id:80 bits; the deployed code is a library cell
	{name: "v5beta", version: wallet.V5Beta, keyOffsetBits: 113},
	// is_signature_allowed:1 seqno:uint32 wallet_id:uint32
	{name: "v5r1", version: wallet.V5R1, keyOffsetBits: 65},
}

// DefaultWalletLayouts returns the standard wallet contracts v1r1 through v5r1,
// keyed by the hash of the code cell a deployed state-init carries.
func DefaultWalletLayouts() []WalletLayout {
	layouts := make([]WalletLayout, 0, len(standardWallets))
	for _, standard := range standardWallets {
		layouts = append(layouts, WalletLayout{
			Version:       standard.name,
			CodeHash:      [32]byte(wallet.GetCodeHashByVer(standard.version)),
			KeyOffsetBits: standard.keyOffsetBits,
		})
	}
	return layouts
}

// extractPublicKey matches code against layouts and reads the key from data.
func extractPublicKey(layouts []WalletLayout, code *boc.Cell, data *boc.Cell) (ed25519.PublicKey, string, error) {
	if code == nil || data == nil {
		return nil, "", errLayoutNotMatched
	}
	codeHash, err := code.Hash256()
	if err != nil {
		return nil, "", err
	}
	for _, layout := range layouts {
		if layout.CodeHash != codeHash {
			continue
		}
		data.ResetCounters()
		if err := data.Skip(layout.KeyOffsetBits); err != nil {
			return nil, layout.Version, err
		}
		key, err := data.ReadBytes(ed25519.PublicKeySize)
		if err != nil {
			return nil, layout.Version, err
		}
		return ed25519.PublicKey(key), layout.Version, nil
	}
	return nil, "", errLayoutNotMatched
}

// StateInit is the code and data of a parsed state-init cell.
type StateInit struct {
	Code *boc.Cell
	Data *boc.Cell
}

// ParseStateInit reads the StateInit TL-B layout:
// split_depth:(Maybe (## 5)) special:(Maybe TickTock) code:(Maybe ^Cell) data:(Maybe ^Cell) library:(Maybe ^Cell).
func ParseStateInit(root *boc.Cell) (StateInit, error) {
	root.ResetCounters()
	hasSplitDepth, err := root.ReadBit()
	if err != nil {
		return StateInit{}, err
	}
	if hasSplitDepth {
		if err := root.Skip(5); err != nil {
			return StateInit{}, err
		}
	}
	hasSpecial, err := root.ReadBit()
	if err != nil {
		return StateInit{}, err
	}
	if hasSpecial {
		if err := root.Skip(2); err != nil {
			return StateInit{}, err
		}
	}
	var stateInit StateInit
	hasCode, err := root.ReadBit()
	if err != nil {
		return StateInit{}, err
	}
	if hasCode {
		if stateInit.Code, err = root.NextRef(); err != nil {
			return StateInit{}, err
		}
	}
	hasData, err := root.ReadBit()
	if err != nil {
		return StateInit{}, err
	}
	if hasData {
		if stateInit.Data, err = root.NextRef(); err != nil {
			return StateInit{}, err
		}
	}
	return stateInit, nil
}
