package tonapi

import (
	"context"
	"net/url"

	"github.com/MarkoPoloResearchLab/tonboost/pkg/faults"
	"github.com/MarkoPoloResearchLab/tonboost/pkg/tonproof"
	"github.com/tonkeeper/tongo/ton"
)

type accountResponse struct {
	Address string `json:"address"`
	Status  string `json:"status"`
	Code    string `json:"code"`
	Data    string `json:"data"`
}

// AccountState fetches code and data of an account. Unknown accounts return
// faults.ErrNotFound.
func (client *Client) AccountState(ctx context.Context, account ton.AccountID) (tonproof.AccountState, error) {
	var response accountResponse
	err := client.getJSON(ctx, "/v2/blockchain/accounts/"+url.PathEscape(account.ToRaw()), &response)
	if isNotFound(err) {
		return tonproof.AccountState{}, faults.ErrNotFound
	}
	if err != nil {
		return tonproof.AccountState{}, err
	}
	return tonproof.AccountState{Status: response.Status, Code: response.Code, Data: response.Data}, nil
}
