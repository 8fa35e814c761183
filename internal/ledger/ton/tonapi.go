package ton

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"
)

// TonAPI reads balances through the TonAPI HTTP service.
type TonAPI struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewTonAPI(baseURL, token string) *TonAPI {
	if baseURL == "" {
		baseURL = "https://tonapi.io"
	}
	return &TonAPI{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 8 * time.Second},
	}
}

// Balance returns the native balance of address in nanotons.
func (t *TonAPI) Balance(ctx context.Context, addr string) (*big.Int, error) {
	var out struct {
		Balance json.Number `json:"balance"`
	}
	if err := t.get(ctx, "/v2/accounts/"+addr, &out); err != nil {
		return nil, err
	}
	return parseAmount(out.Balance.String())
}

// JettonBalance returns the owner's balance of the jetton with the given master address.
func (t *TonAPI) JettonBalance(ctx context.Context, owner, master string) (*big.Int, error) {
	var out struct {
		Balances []struct {
			Balance string `json:"balance"`
			Jetton  struct {
				Address string `json:"address"`
			} `json:"jetton"`
		} `json:"balances"`
	}
	if err := t.get(ctx, "/v2/accounts/"+owner+"/jettons", &out); err != nil {
		return nil, err
	}
	want, err := NormalizeAddress(master)
	if err != nil {
		return nil, fmt.Errorf("jetton master: %w", err)
	}
	for _, b := range out.Balances {
		if got, err := NormalizeAddress(b.Jetton.Address); err == nil && got == want {
			return parseAmount(b.Balance)
		}
	}
	return big.NewInt(0), nil
}

func (t *TonAPI) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tonapi http %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func parseAmount(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("invalid balance format %q", s)
	}
	return n, nil
}
