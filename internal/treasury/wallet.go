package treasury

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
)

// WalletClient talks to the custodian wallet service that actually moves
// funds. It is the external boundary of every payout and refund; a non-2xx
// answer is a settlement failure the caller must not swallow.
type WalletClient struct {
	BaseURL string
	Client  *http.Client
}

func NewWalletClient(baseURL string, client *http.Client) *WalletClient {
	return &WalletClient{BaseURL: baseURL, Client: client}
}

type transferRequest struct {
	Recipient string `json:"recipient"`
	Amount    int64  `json:"amount"`
}

func (w *WalletClient) Pay(recipient string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("negative transfer amount %d", amount)
	}
	if amount == 0 {
		return nil
	}

	body, err := json.Marshal(transferRequest{Recipient: recipient, Amount: amount})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/api/transfers", w.BaseURL)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create transfer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.Client.Do(req)
	if err != nil {
		return fmt.Errorf("wallet service error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("transfer to %s rejected: status %d", recipient, resp.StatusCode)
	}
	return nil
}
