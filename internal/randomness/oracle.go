package randomness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
)

// OracleClient issues the outbound randomness request. The oracle answers
// later through POST /oracle/fulfill; nothing blocks on this call beyond the
// request being accepted.
type OracleClient struct {
	BaseURL string
	KeyHash string
	Client  *http.Client
}

func NewOracleClient(baseURL, keyHash string, client *http.Client) *OracleClient {
	return &OracleClient{BaseURL: baseURL, KeyHash: keyHash, Client: client}
}

type randomnessRequest struct {
	RequestID string `json:"request_id"`
	KeyHash   string `json:"key_hash"`
	NumWords  int    `json:"num_words"`
}

func (o *OracleClient) RequestRandomness(requestID string) error {
	body, err := json.Marshal(randomnessRequest{
		RequestID: requestID,
		KeyHash:   o.KeyHash,
		NumWords:  1,
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/api/random", o.BaseURL)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create oracle request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.Client.Do(req)
	if err != nil {
		return fmt.Errorf("oracle service error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("oracle rejected request %s: status %d", requestID, resp.StatusCode)
	}
	return nil
}
