package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"
)

// BatchRecord is the argument set for the batch-level contract write.
type BatchRecord struct {
	UploadID     string `json:"upload_id"`
	DrugName     string `json:"drug_name"`
	BatchID      string `json:"batch_id"`
	Quantity     int    `json:"quantity"`
	Manufacturer string `json:"manufacturer"`
	ContentHash  string `json:"content_hash"`
	ExpiryEpoch  int64  `json:"expiry_epoch"`
}

// CodeRecord is the argument set for the per-code contract write.
type CodeRecord struct {
	CodeID       string `json:"code_id"`
	UploadID     string `json:"upload_id"`
	SerialNumber int    `json:"serial_number"`
}

// Receipt is the mined-transaction view returned by the ledger.
type Receipt struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
	GasUsed     uint64 `json:"gas_used"`
	GasPrice    uint64 `json:"gas_price"`
}

// ContractClient is the opaque ledger boundary. Submissions return the
// transaction hash; TransactionReceipt returns (nil, nil) while the
// transaction is not yet mined.
type ContractClient interface {
	SubmitBatchRecord(ctx context.Context, rec BatchRecord) (string, error)
	SubmitCodeRecord(ctx context.Context, rec CodeRecord) (string, error)
	TransactionReceipt(ctx context.Context, hash string) (*Receipt, error)
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int64         `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// rpcClient talks JSON-RPC to the ledger gateway fronting the registry
// contract. The signing credential travels as a bearer token; the gateway
// signs and broadcasts on our behalf.
type rpcClient struct {
	url        string
	contract   string
	privateKey string
	httpClient *http.Client
}

func newRPCClient(url, contract, privateKey string, timeout time.Duration) *rpcClient {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &rpcClient{
		url:        url,
		contract:   contract,
		privateKey: privateKey,
		httpClient: &http.Client{Timeout: timeout, Transport: transport},
	}
}

func (c *rpcClient) SubmitBatchRecord(ctx context.Context, rec BatchRecord) (string, error) {
	var hash string
	if err := c.call(ctx, "pharma_recordBatch", []interface{}{c.contract, rec}, &hash); err != nil {
		return "", err
	}
	return hash, nil
}

func (c *rpcClient) SubmitCodeRecord(ctx context.Context, rec CodeRecord) (string, error) {
	var hash string
	if err := c.call(ctx, "pharma_recordCode", []interface{}{c.contract, rec}, &hash); err != nil {
		return "", err
	}
	return hash, nil
}

func (c *rpcClient) TransactionReceipt(ctx context.Context, hash string) (*Receipt, error) {
	var receipt *Receipt
	if err := c.call(ctx, "pharma_getReceipt", []interface{}{hash}, &receipt); err != nil {
		return nil, err
	}
	return receipt, nil
}

func (c *rpcClient) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      time.Now().UnixNano(),
	})
	if err != nil {
		return fmt.Errorf("encoding rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.privateKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling ledger rpc: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ledger rpc returned status %d", resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("decoding rpc response: %w", err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("ledger rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if out != nil && len(rpcResp.Result) > 0 {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("decoding rpc result: %w", err)
		}
	}
	return nil
}
