package ledger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"math/big"
	"sync"
	"sync/atomic"
)

// mockClient stands in when no signing credential is configured. It returns
// synthetic confirmed transactions with plausible gas and block fields so the
// rest of the pipeline behaves identically in development or with the ledger
// intentionally disabled.
type mockClient struct {
	mu       sync.Mutex
	receipts map[string]*Receipt
	block    atomic.Uint64
}

func newMockClient() *mockClient {
	c := &mockClient{receipts: make(map[string]*Receipt)}
	c.block.Store(18_000_000)
	return c
}

func (c *mockClient) SubmitBatchRecord(_ context.Context, _ BatchRecord) (string, error) {
	return c.mint(52_000)
}

func (c *mockClient) SubmitCodeRecord(_ context.Context, _ CodeRecord) (string, error) {
	return c.mint(34_000)
}

func (c *mockClient) TransactionReceipt(_ context.Context, hash string) (*Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.receipts[hash], nil
}

func (c *mockClient) mint(baseGas uint64) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	hash := "0x" + hex.EncodeToString(raw)

	receipt := &Receipt{
		TxHash:      hash,
		BlockNumber: c.block.Add(1),
		GasUsed:     baseGas + randBelow(20_000),
		GasPrice:    15_000_000_000 + randBelow(10_000_000_000),
	}

	c.mu.Lock()
	c.receipts[hash] = receipt
	c.mu.Unlock()

	return hash, nil
}

func randBelow(n uint64) uint64 {
	v, err := rand.Int(rand.Reader, new(big.Int).SetUint64(n))
	if err != nil {
		return 0
	}
	return v.Uint64()
}
