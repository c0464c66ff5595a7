package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"securequery/paillier"
)

// ErrOracle wraps failures reported by or while reaching the oracle.
var ErrOracle = errors.New("oracle: request failed")

// DefaultTimeout bounds one oracle round trip.
const DefaultTimeout = 30 * time.Second

// Client is the query server's handle on the decryption oracle. It is
// the only path from ciphertext to plaintext billing values.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a client for the oracle at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// post sends a JSON body and decodes the response into out, surfacing
// the oracle's error body on non-200 statuses.
func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: encoding request: %v", ErrOracle, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOracle, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOracle, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var failure ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&failure); err == nil && failure.Error != "" {
			return fmt.Errorf("%w: %s", ErrOracle, failure.Error)
		}
		return fmt.Errorf("%w: status %d", ErrOracle, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding response: %v", ErrOracle, err)
	}
	return nil
}

// DecryptMany returns the raw plaintexts of a ciphertext batch.
func (c *Client) DecryptMany(ctx context.Context, cs []*paillier.EncryptedNumber) ([]int64, error) {
	var resp DecryptResponse
	err := c.post(ctx, "/decrypt", DecryptRequest{EncryptedData: toWire(cs)}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.DecryptedValues) != len(cs) {
		return nil, fmt.Errorf("%w: got %d values for %d ciphertexts",
			ErrOracle, len(resp.DecryptedValues), len(cs))
	}
	return resp.DecryptedValues, nil
}

// DecryptSum returns the corrected, scale-restored decryption of a
// reduced column ciphertext.
func (c *Client) DecryptSum(ctx context.Context, sum *paillier.EncryptedNumber) (int64, error) {
	var resp DecryptSumResponse
	err := c.post(ctx, "/decrypt_sum",
		DecryptSumRequest{EncryptedSum: (*hexutil.Big)(sum.Ciphertext)}, &resp)
	if err != nil {
		return 0, err
	}
	return resp.DecryptedSum, nil
}

// Compose asks the oracle to perform a homomorphic operation
// server-side and decrypt the result.
func (c *Client) Compose(ctx context.Context, operation string, cs []*paillier.EncryptedNumber, scalar *float64) (int64, error) {
	var resp HomomorphicResponse
	err := c.post(ctx, "/homomorphic_operations", HomomorphicRequest{
		Operation:       operation,
		EncryptedValues: toWire(cs),
		Scalar:          scalar,
	}, &resp)
	if err != nil {
		return 0, err
	}
	return resp.DecryptedResult, nil
}

// PublicKey fetches the oracle's public Paillier parameters.
func (c *Client) PublicKey(ctx context.Context) (*paillier.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/public_key", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOracle, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOracle, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrOracle, resp.StatusCode)
	}

	var body PublicKeyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decoding public key: %v", ErrOracle, err)
	}
	if body.N == nil || body.G == nil {
		return nil, fmt.Errorf("%w: incomplete public key", ErrOracle)
	}

	n := (*big.Int)(body.N)
	return &paillier.PublicKey{
		N:        n,
		NSquared: new(big.Int).Mul(n, n),
		G:        (*big.Int)(body.G),
		Scale:    body.Scale,
	}, nil
}

// Health checks whether the oracle is reachable.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOracle, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOracle, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrOracle, resp.StatusCode)
	}
	return nil
}
