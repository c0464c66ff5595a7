package oracle

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"securequery/paillier"
)

// Ciphertexts cross the trust boundary as 0x-prefixed hex quantities;
// the exponent stays implicit because every column ciphertext is minted
// at exponent zero.

// DecryptRequest asks for a batch of raw decryptions.
type DecryptRequest struct {
	EncryptedData []*hexutil.Big `json:"encrypted_data"`
}

// DecryptResponse carries the raw plaintexts, in request order.
type DecryptResponse struct {
	DecryptedValues []int64 `json:"decrypted_values"`
}

// DecryptSumRequest asks for the corrected decryption of a reduced
// column ciphertext.
type DecryptSumRequest struct {
	EncryptedSum *hexutil.Big `json:"encrypted_sum"`
}

// DecryptSumResponse carries the wraparound-corrected, scale-restored
// sum.
type DecryptSumResponse struct {
	DecryptedSum int64 `json:"decrypted_sum"`
}

// Operation names accepted by the compose-then-decrypt endpoint.
const (
	OpAdd       = "add"
	OpAddition  = "addition"
	OpMulScalar = "mul_scalar"
	OpMultiply  = "multiplication"
)

// HomomorphicRequest asks the oracle to compose ciphertexts server-side
// and decrypt the result.
type HomomorphicRequest struct {
	Operation       string         `json:"operation"`
	EncryptedValues []*hexutil.Big `json:"encrypted_values"`
	Scalar          *float64       `json:"scalar,omitempty"`
}

// HomomorphicResponse carries the decrypted composition result.
type HomomorphicResponse struct {
	DecryptedResult int64 `json:"decrypted_result"`
}

// PublicKeyResponse publishes the public Paillier parameters so the
// query server can encrypt and reduce without ever seeing the private
// key.
type PublicKeyResponse struct {
	N     *hexutil.Big `json:"n"`
	G     *hexutil.Big `json:"g"`
	Scale int64        `json:"scale"`
}

// ErrorResponse is the uniform error body across the oracle surface.
type ErrorResponse struct {
	Error string `json:"error"`
}

// toWire converts ciphertexts to their hex wire form.
func toWire(cs []*paillier.EncryptedNumber) []*hexutil.Big {
	out := make([]*hexutil.Big, len(cs))
	for i, c := range cs {
		out[i] = (*hexutil.Big)(c.Ciphertext)
	}
	return out
}

// fromWire reconstructs ciphertexts from their hex wire form.
func fromWire(values []*hexutil.Big) []*paillier.EncryptedNumber {
	out := make([]*paillier.EncryptedNumber, len(values))
	for i, v := range values {
		out[i] = &paillier.EncryptedNumber{Ciphertext: (*big.Int)(v)}
	}
	return out
}
