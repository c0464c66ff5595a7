// Package paillier implements the additively homomorphic Paillier
// cryptosystem used to protect the billing column of the healthcare
// dataset. Ciphertexts support addition and scalar multiplication
// without access to the private key, so the query server can reduce
// an entire encrypted column to a single ciphertext and hand only
// that to the decryption oracle.
package paillier

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
)

// DefaultKeyBits is the modulus length used when no explicit key size
// is requested. 1024 bits keeps ciphertexts small enough to ship over
// JSON while leaving plenty of headroom for column sums.
const DefaultKeyBits = 1024

// ScalingFactor is the fixed-point divisor applied to billing amounts
// before encryption. Amounts are stored as floor(x/S) and restored as
// m*S after decryption, which keeps the sum of the whole column far
// below n/2.
const ScalingFactor = 1000

// encodingBase is the radix used for ciphertext exponents. A ciphertext
// at exponent e carries its plaintext multiplied by encodingBase^(-e).
const encodingBase = 16

var (
	// ErrNoOperands is returned when a homomorphic operation is
	// invoked with an empty operand list.
	ErrNoOperands = errors.New("paillier: at least one encrypted operand required")

	// ErrCipherRange is returned when a ciphertext integer falls
	// outside [0, n^2).
	ErrCipherRange = errors.New("paillier: ciphertext out of range")

	// ErrKeyGeneration is returned when parameter generation fails.
	// Callers treat this as fatal.
	ErrKeyGeneration = errors.New("paillier: key generation failed")
)

// PublicKey holds the public Paillier parameters shared by the query
// server and the decryption oracle.
type PublicKey struct {
	N        *big.Int // modulus, product of two primes
	NSquared *big.Int // n^2, ciphertext modulus
	G        *big.Int // generator, fixed to n+1
	Scale    int64    // fixed-point scaling factor
}

// PrivateKey holds the decryption parameters. Only the decryption
// oracle may construct or hold one of these.
type PrivateKey struct {
	Pub    *PublicKey
	lambda *big.Int // lcm(p-1, q-1)
	mu     *big.Int // (L(g^lambda mod n^2))^-1 mod n
}

// EncryptedNumber is a Paillier ciphertext together with its
// fixed-point exponent. Ciphertexts at different exponents must be
// aligned before they can be added.
type EncryptedNumber struct {
	Ciphertext *big.Int
	Exponent   int
}

// GenerateKeyPair produces a fresh Paillier keypair with a modulus of
// the given bit length. Zero or negative bits selects DefaultKeyBits.
func GenerateKeyPair(bits int) (*PublicKey, *PrivateKey, error) {
	if bits <= 0 {
		bits = DefaultKeyBits
	}

	one := big.NewInt(1)

	p, err := rand.Prime(rand.Reader, bits/2)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}
	q, err := rand.Prime(rand.Reader, bits/2)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}
	for p.Cmp(q) == 0 {
		q, err = rand.Prime(rand.Reader, bits/2)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
		}
	}

	n := new(big.Int).Mul(p, q)
	nSquared := new(big.Int).Mul(n, n)
	g := new(big.Int).Add(n, one)

	pMinus := new(big.Int).Sub(p, one)
	qMinus := new(big.Int).Sub(q, one)
	gcd := new(big.Int).GCD(nil, nil, pMinus, qMinus)
	lambda := new(big.Int).Mul(pMinus, qMinus)
	lambda.Div(lambda, gcd)

	pub := &PublicKey{
		N:        n,
		NSquared: nSquared,
		G:        g,
		Scale:    ScalingFactor,
	}

	// mu = (L(g^lambda mod n^2))^-1 mod n
	u := new(big.Int).Exp(g, lambda, nSquared)
	mu := new(big.Int).ModInverse(lFunction(u, n), n)
	if mu == nil {
		return nil, nil, fmt.Errorf("%w: lambda not invertible", ErrKeyGeneration)
	}

	priv := &PrivateKey{Pub: pub, lambda: lambda, mu: mu}
	return pub, priv, nil
}

// lFunction computes L(u) = (u - 1) / n.
func lFunction(u, n *big.Int) *big.Int {
	r := new(big.Int).Sub(u, big.NewInt(1))
	return r.Div(r, n)
}

// Encrypt produces a fresh ciphertext of m at exponent 0. The caller
// is expected to have applied fixed-point scaling already; use
// EncodeAmount for billing values.
func (pub *PublicKey) Encrypt(m *big.Int) (*EncryptedNumber, error) {
	if m == nil {
		return nil, fmt.Errorf("paillier: nil plaintext")
	}

	r, err := pub.randomUnit()
	if err != nil {
		return nil, err
	}

	// c = g^m * r^n mod n^2
	c := new(big.Int).Exp(pub.G, m, pub.NSquared)
	rn := new(big.Int).Exp(r, pub.N, pub.NSquared)
	c.Mul(c, rn)
	c.Mod(c, pub.NSquared)

	return &EncryptedNumber{Ciphertext: c, Exponent: 0}, nil
}

// randomUnit samples r uniformly from the multiplicative group Z*_n.
func (pub *PublicKey) randomUnit() (*big.Int, error) {
	gcd := new(big.Int)
	for {
		r, err := rand.Int(rand.Reader, pub.N)
		if err != nil {
			return nil, fmt.Errorf("paillier: sampling randomness: %w", err)
		}
		if r.Sign() == 0 {
			continue
		}
		if gcd.GCD(nil, nil, r, pub.N).Cmp(big.NewInt(1)) == 0 {
			return r, nil
		}
	}
}

// EncodeAmount applies fixed-point scaling to a billing amount,
// truncating toward zero. Fractions below the scaling factor are lost.
func (pub *PublicKey) EncodeAmount(amount float64) *big.Int {
	return big.NewInt(int64(amount) / pub.Scale)
}

// EncryptColumn encrypts a whole plaintext column, applying fixed-point
// scaling to every value.
func (pub *PublicKey) EncryptColumn(values []float64) ([]*EncryptedNumber, error) {
	out := make([]*EncryptedNumber, len(values))
	for i, v := range values {
		enc, err := pub.Encrypt(pub.EncodeAmount(v))
		if err != nil {
			return nil, fmt.Errorf("paillier: encrypting column value %d: %w", i, err)
		}
		out[i] = enc
	}
	return out, nil
}

// Validate checks that a ciphertext integer lies in [0, n^2).
func (pub *PublicKey) Validate(c *EncryptedNumber) error {
	if c == nil || c.Ciphertext == nil {
		return ErrCipherRange
	}
	if c.Ciphertext.Sign() < 0 || c.Ciphertext.Cmp(pub.NSquared) >= 0 {
		return ErrCipherRange
	}
	return nil
}

// AddEncrypted folds any number of ciphertexts into their homomorphic
// sum. Operands at differing exponents are re-encoded to the minimum
// exponent before the ciphertext product is taken.
func (pub *PublicKey) AddEncrypted(cs ...*EncryptedNumber) (*EncryptedNumber, error) {
	if len(cs) == 0 {
		return nil, ErrNoOperands
	}

	minExp := cs[0].Exponent
	for _, c := range cs {
		if err := pub.Validate(c); err != nil {
			return nil, err
		}
		if c.Exponent < minExp {
			minExp = c.Exponent
		}
	}

	acc := big.NewInt(1)
	for _, c := range cs {
		aligned, err := pub.decreaseExponent(c, minExp)
		if err != nil {
			return nil, err
		}
		acc.Mul(acc, aligned.Ciphertext)
		acc.Mod(acc, pub.NSquared)
	}

	return &EncryptedNumber{Ciphertext: acc, Exponent: minExp}, nil
}

// MulScalar multiplies the encrypted plaintext by an integer scalar via
// ciphertext exponentiation. Negative scalars are handled through the
// modular inverse of the ciphertext.
func (pub *PublicKey) MulScalar(c *EncryptedNumber, s *big.Int) (*EncryptedNumber, error) {
	if err := pub.Validate(c); err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("paillier: nil scalar")
	}

	base := c.Ciphertext
	exp := s
	if s.Sign() < 0 {
		inv := new(big.Int).ModInverse(base, pub.NSquared)
		if inv == nil {
			return nil, fmt.Errorf("paillier: ciphertext not invertible mod n^2")
		}
		base = inv
		exp = new(big.Int).Neg(s)
	}

	out := new(big.Int).Exp(base, exp, pub.NSquared)
	return &EncryptedNumber{Ciphertext: out, Exponent: c.Exponent}, nil
}

// MulScalarRat multiplies the encrypted plaintext by a rational scalar.
// The scalar is lifted to an integer at a lower exponent, so the result
// ciphertext records how many base-16 digits of precision were used.
func (pub *PublicKey) MulScalarRat(c *EncryptedNumber, s *big.Rat) (*EncryptedNumber, error) {
	if err := pub.Validate(c); err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("paillier: nil scalar")
	}
	if s.IsInt() {
		return pub.MulScalar(c, s.Num())
	}

	// Lift s to an integer by repeated multiplication with the
	// encoding base, capped so pathological denominators terminate.
	const maxDigits = 16
	lifted := new(big.Rat).Set(s)
	shift := 0
	base := big.NewRat(encodingBase, 1)
	for !lifted.IsInt() && shift < maxDigits {
		lifted.Mul(lifted, base)
		shift++
	}
	scalar := new(big.Int).Div(lifted.Num(), lifted.Denom())

	out, err := pub.MulScalar(c, scalar)
	if err != nil {
		return nil, err
	}
	out.Exponent = c.Exponent - shift
	return out, nil
}

// decreaseExponent re-encodes a ciphertext at a lower exponent by
// homomorphically multiplying the plaintext with base^(e - target).
func (pub *PublicKey) decreaseExponent(c *EncryptedNumber, target int) (*EncryptedNumber, error) {
	if target > c.Exponent {
		return nil, fmt.Errorf("paillier: cannot raise exponent %d to %d", c.Exponent, target)
	}
	if target == c.Exponent {
		return c, nil
	}
	factor := new(big.Int).Exp(
		big.NewInt(encodingBase),
		big.NewInt(int64(c.Exponent-target)),
		nil,
	)
	out, err := pub.MulScalar(c, factor)
	if err != nil {
		return nil, err
	}
	out.Exponent = target
	return out, nil
}

// Decrypt returns the raw plaintext of c modulo n, with no wraparound
// correction and no scale restoration.
func (priv *PrivateKey) Decrypt(c *EncryptedNumber) (*big.Int, error) {
	if err := priv.Pub.Validate(c); err != nil {
		return nil, err
	}

	// m = L(c^lambda mod n^2) * mu mod n
	u := new(big.Int).Exp(c.Ciphertext, priv.lambda, priv.Pub.NSquared)
	m := lFunction(u, priv.Pub.N)
	m.Mul(m, priv.mu)
	m.Mod(m, priv.Pub.N)
	return m, nil
}

// SafeDecrypt decrypts c and normalizes the result: raw plaintexts
// above n/2 are treated as wrapped negatives, negatives are folded back
// into the group, the value is clamped to zero, the ciphertext exponent
// is resolved and the fixed-point scale is restored. This recovers the
// original magnitude of column sums that approach the modulus.
func (priv *PrivateKey) SafeDecrypt(c *EncryptedNumber) (*big.Int, error) {
	m, err := priv.Decrypt(c)
	if err != nil {
		return nil, err
	}

	n := priv.Pub.N
	half := new(big.Int).Rsh(n, 1)
	if m.Cmp(half) > 0 {
		m.Sub(m, n)
	} else if m.Sign() < 0 {
		m.Add(m, n)
	}
	if m.Sign() < 0 {
		m.SetInt64(0)
	}

	if c.Exponent < 0 {
		div := new(big.Int).Exp(
			big.NewInt(encodingBase),
			big.NewInt(int64(-c.Exponent)),
			nil,
		)
		m.Quo(m, div)
	}

	return m.Mul(m, big.NewInt(priv.Pub.Scale)), nil
}
