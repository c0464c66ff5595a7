package paillier

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

// testKeyBits keeps keygen fast; the properties under test do not
// depend on full-size parameters.
const testKeyBits = 512

func testKeyPair(t *testing.T) (*PublicKey, *PrivateKey) {
	t.Helper()
	pub, priv, err := GenerateKeyPair(testKeyBits)
	require.NoError(t, err)
	return pub, priv
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	pub, priv := testKeyPair(t)

	for _, amount := range []float64{0, 1000, 2500, 123456} {
		enc, err := pub.Encrypt(pub.EncodeAmount(amount))
		require.NoError(t, err)

		got, err := priv.SafeDecrypt(enc)
		require.NoError(t, err)

		want := (int64(amount) / pub.Scale) * pub.Scale
		require.Equal(t, want, got.Int64(), "amount %v", amount)
	}
}

func TestEncryptionIsRandomized(t *testing.T) {
	pub, _ := testKeyPair(t)

	m := big.NewInt(42)
	a, err := pub.Encrypt(m)
	require.NoError(t, err)
	b, err := pub.Encrypt(m)
	require.NoError(t, err)

	require.NotEqual(t, 0, a.Ciphertext.Cmp(b.Ciphertext))
}

func TestHomomorphicAddition(t *testing.T) {
	pub, priv := testKeyPair(t)

	// Billing column 1000/2000/3000 stored as encodings 1/2/3; the
	// reduced ciphertext must decrypt to the full 6000.
	column := []float64{1000, 2000, 3000}
	encrypted, err := pub.EncryptColumn(column)
	require.NoError(t, err)

	sum, err := pub.AddEncrypted(encrypted...)
	require.NoError(t, err)

	got, err := priv.SafeDecrypt(sum)
	require.NoError(t, err)
	require.Equal(t, int64(6000), got.Int64())
}

func TestAddEncryptedRequiresOperands(t *testing.T) {
	pub, _ := testKeyPair(t)

	_, err := pub.AddEncrypted()
	require.ErrorIs(t, err, ErrNoOperands)
}

func TestAddEncryptedAlignsExponents(t *testing.T) {
	pub, priv := testKeyPair(t)

	a, err := pub.Encrypt(big.NewInt(4))
	require.NoError(t, err)
	b, err := pub.Encrypt(big.NewInt(6))
	require.NoError(t, err)

	// Push one operand to a lower exponent; the sum must still decode.
	half, err := pub.MulScalarRat(b, big.NewRat(1, 2))
	require.NoError(t, err)
	require.Less(t, half.Exponent, a.Exponent)

	sum, err := pub.AddEncrypted(a, half)
	require.NoError(t, err)

	got, err := priv.SafeDecrypt(sum)
	require.NoError(t, err)
	require.Equal(t, int64(7*pub.Scale), got.Int64())
}

func TestScalarMultiplication(t *testing.T) {
	pub, priv := testKeyPair(t)

	enc, err := pub.Encrypt(big.NewInt(7))
	require.NoError(t, err)

	for _, s := range []int64{0, 1, 3, 25} {
		scaled, err := pub.MulScalar(enc, big.NewInt(s))
		require.NoError(t, err)

		got, err := priv.SafeDecrypt(scaled)
		require.NoError(t, err)
		require.Equal(t, s*7*pub.Scale, got.Int64(), "scalar %d", s)
	}
}

func TestMulScalarRat(t *testing.T) {
	pub, priv := testKeyPair(t)

	enc, err := pub.Encrypt(big.NewInt(4))
	require.NoError(t, err)

	half, err := pub.MulScalarRat(enc, big.NewRat(1, 2))
	require.NoError(t, err)

	got, err := priv.SafeDecrypt(half)
	require.NoError(t, err)
	require.Equal(t, 2*pub.Scale, got.Int64())
}

func TestSafeDecryptWraparound(t *testing.T) {
	pub, priv := testKeyPair(t)

	// A plaintext just below n decrypts raw above n/2; the corrected
	// value is a small negative, which clamps to zero after scaling.
	nearN := new(big.Int).Sub(pub.N, big.NewInt(3))
	enc, err := pub.Encrypt(nearN)
	require.NoError(t, err)

	raw, err := priv.Decrypt(enc)
	require.NoError(t, err)
	half := new(big.Int).Rsh(pub.N, 1)
	require.Greater(t, raw.Cmp(half), 0)

	got, err := priv.SafeDecrypt(enc)
	require.NoError(t, err)
	require.Equal(t, int64(0), got.Int64())
}

func TestValidateRejectsOutOfRange(t *testing.T) {
	pub, _ := testKeyPair(t)

	bad := &EncryptedNumber{Ciphertext: new(big.Int).Add(pub.NSquared, big.NewInt(1))}
	require.ErrorIs(t, pub.Validate(bad), ErrCipherRange)

	neg := &EncryptedNumber{Ciphertext: big.NewInt(-1)}
	require.ErrorIs(t, pub.Validate(neg), ErrCipherRange)
}

func TestDistinctKeyMaterial(t *testing.T) {
	pubA, privA := testKeyPair(t)
	pubB, _ := testKeyPair(t)
	require.NotEqual(t, 0, pubA.N.Cmp(pubB.N))

	// A ciphertext under key B decrypts under key A to garbage, not
	// the original plaintext.
	enc, err := pubB.Encrypt(big.NewInt(9))
	require.NoError(t, err)
	if err := pubA.Validate(enc); err == nil {
		got, err := privA.Decrypt(enc)
		require.NoError(t, err)
		require.NotEqual(t, int64(9), got.Int64())
	}
}
