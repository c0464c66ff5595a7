package bloom

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestAddLookupNoFalseNegatives(t *testing.T) {
	f := NewDefault()

	pairs := [][2]string{
		{"name", "john doe"},
		{"name", "Jane Smith"},
		{"medical_condition", "diabetes"},
		{"insurance_provider", "blue cross"},
	}
	for _, p := range pairs {
		f.Add(p[0], p[1])
	}
	for _, p := range pairs {
		require.True(t, f.Lookup(p[0], p[1]), "pair %v", p)
	}
}

func TestLookupIsCaseInsensitive(t *testing.T) {
	f := NewDefault()
	f.Add("name", "John Doe")

	require.True(t, f.Lookup("name", "john doe"))
	require.True(t, f.Lookup("Name", "JOHN DOE"))
}

func TestLookupMissing(t *testing.T) {
	f := NewDefault()
	f.Add("name", "john doe")

	require.False(t, f.Lookup("name", "nobody at all"))
	require.False(t, f.Lookup("doctor", "john doe"))
}

func TestDeterministicConstruction(t *testing.T) {
	a := NewDefault()
	b := NewDefault()

	sequence := [][2]string{
		{"name", "alice"},
		{"name", "bob"},
		{"hospital", "general"},
	}
	for _, p := range sequence {
		a.Add(p[0], p[1])
		b.Add(p[0], p[1])
	}

	require.True(t, a.Equal(b))
}

func TestSerializeMap(t *testing.T) {
	// Keys sort by their raw text before the result is lowercased.
	got := Serialize(map[string]interface{}{"B": "Two", "a": 1})
	require.Equal(t, "b:two,a:1", got)

	require.Equal(t, "name:john", Serialize("Name:John"))
	require.Equal(t, "42", Serialize(42))
}

func TestMultiLevelMembership(t *testing.T) {
	m := NewMultiLevelDefault()
	m.Add("name", "john doe")

	require.True(t, m.Lookup("name", "john doe"))
	require.False(t, m.Lookup("name", "jane roe"))

	// Every add populates all levels, so top-level membership implies
	// membership at every lower level.
	for i, level := range m.Levels() {
		require.True(t, level.Lookup("name", "john doe"), "level %d", i)
	}
}

func TestMultiLevelMonotonic(t *testing.T) {
	m := NewMultiLevel(3, DefaultDimensions(), DefaultNumHashes)

	words := []string{"alpha", "beta", "gamma", "delta"}
	for _, w := range words {
		m.Add("name", w)
	}
	for _, w := range words {
		if m.Lookup("name", w) {
			require.True(t, m.Levels()[0].Lookup("name", w))
		}
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bloom.json")

	f := NewDefault()
	f.Add("name", "john doe")
	f.Add("name", "jane smith")
	require.NoError(t, f.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.True(t, f.Equal(loaded))
	require.True(t, loaded.Lookup("name", "john doe"))
	require.Equal(t, f.Dimensions(), loaded.Dimensions())
	require.Equal(t, f.NumHashes(), loaded.NumHashes())
}

func TestLoadOrInitMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bloom.json")

	f, err := LoadOrInit(path, logrus.New())
	require.NoError(t, err)
	require.False(t, f.Lookup("name", "john doe"))

	// The fresh filter is persisted immediately.
	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestLoadOrInitCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bloom.json")

	f := NewDefault()
	f.Add("name", "john doe")
	require.NoError(t, f.Save(path))

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	recovered, err := LoadOrInit(path, logrus.New())
	require.NoError(t, err)
	require.False(t, recovered.Lookup("name", "john doe"))

	// Recovery re-persists an empty, loadable snapshot.
	reloaded, err := Load(path)
	require.NoError(t, err)
	require.True(t, recovered.Equal(reloaded))
}

func TestLoadRejectsShapeMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bloom.json")
	require.NoError(t, os.WriteFile(path,
		[]byte(`{"dimensions":[20,20,20],"num_hashes":14,"bit_array":[true,false]}`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}
