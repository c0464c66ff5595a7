package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"securequery/paillier"
)

const sampleCSV = `name,age,gender,blood_type,medical_condition,date_of_admission,doctor,hospital,insurance_provider,billing_amount,room_number,admission_type,discharge_date,medication,test_results,latitude,longitude
John Doe,45,Male,O+,Diabetes,2023-01-04,Dr. Lee,General,Blue Cross,1000,101,Urgent,2023-01-09,Metformin,Normal,10,10
Jane Smith,38,Female,A-,Asthma,2023-02-11,Dr. Wu,Mercy,Aetna,2000,204,Elective,2023-02-14,Albuterol,Normal,20,20
Sam Brown,52,Male,B+,Diabetes,2023-03-20,Dr. Lee,General,Blue Cross,3000,310,Emergency,2023-03-29,Insulin,Abnormal,30,30
`

func loadSample(t *testing.T) *Table {
	t.Helper()
	path := filepath.Join(t.TempDir(), "records.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0o644))
	table, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 3, table.Len())
	return table
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.csv"))
	require.Error(t, err)
}

func TestExactMatchNormalizes(t *testing.T) {
	table := loadSample(t)

	views, err := table.ExactMatch("name", "  JOHN DOE ")
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.Equal(t, "John Doe", views[0].Name)
	require.Equal(t, "Diabetes", views[0].MedicalCondition)
}

func TestExactMatchUnknownField(t *testing.T) {
	table := loadSample(t)

	_, err := table.ExactMatch("shoe_size", "42")
	require.ErrorIs(t, err, ErrUnknownField)
}

func TestExactMatchDeduplicates(t *testing.T) {
	table := loadSample(t)

	// Two diabetes rows with distinct projections both survive.
	views, err := table.ExactMatch("medical_condition", "diabetes")
	require.NoError(t, err)
	require.Len(t, views, 2)
}

func TestNearestOrdersAndBreaksTies(t *testing.T) {
	table := loadSample(t)

	views := table.Nearest(11, 11, 2)
	require.Len(t, views, 2)
	require.Equal(t, "John Doe", views[0].Name)
	require.Equal(t, "Jane Smith", views[1].Name)

	// k larger than the table clamps.
	all := table.Nearest(0, 0, 10)
	require.Len(t, all, 3)
}

func TestSelectMask(t *testing.T) {
	table := loadSample(t)

	views, err := table.SelectMask([]bool{false, true, true})
	require.NoError(t, err)
	require.Len(t, views, 2)
	require.Equal(t, "Jane Smith", views[0].Name)

	_, err = table.SelectMask([]bool{true})
	require.Error(t, err)
}

func TestEncryptBillingColumn(t *testing.T) {
	table := loadSample(t)

	pub, priv, err := paillier.GenerateKeyPair(512)
	require.NoError(t, err)
	require.NoError(t, table.EncryptBilling(pub))

	column := table.EncryptedBilling()
	require.Len(t, column, 3)

	// Stored encodings are the scaled amounts.
	got, err := priv.SafeDecrypt(column[1])
	require.NoError(t, err)
	require.Equal(t, int64(2000), got.Int64())
}

func TestAppendPersistsCSV(t *testing.T) {
	table := loadSample(t)
	path := filepath.Join(t.TempDir(), "records.csv")

	rec := Record{
		Name: "New Patient", Gender: "Female", MedicalCondition: "Flu",
		InsuranceProvider: "Aetna", BillingAmount: 500, Latitude: 5, Longitude: 5,
	}
	require.NoError(t, table.Append(rec, nil, path))
	require.Equal(t, 4, table.Len())

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 4, reloaded.Len())

	views, err := reloaded.ExactMatch("name", "new patient")
	require.NoError(t, err)
	require.Len(t, views, 1)
}
