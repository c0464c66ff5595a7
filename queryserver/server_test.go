package queryserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"securequery/dataset"
	"securequery/oracle"
	"securequery/paillier"
	"securequery/token"
)

const sampleCSV = `name,age,gender,blood_type,medical_condition,date_of_admission,doctor,hospital,insurance_provider,billing_amount,room_number,admission_type,discharge_date,medication,test_results,latitude,longitude
John Doe,45,Male,O+,Diabetes,2023-01-04,Dr. Lee,General,Blue Cross,1000,101,Urgent,2023-01-09,Metformin,Normal,10,10
Jane Smith,38,Female,A-,Asthma,2023-02-11,Dr. Wu,Mercy,Aetna,2000,204,Elective,2023-02-14,Albuterol,Normal,20,20
Sam Brown,52,Male,B+,Diabetes,2023-03-20,Dr. Lee,General,Blue Cross,3000,310,Emergency,2023-03-29,Insulin,Abnormal,30,30
Ana Reyes,29,Female,AB+,Migraine,2023-04-02,Dr. Os,Mercy,Cigna,4000,115,Elective,2023-04-03,Sumatriptan,Normal,40,40
Li Wei,61,Male,O-,Arthritis,2023-05-15,Dr. Lee,General,Aetna,5000,222,Urgent,2023-05-25,Ibuprofen,Abnormal,50,50
`

type testEnv struct {
	server    *httptest.Server
	manager   *token.Manager
	store     *token.MemoryStore
	accessTok string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	pub, priv, err := paillier.GenerateKeyPair(512)
	require.NoError(t, err)

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	oracleSrv := httptest.NewServer(oracle.NewServer(priv, log).Router())
	t.Cleanup(oracleSrv.Close)

	path := filepath.Join(t.TempDir(), "records.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0o644))
	table, err := dataset.Load(path)
	require.NoError(t, err)
	require.NoError(t, table.EncryptBilling(pub))

	store := token.NewMemoryStore()
	manager := token.NewManager(store, log)

	qs := NewServer(manager, table, pub, oracle.NewClient(oracleSrv.URL, 0), log)
	srv := httptest.NewServer(qs.Router())
	t.Cleanup(srv.Close)

	accessTok, err := manager.MintAccess(context.Background(), "alice")
	require.NoError(t, err)

	return &testEnv{server: srv, manager: manager, store: store, accessTok: accessTok}
}

// do sends a query request carrying both credential tiers. The query
// token is minted over the exact body so payload binding holds.
func (e *testEnv) do(t *testing.T, path, body string) *http.Response {
	t.Helper()

	queryTok, err := e.manager.MintQuery(context.Background(), e.accessTok, body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, e.server.URL+path, bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", e.accessTok)
	req.Header.Set("Query-Token", queryTok)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeResults(t *testing.T, resp *http.Response) []dataset.PublicView {
	t.Helper()
	defer resp.Body.Close()
	var body resultsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.Results
}

func TestExactMatchFound(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, "/exact_match", `{"field":"name","value":"John Doe"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	results := decodeResults(t, resp)
	require.Len(t, results, 1)
	require.Equal(t, "John Doe", results[0].Name)
	require.Equal(t, "Diabetes", results[0].MedicalCondition)
}

func TestExactMatchUnknownValue(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, "/exact_match", `{"field":"name","value":"nobody here"}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestExactMatchRequiresTokens(t *testing.T) {
	env := newTestEnv(t)

	body := `{"field":"name","value":"John Doe"}`

	// No credentials at all.
	resp, err := http.Post(env.server.URL+"/exact_match", "application/json",
		bytes.NewBufferString(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Access token without a query token.
	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/exact_match",
		bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", env.accessTok)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestQueryTokenBoundToPayload(t *testing.T) {
	env := newTestEnv(t)

	minted := `{"field":"name","value":"John Doe"}`
	sent := `{"field":"name","value":"Jane Smith"}`

	queryTok, err := env.manager.MintQuery(context.Background(), env.accessTok, minted)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/exact_match",
		bytes.NewBufferString(sent))
	require.NoError(t, err)
	req.Header.Set("Authorization", env.accessTok)
	req.Header.Set("Query-Token", queryTok)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestExpiredQueryTokenRejected(t *testing.T) {
	env := newTestEnv(t)

	body := `{"field":"name","value":"John Doe"}`
	queryTok, err := env.manager.MintQuery(context.Background(), env.accessTok, body)
	require.NoError(t, err)

	base := time.Now()
	env.store.SetClock(func() time.Time { return base.Add(token.QueryTokenTTL + time.Second) })

	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/exact_match",
		bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", env.accessTok)
	req.Header.Set("Query-Token", queryTok)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRangeQueryMasksByBilling(t *testing.T) {
	env := newTestEnv(t)

	// 1000 is present in the index, so the endpoint heuristic admits
	// the query; rows with billing in [1000, 2500] come back.
	resp := env.do(t, "/range_query",
		`{"field":"billing_amount","min_value":1000,"max_value":2500}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	results := decodeResults(t, resp)
	require.Len(t, results, 2)
	require.Equal(t, "John Doe", results[0].Name)
	require.Equal(t, "Jane Smith", results[1].Name)
}

func TestRangeQueryAbsentEndpointsRejected(t *testing.T) {
	env := newTestEnv(t)

	// Neither 1500 nor 2500 was ever indexed, so the pre-check
	// rejects the range even though 2000 lies inside it.
	resp := env.do(t, "/range_query",
		`{"field":"billing_amount","min_value":1500,"max_value":2500}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestKNNQueryOrdersByDistance(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, "/knn_query", `{"latitude":12,"longitude":12,"k":3}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	results := decodeResults(t, resp)
	require.Len(t, results, 3)
	require.Equal(t, "John Doe", results[0].Name)
	require.Equal(t, "Jane Smith", results[1].Name)
	require.Equal(t, "Sam Brown", results[2].Name)
}

func TestKNNQueryDefaultsK(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, "/knn_query", `{"latitude":0,"longitude":0}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, decodeResults(t, resp), DefaultKNN)
}

func TestHomomorphicSum(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, "/homomorphic_sum", `{}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		DecryptedSum int64 `json:"decrypted_sum"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, int64(15000), body.DecryptedSum)
}

func TestIndexCoversNamesAndBilling(t *testing.T) {
	pub, _, err := paillier.GenerateKeyPair(512)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "records.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0o644))
	table, err := dataset.Load(path)
	require.NoError(t, err)

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	qs := NewServer(token.NewManager(token.NewMemoryStore(), log), table, pub, nil, log)

	require.True(t, qs.Index().Lookup("name", "john doe"))
	require.True(t, qs.Index().Lookup("billing_amount", "3000"))
	require.False(t, qs.Index().Lookup("name", "unknown person"))
}
