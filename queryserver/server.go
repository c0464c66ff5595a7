// Package queryserver implements the authorized query surface over the
// encrypted healthcare dataset: exact match behind the Bloom pre-check,
// range queries over the oracle-decrypted billing column, plaintext
// nearest-neighbor search, and the homomorphic column sum. The package
// never touches the private key; everything encrypted goes through the
// oracle client.
package queryserver

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"securequery/bloom"
	"securequery/dataset"
	"securequery/monitor"
	"securequery/oracle"
	"securequery/paillier"
	"securequery/token"
)

// DefaultKNN is the neighbor count used when a KNN request omits k.
const DefaultKNN = 5

// Server wires the query endpoints to their collaborators.
type Server struct {
	tokens *token.Manager
	table  *dataset.Table
	index  *bloom.MultiLevelFilter
	pub    *paillier.PublicKey
	oracle *oracle.Client
	log    *logrus.Logger
	engine *gin.Engine
}

// NewServer builds the query service. The multi-level index is built
// over the table's name and billing columns before the first request.
func NewServer(
	tokens *token.Manager,
	table *dataset.Table,
	pub *paillier.PublicKey,
	oracleClient *oracle.Client,
	log *logrus.Logger,
) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}

	s := &Server{
		tokens: tokens,
		table:  table,
		index:  buildIndex(table),
		pub:    pub,
		oracle: oracleClient,
		log:    log,
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/health", s.handleHealth)

	authorized := engine.Group("/", s.requireAccessToken)
	queries := authorized.Group("/", s.requireQueryToken)
	queries.POST("/exact_match", s.handleExactMatch)
	queries.POST("/range_query", s.handleRangeQuery)
	queries.POST("/knn_query", s.handleKNNQuery)
	queries.POST("/homomorphic_sum", s.handleHomomorphicSum)
	authorized.POST("/decrypt_sum", s.handleDecryptSum)

	s.engine = engine
	return s
}

// buildIndex indexes the field-value pairs queries pre-check: patient
// names and the integral billing amounts.
func buildIndex(table *dataset.Table) *bloom.MultiLevelFilter {
	index := bloom.NewMultiLevelDefault()
	for _, rec := range table.Records() {
		index.Add("name", rec.Name)
		index.Add("billing_amount", strconv.FormatInt(int64(rec.BillingAmount), 10))
	}
	return index
}

// Router exposes the gin engine for serving and for tests.
func (s *Server) Router() *gin.Engine {
	return s.engine
}

// Run serves until the listener fails.
func (s *Server) Run(addr string) error {
	s.log.WithFields(logrus.Fields{
		"addr": addr,
		"rows": s.table.Len(),
	}).Info("query server listening")
	return s.engine.Run(addr)
}

// Index exposes the multi-level filter, used by tests.
func (s *Server) Index() *bloom.MultiLevelFilter {
	return s.index
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "running",
		"rows":      s.table.Len(),
		"resources": monitor.Collect(),
	})
}

// fail translates an error into the uniform error body, mapping the
// token store being down to a 500.
func (s *Server) fail(c *gin.Context, status int, msg string, err error) {
	if err != nil {
		if errors.Is(err, token.ErrStoreUnavailable) {
			status = http.StatusInternalServerError
			msg = "token store unavailable"
		}
		s.log.WithFields(logrus.Fields{
			"path":  c.FullPath(),
			"error": err,
		}).Error(msg)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
