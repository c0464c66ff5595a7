// Package oracle implements the decryption oracle: the only trust
// domain holding the Paillier private key. It exposes batch decryption,
// corrected sum decryption and a compose-then-decrypt operation, plus
// the client the query server uses to reach them. Each request moves
// received -> validated -> computed -> decrypted -> responded; a
// failure at any stage returns an error without leaking intermediate
// plaintext.
package oracle

import (
	"fmt"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"securequery/monitor"
	"securequery/paillier"
)

// Server holds the private key and serves the decryption surface.
type Server struct {
	priv   *paillier.PrivateKey
	log    *logrus.Logger
	engine *gin.Engine
}

// NewServer builds the oracle around its private key.
func NewServer(priv *paillier.PrivateKey, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{priv: priv, log: log}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/health", s.handleHealth)
	engine.GET("/public_key", s.handlePublicKey)
	engine.POST("/decrypt", s.handleDecrypt)
	engine.POST("/decrypt_sum", s.handleDecryptSum)
	engine.POST("/homomorphic_operations", s.handleHomomorphicOperations)

	s.engine = engine
	return s
}

// Router exposes the gin engine for serving and for tests.
func (s *Server) Router() *gin.Engine {
	return s.engine
}

// Run serves until the listener fails.
func (s *Server) Run(addr string) error {
	s.log.WithField("addr", addr).Info("decryption oracle listening")
	return s.engine.Run(addr)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "running",
		"resources": monitor.Collect(),
	})
}

func (s *Server) handlePublicKey(c *gin.Context) {
	pub := s.priv.Pub
	c.JSON(http.StatusOK, PublicKeyResponse{
		N:     (*hexutil.Big)(pub.N),
		G:     (*hexutil.Big)(pub.G),
		Scale: pub.Scale,
	})
}

func (s *Server) handleDecrypt(c *gin.Context) {
	var req DecryptRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.EncryptedData == nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid or missing 'encrypted_data', expected a list"})
		return
	}

	values := make([]int64, 0, len(req.EncryptedData))
	for i, enc := range fromWire(req.EncryptedData) {
		m, err := s.priv.Decrypt(enc)
		if err != nil {
			s.log.WithFields(logrus.Fields{
				"position": i,
				"error":    err,
			}).Error("batch decryption failed")
			c.JSON(http.StatusInternalServerError, ErrorResponse{
				Error: fmt.Sprintf("failed to decrypt value at position %d", i),
			})
			return
		}
		values = append(values, m.Int64())
	}

	c.JSON(http.StatusOK, DecryptResponse{DecryptedValues: values})
}

func (s *Server) handleDecryptSum(c *gin.Context) {
	var req DecryptSumRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.EncryptedSum == nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "missing encrypted_sum"})
		return
	}

	enc := &paillier.EncryptedNumber{Ciphertext: (*big.Int)(req.EncryptedSum)}
	sum, err := s.priv.SafeDecrypt(enc)
	if err != nil {
		s.log.WithField("error", err).Error("sum decryption failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "decryption failed"})
		return
	}

	c.JSON(http.StatusOK, DecryptSumResponse{DecryptedSum: sum.Int64()})
}

func (s *Server) handleHomomorphicOperations(c *gin.Context) {
	var req HomomorphicRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.EncryptedValues) == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid or missing 'encrypted_values', expected a list"})
		return
	}

	operands := fromWire(req.EncryptedValues)
	pub := s.priv.Pub
	for i, op := range operands {
		if err := pub.Validate(op); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: fmt.Sprintf("invalid encrypted value at position %d", i),
			})
			return
		}
	}

	var (
		composed *paillier.EncryptedNumber
		err      error
	)
	switch req.Operation {
	case OpAdd, OpAddition:
		composed, err = pub.AddEncrypted(operands...)
	case OpMulScalar, OpMultiply:
		if req.Scalar == nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "missing 'scalar' for multiplication"})
			return
		}
		composed, err = pub.MulScalarRat(operands[0], new(big.Rat).SetFloat64(*req.Scalar))
	default:
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid operation, supported: 'add', 'mul_scalar'",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "homomorphic composition failed"})
		return
	}

	result, err := s.priv.SafeDecrypt(composed)
	if err != nil {
		s.log.WithField("error", err).Error("composed decryption failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "decryption failed"})
		return
	}

	c.JSON(http.StatusOK, HomomorphicResponse{DecryptedResult: result.Int64()})
}
