package queryserver

import (
	"fmt"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"

	"securequery/dataset"
	"securequery/paillier"
)

type exactMatchRequest struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

type rangeQueryRequest struct {
	Field    string   `json:"field"`
	MinValue *float64 `json:"min_value"`
	MaxValue *float64 `json:"max_value"`
}

type knnQueryRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	K         int      `json:"k"`
}

type decryptSumRequest struct {
	EncryptedSum *hexutil.Big `json:"encrypted_sum"`
}

type resultsResponse struct {
	Results []dataset.PublicView `json:"results"`
}

func (s *Server) handleExactMatch(c *gin.Context) {
	var req exactMatchRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Field == "" || req.Value == "" {
		s.fail(c, http.StatusBadRequest, "field and value are required", nil)
		return
	}

	if !s.index.Lookup(req.Field, req.Value) {
		s.fail(c, http.StatusNotFound, fmt.Sprintf("no exact match found for %s", req.Value), nil)
		return
	}

	views, err := s.table.ExactMatch(req.Field, req.Value)
	if err != nil {
		s.fail(c, http.StatusBadRequest, "unknown field", err)
		return
	}
	if len(views) == 0 {
		s.fail(c, http.StatusNotFound, fmt.Sprintf("no exact match found for %s", req.Value), nil)
		return
	}

	c.JSON(http.StatusOK, resultsResponse{Results: views})
}

func (s *Server) handleRangeQuery(c *gin.Context) {
	var req rangeQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil ||
		req.Field == "" || req.MinValue == nil || req.MaxValue == nil {
		s.fail(c, http.StatusBadRequest, "field, min and max values required", nil)
		return
	}

	// Endpoint heuristic: reject when neither boundary value appears
	// in the index. Values strictly between absent endpoints are
	// rejected too, which callers of this endpoint accept.
	minText := strconv.FormatInt(int64(*req.MinValue), 10)
	maxText := strconv.FormatInt(int64(*req.MaxValue), 10)
	if !s.index.Lookup(req.Field, minText) && !s.index.Lookup(req.Field, maxText) {
		s.fail(c, http.StatusNotFound, "no values found in the index for the given range", nil)
		return
	}

	column := s.table.EncryptedBilling()
	raw, err := s.oracle.DecryptMany(c.Request.Context(), column)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, "decryption failed", err)
		return
	}

	mask := make([]bool, len(raw))
	for i, m := range raw {
		v := float64(m * s.pub.Scale)
		mask[i] = v >= *req.MinValue && v <= *req.MaxValue
	}
	views, err := s.table.SelectMask(mask)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, "selecting rows", err)
		return
	}

	c.JSON(http.StatusOK, resultsResponse{Results: views})
}

func (s *Server) handleKNNQuery(c *gin.Context) {
	var req knnQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Latitude == nil || req.Longitude == nil {
		s.fail(c, http.StatusBadRequest, "latitude and longitude are required", nil)
		return
	}
	k := req.K
	if k <= 0 {
		k = DefaultKNN
	}

	views := s.table.Nearest(*req.Latitude, *req.Longitude, k)
	c.JSON(http.StatusOK, resultsResponse{Results: views})
}

func (s *Server) handleHomomorphicSum(c *gin.Context) {
	column := s.table.EncryptedBilling()
	if len(column) == 0 {
		s.fail(c, http.StatusNotFound, "encrypted column is empty", nil)
		return
	}

	sum, err := s.pub.AddEncrypted(column...)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, "homomorphic reduction failed", err)
		return
	}

	total, err := s.oracle.DecryptSum(c.Request.Context(), sum)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, "decryption failed", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"encrypted_sum": (*hexutil.Big)(sum.Ciphertext),
		"decrypted_sum": total,
	})
}

// handleDecryptSum forwards a caller-supplied reduced ciphertext to the
// oracle, preserving the proxy role of the original deployment.
func (s *Server) handleDecryptSum(c *gin.Context) {
	var req decryptSumRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.EncryptedSum == nil {
		s.fail(c, http.StatusBadRequest, "missing encrypted_sum", nil)
		return
	}

	enc := &paillier.EncryptedNumber{Ciphertext: (*big.Int)(req.EncryptedSum)}
	total, err := s.oracle.DecryptSum(c.Request.Context(), enc)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, "decryption failed", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"decrypted_sum": total})
}
