package queryserver

import (
	"bytes"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Request metadata carrying the two credential tiers.
const (
	AuthorizationHeader = "Authorization"
	QueryTokenHeader    = "Query-Token"
)

// requireAccessToken rejects requests without a live access token.
func (s *Server) requireAccessToken(c *gin.Context) {
	accessTok := c.GetHeader(AuthorizationHeader)
	ok, err := s.tokens.ValidateAccess(c.Request.Context(), accessTok)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, "token store unavailable", err)
		return
	}
	if !ok {
		s.fail(c, http.StatusUnauthorized, "unauthorized access", nil)
		return
	}
	c.Next()
}

// requireQueryToken additionally validates the query token against the
// access token that minted it and against the request payload, when the
// token was bound to one. The body is restored for the handler.
func (s *Server) requireQueryToken(c *gin.Context) {
	accessTok := c.GetHeader(AuthorizationHeader)
	queryTok := c.GetHeader(QueryTokenHeader)

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		s.fail(c, http.StatusBadRequest, "unreadable request body", err)
		return
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))

	ok, err := s.tokens.ValidateQuery(c.Request.Context(), accessTok, queryTok, string(body))
	if err != nil {
		s.fail(c, http.StatusInternalServerError, "token store unavailable", err)
		return
	}
	if !ok {
		s.fail(c, http.StatusUnauthorized, "unauthorized query", nil)
		return
	}
	c.Next()
}
