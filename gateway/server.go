// Package gateway implements the token-issuing and data-administration
// service: it mints both credential tiers, owns the persisted
// single-level Bloom filter, and exposes the administrative add/view
// surface over the dataset.
package gateway

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"securequery/bloom"
	"securequery/dataset"
	"securequery/monitor"
	"securequery/ratelimit"
	"securequery/token"
)

// Minting limits per client IP; generous for legitimate clients while
// capping credential-stuffing loops.
const (
	MintLimit  = 30
	MintWindow = time.Minute
)

// Config carries the gateway's file locations.
type Config struct {
	BloomPath   string
	DatasetPath string
}

// Server wires the gateway endpoints to their collaborators.
type Server struct {
	cfg     Config
	tokens  *token.Manager
	filter  *bloom.Filter
	table   *dataset.Table
	limiter *ratelimit.Limiter
	log     *logrus.Logger
	engine  *gin.Engine
}

// NewServer builds the gateway service around an already loaded filter
// and table.
func NewServer(cfg Config, tokens *token.Manager, filter *bloom.Filter, table *dataset.Table, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}

	s := &Server{
		cfg:     cfg,
		tokens:  tokens,
		filter:  filter,
		table:   table,
		limiter: ratelimit.New(MintLimit, MintWindow),
		log:     log,
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/health", s.handleHealth)
	engine.GET("/cache_test", s.handleCacheTest)
	engine.POST("/generate_token", s.handleGenerateToken)
	engine.POST("/generate_query_token", s.handleGenerateQueryToken)

	authorized := engine.Group("/", s.requireAccessToken)
	authorized.POST("/add_data", s.handleAddData)
	authorized.GET("/view_data", s.handleViewData)

	s.engine = engine
	return s
}

// Router exposes the gin engine for serving and for tests.
func (s *Server) Router() *gin.Engine {
	return s.engine
}

// Run serves until the listener fails.
func (s *Server) Run(addr string) error {
	s.log.WithField("addr", addr).Info("gateway listening")
	return s.engine.Run(addr)
}

// Filter exposes the persisted Bloom filter, used by tests.
func (s *Server) Filter() *bloom.Filter {
	return s.filter
}

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

func (s *Server) requireAccessToken(c *gin.Context) {
	ok, err := s.tokens.ValidateAccess(c.Request.Context(), c.GetHeader("Authorization"))
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

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "running",
		"resources": monitor.Collect(),
	})
}

// handleCacheTest round-trips a probe key through the token store.
func (s *Server) handleCacheTest(c *gin.Context) {
	ctx := c.Request.Context()
	if err := s.tokens.Ping(ctx); err != nil {
		s.fail(c, http.StatusInternalServerError, "token store is not reachable", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "token store connection successful"})
}

type generateTokenRequest struct {
	UserID string `json:"user_id"`
}

func (s *Server) handleGenerateToken(c *gin.Context) {
	if !s.limiter.Allow(c.ClientIP()) {
		s.fail(c, http.StatusTooManyRequests, "too many token requests", nil)
		return
	}

	var req generateTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" {
		s.fail(c, http.StatusBadRequest, "missing 'user_id'", nil)
		return
	}

	tok, err := s.tokens.MintAccess(c.Request.Context(), req.UserID)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, "minting token", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": tok})
}

type generateQueryTokenRequest struct {
	Query string `json:"query"`
}

func (s *Server) handleGenerateQueryToken(c *gin.Context) {
	accessTok := c.GetHeader("Authorization")
	if accessTok == "" {
		s.fail(c, http.StatusBadRequest, "missing Authorization header", nil)
		return
	}

	var req generateQueryTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Query == "" {
		s.fail(c, http.StatusBadRequest, "'query' field is required", nil)
		return
	}

	queryTok, err := s.tokens.MintQuery(c.Request.Context(), accessTok, req.Query)
	if err != nil {
		if errors.Is(err, token.ErrUnauthorized) {
			s.fail(c, http.StatusUnauthorized, "invalid or expired access token", nil)
			return
		}
		s.fail(c, http.StatusInternalServerError, "minting query token", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"query_token": queryTok})
}

func (s *Server) handleAddData(c *gin.Context) {
	var rec dataset.Record
	if err := c.ShouldBindJSON(&rec); err != nil {
		s.fail(c, http.StatusBadRequest, "invalid or missing data", nil)
		return
	}
	if rec.Name == "" {
		s.fail(c, http.StatusBadRequest, "missing required field: 'name'", nil)
		return
	}

	s.filter.Add("name", rec.Name)
	if err := s.filter.Save(s.cfg.BloomPath); err != nil {
		s.fail(c, http.StatusInternalServerError, "persisting bloom filter", err)
		return
	}

	if err := s.table.Append(rec, nil, s.cfg.DatasetPath); err != nil {
		s.fail(c, http.StatusInternalServerError, "persisting dataset", err)
		return
	}

	s.log.WithField("name", rec.Name).Info("record added")
	c.JSON(http.StatusOK, gin.H{"status": "data added successfully"})
}

func (s *Server) handleViewData(c *gin.Context) {
	c.JSON(http.StatusOK, s.table.Records())
}
