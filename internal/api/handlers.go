package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/sirupsen/logrus"

	"github.com/precise-hbr-server/internal/domain"
	"github.com/precise-hbr-server/internal/middleware"
	"github.com/precise-hbr-server/internal/service"
)

// CacheHeader reports whether a response was served from the result memo.
const CacheHeader = "X-Cache"

// InteractiveTradeoffRequest selects tradeoff factors directly.
type InteractiveTradeoffRequest struct {
	Factors map[string]bool `json:"factors"`
}

type bundleHandler func(c *gin.Context, bundle *domain.ClinicalBundle) (any, error)

func (s *Server) handlePreciseHBR(c *gin.Context) {
	s.serveBundle(c, func(c *gin.Context, bundle *domain.ClinicalBundle) (any, error) {
		return s.engine.AssessPreciseHBR(c.Request.Context(), bundle)
	})
}

func (s *Server) handleTradeoff(c *gin.Context) {
	s.serveBundle(c, func(c *gin.Context, bundle *domain.ClinicalBundle) (any, error) {
		return s.engine.AssessTradeoff(c.Request.Context(), bundle)
	})
}

func (s *Server) handleAssess(c *gin.Context) {
	s.serveBundle(c, func(c *gin.Context, bundle *domain.ClinicalBundle) (any, error) {
		return s.engine.Assess(c.Request.Context(), bundle)
	})
}

// serveBundle decodes a ClinicalBundle body, consults the memo and runs compute on a miss.
func (s *Server) serveBundle(c *gin.Context, compute bundleHandler) {
	body, err := c.GetRawData()
	if err != nil {
		s.respondError(c, err)
		return
	}

	key := memoKey(c.FullPath(), body)
	if cached, ok := s.memo.get(key); ok {
		c.Header(CacheHeader, "HIT")
		c.JSON(http.StatusOK, cached)
		return
	}

	var bundle domain.ClinicalBundle
	if err := binding.JSON.BindBody(body, &bundle); err != nil {
		s.respondBadRequest(c, err)
		return
	}
	if bundle.AsOf.IsZero() {
		bundle.AsOf = s.now().UTC()
	}

	if err := c.Request.Context().Err(); err != nil {
		s.respondError(c, err)
		return
	}

	result, err := compute(c, &bundle)
	if err != nil {
		s.respondError(c, err)
		return
	}

	s.memo.add(key, result)
	c.Header(CacheHeader, "MISS")
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleInteractiveTradeoff(c *gin.Context) {
	var req InteractiveTradeoffRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondBadRequest(c, err)
		return
	}

	c.JSON(http.StatusOK, s.engine.InteractiveTradeoff(c.Request.Context(), req.Factors))
}

func (s *Server) handleTradeoffFactors(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"factors": s.engine.TradeoffFactors()})
}

func (s *Server) handleCDSDiscovery(c *gin.Context) {
	c.JSON(http.StatusOK, s.cds.Discovery())
}

func (s *Server) handleCDSInvoke(c *gin.Context) {
	var req service.CDSHookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondBadRequest(c, err)
		return
	}
	if bundle := req.Prefetch.Bundle; bundle != nil && bundle.AsOf.IsZero() {
		bundle.AsOf = s.now().UTC()
	}

	resp, err := s.cds.Invoke(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) respondBadRequest(c *gin.Context, err error) {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusBadRequest, domain.NewEngineError(domain.ErrInvalidInput,
		"Request body is not valid JSON", err.Error(), c.GetString(middleware.CorrelationIDKey)))
}

// respondError maps engine errors onto HTTP status codes.
func (s *Server) respondError(c *gin.Context, err error) {
	requestID := c.GetString(middleware.CorrelationIDKey)

	var validationErr *domain.ValidationError
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, domain.NewEngineError(domain.ErrValidation,
			validationErr.Message, validationErr.Field, requestID))
	case errors.As(err, &maxBytesErr):
		c.JSON(http.StatusRequestEntityTooLarge, domain.NewEngineError(domain.ErrInvalidInput,
			"Request body too large", "", requestID))
	case errors.Is(err, service.ErrServiceNotFound):
		c.JSON(http.StatusNotFound, domain.NewEngineError(domain.ErrNotFound,
			"CDS service not found", c.Param("id"), requestID))
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		c.JSON(http.StatusServiceUnavailable, domain.NewEngineError(domain.ErrComputation,
			"Request deadline exceeded", "", requestID))
	default:
		s.logger.WithFields(logrus.Fields{
			"correlation_id": requestID,
			"path":           c.Request.URL.Path,
			"error":          err.Error(),
		}).Error("Request failed")
		c.JSON(http.StatusInternalServerError, domain.NewEngineError(domain.ErrInternalServer,
			"Internal server error", "", requestID))
	}
}
