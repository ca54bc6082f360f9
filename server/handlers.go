package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/siherrmann/mailrank/core/retrieval"
	"github.com/siherrmann/mailrank/helper"
	"github.com/siherrmann/mailrank/model"
)

type rankRequest struct {
	Messages    []*model.Message `json:"messages"`
	Days        int              `json:"days,omitempty"`
	Folder      string           `json:"folder,omitempty"`
	Top         int              `json:"top,omitempty"`
	MinPriority float64          `json:"min_priority,omitempty"`
	Search      string           `json:"search,omitempty"`
}

type rankFilter struct {
	Days        int     `json:"days"`
	Folder      string  `json:"folder"`
	Top         int     `json:"top"`
	MinPriority float64 `json:"min_priority"`
	Search      string  `json:"search,omitempty"`
}

type rankResponse struct {
	Results          []*model.PriorityResult `json:"results"`
	Count            int                     `json:"count"`
	Failed           int                     `json:"failed"`
	FailedMessages   []string                `json:"failed_messages,omitempty"`
	Filter           rankFilter              `json:"filter"`
	ProcessingTimeMs int64                   `json:"processing_time_ms"`
}

func (s *Server) Rank(c *gin.Context) {
	var req rankRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	response, err := s.app.Rank(c.Request.Context(), req.Messages, model.RankRequest{
		Window:      time.Duration(req.Days) * 24 * time.Hour,
		Folder:      req.Folder,
		Top:         req.Top,
		MinPriority: req.MinPriority,
		Search:      req.Search,
	})
	if err != nil {
		s.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, rankResponse{
		Results:        response.Results,
		Count:          response.Count,
		Failed:         response.Failed,
		FailedMessages: response.FailedMessages,
		Filter: rankFilter{
			Days:        req.Days,
			Folder:      req.Folder,
			Top:         req.Top,
			MinPriority: req.MinPriority,
			Search:      req.Search,
		},
		ProcessingTimeMs: response.ProcessingTime.Milliseconds(),
	})
}

type ingestRequest struct {
	Prefix string `json:"prefix,omitempty"`
	Path   string `json:"path,omitempty"`
}

func (s *Server) Ingest(c *gin.Context) {
	if s.source == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no document source configured"})
		return
	}

	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if req.Path != "" {
		report, err := s.app.IngestDocument(c.Request.Context(), s.source, req.Path)
		if err != nil {
			s.handleError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
		return
	}

	report, err := s.app.IngestPrefix(c.Request.Context(), s.source, req.Prefix)
	if err != nil {
		s.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

type extractRequest struct {
	Path string `json:"path"`
}

func (s *Server) Extract(c *gin.Context) {
	if s.source == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no document source configured"})
		return
	}

	var req extractRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path is required"})
		return
	}

	result, err := s.app.ExtractDocument(c.Request.Context(), s.source, req.Path)
	if err != nil {
		s.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) Search(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter q is required"})
		return
	}

	options := retrieval.DefaultOptions()
	if top := c.Query("top"); top != "" {
		parsed, err := strconv.Atoi(top)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "top must be an integer"})
			return
		}
		options.TopK = parsed
	}
	options.ExpandRelated = c.Query("related") == "true"

	results, err := s.app.Search(c.Request.Context(), query, options)
	if err != nil {
		s.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "count": len(results)})
}

// handleError maps engine errors onto HTTP status codes
func (s *Server) handleError(c *gin.Context, err error) {
	s.log.Warn("Request failed",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.Any("error", err),
	)
	switch {
	case errors.Is(err, helper.ErrInvalidArgument), errors.Is(err, helper.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, helper.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, helper.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
