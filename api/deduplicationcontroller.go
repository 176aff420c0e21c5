package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"digestbot/deduplication"
	"digestbot/types"
)

// maxCheckBatch bounds the articles accepted by one check request.
const maxCheckBatch = 512

// RegisterDeduplicationRoutes registers deduplication service endpoints.
func RegisterDeduplicationRoutes(r *gin.Engine, s *Server) {
	g := r.Group("/api/deduplication")
	g.POST("/check", s.handleCheck)
	g.GET("/count", s.handleCount)
	g.POST("/reload", s.handleReload)
}

// CheckRequest is a batch of articles to test against the index snapshot.
type CheckRequest struct {
	Articles []types.Article `json:"articles" binding:"required,min=1"`
}

// CheckResult is the verdict for one article.
type CheckResult struct {
	IsDuplicate      bool    `json:"is_duplicate"`
	SimilarityScore  float32 `json:"similarity_score"`
	MatchingPosition int     `json:"matching_position"`
}

// CheckResponse lists one result per requested article, in request order.
type CheckResponse struct {
	Results   []CheckResult `json:"results"`
	IndexSize int           `json:"index_size"`
	CheckedAt time.Time     `json:"checked_at"`
}

// CountResponse describes the loaded snapshot.
type CountResponse struct {
	deduplication.Header
	LoadedAt time.Time `json:"loaded_at"`
}

// handleCheck labels articles against the snapshot. Articles in one request are
// not compared with each other and nothing is added to the index.
func (s *Server) handleCheck(c *gin.Context) {
	var req CheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Articles) > maxCheckBatch {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "too many articles in one request"})
		return
	}

	texts := make([]string, len(req.Articles))
	for i, a := range req.Articles {
		texts[i] = a.ComparisonText()
	}

	idx, _ := s.current()
	decisions, err := s.dedup.CheckTexts(c.Request.Context(), idx, texts)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, deduplication.ErrEmbeddingFailure) {
			status = http.StatusBadGateway
		}
		s.logger.Error().Err(err).Int("articles", len(texts)).Msg("duplicate check failed")
		c.JSON(status, gin.H{"error": "failed to check duplicates: " + err.Error()})
		return
	}

	resp := CheckResponse{
		Results:   make([]CheckResult, len(decisions)),
		IndexSize: idx.Len(),
		CheckedAt: time.Now().UTC(),
	}
	for i, d := range decisions {
		resp.Results[i] = CheckResult{
			IsDuplicate:      d.Label == deduplication.LabelDuplicate,
			SimilarityScore:  d.Score,
			MatchingPosition: d.Match,
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleCount(c *gin.Context) {
	idx, loadedAt := s.current()
	c.JSON(http.StatusOK, CountResponse{Header: idx.Header(), LoadedAt: loadedAt})
}

func (s *Server) handleReload(c *gin.Context) {
	if err := s.Reload(); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, deduplication.ErrCorruptIndex) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": "failed to reload index: " + err.Error()})
		return
	}
	idx, loadedAt := s.current()
	c.JSON(http.StatusOK, CountResponse{Header: idx.Header(), LoadedAt: loadedAt})
}
