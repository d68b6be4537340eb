package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/memory"
	"github.com/fyrsmithlabs/recalld/internal/privacy"
	"github.com/fyrsmithlabs/recalld/internal/service"
	"github.com/fyrsmithlabs/recalld/internal/tier"
)

// ClassifyRequest is the request body for POST /api/v1/classify.
type ClassifyRequest struct {
	Context memory.RawContext `json:"context"`
}

func (s *Server) handleClassify(c echo.Context) error {
	var req ClassifyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return c.JSON(http.StatusOK, s.engine.ClassifyContext(req.Context))
}

// StoreRequest is the request body for POST /api/v1/memories.
type StoreRequest struct {
	UserID    string            `json:"user_id"`
	Content   string            `json:"content"`
	Response  string            `json:"response,omitempty"`
	Context   memory.RawContext `json:"context"`
	Timestamp time.Time         `json:"timestamp,omitempty"`
	Tags      []string          `json:"tags,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func (s *Server) handleStore(c echo.Context) error {
	var req StoreRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	rec, err := s.engine.StoreConversation(c.Request().Context(), service.StoreRequest{
		UserID:    req.UserID,
		Content:   req.Content,
		Response:  req.Response,
		Context:   req.Context,
		Timestamp: req.Timestamp,
		Tags:      req.Tags,
		Metadata:  req.Metadata,
	})
	if err != nil {
		s.logger.Warn(c.Request().Context(), "store failed", zap.Error(err))
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, rec)
}

// SearchRequest is the request body for POST /api/v1/memories/search.
type SearchRequest struct {
	UserID  string            `json:"user_id"`
	Query   string            `json:"query"`
	Context memory.RawContext `json:"context"`
	Limit   int               `json:"limit,omitempty"`
}

// SearchResponse is the response body for POST /api/v1/memories/search.
type SearchResponse struct {
	Memories []memory.Record    `json:"memories"`
	Info     tier.RetrievalInfo `json:"retrieval_info"`
}

func (s *Server) handleSearch(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	recs, info, err := s.engine.RetrieveRelevantMemories(
		c.Request().Context(), req.UserID, req.Query, req.Context, req.Limit)
	if err != nil {
		return httpError(err)
	}
	if recs == nil {
		recs = []memory.Record{}
	}
	return c.JSON(http.StatusOK, SearchResponse{Memories: recs, Info: info})
}

func (s *Server) handleRecent(c echo.Context) error {
	limit := queryInt(c, "limit", 0)
	recs, err := s.engine.GetRecentConversations(
		c.Request().Context(), c.Param("user_id"), limit)
	if err != nil {
		return httpError(err)
	}
	if recs == nil {
		recs = []memory.Record{}
	}
	return c.JSON(http.StatusOK, recs)
}

func (s *Server) handleGetPrivacy(c echo.Context) error {
	pref, err := s.engine.GetUserPrivacySettings(c.Request().Context(), c.Param("user_id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pref)
}

func (s *Server) handleUpdatePrivacy(c echo.Context) error {
	var update privacy.Update
	if err := c.Bind(&update); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	pref, err := s.engine.UpdatePrivacySettings(c.Request().Context(), c.Param("user_id"), update)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pref)
}

// ConsentRequest is the request body for POST /api/v1/users/:user_id/consent.
type ConsentRequest struct {
	Source memory.RawContext `json:"source"`
	Target memory.RawContext `json:"target"`
}

// ConsentTokenResponse carries the issued consent token.
type ConsentTokenResponse struct {
	Token string `json:"token"`
}

func (s *Server) handleRequestConsent(c echo.Context) error {
	var req ConsentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	token, err := s.engine.RequestConsent(
		c.Request().Context(), c.Param("user_id"), req.Source, req.Target)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, ConsentTokenResponse{Token: token})
}

// ConsentResolveRequest is the request body for POST /api/v1/consent/:token.
type ConsentResolveRequest struct {
	Response string `json:"response"`
}

func (s *Server) handleResolveConsent(c echo.Context) error {
	var req ConsentResolveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	decision, err := s.engine.ResolveConsent(
		c.Request().Context(), c.Param("token"), req.Response)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, decision)
}

func (s *Server) handleAnalyze(c echo.Context) error {
	analysis, err := s.engine.AnalyzeMemoryNetwork(c.Request().Context(), c.Param("user_id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, analysis)
}

func (s *Server) handleAudit(c echo.Context) error {
	entries, err := s.engine.GetAuditHistory(
		c.Request().Context(), c.QueryParam("user_id"), queryInt(c, "limit", 100))
	if err != nil {
		return httpError(err)
	}
	if entries == nil {
		entries = []privacy.AuditEntry{}
	}
	return c.JSON(http.StatusOK, entries)
}

func queryInt(c echo.Context, name string, def int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
