package handlers

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/auditgraph/auditgraph-backend/internal/data/graph"
	"github.com/auditgraph/auditgraph-backend/internal/domain"
	"github.com/auditgraph/auditgraph-backend/internal/query"
)

type QueryHandler struct {
	engine *query.Engine
}

func NewQueryHandler(engine *query.Engine) *QueryHandler {
	return &QueryHandler{engine: engine}
}

func (qh *QueryHandler) SemanticSearch(c *gin.Context) {
	var req struct {
		Query         string   `json:"query"`
		TopK          int      `json:"top_k"`
		DocumentID    string   `json:"document_id"`
		ExpandTypes   []string `json:"expand_types"`
		SkipExpansion bool     `json:"skip_expansion"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, 400, "invalid_body", err)
		return
	}

	var expand []domain.RelationshipType
	for _, raw := range req.ExpandTypes {
		if rt, ok := domain.ParseRelationshipType(raw); ok {
			expand = append(expand, rt)
		}
	}

	res, err := qh.engine.SemanticSearch(c.Request.Context(), query.SemanticSearchParams{
		Query:         req.Query,
		TopK:          req.TopK,
		DocumentID:    req.DocumentID,
		ExpandTypes:   expand,
		SkipExpansion: req.SkipExpansion,
	})
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, res)
}

func (qh *QueryHandler) EntityContext(c *gin.Context) {
	id := c.Param("id")
	opts := query.ContextOptions{
		Direction:        graph.Direction(c.Query("direction")),
		IncludeNeighbors: c.Query("neighbors") == "true",
	}
	if raw := c.Query("types"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if rt, ok := domain.ParseRelationshipType(t); ok {
				opts.Types = append(opts.Types, rt)
			}
		}
	}

	res, err := qh.engine.GetEntityWithContext(c.Request.Context(), id, opts)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, res)
}

func (qh *QueryHandler) PatternQuery(c *gin.Context) {
	var req struct {
		Label      string         `json:"label"`
		Properties map[string]any `json:"properties"`
		Limit      int            `json:"limit"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, 400, "invalid_body", err)
		return
	}
	res, err := qh.engine.QueryGraphPattern(c.Request.Context(), graph.PatternQuery{
		Label:      req.Label,
		Properties: req.Properties,
		Limit:      req.Limit,
	})
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, gin.H{"entities": res})
}

func (qh *QueryHandler) OntologyAnalytics(c *gin.Context) {
	snap, err := qh.engine.GetOntologyAnalytics(c.Request.Context())
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, snap)
}

func (qh *QueryHandler) Coverage(c *gin.Context) {
	name := c.Param("name")
	params := query.CoverageParams{}
	if raw := c.Query("threshold"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			params.Threshold = v
		}
	}
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			params.Limit = v
		}
	}

	res, err := qh.engine.Coverage(c.Request.Context(), name, params)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, gin.H{"entities": res, "count": len(res)})
}
