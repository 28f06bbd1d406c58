package handlers

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/omnifin/backoffice/pkg/audit"
	"github.com/omnifin/backoffice/pkg/auth"
	"github.com/omnifin/backoffice/pkg/models"
	"github.com/omnifin/backoffice/pkg/repositories"
	"github.com/omnifin/backoffice/pkg/services"
)

// ============================================================================
// Request/Response Types
// ============================================================================

// KnowledgeEntryRequest for POST /api/knowledge/entries
type KnowledgeEntryRequest struct {
	Title       string         `json:"title" validate:"required,max=200"`
	Content     string         `json:"content" validate:"required"`
	Category    string         `json:"category" validate:"required"`
	Subcategory string         `json:"subcategory" validate:"max=100"`
	Tags        []string       `json:"tags"`
	IsActive    *bool          `json:"is_active"`
	Metadata    map[string]any `json:"metadata"`
	GroupID     *int64         `json:"group_id"`
}

// KnowledgeEntryUpdateRequest for PUT /api/knowledge/entries/{id}
type KnowledgeEntryUpdateRequest struct {
	Title         *string        `json:"title" validate:"omitempty,max=200"`
	Content       *string        `json:"content"`
	Category      *string        `json:"category"`
	Subcategory   *string        `json:"subcategory" validate:"omitempty,max=100"`
	Tags          []string       `json:"tags"`
	IsActive      *bool          `json:"is_active"`
	Metadata      map[string]any `json:"metadata"`
	ChangeSummary string         `json:"change_summary"`
}

// PromptRequest for POST /api/knowledge/prompts
type PromptRequest struct {
	Name       string `json:"name" validate:"required,max=100"`
	Category   string `json:"category" validate:"required"`
	PromptType string `json:"prompt_type" validate:"required"`
	Content    string `json:"content" validate:"required"`
	IsActive   *bool  `json:"is_active"`
	GroupID    *int64 `json:"group_id"`
}

// PromptUpdateRequest for PUT /api/knowledge/prompts/{id}
type PromptUpdateRequest struct {
	Name          *string `json:"name" validate:"omitempty,max=100"`
	Category      *string `json:"category"`
	PromptType    *string `json:"prompt_type"`
	Content       *string `json:"content"`
	IsActive      *bool   `json:"is_active"`
	ChangeSummary string  `json:"change_summary"`
}

// PromptTestRequest for POST /api/knowledge/prompts/test
type PromptTestRequest struct {
	PromptID  int64          `json:"prompt_id" validate:"required"`
	Variables map[string]any `json:"variables"`
}

// FAQRequest for POST /api/knowledge/faq
type FAQRequest struct {
	Question string   `json:"question" validate:"required"`
	Answer   string   `json:"answer" validate:"required"`
	Category string   `json:"category" validate:"max=50"`
	Tags     []string `json:"tags"`
	IsActive *bool    `json:"is_active"`
	GroupID  *int64   `json:"group_id"`
}

// FAQUpdateRequest for PUT /api/knowledge/faq/{id}
type FAQUpdateRequest struct {
	Question *string  `json:"question"`
	Answer   *string  `json:"answer"`
	Category *string  `json:"category" validate:"omitempty,max=50"`
	Tags     []string `json:"tags"`
	IsActive *bool    `json:"is_active"`
}

// AISearchRequest for POST /api/knowledge/ai/search
type AISearchRequest struct {
	Query string `json:"query" validate:"required"`
}

// ============================================================================
// Handler
// ============================================================================

// KnowledgeHandler serves knowledge entries, prompts and FAQs.
type KnowledgeHandler struct {
	base
	knowledge services.KnowledgeService
	prompts   services.PromptService
	faqs      services.FAQService
}

// NewKnowledgeHandler creates a new knowledge handler.
func NewKnowledgeHandler(
	knowledge services.KnowledgeService,
	prompts services.PromptService,
	faqs services.FAQService,
	auditor *audit.SecurityAuditor,
	logger *zap.Logger,
) *KnowledgeHandler {
	return &KnowledgeHandler{
		base:      base{logger: logger, auditor: auditor},
		knowledge: knowledge,
		prompts:   prompts,
		faqs:      faqs,
	}
}

// RegisterRoutes registers the knowledge handler's routes on the given mux.
func (h *KnowledgeHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, scope ScopeMiddleware) {
	prefix := "/api/knowledge"
	authed := authMiddleware.RequireAuth

	mux.HandleFunc("GET "+prefix+"/entries", authed(scope(h.ListEntries)))
	mux.HandleFunc("POST "+prefix+"/entries", authed(scope(h.CreateEntry)))
	mux.HandleFunc("GET "+prefix+"/entries/search", authed(scope(h.SearchEntries)))
	mux.HandleFunc("GET "+prefix+"/entries/{id}", authed(scope(h.GetEntry)))
	mux.HandleFunc("PUT "+prefix+"/entries/{id}", authed(scope(h.UpdateEntry)))
	mux.HandleFunc("DELETE "+prefix+"/entries/{id}", authed(scope(h.DeleteEntry)))
	// Serves /entries/category/{category} and /entries/{id}/versions.
	mux.HandleFunc("GET "+prefix+"/entries/{id}/{sub}", authed(scope(h.subresource(h.EntriesByCategory, h.EntryVersions))))

	mux.HandleFunc("GET "+prefix+"/prompts", authed(scope(h.ListPrompts)))
	mux.HandleFunc("POST "+prefix+"/prompts", authed(scope(h.CreatePrompt)))
	mux.HandleFunc("GET "+prefix+"/prompts/search", authed(scope(h.SearchPrompts)))
	mux.HandleFunc("POST "+prefix+"/prompts/test", authed(scope(h.TestPrompt)))
	mux.HandleFunc("GET "+prefix+"/prompts/{id}", authed(scope(h.GetPrompt)))
	mux.HandleFunc("PUT "+prefix+"/prompts/{id}", authed(scope(h.UpdatePrompt)))
	mux.HandleFunc("DELETE "+prefix+"/prompts/{id}", authed(scope(h.DeletePrompt)))
	mux.HandleFunc("GET "+prefix+"/prompts/{id}/{sub}", authed(scope(h.subresource(h.PromptsByCategory, h.PromptVersions))))

	mux.HandleFunc("GET "+prefix+"/faq", authed(scope(h.ListFAQs)))
	mux.HandleFunc("POST "+prefix+"/faq", authed(scope(h.CreateFAQ)))
	mux.HandleFunc("GET "+prefix+"/faq/search", authed(scope(h.SearchFAQs)))
	mux.HandleFunc("GET "+prefix+"/faq/{id}", authed(scope(h.GetFAQ)))
	mux.HandleFunc("PUT "+prefix+"/faq/{id}", authed(scope(h.UpdateFAQ)))
	mux.HandleFunc("DELETE "+prefix+"/faq/{id}", authed(scope(h.DeleteFAQ)))

	mux.HandleFunc("POST "+prefix+"/ai/search", authed(scope(h.AISearch)))
}

// subresource dispatches the two overlapping shapes /category/{name} and
// /{id}/versions, which ServeMux cannot register side by side.
func (h *KnowledgeHandler) subresource(byCategory, versions http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.PathValue("id") == "category":
			r.SetPathValue("category", r.PathValue("sub"))
			byCategory(w, r)
		case r.PathValue("sub") == "versions":
			versions(w, r)
		default:
			h.fail(w, http.StatusNotFound, "not_found", "Resource not found")
		}
	}
}

// contentFilter reads category, q, is_active and paging from the query string.
func contentFilter(r *http.Request) repositories.ContentFilter {
	q := r.URL.Query()
	return repositories.ContentFilter{
		Category: q.Get("category"),
		Query:    strings.TrimSpace(q.Get("q")),
		Active:   parseOptionalBool(r, "is_active"),
		Page:     parsePage(r),
	}
}

// ---- knowledge entries ----

// ListEntries handles GET /api/knowledge/entries
func (h *KnowledgeHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	h.listEntries(w, r, contentFilter(r))
}

// SearchEntries handles GET /api/knowledge/entries/search?q=&category=
func (h *KnowledgeHandler) SearchEntries(w http.ResponseWriter, r *http.Request) {
	filter := contentFilter(r)
	if filter.Query == "" {
		h.fail(w, http.StatusBadRequest, "validation_error", "q is required")
		return
	}
	h.screenSearch(r, "knowledge_entries", "q")
	h.listEntries(w, r, filter)
}

// EntriesByCategory handles GET /api/knowledge/entries/category/{category}
func (h *KnowledgeHandler) EntriesByCategory(w http.ResponseWriter, r *http.Request) {
	filter := contentFilter(r)
	filter.Category = r.PathValue("category")
	h.listEntries(w, r, filter)
}

func (h *KnowledgeHandler) listEntries(w http.ResponseWriter, r *http.Request, filter repositories.ContentFilter) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	entries, err := h.knowledge.List(r.Context(), p, filter)
	if err != nil {
		h.serviceError(w, r, err, "List knowledge entries")
		return
	}
	h.ok(w, http.StatusOK, entries)
}

// CreateEntry handles POST /api/knowledge/entries
func (h *KnowledgeHandler) CreateEntry(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req KnowledgeEntryRequest
	if !h.decode(w, r, &req) {
		return
	}
	entry := &models.KnowledgeEntry{
		Title:       req.Title,
		Content:     req.Content,
		Category:    req.Category,
		Subcategory: req.Subcategory,
		Tags:        req.Tags,
		IsActive:    req.IsActive == nil || *req.IsActive,
		Metadata:    req.Metadata,
		GroupID:     req.GroupID,
	}
	if err := h.knowledge.Create(r.Context(), p, entry); err != nil {
		h.serviceError(w, r, err, "Create knowledge entry")
		return
	}
	h.ok(w, http.StatusCreated, entry)
}

// GetEntry handles GET /api/knowledge/entries/{id}
func (h *KnowledgeHandler) GetEntry(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := ParseID(w, r, "id", h.logger)
	if !ok {
		return
	}
	entry, err := h.knowledge.Get(r.Context(), p, id)
	if err != nil {
		h.serviceError(w, r, err, "Get knowledge entry")
		return
	}
	h.ok(w, http.StatusOK, entry)
}

// UpdateEntry handles PUT /api/knowledge/entries/{id}
func (h *KnowledgeHandler) UpdateEntry(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := ParseID(w, r, "id", h.logger)
	if !ok {
		return
	}
	var req KnowledgeEntryUpdateRequest
	if !h.decode(w, r, &req) {
		return
	}
	entry, err := h.knowledge.Update(r.Context(), p, id, services.KnowledgeUpdate{
		Title:         req.Title,
		Content:       req.Content,
		Category:      req.Category,
		Subcategory:   req.Subcategory,
		Tags:          req.Tags,
		IsActive:      req.IsActive,
		Metadata:      req.Metadata,
		ChangeSummary: req.ChangeSummary,
	})
	if err != nil {
		h.serviceError(w, r, err, "Update knowledge entry")
		return
	}
	h.ok(w, http.StatusOK, entry)
}

// DeleteEntry handles DELETE /api/knowledge/entries/{id}
func (h *KnowledgeHandler) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := ParseID(w, r, "id", h.logger)
	if !ok {
		return
	}
	if err := h.knowledge.Delete(r.Context(), p, id); err != nil {
		h.serviceError(w, r, err, "Delete knowledge entry")
		return
	}
	h.okMessage(w, "Knowledge entry deleted", nil)
}

// EntryVersions handles GET /api/knowledge/entries/{id}/versions
func (h *KnowledgeHandler) EntryVersions(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := ParseID(w, r, "id", h.logger)
	if !ok {
		return
	}
	versions, err := h.knowledge.Versions(r.Context(), p, id)
	if err != nil {
		h.serviceError(w, r, err, "List knowledge versions")
		return
	}
	h.ok(w, http.StatusOK, versions)
}

// ---- prompts ----

// ListPrompts handles GET /api/knowledge/prompts
func (h *KnowledgeHandler) ListPrompts(w http.ResponseWriter, r *http.Request) {
	h.listPrompts(w, r, contentFilter(r))
}

// SearchPrompts handles GET /api/knowledge/prompts/search?q=
func (h *KnowledgeHandler) SearchPrompts(w http.ResponseWriter, r *http.Request) {
	filter := contentFilter(r)
	if filter.Query == "" {
		h.fail(w, http.StatusBadRequest, "validation_error", "q is required")
		return
	}
	h.screenSearch(r, "prompts", "q")
	h.listPrompts(w, r, filter)
}

// PromptsByCategory handles GET /api/knowledge/prompts/category/{category}
func (h *KnowledgeHandler) PromptsByCategory(w http.ResponseWriter, r *http.Request) {
	filter := contentFilter(r)
	filter.Category = r.PathValue("category")
	h.listPrompts(w, r, filter)
}

func (h *KnowledgeHandler) listPrompts(w http.ResponseWriter, r *http.Request, filter repositories.ContentFilter) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	prompts, err := h.prompts.List(r.Context(), p, filter)
	if err != nil {
		h.serviceError(w, r, err, "List prompts")
		return
	}
	h.ok(w, http.StatusOK, prompts)
}

// CreatePrompt handles POST /api/knowledge/prompts
func (h *KnowledgeHandler) CreatePrompt(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req PromptRequest
	if !h.decode(w, r, &req) {
		return
	}
	prompt := &models.Prompt{
		Name:       req.Name,
		Category:   req.Category,
		PromptType: req.PromptType,
		Content:    req.Content,
		IsActive:   req.IsActive == nil || *req.IsActive,
		GroupID:    req.GroupID,
	}
	if err := h.prompts.Create(r.Context(), p, prompt); err != nil {
		h.serviceError(w, r, err, "Create prompt")
		return
	}
	h.ok(w, http.StatusCreated, prompt)
}

// GetPrompt handles GET /api/knowledge/prompts/{id}
func (h *KnowledgeHandler) GetPrompt(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := ParseID(w, r, "id", h.logger)
	if !ok {
		return
	}
	prompt, err := h.prompts.Get(r.Context(), p, id)
	if err != nil {
		h.serviceError(w, r, err, "Get prompt")
		return
	}
	h.ok(w, http.StatusOK, prompt)
}

// UpdatePrompt handles PUT /api/knowledge/prompts/{id}
func (h *KnowledgeHandler) UpdatePrompt(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := ParseID(w, r, "id", h.logger)
	if !ok {
		return
	}
	var req PromptUpdateRequest
	if !h.decode(w, r, &req) {
		return
	}
	prompt, err := h.prompts.Update(r.Context(), p, id, services.PromptUpdate{
		Name:          req.Name,
		Category:      req.Category,
		PromptType:    req.PromptType,
		Content:       req.Content,
		IsActive:      req.IsActive,
		ChangeSummary: req.ChangeSummary,
	})
	if err != nil {
		h.serviceError(w, r, err, "Update prompt")
		return
	}
	h.ok(w, http.StatusOK, prompt)
}

// DeletePrompt handles DELETE /api/knowledge/prompts/{id}
func (h *KnowledgeHandler) DeletePrompt(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := ParseID(w, r, "id", h.logger)
	if !ok {
		return
	}
	if err := h.prompts.Delete(r.Context(), p, id); err != nil {
		h.serviceError(w, r, err, "Delete prompt")
		return
	}
	h.okMessage(w, "Prompt deleted", nil)
}

// PromptVersions handles GET /api/knowledge/prompts/{id}/versions
func (h *KnowledgeHandler) PromptVersions(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := ParseID(w, r, "id", h.logger)
	if !ok {
		return
	}
	versions, err := h.prompts.Versions(r.Context(), p, id)
	if err != nil {
		h.serviceError(w, r, err, "List prompt versions")
		return
	}
	h.ok(w, http.StatusOK, versions)
}

// TestPrompt handles POST /api/knowledge/prompts/test
func (h *KnowledgeHandler) TestPrompt(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req PromptTestRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.prompts.Test(r.Context(), p, req.PromptID, req.Variables)
	if err != nil {
		h.serviceError(w, r, err, "Test prompt")
		return
	}
	h.ok(w, http.StatusOK, result)
}

// ---- FAQs ----

// ListFAQs handles GET /api/knowledge/faq
func (h *KnowledgeHandler) ListFAQs(w http.ResponseWriter, r *http.Request) {
	h.listFAQs(w, r, contentFilter(r))
}

// SearchFAQs handles GET /api/knowledge/faq/search?q=
func (h *KnowledgeHandler) SearchFAQs(w http.ResponseWriter, r *http.Request) {
	filter := contentFilter(r)
	if filter.Query == "" {
		h.fail(w, http.StatusBadRequest, "validation_error", "q is required")
		return
	}
	h.screenSearch(r, "faqs", "q")
	h.listFAQs(w, r, filter)
}

func (h *KnowledgeHandler) listFAQs(w http.ResponseWriter, r *http.Request, filter repositories.ContentFilter) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	faqs, err := h.faqs.List(r.Context(), p, filter)
	if err != nil {
		h.serviceError(w, r, err, "List FAQs")
		return
	}
	h.ok(w, http.StatusOK, faqs)
}

// CreateFAQ handles POST /api/knowledge/faq
func (h *KnowledgeHandler) CreateFAQ(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req FAQRequest
	if !h.decode(w, r, &req) {
		return
	}
	faq := &models.FAQ{
		Question: req.Question,
		Answer:   req.Answer,
		Category: req.Category,
		Tags:     req.Tags,
		IsActive: req.IsActive == nil || *req.IsActive,
		GroupID:  req.GroupID,
	}
	if err := h.faqs.Create(r.Context(), p, faq); err != nil {
		h.serviceError(w, r, err, "Create FAQ")
		return
	}
	h.ok(w, http.StatusCreated, faq)
}

// GetFAQ handles GET /api/knowledge/faq/{id}
func (h *KnowledgeHandler) GetFAQ(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := ParseID(w, r, "id", h.logger)
	if !ok {
		return
	}
	faq, err := h.faqs.Get(r.Context(), p, id)
	if err != nil {
		h.serviceError(w, r, err, "Get FAQ")
		return
	}
	h.ok(w, http.StatusOK, faq)
}

// UpdateFAQ handles PUT /api/knowledge/faq/{id}
func (h *KnowledgeHandler) UpdateFAQ(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := ParseID(w, r, "id", h.logger)
	if !ok {
		return
	}
	var req FAQUpdateRequest
	if !h.decode(w, r, &req) {
		return
	}
	faq, err := h.faqs.Update(r.Context(), p, id, services.FAQUpdate{
		Question: req.Question,
		Answer:   req.Answer,
		Category: req.Category,
		Tags:     req.Tags,
		IsActive: req.IsActive,
	})
	if err != nil {
		h.serviceError(w, r, err, "Update FAQ")
		return
	}
	h.ok(w, http.StatusOK, faq)
}

// DeleteFAQ handles DELETE /api/knowledge/faq/{id}
func (h *KnowledgeHandler) DeleteFAQ(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := ParseID(w, r, "id", h.logger)
	if !ok {
		return
	}
	if err := h.faqs.Delete(r.Context(), p, id); err != nil {
		h.serviceError(w, r, err, "Delete FAQ")
		return
	}
	h.okMessage(w, "FAQ deleted", nil)
}

// AISearch handles POST /api/knowledge/ai/search
func (h *KnowledgeHandler) AISearch(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req AISearchRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.screenValue(r, "ai_search", "query", req.Query)
	result, err := h.knowledge.AISearch(r.Context(), p, req.Query)
	if err != nil {
		h.serviceError(w, r, err, "AI search")
		return
	}
	h.ok(w, http.StatusOK, result)
}
