package services

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/omnifin/backoffice/pkg/apperrors"
	"github.com/omnifin/backoffice/pkg/models"
	"github.com/omnifin/backoffice/pkg/repositories"
)

// aiSearchLimit caps each result list of AISearch.
const aiSearchLimit = 5

// KnowledgeUpdate holds the fields to change; nil fields are left alone.
type KnowledgeUpdate struct {
	Title         *string
	Content       *string
	Category      *string
	Subcategory   *string
	Tags          []string
	IsActive      *bool
	Metadata      map[string]any
	ChangeSummary string
}

// AISearchResult is the combined knowledge and FAQ lookup used by the assistant UI.
type AISearchResult struct {
	Query            string                   `json:"query"`
	KnowledgeEntries []*models.KnowledgeEntry `json:"knowledge_entries"`
	FAQs             []*models.FAQ            `json:"faqs"`
}

// KnowledgeService manages versioned knowledge entries.
type KnowledgeService interface {
	Create(ctx context.Context, p models.Principal, entry *models.KnowledgeEntry) error
	Get(ctx context.Context, p models.Principal, id int64) (*models.KnowledgeEntry, error)
	List(ctx context.Context, p models.Principal, filter repositories.ContentFilter) ([]*models.KnowledgeEntry, error)
	// Update snapshots the current state as a version row before applying the change.
	Update(ctx context.Context, p models.Principal, id int64, update KnowledgeUpdate) (*models.KnowledgeEntry, error)
	Delete(ctx context.Context, p models.Principal, id int64) error
	Versions(ctx context.Context, p models.Principal, id int64) ([]*models.KnowledgeVersion, error)

	// AISearch matches active knowledge and FAQs shared with p's group.
	AISearch(ctx context.Context, p models.Principal, query string) (*AISearchResult, error)
}

type knowledgeService struct {
	repo     repositories.KnowledgeRepository
	faqRepo  repositories.FAQRepository
	activity ActivityService
	logger   *zap.Logger
}

func NewKnowledgeService(
	repo repositories.KnowledgeRepository,
	faqRepo repositories.FAQRepository,
	activity ActivityService,
	logger *zap.Logger,
) KnowledgeService {
	return &knowledgeService{
		repo:     repo,
		faqRepo:  faqRepo,
		activity: activity,
		logger:   logger.Named("knowledge"),
	}
}

var _ KnowledgeService = (*knowledgeService)(nil)

func (s *knowledgeService) Create(ctx context.Context, p models.Principal, entry *models.KnowledgeEntry) error {
	if err := validateKnowledge(entry); err != nil {
		return err
	}
	entry.GroupID = ownGroup(p, entry.GroupID)
	entry.CreatedBy = ptr(p.UserID)
	if entry.Tags == nil {
		entry.Tags = []string{}
	}

	if err := s.repo.Create(ctx, entry); err != nil {
		s.logger.Error("Failed to create knowledge entry", zap.Int64("user_id", p.UserID), zap.Error(err))
		return err
	}

	s.activity.Record(ctx, p, ActivityEvent{
		Action:       models.ActionCreate,
		ResourceType: "knowledge_entry",
		ResourceID:   ptr(entry.ID),
	})
	s.logger.Info("Knowledge entry created", zap.Int64("entry_id", entry.ID), zap.String("category", entry.Category))
	return nil
}

func (s *knowledgeService) Get(ctx context.Context, p models.Principal, id int64) (*models.KnowledgeEntry, error) {
	return s.repo.Get(ctx, p, id)
}

func (s *knowledgeService) List(ctx context.Context, p models.Principal, filter repositories.ContentFilter) ([]*models.KnowledgeEntry, error) {
	if filter.Category != "" && !models.Contains(models.ValidKnowledgeCategories, filter.Category) {
		return nil, validationError("invalid category %q", filter.Category)
	}
	return s.repo.List(ctx, p, filter)
}

func (s *knowledgeService) Update(ctx context.Context, p models.Principal, id int64, update KnowledgeUpdate) (*models.KnowledgeEntry, error) {
	entry, err := s.repo.Get(ctx, p, id)
	if err != nil {
		return nil, err
	}

	if update.Title != nil {
		entry.Title = *update.Title
	}
	if update.Content != nil {
		entry.Content = *update.Content
	}
	if update.Category != nil {
		entry.Category = *update.Category
	}
	if update.Subcategory != nil {
		entry.Subcategory = *update.Subcategory
	}
	if update.Tags != nil {
		entry.Tags = update.Tags
	}
	if update.IsActive != nil {
		entry.IsActive = *update.IsActive
	}
	if update.Metadata != nil {
		entry.Metadata = update.Metadata
	}
	if err := validateKnowledge(entry); err != nil {
		return nil, err
	}

	summary := update.ChangeSummary
	if summary == "" {
		summary = models.AutoVersionSummary
	}
	if err := s.repo.UpdateWithHistory(ctx, entry, ptr(p.UserID), summary); err != nil {
		s.logger.Error("Failed to update knowledge entry", zap.Int64("entry_id", id), zap.Error(err))
		return nil, err
	}

	s.activity.Record(ctx, p, ActivityEvent{
		Action:       models.ActionUpdate,
		ResourceType: "knowledge_entry",
		ResourceID:   ptr(id),
		Metadata:     map[string]any{"version": entry.Version},
	})
	s.logger.Info("Knowledge entry updated", zap.Int64("entry_id", id), zap.Int("version", entry.Version))
	return entry, nil
}

func (s *knowledgeService) Delete(ctx context.Context, p models.Principal, id int64) error {
	if _, err := s.repo.Get(ctx, p, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		s.logger.Error("Failed to delete knowledge entry", zap.Int64("entry_id", id), zap.Error(err))
		return err
	}
	s.activity.Record(ctx, p, ActivityEvent{
		Action:       models.ActionDelete,
		ResourceType: "knowledge_entry",
		ResourceID:   ptr(id),
	})
	return nil
}

func (s *knowledgeService) Versions(ctx context.Context, p models.Principal, id int64) ([]*models.KnowledgeVersion, error) {
	if _, err := s.repo.Get(ctx, p, id); err != nil {
		return nil, err
	}
	return s.repo.Versions(ctx, id)
}

func (s *knowledgeService) AISearch(ctx context.Context, p models.Principal, query string) (*AISearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, validationError("query is required")
	}

	entries, err := s.repo.SearchShared(ctx, p, query, aiSearchLimit)
	if err != nil {
		s.logger.Error("Knowledge search failed", zap.Error(err))
		return nil, err
	}
	faqs, err := s.faqRepo.SearchShared(ctx, p, query, aiSearchLimit)
	if err != nil {
		s.logger.Error("FAQ search failed", zap.Error(err))
		return nil, err
	}
	return &AISearchResult{Query: query, KnowledgeEntries: entries, FAQs: faqs}, nil
}

func validateKnowledge(entry *models.KnowledgeEntry) error {
	switch {
	case strings.TrimSpace(entry.Title) == "":
		return validationError("title is required")
	case strings.TrimSpace(entry.Content) == "":
		return validationError("content is required")
	case !models.Contains(models.ValidKnowledgeCategories, entry.Category):
		return validationError("invalid category %q", entry.Category)
	}
	return nil
}

// FAQUpdate holds the fields to change; nil fields are left alone.
type FAQUpdate struct {
	Question *string
	Answer   *string
	Category *string
	Tags     []string
	IsActive *bool
}

// FAQService manages frequently asked questions.
type FAQService interface {
	Create(ctx context.Context, p models.Principal, faq *models.FAQ) error
	// Get returns the FAQ and counts the view.
	Get(ctx context.Context, p models.Principal, id int64) (*models.FAQ, error)
	List(ctx context.Context, p models.Principal, filter repositories.ContentFilter) ([]*models.FAQ, error)
	Update(ctx context.Context, p models.Principal, id int64, update FAQUpdate) (*models.FAQ, error)
	Delete(ctx context.Context, p models.Principal, id int64) error
}

type faqService struct {
	repo     repositories.FAQRepository
	activity ActivityService
	logger   *zap.Logger
}

func NewFAQService(repo repositories.FAQRepository, activity ActivityService, logger *zap.Logger) FAQService {
	return &faqService{
		repo:     repo,
		activity: activity,
		logger:   logger.Named("faq"),
	}
}

var _ FAQService = (*faqService)(nil)

func (s *faqService) Create(ctx context.Context, p models.Principal, faq *models.FAQ) error {
	if strings.TrimSpace(faq.Question) == "" || strings.TrimSpace(faq.Answer) == "" {
		return validationError("question and answer are required")
	}
	if faq.Category == "" {
		faq.Category = "general"
	}
	if faq.Tags == nil {
		faq.Tags = []string{}
	}
	faq.GroupID = ownGroup(p, faq.GroupID)
	faq.CreatedBy = ptr(p.UserID)

	if err := s.repo.Create(ctx, faq); err != nil {
		s.logger.Error("Failed to create FAQ", zap.Error(err))
		return err
	}
	s.activity.Record(ctx, p, ActivityEvent{
		Action:       models.ActionCreate,
		ResourceType: "faq",
		ResourceID:   ptr(faq.ID),
	})
	return nil
}

func (s *faqService) Get(ctx context.Context, p models.Principal, id int64) (*models.FAQ, error) {
	faq, err := s.repo.Get(ctx, p, id)
	if err != nil {
		return nil, err
	}
	views, err := s.repo.IncrementViews(ctx, id)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		s.logger.Warn("Failed to count FAQ view", zap.Int64("faq_id", id), zap.Error(err))
		return faq, nil
	}
	faq.ViewCount = views
	return faq, nil
}

func (s *faqService) List(ctx context.Context, p models.Principal, filter repositories.ContentFilter) ([]*models.FAQ, error) {
	return s.repo.List(ctx, p, filter)
}

func (s *faqService) Update(ctx context.Context, p models.Principal, id int64, update FAQUpdate) (*models.FAQ, error) {
	faq, err := s.repo.Get(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if update.Question != nil {
		faq.Question = *update.Question
	}
	if update.Answer != nil {
		faq.Answer = *update.Answer
	}
	if update.Category != nil {
		faq.Category = *update.Category
	}
	if update.Tags != nil {
		faq.Tags = update.Tags
	}
	if update.IsActive != nil {
		faq.IsActive = *update.IsActive
	}
	if strings.TrimSpace(faq.Question) == "" || strings.TrimSpace(faq.Answer) == "" {
		return nil, validationError("question and answer are required")
	}

	if err := s.repo.Update(ctx, faq); err != nil {
		s.logger.Error("Failed to update FAQ", zap.Int64("faq_id", id), zap.Error(err))
		return nil, err
	}
	s.activity.Record(ctx, p, ActivityEvent{
		Action:       models.ActionUpdate,
		ResourceType: "faq",
		ResourceID:   ptr(id),
	})
	return faq, nil
}

func (s *faqService) Delete(ctx context.Context, p models.Principal, id int64) error {
	if _, err := s.repo.Get(ctx, p, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		s.logger.Error("Failed to delete FAQ", zap.Int64("faq_id", id), zap.Error(err))
		return err
	}
	s.activity.Record(ctx, p, ActivityEvent{
		Action:       models.ActionDelete,
		ResourceType: "faq",
		ResourceID:   ptr(id),
	})
	return nil
}
