// internal/app/suggestion_service.go
package app

import (
	"context"
	"fmt"
	"time"

	"gift_circle_bot/internal/domain/chat"
	"gift_circle_bot/internal/domain/cycle"
	"gift_circle_bot/internal/infra/webmeta"

	"github.com/sirupsen/logrus"
)

// Custom application-level errors for suggestions
var (
	ErrSuggestionLimit   = fmt.Errorf("suggestion limit reached (3 per user)")
	ErrSuggestionTooSoon = fmt.Errorf("please wait 1 minute between suggestions")
)

const (
	maxSuggestionsPerUser = 3
	suggestionSpacing     = 60 * time.Second
)

// MetaFetcher pulls best-effort title/price metadata from a suggested URL.
type MetaFetcher interface {
	Fetch(ctx context.Context, url string) webmeta.Meta
}

// SuggestionService handles /suggest: rate limiting, metadata scraping and
// posting the suggestion into the cycle thread.
type SuggestionService struct {
	cycles  cycle.Repository
	chat    chat.Client
	fetcher MetaFetcher
	logger  *logrus.Entry
	now     func() time.Time
}

func NewSuggestionService(cr cycle.Repository, client chat.Client, fetcher MetaFetcher, logger *logrus.Entry) *SuggestionService {
	return &SuggestionService{
		cycles:  cr,
		chat:    client,
		fetcher: fetcher,
		logger:  logger,
		now:     time.Now,
	}
}

// Suggest records a gift suggestion for the cycle behind threadID. Metadata
// fetch failures degrade to a title-less, price-less suggestion, never an
// error to the user.
func (s *SuggestionService) Suggest(ctx context.Context, threadID, suggesterID int64, url string) (*cycle.Suggestion, error) {
	c, err := s.cycles.GetByThreadID(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if suggesterID == c.CelebrantID {
		return nil, ErrCelebrantBarred
	}

	count, latest, err := s.cycles.SuggesterStats(ctx, c.ID, suggesterID)
	if err != nil {
		return nil, err
	}
	if count >= maxSuggestionsPerUser {
		return nil, ErrSuggestionLimit
	}
	if !latest.IsZero() && s.now().Sub(latest) < suggestionSpacing {
		return nil, ErrSuggestionTooSoon
	}

	meta := s.fetcher.Fetch(ctx, url)

	text := "Gift Suggestion"
	if meta.Title != "" {
		text = meta.Title
	}
	text += "\n" + url
	if meta.Price != "" {
		text += "\nPrice: " + meta.Price
	}
	messageID, err := s.chat.SendThreadMessage(ctx, threadID, text)
	if err != nil {
		return nil, fmt.Errorf("failed to post suggestion: %w", err)
	}

	suggestion := &cycle.Suggestion{
		CycleID:     c.ID,
		SuggesterID: suggesterID,
		URL:         url,
		Title:       nullString(meta.Title),
		Price:       nullString(meta.Price),
		MessageID:   nullInt64(messageID),
	}
	if err := s.cycles.InsertSuggestion(ctx, suggestion); err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"cycle_id":     c.ID,
		"suggester_id": suggesterID,
		"has_title":    meta.Title != "",
		"has_price":    meta.Price != "",
	}).Info("Suggestion recorded")
	return suggestion, nil
}
