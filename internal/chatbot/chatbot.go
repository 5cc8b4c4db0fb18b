// Package chatbot answers questions from the per-theme canned tables and
// enforces the per-user question quota.
package chatbot

import (
	"context"
	"strings"

	"github.com/Tyrowin/portalchat/internal/common"
	"github.com/Tyrowin/portalchat/internal/logging"
	"github.com/Tyrowin/portalchat/internal/models"
	"github.com/Tyrowin/portalchat/internal/stats"
	"github.com/Tyrowin/portalchat/internal/store"
)

const fallbackAnswer = "Sorry, I don't have an answer for that yet."

// Answer is the reply to one question.
type Answer struct {
	Text               string `json:"answer"`
	RemainingQuestions int    `json:"remainingQuestions"`
	LimitReached       bool   `json:"limitReached,omitempty"`
}

type Service struct {
	store  *store.Store
	limit  int
	logger logging.Logger
}

func NewService(st *store.Store, limit int, logger logging.Logger) *Service {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Service{store: st, limit: limit, logger: logger.With("module", "chatbot")}
}

// Ask answers question for userID. Once the user has used up the quota the
// limit-reached text is returned and nothing is written.
func (s *Service) Ask(ctx context.Context, userID int64, question string) (Answer, error) {
	var out Answer

	err := s.store.Update(ctx, func(doc *models.Document) error {
		u := doc.UserByID(userID)
		if u == nil {
			return common.ErrUnauthorized
		}

		if u.ChatbotQuestionCount >= s.limit {
			out = Answer{Text: limitReached(doc, u.SelectedTheme), LimitReached: true}
			return store.ErrSkipWrite
		}

		u.ChatbotQuestionCount++
		if err := stats.Increment(&doc.Statistics, stats.ChatbotQueries, 1); err != nil {
			return err
		}

		out = Answer{
			Text:               Lookup(doc, u.SelectedTheme, question),
			RemainingQuestions: s.limit - u.ChatbotQuestionCount,
		}
		return nil
	})
	if err != nil {
		return Answer{}, err
	}

	s.logger.Debug(ctx, "chatbot question answered", "user_id", userID, "limit_reached", out.LimitReached)
	return out, nil
}

// Normalize lower-cases and trims a question.
func Normalize(question string) string {
	return strings.ToLower(strings.TrimSpace(question))
}

// Lookup searches the theme table, then the default table, then falls back
// to the theme's and then the default no-answer text.
func Lookup(doc *models.Document, themeID, question string) string {
	q := Normalize(question)
	tables := doc.Chatbot.Responses

	if a, ok := tables[themeID].Questions[q]; ok {
		return a
	}
	if a, ok := tables[models.DefaultThemeID].Questions[q]; ok {
		return a
	}
	if t := tables[themeID].NoAnswer; t != "" {
		return t
	}
	if t := tables[models.DefaultThemeID].NoAnswer; t != "" {
		return t
	}
	return fallbackAnswer
}

func limitReached(doc *models.Document, themeID string) string {
	tables := doc.Chatbot.Responses
	if t := tables[themeID].LimitReached; t != "" {
		return t
	}
	if t := tables[models.DefaultThemeID].LimitReached; t != "" {
		return t
	}
	return "You have reached the question limit."
}
