package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// backendQuestion mirrors the backend's question record: five nullable
// option slots and an answer key that must never reach the test-taker.
type backendQuestion struct {
	ID            int     `json:"id"`
	Question      string  `json:"question"`
	Option1       *string `json:"option1"`
	Option2       *string `json:"option2"`
	Option3       *string `json:"option3"`
	Option4       *string `json:"option4"`
	Option5       *string `json:"option5"`
	CorrectAnswer *int    `json:"correctAnswer,omitempty"`
}

type questionSetResponse struct {
	Data struct {
		TimeLimitMinutes int               `json:"timeLimitMinutes"`
		TimeLimitSeconds int               `json:"timeLimitSeconds"`
		Questions        []backendQuestion `json:"questions"`
	} `json:"data"`
}

func (q backendQuestion) review() model.ReviewQuestion {
	rq := model.ReviewQuestion{
		Question:      model.Question{ID: q.ID, Text: q.Question},
		CorrectOption: q.CorrectAnswer,
	}
	for i, opt := range []*string{q.Option1, q.Option2, q.Option3, q.Option4, q.Option5} {
		if opt == nil || *opt == "" {
			continue
		}
		rq.Options = append(rq.Options, model.Option{Number: i + 1, Text: *opt})
	}
	return rq
}

// StripAnswerKey returns the taker view of review questions.
func StripAnswerKey(reviews []model.ReviewQuestion) []model.Question {
	out := make([]model.Question, 0, len(reviews))
	for _, r := range reviews {
		out = append(out, r.Question)
	}
	return out
}

// FetchReview loads the question set with its answer key. Only review
// contexts may use the result directly.
func (c *Client) FetchReview(ctx context.Context, src model.QuestionSource) ([]model.ReviewQuestion, int, error) {
	path, err := c.questionPath(src)
	if err != nil {
		return nil, 0, err
	}

	var resp questionSetResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, 0, fmt.Errorf("fetch questions: %w", err)
	}

	reviews := make([]model.ReviewQuestion, 0, len(resp.Data.Questions))
	for _, q := range resp.Data.Questions {
		reviews = append(reviews, q.review())
	}

	limit := resp.Data.TimeLimitSeconds
	if limit <= 0 && resp.Data.TimeLimitMinutes > 0 {
		limit = resp.Data.TimeLimitMinutes * 60
	}
	return reviews, limit, nil
}

// FetchQuestions loads the ordered question set of an assessment for an
// in-progress session, with the answer key removed.
func (c *Client) FetchQuestions(ctx context.Context, src model.QuestionSource) (model.QuestionSet, error) {
	reviews, limit, err := c.FetchReview(ctx, src)
	if err != nil {
		return model.QuestionSet{}, err
	}
	return model.QuestionSet{
		Questions:        StripAnswerKey(reviews),
		TimeLimitSeconds: limit,
	}, nil
}

func (c *Client) questionPath(src model.QuestionSource) (string, error) {
	switch {
	case src.QuestionGroupID != "" && src.CertificationID == "":
		return fmt.Sprintf(c.cfg.QuestionGroupPath, url.PathEscape(src.QuestionGroupID)), nil
	case src.CertificationID != "" && src.QuestionGroupID == "":
		return fmt.Sprintf(c.cfg.CertificationPath, url.PathEscape(src.CertificationID)), nil
	default:
		return "", ErrInvalidSource
	}
}
