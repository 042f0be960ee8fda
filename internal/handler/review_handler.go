package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/gateway"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

// ReviewFetcher loads a question set together with its answer key.
type ReviewFetcher interface {
	FetchReview(ctx context.Context, src model.QuestionSource) ([]model.ReviewQuestion, int, error)
}

// ReviewHandler serves the answer-key view to proctors.
type ReviewHandler struct {
	reviews ReviewFetcher
	log     zerolog.Logger
}

// NewReviewHandler creates a new ReviewHandler.
func NewReviewHandler(reviews ReviewFetcher, log zerolog.Logger) *ReviewHandler {
	return &ReviewHandler{
		reviews: reviews,
		log:     log.With().Str("component", "review_handler").Logger(),
	}
}

type reviewResponse struct {
	Questions        []model.ReviewQuestion `json:"questions"`
	TimeLimitSeconds int                    `json:"time_limit_seconds"`
}

// GetReview godoc
// GET /api/v1/proctor/review?question_group_id=|certification_id=
func (h *ReviewHandler) GetReview(c *gin.Context) {
	var src model.QuestionSource
	if fields := validator.BindQuery(c, &src); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	ctx := gateway.WithToken(c.Request.Context(), middleware.GetToken(c))
	questions, limit, err := h.reviews.FetchReview(ctx, src)
	if err != nil {
		h.log.Error().Err(err).Msg("Review fetch failed")
		response.Fail(c, http.StatusBadGateway, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, reviewResponse{Questions: questions, TimeLimitSeconds: limit})
}
