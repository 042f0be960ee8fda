package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// Submit posts the final answers. It is called at most once per session and
// never retried.
func (c *Client) Submit(ctx context.Context, sub *model.Submission) error {
	if err := c.do(ctx, http.MethodPost, c.cfg.SubmitPath, sub, nil); err != nil {
		return fmt.Errorf("submit answers: %w", err)
	}
	c.log.Info().
		Str("cert_transaction_id", sub.CertTransactionID).
		Int("answered", sub.Answered()).
		Int("total", len(sub.Answers)).
		Msg("Submission accepted")
	return nil
}
