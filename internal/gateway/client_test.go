package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(base string) Config {
	return Config{
		BaseURL:           base,
		QuestionGroupPath: "/question-groups/%s/questions",
		CertificationPath: "/certifications/%s/questions",
		SubmitPath:        "/certification-transactions/submit",
	}
}

const questionBody = `{"data":{"timeLimitMinutes":2,"questions":[
	{"id":11,"question":"Q1","option1":"a","option2":"b","option3":null,"option4":"d","option5":"","correctAnswer":2},
	{"id":12,"question":"Q2","option1":"x","option2":"y","correctAnswer":1}
]}}`

func TestFetchQuestionsStripsAnswerKey(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(questionBody))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), zerolog.Nop())
	ctx := WithToken(context.Background(), "tok")

	set, err := c.FetchQuestions(ctx, model.QuestionSource{QuestionGroupID: "qg-7"})
	require.NoError(t, err)

	assert.Equal(t, "/question-groups/qg-7/questions", gotPath)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, 120, set.TimeLimitSeconds)
	require.Len(t, set.Questions, 2)

	q := set.Questions[0]
	assert.Equal(t, 11, q.ID)
	require.Len(t, q.Options, 3)
	assert.Equal(t, []int{1, 2, 4}, []int{q.Options[0].Number, q.Options[1].Number, q.Options[2].Number})

	raw, err := json.Marshal(set)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "correct")
}

func TestFetchReviewKeepsAnswerKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/certifications/c-1/questions", r.URL.Path)
		_, _ = w.Write([]byte(questionBody))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), zerolog.Nop())
	reviews, _, err := c.FetchReview(context.Background(), model.QuestionSource{CertificationID: "c-1"})
	require.NoError(t, err)
	require.NotNil(t, reviews[0].CorrectOption)
	assert.Equal(t, 2, *reviews[0].CorrectOption)
}

func TestFetchQuestionsInvalidSource(t *testing.T) {
	c := NewClient(testConfig("http://unused"), zerolog.Nop())
	for _, src := range []model.QuestionSource{{}, {QuestionGroupID: "a", CertificationID: "b"}} {
		_, err := c.FetchQuestions(context.Background(), src)
		require.ErrorIs(t, err, ErrInvalidSource)
	}
}

func TestSubmitSendsExplicitNulls(t *testing.T) {
	var body map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/certification-transactions/submit", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	two := 2
	sub := &model.Submission{
		CertTransactionID: "ct-1",
		TenantID:          "t-1",
		EmployeeID:        "e-1",
		Answers:           []model.AnswerRecord{{QuestionID: 1, UserAnswer: &two}, {QuestionID: 2}},
	}

	c := NewClient(testConfig(srv.URL), zerolog.Nop())
	require.NoError(t, c.Submit(context.Background(), sub))

	answers := body["answers"].([]interface{})
	require.Len(t, answers, 2)
	second := answers[1].(map[string]interface{})
	v, present := second["userAnswer"]
	assert.True(t, present)
	assert.Nil(t, v)
	_, hasGroup := body["questionGroupId"]
	assert.False(t, hasGroup)
}

func TestSubmitBackendError(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"message", `{"message":"Transaction already submitted"}`, "Transaction already submitted"},
		{"envelope", `{"error":{"message":"Closed"}}`, "Closed"},
		{"no body", ``, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusConflict)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewClient(testConfig(srv.URL), zerolog.Nop())
			err := c.Submit(context.Background(), &model.Submission{})
			require.Error(t, err)
			assert.Equal(t, tt.want, MessageFrom(err))

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, http.StatusConflict, apiErr.Status)
		})
	}
}
