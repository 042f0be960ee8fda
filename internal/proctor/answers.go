package proctor

import "github.com/stemsi/exstem-proctor/internal/model"

// AnswerStore maps question ids to the selected option. Keys are restricted
// to the questions the store was built with.
type AnswerStore struct {
	questions map[int]model.Question
	order     []int
	selected  map[int]int
}

// NewAnswerStore builds an empty store for the given question set.
func NewAnswerStore(questions []model.Question) *AnswerStore {
	s := &AnswerStore{
		questions: make(map[int]model.Question, len(questions)),
		order:     make([]int, 0, len(questions)),
		selected:  make(map[int]int),
	}
	for _, q := range questions {
		if _, dup := s.questions[q.ID]; dup {
			continue
		}
		s.questions[q.ID] = q
		s.order = append(s.order, q.ID)
	}
	return s
}

// Select records or replaces the selection for a question.
func (s *AnswerStore) Select(questionID, option int) error {
	q, ok := s.questions[questionID]
	if !ok {
		return ErrUnknownQuestion
	}
	if !q.HasOption(option) {
		return ErrInvalidOption
	}
	s.selected[questionID] = option
	return nil
}

// Get returns the selection for a question, if any.
func (s *AnswerStore) Get(questionID int) (int, bool) {
	v, ok := s.selected[questionID]
	return v, ok
}

// Answered returns the number of questions with a selection.
func (s *AnswerStore) Answered() int { return len(s.selected) }

// Total returns the number of questions in the store.
func (s *AnswerStore) Total() int { return len(s.order) }

// Completion returns answered / total, or 0 for an empty set.
func (s *AnswerStore) Completion() float64 {
	if len(s.order) == 0 {
		return 0
	}
	return float64(len(s.selected)) / float64(len(s.order))
}

// Selections returns a copy of the current selections.
func (s *AnswerStore) Selections() map[int]int {
	out := make(map[int]int, len(s.selected))
	for k, v := range s.selected {
		out[k] = v
	}
	return out
}

// Records builds one answer record per question in question order.
// Unanswered questions get an explicit nil answer.
func (s *AnswerStore) Records() []model.AnswerRecord {
	records := make([]model.AnswerRecord, 0, len(s.order))
	for _, id := range s.order {
		rec := model.AnswerRecord{QuestionID: id}
		if v, ok := s.selected[id]; ok {
			v := v
			rec.UserAnswer = &v
		}
		records = append(records, rec)
	}
	return records
}
