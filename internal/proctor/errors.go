package proctor

import "errors"

var (
	// ErrNoTimeLimit is returned when a countdown is started without a positive duration.
	ErrNoTimeLimit = errors.New("assessment has no time limit")
	// ErrNotActive is returned when an answer is selected outside the Active state.
	ErrNotActive = errors.New("session is not active")
	// ErrAlreadyLoaded is returned when a question set arrives for a session that left Loading.
	ErrAlreadyLoaded = errors.New("session already loaded")
	// ErrUnknownQuestion is returned when an answer references a question not in the session.
	ErrUnknownQuestion = errors.New("question does not belong to this session")
	// ErrInvalidOption is returned when the selected option is not one of the question's choices.
	ErrInvalidOption = errors.New("option is not a choice of this question")
	// ErrNoQuestions is returned when the fetched question set is empty.
	ErrNoQuestions = errors.New("question set is empty")
	// ErrDuplicateQuestion is returned when the fetched question set repeats a question id.
	ErrDuplicateQuestion = errors.New("question set repeats a question id")
)
