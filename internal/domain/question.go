package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// QuestionType tags the variants of Question.
type QuestionType string

const (
	// QuestionSingle is "choose exactly one".
	QuestionSingle QuestionType = "MCQ"
	// QuestionMulti is "choose all that apply".
	QuestionMulti QuestionType = "MSQ"
)

// QuizContent is the read-only quiz as handed out by the content store.
type QuizContent struct {
	ID       int64         `json:"id"`
	CourseID int64         `json:"course_id"`
	Title    string        `json:"title"`
	Items    []ContentItem `json:"questions"`
}

// ContentItem is an authored question before validation.
type ContentItem struct {
	Question     string          `json:"question"`
	QuestionType string          `json:"question_type"`
	Image        string          `json:"image,omitempty"`
	Choices      []ContentChoice `json:"choices"`
}

// UnmarshalJSON also accepts the legacy "QuestionType" key.
func (c *ContentItem) UnmarshalJSON(data []byte) error {
	type plain ContentItem
	var aux struct {
		plain
		LegacyType string `json:"QuestionType"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*c = ContentItem(aux.plain)
	if c.QuestionType == "" {
		c.QuestionType = aux.LegacyType
	}
	return nil
}

type ContentChoice struct {
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
}

// Choice is a snapshotted answer option.
type Choice struct {
	Text    string `json:"text"`
	Correct bool   `json:"is_correct"`
}

// Question is a validated, snapshotted quiz item.
// The only implementations are SingleChoice and MultiChoice.
type Question interface {
	Type() QuestionType
	Prompt() string
	Image() string
	Choices() []Choice
	isQuestion()
}

// SingleChoice has exactly one correct option.
type SingleChoice struct {
	Text     string
	ImageRef string
	Options  []Choice
	Correct  int
}

func (q SingleChoice) Type() QuestionType { return QuestionSingle }
func (q SingleChoice) Prompt() string     { return q.Text }
func (q SingleChoice) Image() string      { return q.ImageRef }
func (q SingleChoice) Choices() []Choice  { return q.Options }
func (SingleChoice) isQuestion()          {}

// MultiChoice is scored all-or-nothing against the correct set.
type MultiChoice struct {
	Text     string
	ImageRef string
	Options  []Choice
	Correct  []int
}

func (q MultiChoice) Type() QuestionType { return QuestionMulti }
func (q MultiChoice) Prompt() string     { return q.Text }
func (q MultiChoice) Image() string      { return q.ImageRef }
func (q MultiChoice) Choices() []Choice  { return q.Options }
func (MultiChoice) isQuestion()          {}

// NewQuestion validates an authored item into a Question variant.
// An empty type defaults to single choice.
func NewQuestion(item ContentItem) (Question, error) {
	options := make([]Choice, 0, len(item.Choices))
	var correct []int
	for i, ch := range item.Choices {
		options = append(options, Choice{Text: ch.Text, Correct: ch.IsCorrect})
		if ch.IsCorrect {
			correct = append(correct, i)
		}
	}

	qtype := QuestionType(strings.ToUpper(strings.TrimSpace(item.QuestionType)))
	switch qtype {
	case "", QuestionSingle:
		if len(correct) != 1 {
			return nil, fmt.Errorf("%w: single choice question %q has %d correct choices", ErrInvalidQuizContent, item.Question, len(correct))
		}
		return SingleChoice{Text: item.Question, ImageRef: item.Image, Options: options, Correct: correct[0]}, nil
	case QuestionMulti:
		if correct == nil {
			correct = []int{}
		}
		return MultiChoice{Text: item.Question, ImageRef: item.Image, Options: options, Correct: correct}, nil
	default:
		return nil, fmt.Errorf("%w: unknown question type %q", ErrInvalidQuizContent, item.QuestionType)
	}
}

// SnapshotQuestions validates every item of a quiz.
func SnapshotQuestions(items []ContentItem) (Questions, error) {
	out := make(Questions, 0, len(items))
	for i, item := range items {
		q, err := NewQuestion(item)
		if err != nil {
			return nil, fmt.Errorf("question %d: %w", i, err)
		}
		out = append(out, q)
	}
	return out, nil
}

// Questions is the persisted form of a snapshot.
type Questions []Question

type questionWire struct {
	Type    QuestionType `json:"question_type"`
	Prompt  string       `json:"question"`
	Image   string       `json:"image,omitempty"`
	Choices []Choice     `json:"choices"`
}

func (qs Questions) MarshalJSON() ([]byte, error) {
	wire := make([]questionWire, 0, len(qs))
	for _, q := range qs {
		wire = append(wire, questionWire{
			Type:    q.Type(),
			Prompt:  q.Prompt(),
			Image:   q.Image(),
			Choices: q.Choices(),
		})
	}
	return json.Marshal(wire)
}

func (qs *Questions) UnmarshalJSON(data []byte) error {
	var wire []questionWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	out := make(Questions, 0, len(wire))
	for _, w := range wire {
		item := ContentItem{Question: w.Prompt, QuestionType: string(w.Type), Image: w.Image}
		for _, ch := range w.Choices {
			item.Choices = append(item.Choices, ContentChoice{Text: ch.Text, IsCorrect: ch.Correct})
		}
		q, err := NewQuestion(item)
		if err != nil {
			return err
		}
		out = append(out, q)
	}
	*qs = out
	return nil
}
