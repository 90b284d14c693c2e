package curriculum

import "fmt"

// Topic represents a curriculum topic loaded from YAML.
type Topic struct {
	ID                 string              `yaml:"id" json:"id"`
	Name               string              `yaml:"name" json:"name"`
	Description        string              `yaml:"description" json:"description,omitempty"`
	SubjectID          string              `yaml:"subject_id" json:"subject_id"`
	Difficulty         string              `yaml:"difficulty" json:"difficulty,omitempty"`
	LearningObjectives []LearningObjective `yaml:"learning_objectives" json:"learning_objectives,omitempty"`
	Prerequisites      Prerequisites       `yaml:"prerequisites" json:"-"`
}

// LearningObjective represents a learning objective within a topic.
type LearningObjective struct {
	ID    string `yaml:"id" json:"id"`
	Text  string `yaml:"text" json:"text"`
	Bloom string `yaml:"bloom" json:"bloom,omitempty"`
}

// Prerequisites holds required and recommended prerequisites. The linear
// roadmap gates on sequence order, so these are informational.
type Prerequisites struct {
	Required    []string `yaml:"required"`
	Recommended []string `yaml:"recommended"`
}

// Syllabus is a top-level *.syllabus.yaml document grouping subjects.
type Syllabus struct {
	ID       string    `yaml:"id"`
	Name     string    `yaml:"name"`
	Country  string    `yaml:"country"`
	Board    string    `yaml:"board"`
	Level    string    `yaml:"level"`
	Subjects []Subject `yaml:"subjects"`
}

// Subject is a learnable subject. TopicIDs is the fixed study order used by
// the linear roadmap; the subject name seeds the root of the generated tree.
type Subject struct {
	ID         string   `yaml:"id" json:"id"`
	Name       string   `yaml:"name" json:"name"`
	SyllabusID string   `yaml:"-" json:"syllabus_id,omitempty"`
	TopicIDs   []string `yaml:"topic_ids" json:"topic_ids"`
}

// Quiz is the answer key for a topic, loaded from *.assessments.yaml.
type Quiz struct {
	TopicID   string     `yaml:"topic_id"`
	Questions []Question `yaml:"questions"`
}

// Question is a single multiple-choice question.
type Question struct {
	ID          string   `yaml:"id"`
	Text        string   `yaml:"text"`
	Options     []string `yaml:"options"`
	AnswerIndex int      `yaml:"answer_index"`
}

const (
	minOptions = 2
	maxOptions = 6
)

// Validate checks that the quiz can be graded.
func (q Quiz) Validate() error {
	if q.TopicID == "" {
		return fmt.Errorf("quiz has no topic_id")
	}
	if len(q.Questions) == 0 {
		return fmt.Errorf("quiz for %s has no questions", q.TopicID)
	}
	for i, question := range q.Questions {
		if n := len(question.Options); n < minOptions || n > maxOptions {
			return fmt.Errorf("question %d of %s has %d options, want %d-%d", i+1, q.TopicID, n, minOptions, maxOptions)
		}
		if question.AnswerIndex < 0 || question.AnswerIndex >= len(question.Options) {
			return fmt.Errorf("question %d of %s has answer_index %d out of range", i+1, q.TopicID, question.AnswerIndex)
		}
	}
	return nil
}

// Grade counts answers matching the key. The caller must check that
// len(answers) equals len(q.Questions).
func (q Quiz) Grade(answers []int) int {
	correct := 0
	for i, question := range q.Questions {
		if i < len(answers) && answers[i] == question.AnswerIndex {
			correct++
		}
	}
	return correct
}
