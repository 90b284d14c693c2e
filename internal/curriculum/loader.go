package curriculum

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	syllabusSuffix    = ".syllabus.yaml"
	assessmentsSuffix = ".assessments.yaml"
	examplesSuffix    = ".examples.yaml"
)

// Loader loads and caches curriculum content from the filesystem.
type Loader struct {
	rootDir  string
	topics   map[string]Topic
	subjects map[string]Subject
	quizzes  map[string]Quiz
	mu       sync.RWMutex
}

// NewLoader creates a new curriculum loader and loads all content.
func NewLoader(rootDir string) (*Loader, error) {
	l := &Loader{
		rootDir:  rootDir,
		topics:   make(map[string]Topic),
		subjects: make(map[string]Subject),
		quizzes:  make(map[string]Quiz),
	}

	if err := l.loadAll(); err != nil {
		return nil, fmt.Errorf("loading curriculum: %w", err)
	}

	slog.Info("curriculum loaded",
		"subjects", len(l.subjects),
		"topics", len(l.topics),
		"quizzes", len(l.quizzes),
	)
	return l, nil
}

// GetTopic returns a topic by ID.
func (l *Loader) GetTopic(id string) (Topic, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.topics[id]
	return t, ok
}

// Subject returns a subject by ID.
func (l *Loader) Subject(id string) (Subject, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.subjects[id]
	return s, ok
}

// Subjects returns all subjects ordered by ID.
func (l *Loader) Subjects() []Subject {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Subject, 0, len(l.subjects))
	for _, s := range l.subjects {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SubjectTopics returns the subject's topics in study order. Topic IDs the
// syllabus lists but no topic file defines are skipped.
func (l *Loader) SubjectTopics(subjectID string) ([]Topic, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.subjects[subjectID]
	if !ok {
		return nil, false
	}
	topics := make([]Topic, 0, len(s.TopicIDs))
	for _, id := range s.TopicIDs {
		if t, ok := l.topics[id]; ok {
			topics = append(topics, t)
		}
	}
	return topics, true
}

// Quiz returns the answer key for a topic.
func (l *Loader) Quiz(topicID string) (Quiz, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	q, ok := l.quizzes[topicID]
	return q, ok
}

// AllTopics returns all loaded topics ordered by ID.
func (l *Loader) AllTopics() []Topic {
	l.mu.RLock()
	defer l.mu.RUnlock()
	topics := make([]Topic, 0, len(l.topics))
	for _, t := range l.topics {
		topics = append(topics, t)
	}
	sort.Slice(topics, func(i, j int) bool { return topics[i].ID < topics[j].ID })
	return topics
}

func (l *Loader) loadAll() error {
	err := filepath.Walk(l.rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}

		switch {
		case strings.HasSuffix(path, syllabusSuffix):
			return l.loadSyllabus(path)
		case strings.HasSuffix(path, assessmentsSuffix):
			return l.loadQuiz(path)
		case strings.HasSuffix(path, examplesSuffix):
			return nil
		case strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml"):
			return l.loadTopic(path)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, s := range l.subjects {
		for _, id := range s.TopicIDs {
			if _, ok := l.topics[id]; !ok {
				slog.Warn("syllabus references unknown topic", "subject_id", s.ID, "topic_id", id)
			}
		}
	}
	return nil
}

func (l *Loader) loadSyllabus(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var syllabus Syllabus
	if err := yaml.Unmarshal(data, &syllabus); err != nil {
		slog.Warn("skipping invalid syllabus YAML", "path", path, "error", err)
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range syllabus.Subjects {
		if s.ID == "" {
			continue
		}
		if prev, dup := l.subjects[s.ID]; dup {
			slog.Warn("duplicate subject, keeping the later definition",
				"subject_id", s.ID, "previous_syllabus", prev.SyllabusID, "path", path)
		}
		s.SyllabusID = syllabus.ID
		l.subjects[s.ID] = s
	}
	return nil
}

func (l *Loader) loadTopic(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var topic Topic
	if err := yaml.Unmarshal(data, &topic); err != nil {
		slog.Warn("skipping invalid topic YAML", "path", path, "error", err)
		return nil
	}

	if topic.ID == "" {
		return nil // Not a topic file
	}

	l.mu.Lock()
	l.topics[topic.ID] = topic
	l.mu.Unlock()

	return nil
}

func (l *Loader) loadQuiz(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var quiz Quiz
	if err := yaml.Unmarshal(data, &quiz); err != nil {
		slog.Warn("skipping invalid assessments YAML", "path", path, "error", err)
		return nil
	}
	if err := quiz.Validate(); err != nil {
		slog.Warn("skipping ungradable quiz", "path", path, "error", err)
		return nil
	}

	l.mu.Lock()
	l.quizzes[quiz.TopicID] = quiz
	l.mu.Unlock()

	return nil
}
