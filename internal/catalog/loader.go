// Package catalog loads the read-only course definitions (courses, modules,
// sessions, quizzes) that the progression engine evaluates against.
package catalog

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed course.schema.json
var courseSchema string

// Catalog holds indexed course definitions.
type Catalog struct {
	rootDir string
	schema  *gojsonschema.Schema

	courses     map[string]Course
	modules     map[string]Module
	sessions    map[string]Session
	quizzes     map[string]Quiz
	sessionQuiz map[string]string // session id -> quiz id
	finalQuiz   map[string]string // course id -> quiz id
	mu          sync.RWMutex
}

// Load reads every *.course.yaml file below rootDir. Files that fail schema
// validation are skipped with a warning; duplicate ids are an error.
func Load(rootDir string) (*Catalog, error) {
	schema, err := compileSchema()
	if err != nil {
		return nil, err
	}

	c := &Catalog{rootDir: rootDir, schema: schema}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// New builds a catalog from in-memory course definitions.
func New(courses ...Course) (*Catalog, error) {
	c := &Catalog{}
	if err := c.index(courses); err != nil {
		return nil, fmt.Errorf("indexing catalog: %w", err)
	}
	return c, nil
}

// Reload re-reads the course files and swaps the index atomically.
func (c *Catalog) Reload() error {
	if c.rootDir == "" {
		return fmt.Errorf("catalog has no root directory")
	}
	if info, err := os.Stat(c.rootDir); err != nil {
		return fmt.Errorf("catalog root: %w", err)
	} else if !info.IsDir() {
		return fmt.Errorf("catalog root %s is not a directory", c.rootDir)
	}

	var courses []Course
	err := filepath.Walk(c.rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if !strings.HasSuffix(path, ".course.yaml") && !strings.HasSuffix(path, ".course.yml") {
			return nil
		}

		course, ok, err := c.loadCourse(path)
		if err != nil {
			return err
		}
		if ok {
			courses = append(courses, course)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}

	if err := c.index(courses); err != nil {
		return fmt.Errorf("indexing catalog: %w", err)
	}

	slog.Info("catalog loaded", "courses", len(courses), "root", c.rootDir)
	return nil
}

func (c *Catalog) loadCourse(path string) (Course, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Course{}, false, err
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		slog.Warn("skipping invalid course YAML", "path", path, "error", err)
		return Course{}, false, nil
	}
	if problems := c.validate(raw); len(problems) > 0 {
		slog.Warn("skipping course failing schema validation", "path", path, "problems", problems)
		return Course{}, false, nil
	}

	var course Course
	if err := yaml.Unmarshal(data, &course); err != nil {
		slog.Warn("skipping invalid course YAML", "path", path, "error", err)
		return Course{}, false, nil
	}
	return course, true, nil
}

func (c *Catalog) validate(doc any) []string {
	if c.schema == nil {
		return nil
	}
	result, err := c.schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return []string{err.Error()}
	}
	if result.Valid() {
		return nil
	}
	problems := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		problems = append(problems, e.String())
	}
	return problems
}

func compileSchema() (*gojsonschema.Schema, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(courseSchema))
	if err != nil {
		return nil, fmt.Errorf("compiling course schema: %w", err)
	}
	return schema, nil
}

// index stamps parent ids, creation order and quiz scopes, then swaps the maps in.
func (c *Catalog) index(courses []Course) error {
	idx := struct {
		courses     map[string]Course
		modules     map[string]Module
		sessions    map[string]Session
		quizzes     map[string]Quiz
		sessionQuiz map[string]string
		finalQuiz   map[string]string
	}{
		courses:     make(map[string]Course),
		modules:     make(map[string]Module),
		sessions:    make(map[string]Session),
		quizzes:     make(map[string]Quiz),
		sessionQuiz: make(map[string]string),
		finalQuiz:   make(map[string]string),
	}

	addQuizzes := func(quizzes []Quiz, courseID string, scope QuizScope) ([]Quiz, error) {
		out := make([]Quiz, len(quizzes))
		for i, q := range quizzes {
			if q.ID == "" {
				return nil, fmt.Errorf("quiz without id in %s %s", scope.Kind, scope.ID)
			}
			if _, dup := idx.quizzes[q.ID]; dup {
				return nil, fmt.Errorf("duplicate quiz id %q", q.ID)
			}
			q.Scope = scope
			q.CourseID = courseID
			q.Questions = append([]Question(nil), q.Questions...)
			idx.quizzes[q.ID] = q
			out[i] = q
		}
		return out, nil
	}

	for _, course := range courses {
		if course.ID == "" {
			return fmt.Errorf("course without id")
		}
		if _, dup := idx.courses[course.ID]; dup {
			return fmt.Errorf("duplicate course id %q", course.ID)
		}

		modules := make([]Module, len(course.Modules))
		for mi, m := range course.Modules {
			if m.ID == "" {
				return fmt.Errorf("module without id in course %q", course.ID)
			}
			if _, dup := idx.modules[m.ID]; dup {
				return fmt.Errorf("duplicate module id %q", m.ID)
			}
			m.CourseID = course.ID
			m.Seq = mi

			sessions := make([]Session, len(m.Sessions))
			for si, s := range m.Sessions {
				if s.ID == "" {
					return fmt.Errorf("session without id in module %q", m.ID)
				}
				if _, dup := idx.sessions[s.ID]; dup {
					return fmt.Errorf("duplicate session id %q", s.ID)
				}
				if len(s.Quizzes) > 1 {
					return fmt.Errorf("session %q has %d quizzes, at most one allowed", s.ID, len(s.Quizzes))
				}
				s.CourseID = course.ID
				s.ModuleID = m.ID
				s.Seq = si

				quizzes, err := addQuizzes(s.Quizzes, course.ID, QuizScope{Kind: ScopeSession, ID: s.ID})
				if err != nil {
					return err
				}
				s.Quizzes = quizzes
				if len(quizzes) == 1 {
					idx.sessionQuiz[s.ID] = quizzes[0].ID
				}

				idx.sessions[s.ID] = s
				sessions[si] = s
			}
			m.Sessions = sessions

			quizzes, err := addQuizzes(m.Quizzes, course.ID, QuizScope{Kind: ScopeModule, ID: m.ID})
			if err != nil {
				return err
			}
			m.Quizzes = quizzes

			idx.modules[m.ID] = m
			modules[mi] = m
		}
		course.Modules = modules

		if len(course.Quizzes) > 1 {
			return fmt.Errorf("course %q has %d course-scoped quizzes, at most one allowed", course.ID, len(course.Quizzes))
		}
		quizzes, err := addQuizzes(course.Quizzes, course.ID, QuizScope{Kind: ScopeCourse, ID: course.ID})
		if err != nil {
			return err
		}
		course.Quizzes = quizzes
		if len(quizzes) == 1 {
			idx.finalQuiz[course.ID] = quizzes[0].ID
		}

		idx.courses[course.ID] = course
	}

	c.mu.Lock()
	c.courses = idx.courses
	c.modules = idx.modules
	c.sessions = idx.sessions
	c.quizzes = idx.quizzes
	c.sessionQuiz = idx.sessionQuiz
	c.finalQuiz = idx.finalQuiz
	c.mu.Unlock()

	return nil
}

// Course returns a course by ID.
func (c *Catalog) Course(id string) (Course, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	course, ok := c.courses[id]
	return course, ok
}

// Module returns a module by ID.
func (c *Catalog) Module(id string) (Module, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.modules[id]
	return m, ok
}

// Session returns a session by ID.
func (c *Catalog) Session(id string) (Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sessions[id]
	return s, ok
}

// Quiz returns a quiz by ID.
func (c *Catalog) Quiz(id string) (Quiz, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quizzes[id]
	return q, ok
}

// SessionQuiz returns the quiz attached to a session, if any.
func (c *Catalog) SessionQuiz(sessionID string) (Quiz, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.sessionQuiz[sessionID]
	if !ok {
		return Quiz{}, false
	}
	return c.quizzes[id], true
}

// FinalAssessment returns the course-scoped quiz of a course, if any.
func (c *Catalog) FinalAssessment(courseID string) (Quiz, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.finalQuiz[courseID]
	if !ok {
		return Quiz{}, false
	}
	return c.quizzes[id], true
}

// AllCourses returns all loaded courses.
func (c *Catalog) AllCourses() []Course {
	c.mu.RLock()
	defer c.mu.RUnlock()
	courses := make([]Course, 0, len(c.courses))
	for _, course := range c.courses {
		courses = append(courses, course)
	}
	return courses
}
