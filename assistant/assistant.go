// Package assistant generates teacher-facing artifacts (IEPs and lesson
// plans) on top of the language model client, and keeps the generated results
// for later reference.
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"eduassist/document"
	"eduassist/llm"
)

const (
	iepSystemPrompt = "You are an AI assistant that specializes in creating " +
		"Individualized Education Programs (IEPs) for students with special needs."

	lessonPlanSystemPrompt = "You are an AI assistant specialized in creating " +
		"educational lesson plans that accommodate students with special needs."
)

// Generator produces a completion for a prompt.
type Generator interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (llm.Completion, error)
}

// IEP is a generated Individualized Education Program.
type IEP struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	SourceID  string    `json:"source_id,omitempty"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// LessonPlanRequest describes the class the plan is for. Subject, GradeLevel,
// Duration, at least one goal and the IEP are required.
type LessonPlanRequest struct {
	Subject        string   `json:"subject"`
	GradeLevel     string   `json:"grade_level"`
	Timeframe      string   `json:"timeframe"` // "daily" or "weekly"
	Duration       string   `json:"duration"`
	DaysPerWeek    []string `json:"days_per_week,omitempty"`
	Goals          []string `json:"goals"`
	Materials      []string `json:"materials,omitempty"`
	Accommodations []string `json:"accommodations,omitempty"`
	IEPID          string   `json:"iep_id"`
}

// LessonPlan is a generated lesson plan tied to the IEP it accommodates.
type LessonPlan struct {
	ID         string    `json:"id"`
	IEPID      string    `json:"iep_id"`
	Subject    string    `json:"subject"`
	GradeLevel string    `json:"grade_level"`
	Timeframe  string    `json:"timeframe"`
	Duration   string    `json:"duration"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

// Service generates and stores IEPs and lesson plans. It is safe for
// concurrent use.
type Service struct {
	generator Generator
	logger    *slog.Logger

	mu    sync.RWMutex
	ieps  []IEP
	plans []LessonPlan
}

// NewService constructs an assistant service.
func NewService(generator Generator, logger *slog.Logger) (*Service, error) {
	if generator == nil {
		return nil, fmt.Errorf("assistant: generator must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{generator: generator, logger: logger}, nil
}

// GenerateIEP creates an IEP from a source document and records it.
func (s *Service) GenerateIEP(ctx context.Context, doc document.Document) (*IEP, error) {
	if strings.TrimSpace(doc.Content) == "" {
		return nil, fmt.Errorf("assistant: document has no content")
	}

	userPrompt := "Based on the following document, create a comprehensive IEP with " +
		"appropriate goals, accommodations, and services. Document content: " + doc.Content

	completion, err := s.generator.Complete(ctx, iepSystemPrompt, userPrompt)
	if err != nil {
		return nil, fmt.Errorf("assistant: generate iep: %w", err)
	}

	iep := IEP{
		ID:        uuid.NewString(),
		Source:    doc.Title,
		SourceID:  doc.Hash,
		Content:   strings.TrimSpace(completion.Content),
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.ieps = append(s.ieps, iep)
	s.mu.Unlock()

	s.logger.Info("iep generated",
		"id", iep.ID, "source", iep.Source, "tokens", completion.CompletionTokens)

	return &iep, nil
}

// GenerateLessonPlan creates a lesson plan from a request and the IEP it
// references, and records it.
func (s *Service) GenerateLessonPlan(ctx context.Context, req LessonPlanRequest) (*LessonPlan, error) {
	if err := validateLessonPlanRequest(req); err != nil {
		return nil, err
	}

	iep, ok := s.GetIEP(req.IEPID)
	if !ok {
		return nil, fmt.Errorf("assistant: iep %q not found", req.IEPID)
	}

	completion, err := s.generator.Complete(ctx, lessonPlanSystemPrompt, lessonPlanPrompt(req, iep))
	if err != nil {
		return nil, fmt.Errorf("assistant: generate lesson plan: %w", err)
	}

	plan := LessonPlan{
		ID:         uuid.NewString(),
		IEPID:      iep.ID,
		Subject:    req.Subject,
		GradeLevel: req.GradeLevel,
		Timeframe:  normalizeTimeframe(req.Timeframe),
		Duration:   req.Duration,
		Content:    strings.TrimSpace(completion.Content),
		CreatedAt:  time.Now().UTC(),
	}

	s.mu.Lock()
	s.plans = append(s.plans, plan)
	s.mu.Unlock()

	s.logger.Info("lesson plan generated",
		"id", plan.ID, "subject", plan.Subject, "grade_level", plan.GradeLevel,
		"tokens", completion.CompletionTokens)

	return &plan, nil
}

func validateLessonPlanRequest(req LessonPlanRequest) error {
	switch {
	case strings.TrimSpace(req.Subject) == "":
		return fmt.Errorf("assistant: subject is required")
	case strings.TrimSpace(req.GradeLevel) == "":
		return fmt.Errorf("assistant: grade level is required")
	case strings.TrimSpace(req.Duration) == "":
		return fmt.Errorf("assistant: duration is required")
	case len(compact(req.Goals)) == 0:
		return fmt.Errorf("assistant: at least one learning goal is required")
	case strings.TrimSpace(req.IEPID) == "":
		return fmt.Errorf("assistant: iep id is required")
	}
	return nil
}

func normalizeTimeframe(timeframe string) string {
	if strings.EqualFold(timeframe, "weekly") {
		return "weekly"
	}
	return "daily"
}

// lessonPlanPrompt formats the class details, goals and IEP into the
// generation prompt.
func lessonPlanPrompt(req LessonPlanRequest, iep IEP) string {
	timeframe := normalizeTimeframe(req.Timeframe)

	schedule := "Daily"
	if timeframe == "weekly" && len(req.DaysPerWeek) > 0 {
		schedule = strings.Join(req.DaysPerWeek, ", ")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Create a detailed %s lesson plan for %s for %s students.\n\n",
		timeframe, req.Subject, req.GradeLevel)
	fmt.Fprintf(&b, "The plan should be based on the following IEP:\n%s\n\n", iep.Content)

	b.WriteString("Class details:\n")
	fmt.Fprintf(&b, "- Subject: %s\n", req.Subject)
	fmt.Fprintf(&b, "- Grade Level: %s\n", req.GradeLevel)
	fmt.Fprintf(&b, "- Duration: %s\n", req.Duration)
	fmt.Fprintf(&b, "- Schedule: %s\n", schedule)

	writeList := func(heading string, items []string) {
		items = compact(items)
		if len(items) == 0 {
			return
		}
		b.WriteString("\n" + heading + ":\n")
		for _, item := range items {
			fmt.Fprintf(&b, "- %s\n", item)
		}
	}
	writeList("Learning Goals", req.Goals)
	writeList("Materials Needed", req.Materials)
	writeList("Additional Accommodations", req.Accommodations)

	b.WriteString(`
Please create a comprehensive lesson plan with:
1. Learning objectives
2. Detailed schedule/timeline
3. Teaching strategies with specific IEP accommodations
4. Assessment methods
5. Resources and materials organization

Format the plan clearly with sections and bullet points where appropriate.
`)

	return b.String()
}

// compact drops empty and whitespace-only entries.
func compact(items []string) []string {
	out := items[:0:0]
	for _, item := range items {
		if strings.TrimSpace(item) != "" {
			out = append(out, item)
		}
	}
	return out
}

// GetIEP returns a stored IEP by ID.
func (s *Service) GetIEP(id string) (IEP, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, iep := range s.ieps {
		if iep.ID == id {
			return iep, true
		}
	}
	return IEP{}, false
}

// ListIEPs returns all stored IEPs, oldest first.
func (s *Service) ListIEPs() []IEP {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]IEP, len(s.ieps))
	copy(out, s.ieps)
	return out
}

// ListLessonPlans returns all stored lesson plans, oldest first.
func (s *Service) ListLessonPlans() []LessonPlan {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]LessonPlan, len(s.plans))
	copy(out, s.plans)
	return out
}
