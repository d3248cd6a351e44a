package api

import "time"

// Student is the learner an activity is personalized for.
type Student struct {
	ID            string    `json:"id"`
	TutorID       string    `json:"tutor_id"`
	Name          string    `json:"name"`
	Grade         string    `json:"grade"`
	Subject       string    `json:"subject,omitempty"`
	LearningStyle string    `json:"learning_style,omitempty"`
	Languages     []string  `json:"languages,omitempty"`
	Interests     []string  `json:"interests,omitempty"`
	Objectives    []string  `json:"objectives,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Source is a reference found while researching a topic.
type Source struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// LessonPhase is one class section of a lesson plan, such as "Explore".
type LessonPhase struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Duration    int    `json:"duration,omitempty"`
}

// Lesson is a previously generated lesson plan whose research an
// activity can reuse.
type Lesson struct {
	ID                 string        `json:"id"`
	TutorID            string        `json:"tutor_id"`
	StudentID          string        `json:"student_id"`
	Title              string        `json:"title"`
	Topic              string        `json:"topic"`
	Explanation        string        `json:"explanation,omitempty"`
	Sources            []Source      `json:"sources,omitempty"`
	LearningObjectives []string      `json:"learning_objectives,omitempty"`
	Phases             []LessonPhase `json:"phases,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
}

// CriterionScore is the score of one evaluation criterion.
type CriterionScore struct {
	Score     float64 `json:"score"`
	Reasoning string  `json:"reasoning"`
}

// Evaluation is the generator's self-assessment of an activity.
type Evaluation struct {
	OverallScore float64                   `json:"overall_score"`
	Criteria     map[string]CriterionScore `json:"criteria"`
	Weaknesses   []string                  `json:"weaknesses"`
	Improvements []string                  `json:"improvements"`
	Confidence   float64                   `json:"confidence"`
}

// AttemptSummary is the persisted record of one deployment attempt.
type AttemptSummary struct {
	Number       int    `json:"number"`
	Outcome      string `json:"outcome"`
	Category     string `json:"category,omitempty"`
	ErrorExcerpt string `json:"error_excerpt,omitempty"`
}

// Deployment is the persisted result of an auto-fix run.
type Deployment struct {
	Status       string           `json:"status"`
	AttemptsUsed int              `json:"attempts_used"`
	SandboxID    string           `json:"sandbox_id,omitempty"`
	PreviewURL   string           `json:"preview_url,omitempty"`
	Diagnostic   string           `json:"diagnostic,omitempty"`
	Attempts     []AttemptSummary `json:"attempts,omitempty"`
}

// Activity types and languages.
const (
	ActivityTypeInteractive = "interactive"
	LanguageJavaScript      = "javascript"
)

// Activity is a generated interactive activity.
type Activity struct {
	ID             string      `json:"id"`
	TutorID        string      `json:"tutor_id"`
	StudentID      string      `json:"student_id"`
	LessonID       string      `json:"lesson_id,omitempty"`
	Title          string      `json:"title"`
	Type           string      `json:"type"`
	Topic          string      `json:"topic"`
	Description    string      `json:"description"`
	Duration       int         `json:"duration"`
	Code           string      `json:"code"`
	Language       string      `json:"language"`
	SandboxID      string      `json:"sandbox_id,omitempty"`
	SandboxURL     string      `json:"sandbox_url,omitempty"`
	Deployment     Deployment  `json:"deployment"`
	Evaluation     *Evaluation `json:"self_evaluation,omitempty"`
	IterationCount int         `json:"iteration_count"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Chat message types.
const (
	MessageTypeTutorRequest  = "tutor_request"
	MessageTypeAgentResponse = "agent_response"
)

// ChatMessage is one entry of an activity's editing conversation.
type ChatMessage struct {
	ID           string    `json:"id"`
	ActivityID   string    `json:"activity_id"`
	TutorID      string    `json:"tutor_id"`
	Type         string    `json:"message_type"`
	Content      string    `json:"message_content"`
	CodeSnapshot string    `json:"code_snapshot,omitempty"`
	SandboxURL   string    `json:"sandbox_url,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// FixAttempt records one automatic repair for later analysis.
type FixAttempt struct {
	ID            string    `json:"id"`
	SessionKey    string    `json:"session_key"`
	Topic         string    `json:"topic"`
	Category      string    `json:"error_type"`
	Attempt       int       `json:"attempt_number"`
	ErrorExcerpt  string    `json:"error_excerpt"`
	OriginalBytes int       `json:"original_bytes"`
	FixedBytes    int       `json:"fixed_bytes"`
	RepairFailed  bool      `json:"repair_failed"`
	Confidence    float64   `json:"confidence_score"`
	CreatedAt     time.Time `json:"created_at"`
}

// CodeLengthChange is the byte delta produced by the repair.
func (f FixAttempt) CodeLengthChange() int {
	return f.FixedBytes - f.OriginalBytes
}

// PerformanceMetric records how well an agent did on one piece of content.
type PerformanceMetric struct {
	ID               string      `json:"id"`
	AgentType        string      `json:"agent_type"`
	AgentID          string      `json:"agent_id"`
	SessionID        string      `json:"session_id,omitempty"`
	SuccessRate      float64     `json:"success_rate"`
	ConfidenceScores []float64   `json:"confidence_scores,omitempty"`
	ErrorCount       int         `json:"error_count"`
	LastError        string      `json:"last_error,omitempty"`
	Evaluation       *Evaluation `json:"evaluation_details,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
}
