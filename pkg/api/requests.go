package api

// CreateActivityRequest is the body of POST /api/v1/agents/activity.
// With LessonID set, topic and description default to the lesson's.
type CreateActivityRequest struct {
	StudentID           string `json:"student_id"`
	TutorID             string `json:"tutor_id"`
	Topic               string `json:"topic,omitempty"`
	ActivityDescription string `json:"activity_description,omitempty"`
	Duration            int    `json:"duration,omitempty"`
	LessonID            string `json:"lesson_id,omitempty"`
	LessonPhase         string `json:"lesson_phase,omitempty"`
	MaxAttempts         int    `json:"max_attempts,omitempty"`
}

// RedeployRequest is the body of POST /api/v1/agents/activity/redeploy.
type RedeployRequest struct {
	ActivityID string `json:"activity_id"`
	StudentID  string `json:"student_id"`
}

// ChatRequest is the body of POST /api/v1/activity/chat.
type ChatRequest struct {
	ActivityID string `json:"activity_id"`
	TutorID    string `json:"tutor_id"`
	StudentID  string `json:"student_id"`
	Message    string `json:"message"`
}

// ActivityResult is returned by activity creation.
type ActivityResult struct {
	Success    bool        `json:"success"`
	ActivityID string      `json:"activity_id"`
	Activity   *Activity   `json:"activity"`
	Evaluation *Evaluation `json:"evaluation"`
	Deployment Deployment  `json:"deployment"`
	SandboxURL string      `json:"sandbox_url,omitempty"`
}

// RedeployResult is returned by redeployment.
type RedeployResult struct {
	Success    bool       `json:"success"`
	ActivityID string     `json:"activity_id"`
	SandboxID  string     `json:"sandbox_id,omitempty"`
	SandboxURL string     `json:"sandbox_url,omitempty"`
	Deployment Deployment `json:"deployment"`
}

// ChatResult is returned by a chat iteration.
type ChatResult struct {
	Success     bool   `json:"success"`
	NewCode     string `json:"new_code"`
	Explanation string `json:"explanation"`
	SandboxURL  string `json:"sandbox_url,omitempty"`
	Deployed    bool   `json:"deployed"`
}

// ChatHistory is returned by GET /api/v1/activity/chat/{id}.
type ChatHistory struct {
	Success       bool          `json:"success"`
	ActivityID    string        `json:"activity_id"`
	Messages      []ChatMessage `json:"chat_history"`
	TotalMessages int           `json:"total_messages"`
}
