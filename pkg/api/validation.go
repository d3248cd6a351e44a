package api

import "fmt"

// ValidationConfig holds configurable limits for request validation.
type ValidationConfig struct {
	MaxAttempts       int
	MaxDuration       int
	MaxMessageSize    int
	MaxDescriptionLen int
}

// DefaultValidationConfig returns a ValidationConfig with sensible defaults.
func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		MaxAttempts:       10,
		MaxDuration:       240,
		MaxMessageSize:    8 * 1024,
		MaxDescriptionLen: 4 * 1024,
	}
}

// ValidateCreateActivity checks a CreateActivityRequest. It returns an
// *APIError describing the first validation failure, or nil if the request is valid.
func ValidateCreateActivity(req *CreateActivityRequest, cfg ValidationConfig) *APIError {
	if req.StudentID == "" {
		return NewInvalidRequestError("student_id", "student_id is required")
	}
	if req.TutorID == "" {
		return NewInvalidRequestError("tutor_id", "tutor_id is required")
	}

	if req.LessonPhase != "" && req.LessonID == "" {
		return NewInvalidRequestError("lesson_phase", "lesson_phase requires lesson_id")
	}

	if req.LessonID == "" {
		if req.Topic == "" {
			return NewInvalidRequestError("topic", "topic is required for standalone activities")
		}
		if req.ActivityDescription == "" {
			return NewInvalidRequestError("activity_description", "activity_description is required for standalone activities")
		}
	}

	if cfg.MaxDescriptionLen > 0 && len(req.ActivityDescription) > cfg.MaxDescriptionLen {
		return NewInvalidRequestError("activity_description",
			fmt.Sprintf("activity_description exceeds maximum of %d bytes", cfg.MaxDescriptionLen))
	}

	if req.Duration < 0 || (cfg.MaxDuration > 0 && req.Duration > cfg.MaxDuration) {
		return NewInvalidRequestError("duration",
			fmt.Sprintf("duration must be between 0 and %d minutes", cfg.MaxDuration))
	}

	if req.MaxAttempts < 0 || (cfg.MaxAttempts > 0 && req.MaxAttempts > cfg.MaxAttempts) {
		return NewInvalidRequestError("max_attempts",
			fmt.Sprintf("max_attempts must be between 1 and %d", cfg.MaxAttempts))
	}
	return nil
}

// ValidateRedeploy checks a RedeployRequest.
func ValidateRedeploy(req *RedeployRequest) *APIError {
	if req.ActivityID == "" {
		return NewInvalidRequestError("activity_id", "activity_id is required")
	}
	if req.StudentID == "" {
		return NewInvalidRequestError("student_id", "student_id is required")
	}
	return nil
}

// ValidateChat checks a ChatRequest.
func ValidateChat(req *ChatRequest, cfg ValidationConfig) *APIError {
	if req.ActivityID == "" {
		return NewInvalidRequestError("activity_id", "activity_id is required")
	}
	if req.TutorID == "" {
		return NewInvalidRequestError("tutor_id", "tutor_id is required")
	}
	if req.Message == "" {
		return NewInvalidRequestError("message", "message is required")
	}
	if cfg.MaxMessageSize > 0 && len(req.Message) > cfg.MaxMessageSize {
		return NewInvalidRequestError("message",
			fmt.Sprintf("message exceeds maximum of %d bytes", cfg.MaxMessageSize))
	}
	return nil
}

// ValidateStudent checks a student profile before it is stored.
func ValidateStudent(s *Student) *APIError {
	if s.TutorID == "" {
		return NewInvalidRequestError("tutor_id", "tutor_id is required")
	}
	if s.Name == "" {
		return NewInvalidRequestError("name", "name is required")
	}
	return nil
}

// ValidateLesson checks a lesson plan before it is stored.
func ValidateLesson(l *Lesson) *APIError {
	if l.TutorID == "" {
		return NewInvalidRequestError("tutor_id", "tutor_id is required")
	}
	if l.StudentID == "" {
		return NewInvalidRequestError("student_id", "student_id is required")
	}
	if l.Topic == "" {
		return NewInvalidRequestError("topic", "topic is required")
	}
	return nil
}
