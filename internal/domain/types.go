package domain

import "time"

type SessionID string
type TurnID string
type MessageID string

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// SessionMode is the sticky teaching style of a session.
type SessionMode string

const (
	ModeStandard SessionMode = "standard" // Plain answers
	ModeSocratic SessionMode = "socratic" // Guided questioning only
)

// LearningMode is a per-request teaching style selected by a [TOOL:<Mode>] tag.
type LearningMode string

const (
	LearningNone      LearningMode = ""
	LearningTutor     LearningMode = "tutor"
	LearningBuddy     LearningMode = "study-buddy"
	LearningQuestions LearningMode = "questioner"
	LearningSpoonFeed LearningMode = "spoon-feeding"
	LearningPractical LearningMode = "practical-learning"
)

type Timestamp = time.Time
