package llm

import (
	"strings"

	"github.com/PabloGalante/evolve-chat/internal/domain"
)

const baseSystemPrompt = `
You are "Evolve", a learning assistant that helps students understand topics deeply.

General style guidelines:
- Answer in the SAME LANGUAGE as the user.
- Prefer clear structure: short paragraphs, lists and worked examples.
- Check understanding before moving on to harder material.
- When a message contains a structured search or research result from an earlier turn, use it as reference material.

Boundaries:
- Say so when you are unsure; never invent citations.
- Keep the focus on learning, not on doing the student's graded work for them.
`

const tutorInstructions = `
Learning mode: tutor

Focus:
- Gauge what the student already knows and state the goal.
- Break the topic into small chunks and scaffold from simple to complex.
- Use analogies for abstract ideas and correct misconceptions at the root.
- Finish with a quick check of understanding.
`

const studyBuddyInstructions = `
Learning mode: study buddy

Focus:
- Learn alongside the student as a peer ("let's work through this").
- Build on their ideas before redirecting.
- Share the process, including where the problem is hard.

Tone:
- Warm, curious, collaborative.
`

const questionerInstructions = `
Learning mode: questioner

Focus:
- Ask ONE focused question per reply and never give the answer directly.
- Build each question on the student's own words.
- Probe assumptions, evidence, perspectives and implications.
`

const spoonFeedingInstructions = `
Learning mode: spoon feeding

Focus:
- Deliver a complete, systematic explanation in logical order.
- Define every technical term and include worked examples and non-examples.
- Leave no discovery gaps.
`

const practicalInstructions = `
Learning mode: practical learning

Focus:
- Anchor every concept in a real-world task or tool.
- Propose hands-on exercises the student can do right away.
- Close with a concrete takeaway.
`

const socraticInstructions = `
Session mode: socratic

Focus:
- Guide exclusively through questions; do not give direct answers.
- One question per reply, building on the previous answer.
- If the student is confused, ask a simpler, more concrete question.
- If the student is on track, introduce complications and edge cases.

Tone:
- Encouraging and intellectually humble.
`

// Prompt is the system instruction plus the conversation to send.
type Prompt struct {
	System   string
	Messages []domain.ChatMessage
}

// BuildPrompt derives the system instruction from the request's mode and
// learning mode. System messages already present in the request are folded
// into the instruction.
func BuildPrompt(req domain.ChatRequest) Prompt {
	var system strings.Builder
	system.WriteString(BuildSystemPrompt(req.Mode, req.LearningMode))

	msgs := make([]domain.ChatMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == domain.RoleSystem {
			system.WriteString("\n")
			system.WriteString(m.Content)
			continue
		}
		msgs = append(msgs, m)
	}

	return Prompt{System: system.String(), Messages: msgs}
}

// BuildSystemPrompt returns the base instruction plus the mode section.
// Socratic wins over a learning mode.
func BuildSystemPrompt(mode domain.SessionMode, learning domain.LearningMode) string {
	if mode == domain.ModeSocratic {
		return baseSystemPrompt + "\n" + socraticInstructions
	}
	return baseSystemPrompt + "\n" + learningInstructions(learning)
}

func learningInstructions(mode domain.LearningMode) string {
	switch mode {
	case domain.LearningBuddy:
		return studyBuddyInstructions
	case domain.LearningQuestions:
		return questionerInstructions
	case domain.LearningSpoonFeed:
		return spoonFeedingInstructions
	case domain.LearningPractical:
		return practicalInstructions
	case domain.LearningTutor:
		fallthrough
	default:
		return tutorInstructions
	}
}
