// Package agents routes user queries to specialist roles and drives the
// model calls, grounding every reply in the memory system's context.
package agents

import "strings"

// Role identifies a specialist the supervisor can dispatch to.
type Role string

const (
	RoleResearch      Role = "legal_research"
	RoleSummarization Role = "document_summarization"
	RolePrediction    Role = "outcome_prediction"
)

// rolePrompts are the specialist system prompts. The memory context is
// appended per request; these stay static.
var rolePrompts = map[Role]string{
	RoleResearch: `You are a legal research assistant. Answer questions about ` +
		`legal concepts, statutes and case law. Cite the concepts you rely on, ` +
		`flag jurisdictional differences, and say clearly when a question needs ` +
		`a qualified lawyer rather than research. You are not giving legal advice.`,
	RoleSummarization: `You are a legal document analyst. Summarize and review ` +
		`legal documents: identify the parties, key obligations, deadlines, ` +
		`termination and liability clauses, and anything unusual a reader should ` +
		`look at closely. Keep the structure of the original document visible in ` +
		`your summary.`,
	RolePrediction: `You are a legal case analyst. Assess the likely outcomes of ` +
		`a dispute based on the facts given and comparable situations. Always ` +
		`present outcomes as possibilities with their supporting factors, never ` +
		`as certainties, and state what additional facts would change the picture.`,
}

// summarizationCues and predictionCues steer role selection; anything
// else is research.
var (
	summarizationCues = []string{"summarize", "summarise", "summary", "review this", "review my", "this document", "this contract", "attached", "key points"}
	predictionCues    = []string{"what are my chances", "likely outcome", "will i win", "predict", "odds of", "how likely"}
)

// SelectRole picks the specialist for a query by keyword heuristics.
func SelectRole(query string) Role {
	q := strings.ToLower(query)
	for _, cue := range summarizationCues {
		if strings.Contains(q, cue) {
			return RoleSummarization
		}
	}
	for _, cue := range predictionCues {
		if strings.Contains(q, cue) {
			return RolePrediction
		}
	}
	return RoleResearch
}

// Prompt returns the specialist system prompt for the role.
func (r Role) Prompt() string {
	if p, ok := rolePrompts[r]; ok {
		return p
	}
	return rolePrompts[RoleResearch]
}
