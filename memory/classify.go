package memory

import (
	"context"
	"strings"

	"github.com/lexassist/lexgo/core"
)

// Classification is the best-effort categorization of one exchange.
type Classification struct {
	LegalDomain string
	CaseType    string
	Topics      []string
}

// Classifier tags a conversational exchange with a legal domain and case
// type. Implementations are best-effort; the manager falls back to
// core.DomainUncategorized when classification fails.
type Classifier interface {
	Classify(ctx context.Context, userInput, aiResponse string) (Classification, error)
}

// domainVocabulary is the fixed keyword-to-domain table used by the
// keyword classifier. First matching domain wins; the table is ordered
// from more to less specific terms within each domain.
var domainVocabulary = []struct {
	domain   string
	keywords []string
}{
	{"contract law", []string{"contract", "agreement", "breach", "offer", "acceptance", "consideration", "terminate", "clause", "tenancy", "lease"}},
	{"tort law", []string{"negligence", "tort", "duty of care", "liability", "damages", "injury", "defamation", "nuisance"}},
	{"criminal law", []string{"criminal", "crime", "theft", "assault", "fraud", "prosecution", "bail", "sentencing"}},
	{"family law", []string{"divorce", "custody", "marriage", "alimony", "adoption", "guardianship", "matrimonial"}},
	{"property law", []string{"property", "land", "title", "deed", "easement", "conveyance", "mortgage", "strata"}},
	{"employment law", []string{"employment", "dismissal", "wrongful termination", "salary", "workplace", "employer", "employee", "retrenchment"}},
}

// caseTypeRules maps query phrasing to a coarse case type.
var caseTypeRules = []struct {
	caseType string
	keywords []string
}{
	{"document_review", []string{"review this", "summarize", "summarise", "this document", "attached"}},
	{"dispute", []string{"sue", "dispute", "claim against", "court", "lawsuit", "litigation"}},
	{"outcome_prediction", []string{"what are my chances", "likely outcome", "will i win", "predict"}},
	{"advice", []string{"can i", "should i", "what is", "how do i", "am i allowed"}},
}

// KeywordClassifier categorizes exchanges with a fixed keyword table.
// It never fails; unmatched input is reported as uncategorized.
type KeywordClassifier struct{}

// NewKeywordClassifier returns the table-driven classifier.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{}
}

// Classify scans the exchange for known domain and case-type keywords.
func (c *KeywordClassifier) Classify(ctx context.Context, userInput, aiResponse string) (Classification, error) {
	text := strings.ToLower(userInput + "\n" + aiResponse)

	result := Classification{
		LegalDomain: core.DomainUncategorized,
		CaseType:    "general",
	}

	for _, entry := range domainVocabulary {
		var matched []string
		for _, kw := range entry.keywords {
			if strings.Contains(text, kw) {
				matched = append(matched, kw)
			}
		}
		if len(matched) > 0 {
			result.LegalDomain = entry.domain
			result.Topics = matched
			break
		}
	}

	query := strings.ToLower(userInput)
	for _, rule := range caseTypeRules {
		for _, kw := range rule.keywords {
			if strings.Contains(query, kw) {
				result.CaseType = rule.caseType
				return result, nil
			}
		}
	}

	return result, nil
}
