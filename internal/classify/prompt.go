package classify

import (
	"fmt"
	"strings"
)

// SystemPrompt renders the instructions and the full taxonomy.
func SystemPrompt(req Request) string {
	var sb strings.Builder

	sb.WriteString("You are an expert email categorization assistant for a zero inbox workflow. ")
	sb.WriteString("Analyze each email and assign exactly one category and subcategory.\n\n")

	sb.WriteString("Steps:\n")
	sb.WriteString("1. Read the sender, subject and content carefully.\n")
	sb.WriteString("2. Compare the content with the category rules below.\n")
	sb.WriteString("3. Choose the best matching combination from VALID COMBINATIONS only.\n")
	sb.WriteString("4. Rate your certainty between 0 and 1 (0.8 or more when sure).\n")
	sb.WriteString("5. Explain the decision in one or two sentences.\n\n")

	if req.Taxonomy != nil {
		sb.WriteString("CATEGORY RULES\n\n")
		sb.WriteString(req.Taxonomy.Describe())
		sb.WriteString("\nYou MUST use ONLY the exact combinations above. ")
		sb.WriteString("Any other combination is rejected.\n\n")
	}

	sb.WriteString("Answer with a single JSON object and nothing else:\n")
	sb.WriteString(`{"category": "...", "subcategory": "...", "confidence": 0.0, "reasoning": "..."}`)
	return sb.String()
}

// UserPrompt renders the message under classification.
func UserPrompt(req Request) string {
	return fmt.Sprintf("Sender: %s\nSubject: %s\n\nContent:\n%s",
		req.Sender, req.Subject, req.Content)
}
