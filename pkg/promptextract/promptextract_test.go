package promptextract_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/duo-workflow-bridge/bridge/pkg/promptextract"
)

func TestExtractGoalStripsPlainReminder(t *testing.T) {
	msgs := []promptextract.Message{
		{Role: promptextract.RoleUser, TextParts: []promptextract.TextPart{
			{Text: "fix the bug <system-reminder>unrelated note</system-reminder>please"},
		}},
	}
	assert.Equal(t, "fix the bug please", promptextract.ExtractGoal(msgs))
}

func TestExtractGoalPreservesWrappedUserForm(t *testing.T) {
	msgs := []promptextract.Message{
		{Role: promptextract.RoleUser, TextParts: []promptextract.TextPart{
			{Text: "<system-reminder>The user sent the following message:\nhi there\nPlease address this message and continue with your tasks.</system-reminder>"},
		}},
	}
	assert.Equal(t, "hi there", promptextract.ExtractGoal(msgs))
}

func TestExtractGoalUsesLastUserMessage(t *testing.T) {
	msgs := []promptextract.Message{
		{Role: promptextract.RoleUser, TextParts: []promptextract.TextPart{{Text: "first"}}},
		{Role: "assistant", TextParts: []promptextract.TextPart{{Text: "reply"}}},
		{Role: promptextract.RoleUser, TextParts: []promptextract.TextPart{{Text: "second"}}},
	}
	assert.Equal(t, "second", promptextract.ExtractGoal(msgs))
}

func TestExtractToolResultsTextOutput(t *testing.T) {
	msgs := []promptextract.Message{
		{ToolParts: []promptextract.ToolResultPart{
			{ID: "t1", Output: &promptextract.ToolOutput{Type: "text", Value: "ok"}},
		}},
	}
	results := promptextract.ExtractToolResults(msgs)
	assert.Equal(t, []promptextract.ExtractedToolResult{{ID: "t1", Output: "ok"}}, results)
}

func TestExtractToolResultsErrorOutput(t *testing.T) {
	msgs := []promptextract.Message{
		{ToolParts: []promptextract.ToolResultPart{
			{ID: "t1", Output: &promptextract.ToolOutput{Type: "error-text", Value: "boom"}},
		}},
	}
	results := promptextract.ExtractToolResults(msgs)
	assert.Equal(t, "boom", results[0].Error)
}

func TestExtractToolResultsLegacyResultField(t *testing.T) {
	msgs := []promptextract.Message{
		{ToolParts: []promptextract.ToolResultPart{{ID: "t1", Result: "legacy"}}},
	}
	results := promptextract.ExtractToolResults(msgs)
	assert.Equal(t, "legacy", results[0].Output)
}

func TestExtractToolResultsContentJoinsTextSubParts(t *testing.T) {
	msgs := []promptextract.Message{
		{ToolParts: []promptextract.ToolResultPart{
			{ID: "t1", Output: &promptextract.ToolOutput{Type: "content", Value: []promptextract.TextPart{
				{Text: "line1"}, {Text: "line2"},
			}}},
		}},
	}
	results := promptextract.ExtractToolResults(msgs)
	assert.Equal(t, "line1\nline2", results[0].Output)
}

func TestExtractSystemPromptConcatenatesSystemMessages(t *testing.T) {
	msgs := []promptextract.Message{
		{Role: promptextract.RoleSystem, TextParts: []promptextract.TextPart{{Text: "a"}}},
		{Role: promptextract.RoleUser, TextParts: []promptextract.TextPart{{Text: "ignored"}}},
		{Role: promptextract.RoleSystem, TextParts: []promptextract.TextPart{{Text: "b"}}},
	}
	assert.Equal(t, "a\nb", promptextract.ExtractSystemPrompt(msgs))
}

func TestSanitizeSystemPromptRewritesHostNameStripsURLsCollapsesBlanks(t *testing.T) {
	in := "Welcome to opencode.\n\n\n\nSee https://example.com/docs for more."
	out := promptextract.SanitizeSystemPrompt(in)
	assert.Contains(t, out, promptextract.ServiceProductName)
	assert.NotContains(t, out, "https://")
	assert.NotContains(t, out, "\n\n\n")
}

func TestExtractAgentRemindersSyntheticPartIsVerbatim(t *testing.T) {
	msgs := []promptextract.Message{
		{Role: promptextract.RoleUser, TextParts: []promptextract.TextPart{
			{Text: "  a synthetic reminder  ", Synthetic: true},
		}},
	}
	assert.Equal(t, []string{"a synthetic reminder"}, promptextract.ExtractAgentReminders(msgs))
}

func TestExtractAgentRemindersFromMarkup(t *testing.T) {
	msgs := []promptextract.Message{
		{Role: promptextract.RoleUser, TextParts: []promptextract.TextPart{
			{Text: "hi <system-reminder>r1</system-reminder> bye <system-reminder>r2</system-reminder>"},
		}},
	}
	assert.Equal(t, []string{"r1", "r2"}, promptextract.ExtractAgentReminders(msgs))
}
