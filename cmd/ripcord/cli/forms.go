package cli

import (
	"os"
	"strings"
	"unicode"

	"github.com/charmbracelet/huh"
)

// NewAccessibleForm builds a huh form that falls back to plain text prompts
// when the ACCESSIBLE environment variable is set. Screen readers handle the
// plain prompts far better than the interactive TUI.
func NewAccessibleForm(groups ...*huh.Group) *huh.Form {
	return huh.NewForm(groups...).WithAccessible(os.Getenv("ACCESSIBLE") != "")
}

// sanitizeForTerminal removes or replaces characters that cause rendering issues
// in terminal UI components. This includes emojis with skin-tone modifiers and
// other multi-codepoint characters that confuse width calculations.
func sanitizeForTerminal(s string) string {
	var result strings.Builder
	result.Grow(len(s))

	for _, r := range s {
		// Skip emoji skin tone modifiers (U+1F3FB to U+1F3FF)
		if r >= 0x1F3FB && r <= 0x1F3FF {
			continue
		}
		// Skip zero-width joiners used in emoji sequences
		if r == 0x200D {
			continue
		}
		// Skip variation selectors (U+FE00 to U+FE0F)
		if r >= 0xFE00 && r <= 0xFE0F {
			continue
		}
		// Keep printable characters and common whitespace
		if unicode.IsPrint(r) || r == '\t' || r == '\n' {
			result.WriteRune(r)
		}
	}

	return result.String()
}

// confirmAction runs a yes/no prompt and reports the choice. An aborted form
// counts as declining.
func confirmAction(title, description string) bool {
	var confirmed bool
	form := NewAccessibleForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(title).
				Description(description).
				Value(&confirmed),
		),
	)
	if err := form.Run(); err != nil {
		return false
	}
	return confirmed
}
