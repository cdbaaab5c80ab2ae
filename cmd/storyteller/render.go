package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"storyteller/internal/models"
)

const timeLayout = "2006-01-02 15:04:05 MST"

var labelTitles = map[models.FeedbackLabel]string{
	models.FeedbackLoved:         "Loved it!",
	models.FeedbackTooShort:      "Too short",
	models.FeedbackMoreHumor:     "More humor",
	models.FeedbackMoreAdventure: "More adventure",
	models.FeedbackNotMyStyle:    "Not my style",
}

// generationOutput - JSON-представление результата генерации.
type generationOutput struct {
	Status    models.GenerationStatus `json:"status"`
	RecordID  string                  `json:"recordId,omitempty"`
	Narrative string                  `json:"story,omitempty"`
	Message   string                  `json:"message,omitempty"`
}

// identityOutput - JSON-представление текущей личности.
type identityOutput struct {
	UserID    string     `json:"userId,omitempty"`
	Method    string     `json:"method,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Message   string     `json:"message,omitempty"`
}

// feedOutput - JSON-представление истории пользователя.
type feedOutput struct {
	UserID  string               `json:"userId"`
	Stories []models.StoryRecord `json:"stories"`
	Error   string               `json:"error,omitempty"`
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// renderGeneration выводит сгенерированную историю и варианты отзыва.
func renderGeneration(w io.Writer, format string, v models.ViewState) error {
	if format == "json" {
		return writeJSON(w, generationOutput{
			Status:    v.Generation,
			RecordID:  v.LastRecordID,
			Narrative: v.Narrative,
			Message:   v.Message,
		})
	}

	var b strings.Builder
	if v.Message != "" {
		fmt.Fprintf(&b, "%s\n", v.Message)
	}
	if v.Narrative != "" {
		b.WriteString("\nYour Story\n")
		fmt.Fprintf(&b, "%s\n", v.Narrative)
	}
	if v.CanSubmitFeedback {
		fmt.Fprintf(&b, "\nStory ID: %s\n", v.LastRecordID)
		b.WriteString("Rate it with: storyteller feedback " + v.LastRecordID + " <label>\n")
		for _, label := range models.FeedbackLabels() {
			fmt.Fprintf(&b, "  %-15s %s\n", label, labelTitles[label])
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// renderFeed выводит истории в порядке ленты.
func renderFeed(w io.Writer, format string, subject string, records []models.StoryRecord, feedErr error) error {
	if format == "json" {
		out := feedOutput{UserID: subject, Stories: records}
		if out.Stories == nil {
			out.Stories = []models.StoryRecord{}
		}
		if feedErr != nil {
			out.Error = feedErr.Error()
		}
		return writeJSON(w, out)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Past stories of %s (%d)\n", subject, len(records))
	if feedErr != nil {
		fmt.Fprintf(&b, "Error fetching stories: %v\n", feedErr)
	}
	if len(records) == 0 && feedErr == nil {
		b.WriteString("No stories yet.\n")
	}
	for _, r := range records {
		b.WriteString("\n")
		created := "pending"
		if r.CreatedAt != nil {
			created = r.CreatedAt.UTC().Format(timeLayout)
		}
		fmt.Fprintf(&b, "[%s] %s\n", r.ID, created)
		fmt.Fprintf(&b, "Keywords: %s\n", r.Keywords)
		fmt.Fprintf(&b, "%s\n", r.Narrative)
		if r.Feedback != nil {
			fmt.Fprintf(&b, "Feedback: %s\n", r.Feedback.Label)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// renderIdentity выводит текущую личность.
func renderIdentity(w io.Writer, format string, id *models.Identity, message string) error {
	out := identityOutput{Message: message}
	if id != nil {
		out.UserID = id.UID
		out.Method = string(id.Method)
		if !id.ExpiresAt.IsZero() {
			exp := id.ExpiresAt.UTC()
			out.ExpiresAt = &exp
		}
	}
	if format == "json" {
		return writeJSON(w, out)
	}

	var b strings.Builder
	if out.UserID == "" {
		b.WriteString("Not signed in.\n")
	} else {
		fmt.Fprintf(&b, "Your User ID: %s\n", out.UserID)
		if out.Method != "" {
			fmt.Fprintf(&b, "Signed in via: %s\n", out.Method)
		}
		if out.ExpiresAt != nil {
			fmt.Fprintf(&b, "Token expires: %s\n", out.ExpiresAt.Format(timeLayout))
		}
	}
	if message != "" {
		fmt.Fprintf(&b, "%s\n", message)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// renderMessage выводит строку статуса.
func renderMessage(w io.Writer, format string, message string) error {
	if format == "json" {
		return writeJSON(w, struct {
			Message string `json:"message"`
		}{message})
	}
	_, err := fmt.Fprintln(w, message)
	return err
}
