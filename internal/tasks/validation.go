package tasks

import (
	"strings"
	"unicode/utf8"

	"taskmanager/internal/domain/errors"
	"taskmanager/internal/domain/models"

	"github.com/google/uuid"
)

const (
	maxTitleLen       = 255
	maxDescriptionLen = 5000
	maxTopicLen       = 200
	maxSuggestions    = 5
)

func newID() string {
	return uuid.NewString()
}

// cleanInput trims the present title and description. A present title
// must be non-empty after trimming. Text is otherwise stored as given.
func cleanInput(title, description *string) (*string, *string, *errors.ValidationError) {
	verr := &errors.ValidationError{}

	if title != nil {
		t := strings.TrimSpace(*title)
		switch {
		case t == "":
			verr.Add("title", "is required")
		case utf8.RuneCountInString(t) > maxTitleLen:
			verr.Add("title", "must be at most 255 characters")
		}
		title = &t
	}
	if description != nil {
		d := strings.TrimSpace(*description)
		if utf8.RuneCountInString(d) > maxDescriptionLen {
			verr.Add("description", "must be at most 5000 characters")
		}
		description = &d
	}
	return title, description, verr
}

func validateEnums(verr *errors.ValidationError, status *models.Status, category *models.Category) {
	if status != nil && !status.Valid() {
		verr.Add("status", "must be one of pending, in_progress, completed")
	}
	if category != nil && !category.Valid() {
		verr.Add("category", "must be one of personal, work, education, health, other")
	}
}

func cleanTopic(topic string) (string, error) {
	topic = strings.TrimSpace(topic)
	switch {
	case topic == "":
		return "", errors.Invalid("topic", "is required")
	case utf8.RuneCountInString(topic) > maxTopicLen:
		return "", errors.Invalid("topic", "must be at most 200 characters")
	}
	return topic, nil
}
