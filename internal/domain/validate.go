package domain

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// ValidationError reports a single malformed field on an incoming record.
// The HTTP layer maps this to 400 and persists nothing, matching the
// Validation category of the error taxonomy.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateIntent checks the invariants from §3: name length, a valid cron
// expression when scheduled, and at least one non-empty inclusion array.
func ValidateIntent(i Intent) error {
	if len(i.Name) < 1 || len(i.Name) > 100 {
		return &ValidationError{Field: "name", Message: "must be 1-100 characters"}
	}
	if i.ScheduleKind == ScheduleScheduled {
		if i.ScheduleCron == nil || *i.ScheduleCron == "" {
			return &ValidationError{Field: "scheduleCron", Message: "required when scheduleKind=scheduled"}
		}
		if _, err := cronParser.Parse(*i.ScheduleCron); err != nil {
			return &ValidationError{Field: "scheduleCron", Message: "invalid cron expression: " + err.Error()}
		}
	}
	if len(i.MatchContainers) == 0 && len(i.MatchImages) == 0 && len(i.MatchInstances) == 0 &&
		len(i.MatchStacks) == 0 && len(i.MatchRegistries) == 0 {
		return &ValidationError{Field: "match", Message: "at least one non-empty inclusion array is required"}
	}
	return nil
}
