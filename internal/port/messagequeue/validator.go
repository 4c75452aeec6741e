package messagequeue

import (
	"encoding/json"
	"fmt"
	"strings"
)

// eventEnvelope is the minimal shape every confirms.events.* message must
// carry.
type eventEnvelope struct {
	EventType string `json:"event_type"`
	ConfirmID string `json:"confirm_id"`
}

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects pass validation.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	if strings.HasPrefix(subject, SubjectEventPrefix+".") {
		var env eventEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if env.EventType == "" || env.ConfirmID == "" {
			return fmt.Errorf("event on %s missing event_type or confirm_id", subject)
		}
	}
	return nil
}
