package messagequeue

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects pass validation.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	switch subject {
	case SubjectFeedEvent:
		var p FeedEventPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if p.ID == "" || p.Type == "" {
			return fmt.Errorf("schema validation failed for %s: %w", subject, errors.New("id and type are required"))
		}
	case SubjectSessionEnded:
		var p SessionEndedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if p.SessionID == "" {
			return fmt.Errorf("schema validation failed for %s: %w", subject, errors.New("session_id is required"))
		}
	}
	return nil
}
