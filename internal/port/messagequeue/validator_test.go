package messagequeue

import "testing"

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		data    string
		wantErr bool
	}{
		{"valid event", SubjectEventPrefix + ".confirmation_created", `{"event_type":"confirmation_created","confirm_id":"c-1"}`, false},
		{"event missing confirm_id", SubjectEventPrefix + ".confirmation_created", `{"event_type":"confirmation_created"}`, true},
		{"event missing event_type", SubjectEventPrefix + ".confirmation_created", `{"confirm_id":"c-1"}`, true},
		{"invalid json", SubjectEventPrefix + ".confirmation_created", `{"event_type":`, true},
		{"unknown subject passes", "confirms.metrics", `{"anything":"goes"}`, false},
		{"unknown subject still needs json", "confirms.metrics", `not json`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.subject, []byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate(%s) error = %v, wantErr %v", tt.subject, err, tt.wantErr)
			}
		})
	}
}
