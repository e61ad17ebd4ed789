package androidtv

import "testing"

func TestParseCommandMessage(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{
			name:    "valid",
			payload: `{"id":"cmd-1","command":"send_key","parameters":{"keycode":26}}`,
		},
		{
			name:    "missing id",
			payload: `{"command":"send_key"}`,
			wantErr: true,
		},
		{
			name:    "missing command",
			payload: `{"id":"cmd-1"}`,
			wantErr: true,
		},
		{
			name:    "invalid json",
			payload: `{"id":`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ParseCommandMessage([]byte(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && msg.ID == "" {
				t.Error("parsed message missing id")
			}
		})
	}
}

func TestPolledStateDiff(t *testing.T) {
	on, off := true, false
	version := "12"

	prev := &PolledState{Power: &on, AndroidVersion: &version}
	next := &PolledState{Power: &off, AndroidVersion: &version}

	changed := next.diff(prev)
	if len(changed) != 1 || changed[FieldPower] != "false" {
		t.Errorf("diff = %v, want only power=false", changed)
	}

	// nil previous reports everything known
	all := next.diff(nil)
	if len(all) != 2 {
		t.Errorf("diff(nil) = %v, want both fields", all)
	}

	// unknown fields are never reported
	sparse := &PolledState{}
	if got := sparse.diff(prev); len(got) != 0 {
		t.Errorf("diff = %v, want empty for all-unknown snapshot", got)
	}
}
