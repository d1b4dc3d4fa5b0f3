package records

import (
	"testing"
	"time"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		ok        bool
		wantUser  string
		wantLabel string
		committed bool
	}{
		{
			name:      "current format",
			raw:       `{"id":"1","user_id":"u1","username":"","tier_id":"t1","tier_label":"","value":"0.5","committed":true,"created_at":"2025-10-21T08:00:00Z"}`,
			ok:        true,
			wantUser:  "u1",
			wantLabel: "t1",
			committed: true,
		},
		{
			name:      "legacy numeric user",
			raw:       `{"user_id":12,"username":"bob","prize_id":3,"prize_name":"Lucky","amount":1.5,"timestamp":1700000000}`,
			ok:        true,
			wantUser:  "12",
			wantLabel: "Lucky",
			committed: true,
		},
		{
			name:      "legacy failed credit",
			raw:       `{"user_id":"12","prize_id":"3","amount":1,"success":false,"timestamp":1700000000}`,
			ok:        true,
			wantUser:  "12",
			wantLabel: "3",
			committed: false,
		},
		{name: "legacy without timestamp", raw: `{"user_id":12,"amount":1}`},
		{name: "legacy without amount", raw: `{"user_id":12,"timestamp":1700000000}`},
		{name: "garbage", raw: `[1,2,3]`},
		{name: "empty object", raw: `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, ok := Normalize(tt.raw)
			if ok != tt.ok {
				t.Fatalf("Expected ok=%v, got %v (%+v)", tt.ok, ok, rec)
			}
			if !ok {
				return
			}
			if rec.UserID != tt.wantUser {
				t.Errorf("Expected user %q, got %q", tt.wantUser, rec.UserID)
			}
			if rec.TierLabel != tt.wantLabel {
				t.Errorf("Expected label %q, got %q", tt.wantLabel, rec.TierLabel)
			}
			if rec.Committed != tt.committed {
				t.Errorf("Expected committed=%v, got %v", tt.committed, rec.Committed)
			}
			if rec.ID == "" || rec.CreatedAt.IsZero() || rec.Username == "" {
				t.Errorf("Expected defaulted id, username and created_at, got %+v", rec)
			}
		})
	}
}

func TestNormalize_LegacyTimestamp(t *testing.T) {
	rec, ok := Normalize(`{"user_id":1,"amount":2,"timestamp":1700000000}`)
	if !ok {
		t.Fatal("Expected legacy record to normalize")
	}
	if !rec.CreatedAt.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("Unexpected created_at %v", rec.CreatedAt)
	}
	if rec.ID != "legacy-1700000000-1" {
		t.Errorf("Unexpected synthesized id %q", rec.ID)
	}
}
