package schedule

import (
	"testing"
)

func TestCronSpec(t *testing.T) {
	tests := []struct {
		name    string
		at      string
		want    string
		wantErr bool
	}{
		{name: "evening", at: "19:00", want: "0 19 * * *"},
		{name: "just past midnight", at: "00:05", want: "5 0 * * *"},
		{name: "midnight", at: "00:00", want: "0 0 * * *"},
		{name: "invalid hour", at: "25:00", wantErr: true},
		{name: "not a time", at: "teatime", wantErr: true},
		{name: "empty", at: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CronSpec(tt.at)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CronSpec(%q) error = %v, wantErr %v", tt.at, err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Fatalf("CronSpec(%q) = %q, want %q", tt.at, got, tt.want)
			}
		})
	}
}

func TestDaily(t *testing.T) {
	sched, err := Daily("19:00", func() {})
	if err != nil {
		t.Fatalf("daily: %v", err)
	}

	sched.Start()
	defer func() { <-sched.Stop().Done() }()

	next := sched.Next()
	if next.IsZero() {
		t.Fatalf("next run should be scheduled")
	}
	if next.Hour() != 19 || next.Minute() != 0 {
		t.Fatalf("next run at %v, want 19:00", next)
	}
}

func TestDailyRejectsBadTime(t *testing.T) {
	if _, err := Daily("not-a-time", func() {}); err == nil {
		t.Fatalf("expected error for invalid schedule time")
	}
}
