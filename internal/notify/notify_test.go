package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/JonMunkholm/dedupe/internal/dedupe"
)

func TestMessage_Body(t *testing.T) {
	report := &dedupe.Report{
		Records:          4,
		Fields:           5,
		StrictDuplicates: dedupe.TierReport{Count: 1, IndexPairs: []dedupe.IndexPair{{Original: 1, Duplicate: 2}}},
		FileURL:          "http://localhost:8080/files/j1/modif.csv",
	}

	tests := []struct {
		name        string
		msg         Message
		wantSubject string
		contains    []string
		excludes    []string
	}{
		{
			name:        "flag success",
			msg:         Message{JobID: "j1", Action: dedupe.ActionFlag, Report: report},
			wantSubject: SuccessSubject,
			contains:    []string{report.FileURL, `"flag" option`, `"records": 4`, "[\n"},
		},
		{
			name:        "remove success",
			msg:         Message{JobID: "j1", Action: dedupe.ActionRemove, Report: report},
			wantSubject: SuccessSubject,
			contains:    []string{`"remove" option`},
			excludes:    []string{`"flag" option`},
		},
		{
			name:        "report without file",
			msg:         Message{JobID: "j1", Action: dedupe.ActionReport, Report: &dedupe.Report{Records: 2}},
			wantSubject: SuccessSubject,
			contains:    []string{"has been analysed"},
			excludes:    []string{"available for download", "option"},
		},
		{
			name:        "failure",
			msg:         Message{JobID: "j2", Err: errors.New("CFG003: single column")},
			wantSubject: ErrorSubject,
			contains:    []string{"CFG003: single column", "job j2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.msg.Subject(); got != tt.wantSubject {
				t.Errorf("Subject() = %q, want %q", got, tt.wantSubject)
			}
			body := tt.msg.Body()
			for _, s := range tt.contains {
				if !strings.Contains(body, s) {
					t.Errorf("body missing %q:\n%s", s, body)
				}
			}
			for _, s := range tt.excludes {
				if strings.Contains(body, s) {
					t.Errorf("body contains %q:\n%s", s, body)
				}
			}
		})
	}
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	defer slog.SetDefault(prev)

	n := LogNotifier{IncludeBody: true}
	msg := Message{Recipient: "a@example.org", JobID: "j1", Report: &dedupe.Report{}}
	if err := n.Notify(context.Background(), msg); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	out := buf.String()
	for _, want := range []string{"recipient=a@example.org", "job_id=j1", "notification body"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	if err := n.Notify(context.Background(), Message{JobID: "j2"}); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if strings.Contains(buf.String(), "level=INFO") {
		t.Errorf("notification logged without recipient:\n%s", buf.String())
	}
}
