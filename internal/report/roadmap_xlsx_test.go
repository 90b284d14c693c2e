package report_test

import (
	"bytes"
	"slices"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/p-n-ai/pai-roadmap/internal/linear"
	"github.com/p-n-ai/pai-roadmap/internal/report"
)

func TestWriteRoadmapXLSX(t *testing.T) {
	score := 85
	at := time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC)
	rm := &linear.Roadmap{
		StudentID:   "s-1",
		SubjectID:   "algebra",
		SubjectName: "Algebra",
		Steps: []linear.Step{
			{TopicID: "T1", TopicName: "Expressions", Status: linear.StatusMastered, Score: &score, Attempts: 2, LastAttemptAt: &at},
			{TopicID: "T2", TopicName: "Equations", Status: linear.StatusNotAttempted, IsLocked: false},
			{TopicID: "T3", TopicName: "Inequalities", Status: linear.StatusNotAttempted, IsLocked: true,
				LockReason: "Previous topic must be mastered to unlock this topic."},
		},
		Summary: linear.Summary{TotalTopics: 3, Mastered: 1, NotAttempted: 2},
	}

	var buf bytes.Buffer
	if err := report.WriteRoadmapXLSX(&buf, rm); err != nil {
		t.Fatalf("WriteRoadmapXLSX() error = %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer f.Close()

	if got := f.GetSheetList(); !slices.Equal(got, []string{"Roadmap", "Summary"}) {
		t.Errorf("sheets = %q", got)
	}

	rows, err := f.GetRows("Roadmap")
	if err != nil {
		t.Fatalf("GetRows() error = %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("rows = %d, want header + 3", len(rows))
	}
	if rows[0][0] != "#" || rows[0][2] != "Topic" {
		t.Errorf("header = %q", rows[0])
	}
	wantFirst := []string{"1", "T1", "Expressions", "", "mastered", "85", "2", "no", "", "2026-04-01 09:30"}
	if !slices.Equal(rows[1], wantFirst) {
		t.Errorf("row 1 = %q, want %q", rows[1], wantFirst)
	}
	if rows[3][7] != "yes" || rows[3][8] != "Previous topic must be mastered to unlock this topic." {
		t.Errorf("locked row = %q", rows[3])
	}

	mastered, err := f.GetCellValue("Summary", "B4")
	if err != nil {
		t.Fatalf("GetCellValue() error = %v", err)
	}
	if mastered != "1" {
		t.Errorf("Summary mastered = %q, want 1", mastered)
	}
}
