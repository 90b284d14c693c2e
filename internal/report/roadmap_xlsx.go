// Package report renders learner progress for download.
package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/p-n-ai/pai-roadmap/internal/linear"
)

const (
	roadmapSheet = "Roadmap"
	summarySheet = "Summary"
	timeLayout   = "2006-01-02 15:04"
)

var roadmapHeader = []any{"#", "Topic ID", "Topic", "Difficulty", "Status", "Score", "Attempts", "Locked", "Lock reason", "Last attempt"}

// WriteRoadmapXLSX writes rm as a workbook with one row per step and a
// summary sheet.
func WriteRoadmapXLSX(w io.Writer, rm *linear.Roadmap) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", roadmapSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create style: %w", err)
	}

	if err := f.SetSheetRow(roadmapSheet, "A1", &roadmapHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	lastCol, _ := excelize.ColumnNumberToName(len(roadmapHeader))
	if err := f.SetCellStyle(roadmapSheet, "A1", lastCol+"1", bold); err != nil {
		return fmt.Errorf("style header: %w", err)
	}

	for i, step := range rm.Steps {
		score, last := "", ""
		if step.Score != nil {
			score = strconv.Itoa(*step.Score)
		}
		if step.LastAttemptAt != nil {
			last = step.LastAttemptAt.UTC().Format(timeLayout)
		}
		row := []any{
			i + 1, step.TopicID, step.TopicName, step.Difficulty, string(step.Status),
			score, step.Attempts, yesNo(step.IsLocked), step.LockReason, last,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(roadmapSheet, cell, &row); err != nil {
			return fmt.Errorf("write step %s: %w", step.TopicID, err)
		}
	}
	if err := f.SetColWidth(roadmapSheet, "C", "C", 36); err != nil {
		return err
	}
	if err := f.SetColWidth(roadmapSheet, "I", "I", 52); err != nil {
		return err
	}

	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("create summary sheet: %w", err)
	}
	summary := [][]any{
		{"Student", rm.StudentID},
		{"Subject", rm.SubjectName},
		{"Total topics", rm.Summary.TotalTopics},
		{"Mastered", rm.Summary.Mastered},
		{"Developing", rm.Summary.Developing},
		{"Weak", rm.Summary.Weak},
		{"Not attempted", rm.Summary.NotAttempted},
	}
	for i, row := range summary {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
	}
	if err := f.SetCellStyle(summarySheet, "A1", fmt.Sprintf("A%d", len(summary)), bold); err != nil {
		return fmt.Errorf("style summary: %w", err)
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
