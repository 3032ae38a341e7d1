package spreadsheet

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/alem-hub/socratic-tutor/internal/domain/assessment"
)

// Sheet names of the study report.
const (
	SheetComparison  = "Comparison"
	SheetAssessments = "Assessments"
	SheetRatings     = "Ratings"
)

// Report is the content of an exported study report.
type Report struct {
	GeneratedAt time.Time
	Comparison  assessment.CohortComparison
	Records     []assessment.Record
	Ratings     []assessment.PerformanceRating
}

// SaveReport writes the report workbook to path.
func SaveReport(path string, r Report) error {
	f, err := buildReport(r)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	return nil
}

// WriteReport streams the report workbook to w.
func WriteReport(w io.Writer, r Report) error {
	f, err := buildReport(r)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func buildReport(r Report) (*excelize.File, error) {
	f := excelize.NewFile()
	f.SetSheetName("Sheet1", SheetComparison)

	if err := writeComparison(f, r); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.NewSheet(SheetAssessments); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeRecords(f, r.Records); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.NewSheet(SheetRatings); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeRatings(f, r.Ratings); err != nil {
		f.Close()
		return nil, err
	}
	f.SetActiveSheet(0)
	return f, nil
}

func writeComparison(f *excelize.File, r Report) error {
	cols := []string{"Side", "Cohort", "Students", "Eligible", "Pre Mean", "Final Mean", "Improvement", "Insufficient Data"}
	if err := writeHeader(f, SheetComparison, cols); err != nil {
		return err
	}
	for i, s := range []assessment.CohortSummary{r.Comparison.A, r.Comparison.B} {
		row := []interface{}{s.Label, s.Cohort.DisplayName(), s.Students, s.Eligible,
			s.PreMean, s.FinalMean, s.Improvement, s.InsufficientData}
		if err := setRow(f, SheetComparison, i+2, row); err != nil {
			return err
		}
	}

	generated := r.GeneratedAt
	if generated.IsZero() {
		generated = time.Now()
	}
	footer := [][]interface{}{
		{"Winner", string(r.Comparison.Winner)},
		{"Analysis", r.Comparison.Analysis()},
		{"Generated", generated.UTC().Format(time.RFC3339)},
	}
	for i, row := range footer {
		if err := setRow(f, SheetComparison, 5+i, row); err != nil {
			return err
		}
	}
	return nil
}

func writeRecords(f *excelize.File, records []assessment.Record) error {
	cols := []string{"Record ID", "Student ID", "Kind", "Taken At", "Correct", "Total", "Score", "Missed Concepts"}
	if err := writeHeader(f, SheetAssessments, cols); err != nil {
		return err
	}
	sorted := append([]assessment.Record(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].StudentID != sorted[j].StudentID {
			return sorted[i].StudentID < sorted[j].StudentID
		}
		return sorted[i].TakenAt.Before(sorted[j].TakenAt)
	})
	for i, rec := range sorted {
		row := []interface{}{rec.ID, string(rec.StudentID), string(rec.Kind),
			rec.TakenAt.UTC().Format(time.RFC3339), rec.Correct(), rec.Total(), rec.Score(),
			strings.Join(rec.MissedConcepts(), ", ")}
		if err := setRow(f, SheetAssessments, i+2, row); err != nil {
			return err
		}
	}
	return nil
}

func writeRatings(f *excelize.File, ratings []assessment.PerformanceRating) error {
	cols := []string{"Student ID", "Record ID", "Kind", "Score", "Difficulty", "Weak Areas", "Strong Areas", "Source", "Feedback"}
	if err := writeHeader(f, SheetRatings, cols); err != nil {
		return err
	}
	for i, r := range ratings {
		row := []interface{}{string(r.StudentID), r.RecordID, string(r.Kind), r.Score,
			r.Difficulty.String(), strings.Join(r.WeakAreas, ", "), strings.Join(r.StrongAreas, ", "),
			string(r.Source), r.Feedback}
		if err := setRow(f, SheetRatings, i+2, row); err != nil {
			return err
		}
	}
	return nil
}
