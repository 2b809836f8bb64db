package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pavelanni/tutor/internal/evaluation"
	"github.com/pavelanni/tutor/internal/model"
	"github.com/pavelanni/tutor/internal/store"
)

type statsReport struct {
	StudentID  string           `json:"student_id"`
	Quizzes    model.QuizStats  `json:"quizzes"`
	Evaluation model.Evaluation `json:"evaluation"`
}

func runStats(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	studentID := v.GetString("student")
	day := v.GetString("date")
	if day == "" {
		day = store.Day(db.Now())
	} else if _, err := time.Parse("2006-01-02", day); err != nil {
		return fmt.Errorf("date must be YYYY-MM-DD: %w", err)
	}

	quizzes, err := db.QuizStats(studentID)
	if err != nil {
		return fmt.Errorf("quiz stats: %w", err)
	}
	eval, err := evaluation.NewService(db).Recompute(studentID, day)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(statsReport{StudentID: studentID, Quizzes: quizzes, Evaluation: *eval}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = cmd.OutOrStdout()
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	_, _ = fmt.Fprintln(w)
	return nil
}
