package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	appI18n "github.com/pavelanni/tutor/internal/i18n"
	"github.com/pavelanni/tutor/internal/retrieval"
	"github.com/pavelanni/tutor/internal/store"
)

func runImport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := context.Background()

	if err := appI18n.Init(v.GetString("lang")); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	im := retrieval.NewImporter(newLLMClient(v), db)
	total := 0
	for _, path := range v.GetStringSlice("questions") {
		n, err := im.ImportFile(ctx, path)
		if err != nil {
			return err
		}
		total += n
	}
	fmt.Fprintln(cmd.OutOrStdout(), appI18n.Tp(ctx, "QuestionsImported", total))
	return nil
}
