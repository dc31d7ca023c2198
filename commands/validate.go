package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/evermem/membench/dataset"
)

func newValidateCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the dataset against its schemas and integrity rules",
		Long: `Validate checks every dataset line against its JSON Schema, then
loads the dataset and verifies that every question's evidence spans
resolve to existing conversation turns. All violations are reported;
any violation makes the command fail.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(g)
			if err != nil {
				return err
			}
			return runValidate(cmd, rt)
		},
	}
}

func runValidate(cmd *cobra.Command, rt *runtime) error {
	out := cmd.OutOrStdout()

	groups := []struct {
		kind dataset.RecordKind
		glob string
	}{
		{dataset.RecordPersona, rt.cfg.Dataset.Personas},
		{dataset.RecordTurn, rt.cfg.Dataset.Conversations},
		{dataset.RecordQuestion, rt.cfg.Dataset.Questions},
	}

	schemaViolations := 0
	files := 0
	for _, group := range groups {
		paths, err := dataset.ExpandGlobs([]string{group.glob})
		if err != nil {
			return fmt.Errorf("%s: %w", group.kind, err)
		}
		for _, path := range paths {
			files++
			issues, err := dataset.ValidateJSONL(path, group.kind)
			if err != nil {
				return err
			}
			for _, issue := range issues {
				schemaViolations++
				fmt.Fprintf(out, "schema: %s: %s\n", path, issue)
			}
		}
	}
	if schemaViolations > 0 {
		return fmt.Errorf("%d schema violations across %d files", schemaViolations, files)
	}

	// Schemas passed; load the dataset and check referential integrity.
	ds, err := rt.loadDataset(false)
	if err != nil {
		return err
	}

	issues := ds.Questions.VerifyEvidence(ds.Conversations)
	for _, issue := range issues {
		fmt.Fprintf(out, "integrity: question %s span %s: %s\n", issue.QuestionID, issue.Span, issue.Reason)
	}

	fmt.Fprintf(out, "validated %d files: %d personas, %d turns in %d communities, %d questions\n",
		files, ds.Personas.Len(), ds.Conversations.TotalTurns(),
		len(ds.Conversations.Communities()), ds.Questions.Len())

	if len(issues) > 0 {
		return fmt.Errorf("%d evidence references failed to resolve", len(issues))
	}
	fmt.Fprintln(out, "dataset OK")
	return nil
}
