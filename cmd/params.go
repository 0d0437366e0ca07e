package main

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/publicacoes-cli/internal/model"
)

// addSearchFlags registers the webservice search flags on cmd.
func addSearchFlags(cmd *cobra.Command) {
	cmd.Flags().String("group", "", "group code (default from config)")
	cmd.Flags().String("from", "", "first publication date, YYYY-MM-DD (default today)")
	cmd.Flags().String("to", "", "last publication date, YYYY-MM-DD (default --from)")
	cmd.Flags().String("process-number", "", "restrict the search to one process")
}

// searchParams reads the search flags, filling defaults from config and the
// current date.
func searchParams(cmd *cobra.Command, today time.Time) (model.SearchParams, error) {
	group, _ := cmd.Flags().GetString("group")
	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")
	process, _ := cmd.Flags().GetString("process-number")

	if group == "" && cfg != nil {
		group = cfg.Source.GroupCode
	}
	if from == "" {
		from = today.Format(time.DateOnly)
	}
	if to == "" {
		to = from
	}

	fromT, err := time.Parse(time.DateOnly, from)
	if err != nil {
		return model.SearchParams{}, eris.Wrapf(err, "invalid --from %q", from)
	}
	toT, err := time.Parse(time.DateOnly, to)
	if err != nil {
		return model.SearchParams{}, eris.Wrapf(err, "invalid --to %q", to)
	}
	if toT.Before(fromT) {
		return model.SearchParams{}, eris.Errorf("--to %s is before --from %s", to, from)
	}

	return model.SearchParams{GroupCode: group, DateFrom: from, DateTo: to, ProcessNumber: process}, nil
}
