package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"allotment/internal/backup"
	"allotment/internal/config"
	"allotment/internal/events"
	"allotment/internal/rowstore"
	"allotment/internal/schedule"
	"allotment/internal/service"
)

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Load the table once and report rows that cannot be used",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			if err := rowstore.Ping(ctx, e.store); err != nil {
				return err
			}
			rows, err := e.table.Load(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			var cleared, missingID, malformed int
			for i := range rows {
				r := &rows[i]
				if r.ID == "" {
					missingID++
				}
				if r.IsTombstone() {
					cleared++
					continue
				}
				if err := r.Validate(); err != nil {
					malformed++
					fmt.Fprintf(out, "row %d (%s): %v\n", i+1, r.PatientName, err)
				}
			}

			dups := rowstore.DuplicateIDs(rows)
			idx := make([]int, 0, len(dups))
			for i := range dups {
				idx = append(idx, i)
			}
			sort.Ints(idx)
			for _, i := range idx {
				fmt.Fprintf(out, "row %d: duplicate id %s\n", i+1, dups[i])
			}

			fmt.Fprintf(out, "%d rows, %d cleared, %d without id, %d duplicate ids, %d malformed\n",
				len(rows), cleared, missingID, len(dups), malformed)
			if missingID > 0 {
				fmt.Fprintln(out, "run `allotment backfill-ids` to assign missing ids")
			}
			return nil
		},
	}
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FILE.xlsx",
		Short: "Append the rows of a workbook to the table with fresh ids",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			roster := config.NewRosterHolder(config.DefaultRoster())
			if r, err := config.LoadRoster(e.cfg.RosterPath); err == nil {
				roster.Set(r)
			}

			sheet, _ := cmd.Flags().GetString("sheet")
			sched := service.NewScheduleService(e.table, roster, events.NewEventBus(e.logger), e.logger)
			n, err := sched.ImportFile(ctx, args[0], sheet)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d rows from %s\n", n, args[0])
			return nil
		},
	}
	cmd.Flags().String("sheet", "", "Sheet to read (default: first sheet)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export [FILE.xlsx]",
		Short: "Write the day to a workbook with a sheet per chair and a doctor summary",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			rows, err := e.table.Load(ctx)
			if err != nil {
				return err
			}

			roster := config.DefaultRoster()
			if r, err := config.LoadRoster(e.cfg.RosterPath); err == nil {
				roster = r
			}

			now := time.Now()
			path := "allotment_export_" + now.In(e.loc).Format("20060102") + ".xlsx"
			if len(args) == 1 {
				path = args[0]
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}

			view := schedule.Build(rows, now, e.loc)
			if err := backup.ExportWorkbook(path, rows, view, roster.Chairs); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d appointments to %s\n", len(view.Appointments), path)
			return nil
		},
	}
	return cmd
}

func backfillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backfill-ids",
		Short: "Give every row without REMINDER_ROW_ID a new id and save once",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			n, err := e.table.BackfillIDs(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "assigned %d ids\n", n)
			return nil
		},
	}
}
