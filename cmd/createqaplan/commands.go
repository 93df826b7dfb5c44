package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"createqaplan/pkg/archive"
	"createqaplan/pkg/config"
)

func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Inspect QA phantom settings",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check [file]",
		Short: "Validate a settings file and list its machines",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultSettingsFile
			if len(args) == 1 {
				path = args[0]
			}
			settings, err := config.LoadSettings(path)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "MACHINE\tPHANTOM\tIMAGE\tSTRUCTURES\tISOCENTER(mm)\tLENGTH(mm)")
			for _, s := range settings {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.1f,%.1f,%.1f\t%.1f\n",
					s.MachineID, s.PhantomPatientID, s.PhantomImageID, s.PhantomStructureSetID,
					s.PhantomIsocenter.X, s.PhantomIsocenter.Y, s.PhantomIsocenter.Z, s.PhantomLength)
			}
			return w.Flush()
		},
	})
	return cmd
}

func newInitConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config [path]",
		Short: "Write the default application config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.CreateDefaultConfigFile(args[0]); err != nil {
				return err
			}
			fmt.Printf("Default config written to %s\n", args[0])
			return nil
		},
	}
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List archived runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("archive")
			store, err := archive.Open(dir, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.List()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tRUN\tPATIENT\tPLAN\tCOURSE\tSHIFT(cm)\tBEAMS\tSTATUS")
			for _, r := range records {
				status := "ok"
				if !r.Succeeded() {
					status = r.Err
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
					r.Timestamp.Format("2006-01-02 15:04"), r.RunID, r.PatientID, r.SourcePlanID,
					r.CourseID, int(r.ShiftMM/10), len(r.Beams), status)
			}
			return w.Flush()
		},
	}
	cmd.Flags().String("archive", "", "run archive directory")
	_ = cmd.MarkFlagRequired("archive")
	return cmd
}
