package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/methings/brainctl/internal/doctor"
)

func buildDoctorCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run an end-to-end smoke check against a running instance",
		Long: `Hits /health, requests and denies a throwaway permission, and
round-trips a temp file through the filesystem tool, printing a pass/fail
report for each step.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := &http.Client{Timeout: 15 * time.Second}
			report := doctor.Run(addr, client)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
			if !report.Passed {
				return fmt.Errorf("doctor: one or more checks failed")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "http://127.0.0.1:8765", "Base URL of the running brainctl instance")
	return cmd
}
