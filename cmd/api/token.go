package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Robinemad1/EEETrading/internal/model"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Inspect or refresh the QuickBooks credential",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the current credential",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := appForCommand(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			status, err := a.tokens.Status(cmd.Context())
			if err != nil {
				return err
			}
			return printTokenStatus(os.Stdout, status)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "refresh",
		Short: "Refresh the credential now",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := appForCommand(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.tokens.Refresh(cmd.Context()); err != nil {
				return err
			}
			status, err := a.tokens.Status(cmd.Context())
			if err != nil {
				return err
			}
			return printTokenStatus(os.Stdout, status)
		},
	})

	return cmd
}

func appForCommand(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return newApp(cmd.Context(), cfg, appOptions{})
}

func printTokenStatus(w io.Writer, status *model.TokenStatus) error {
	if flagJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	fmt.Fprintln(w, status.Message)
	if status.RealmID != "" {
		fmt.Fprintf(w, "Realm:      %s\n", status.RealmID)
		fmt.Fprintf(w, "Issued:     %s\n", status.IssuedAt.Local().Format(time.RFC1123))
	}
	if status.Connected {
		fmt.Fprintf(w, "Expires in: %s\n", time.Duration(status.ExpiresInSeconds)*time.Second)
	}
	return nil
}
