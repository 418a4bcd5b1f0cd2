package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := appForCommand(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			// Opening the store applies migrations.
			fmt.Printf("%s database is up to date\n", a.store.Dialect())
			return nil
		},
	}
}
