package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leftmike/rowcache/sql"
)

func init() {
	rowcacheCmd.AddCommand(
		&cobra.Command{
			Use:   "version",
			Short: "Print the version number of rowcache",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Println(sql.Version())
			},
		})
}
