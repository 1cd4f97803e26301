package cmd

import (
	"github.com/spf13/cobra"

	"github.com/leftmike/rowcache/repl"
)

var (
	replCmd = &cobra.Command{
		Use:   "repl [sql-file ...]",
		Short: "Run with an interactive console session",
		RunE:  replRun,
	}
)

func init() {
	initServerFlags(replCmd.Flags())

	rowcacheCmd.AddCommand(replCmd)
}

func replRun(cmd *cobra.Command, args []string) error {
	svr, e, err := newServer(args)
	if err != nil {
		return err
	}
	defer e.Close()

	if len(args) == 0 && len(sqlArgs) == 0 {
		svr.HandleSession(repl.Interact(), "startup", "console", "")
	}
	svr.Manager.CloseAll()
	return nil
}
