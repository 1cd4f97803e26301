package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/leftmike/rowcache/engine"
	"github.com/leftmike/rowcache/metrics"
	"github.com/leftmike/rowcache/operation"
	"github.com/leftmike/rowcache/parser"
	"github.com/leftmike/rowcache/producer"
	"github.com/leftmike/rowcache/repl"
	"github.com/leftmike/rowcache/server"
	"github.com/leftmike/rowcache/session"
	"github.com/leftmike/rowcache/storage/kv"
)

var (
	startCmd = &cobra.Command{
		Use:   "start [sql-file ...]",
		Short: "Start the rowcache server",
		RunE:  startRun,
	}

	store        = "memory"
	dataDir      = "testdata"
	maxCacheRows = operation.DefaultMaxCacheRows
	fetchSize    = operation.DefaultFetchSize
	backlog      = producer.DefaultBacklog

	proto3Host     = "localhost"
	proto3Port     = "5432"
	sshServer      = false
	sshPort        = "localhost:8241"
	authorizedKeys = ""
	hostKeys       = []string{"id_rsa"}
	metricsAddress = "localhost:8242"

	sqlArgs = []string{}
)

func initServerFlags(fs *pflag.FlagSet) {
	fs.StringVar(&store, "store", store,
		fmt.Sprintf("storage engine to use: %s", strings.Join(kv.Stores, ", ")))
	cfgVars["store"] = fs.Lookup("store")

	fs.StringVar(&dataDir, "data", dataDir, "`directory` containing tables")
	cfgVars["data"] = fs.Lookup("data")

	fs.IntVar(&maxCacheRows, "resultset-cache-max-rows", maxCacheRows,
		"largest result cache size, in rows, a client may ask for")
	cfgVars["resultset-cache-max-rows"] = fs.Lookup("resultset-cache-max-rows")

	fs.IntVar(&fetchSize, "fetch-size", fetchSize, "rows returned by a fetch without a count")
	cfgVars["fetch-size"] = fs.Lookup("fetch-size")

	fs.IntVar(&backlog, "backlog", backlog, "rows a query may produce ahead of its fetches")
	cfgVars["backlog"] = fs.Lookup("backlog")

	fs.StringSliceVar(&sqlArgs, "sql", sqlArgs, "sql `query` to execute; multiple allowed")
}

func init() {
	fs := startCmd.Flags()
	initServerFlags(fs)

	fs.StringVar(&proto3Host, "host", proto3Host,
		"`host` used to serve PostgreSQL wire protocol v3")
	cfgVars["host"] = fs.Lookup("host")

	fs.StringVarP(&proto3Port, "port", "p", proto3Port,
		"`port` used to serve PostgreSQL wire protocol v3")
	cfgVars["port"] = fs.Lookup("port")

	fs.BoolVar(&sshServer, "ssh", sshServer, "`flag` to control serving SSH")
	cfgVars["ssh"] = fs.Lookup("ssh")

	fs.StringVar(&sshPort, "ssh-port", sshPort, "`port` used to serve SSH")
	cfgVars["ssh-port"] = fs.Lookup("ssh-port")

	fs.StringVar(&authorizedKeys, "ssh-authorized-keys", authorizedKeys,
		"`file` containing authorized ssh keys")
	cfgVars["ssh-authorized-keys"] = fs.Lookup("ssh-authorized-keys")

	fs.StringSliceVar(&hostKeys, "ssh-host-key", hostKeys,
		"`file` containing a ssh host key; multiple allowed")
	cfgVars["ssh-host-keys"] = fs.Lookup("ssh-host-key")

	fs.StringVar(&metricsAddress, "metrics-address", metricsAddress,
		"`address` used to serve prometheus metrics; empty to disable")
	cfgVars["metrics-address"] = fs.Lookup("metrics-address")

	cfgVars["accounts"] = nil

	rowcacheCmd.AddCommand(startCmd)
}

func newServer(args []string) (*server.Server, *engine.Engine, error) {
	if maxCacheRows < 0 {
		return nil, nil, fmt.Errorf(
			"rowcache: resultset-cache-max-rows must not be negative; got %d", maxCacheRows)
	}

	st, err := kv.Open(store, dataDir, log.StandardLogger())
	if err != nil {
		return nil, nil, fmt.Errorf("rowcache: %s", err)
	}

	e := engine.New(st, backlog)
	svr := &server.Server{
		Planner: e,
		Manager: operation.NewManager(maxCacheRows, fetchSize),
		Handler: repl.Handler,
	}

	for idx, arg := range sqlArgs {
		svr.HandleSession(sqlHandler(strings.NewReader(arg), "sql-arg"), "startup", "sql-arg",
			strconv.Itoa(idx))
	}

	for idx := 0; idx < len(args); idx++ {
		f, err := os.Open(args[idx])
		if err != nil {
			e.Close()
			return nil, nil, fmt.Errorf("rowcache: sql file: %s", err)
		}
		svr.HandleSession(sqlHandler(bufio.NewReader(f), args[idx]), "startup", "sql-file",
			args[idx])
		f.Close()
	}

	return svr, e, nil
}

func sqlHandler(rr io.RuneReader, src string) func(ses *session.Session) {
	return func(ses *session.Session) {
		repl.ReplSQL(ses, parser.NewParser(rr, src), os.Stdout)
	}
}

func userAccounts() map[string]string {
	var objs []interface{}
	switch val := cfg["accounts"].(type) {
	case []interface{}:
		objs = val
	case []map[string]interface{}:
		for _, account := range val {
			objs = append(objs, account)
		}
	default:
		return nil
	}

	userPasswords := map[string]string{}
	for _, obj := range objs {
		// hcl may decode each account as a list of maps.
		accounts, ok := obj.([]map[string]interface{})
		if !ok {
			if account, ok := obj.(map[string]interface{}); ok {
				accounts = []map[string]interface{}{account}
			}
		}
		for _, account := range accounts {
			user, ok := account["user"].(string)
			if !ok {
				continue
			}
			password, ok := account["password"].(string)
			if !ok {
				continue
			}
			userPasswords[user] = password
		}
	}

	return userPasswords
}

func sshConfig() (server.SSHConfig, error) {
	sshCfg := server.SSHConfig{
		Address: sshPort,
	}

	for _, hostKey := range hostKeys {
		keyBytes, err := os.ReadFile(hostKey)
		if err != nil {
			return sshCfg, fmt.Errorf("rowcache: host keys: %s", err)
		}
		sshCfg.HostKeysBytes = append(sshCfg.HostKeysBytes, keyBytes)
	}

	if authorizedKeys != "" {
		var err error
		sshCfg.AuthorizedBytes, err = os.ReadFile(authorizedKeys)
		if err != nil {
			return sshCfg, fmt.Errorf("rowcache: authorized keys: %s", err)
		}
	}

	if userPasswords := userAccounts(); len(userPasswords) > 0 {
		sshCfg.CheckPassword = func(user, password string) error {
			pw, ok := userPasswords[user]
			if !ok {
				return fmt.Errorf("user %s not found", user)
			}
			if password != pw {
				return fmt.Errorf("bad password for user %s", user)
			}
			return nil
		}
	}

	return sshCfg, nil
}

func startRun(cmd *cobra.Command, args []string) error {
	svr, e, err := newServer(args)
	if err != nil {
		return err
	}
	defer e.Close()

	var sshCfg server.SSHConfig
	if sshServer {
		sshCfg, err = sshConfig()
		if err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := svr.ListenAndServeProto3(
			server.Proto3Config{
				Address: fmt.Sprintf("%s:%s", proto3Host, proto3Port),
			})
		if err == server.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("rowcache: proto3: %s", err)
	})

	if sshServer {
		g.Go(func() error {
			err := svr.ListenAndServeSSH(sshCfg)
			if err == server.ErrServerClosed {
				return nil
			}
			return fmt.Errorf("rowcache: ssh: %s", err)
		})
	}

	if metricsAddress != "" {
		m := metrics.New(svr.Manager)
		g.Go(func() error {
			return m.ListenAndServe(ctx, metricsAddress)
		})
	}

	g.Go(func() error {
		<-ctx.Done()

		// A second ^C exits without waiting for connections to finish.
		stop()
		fmt.Println("rowcache: shutting down")
		err := svr.Shutdown(context.Background())
		svr.Manager.CloseAll()
		return err
	})

	fmt.Println("rowcache: waiting for ^C to shutdown")
	return g.Wait()
}
