package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/hcl"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	rowcacheCmd = &cobra.Command{
		Use:   "rowcache",
		Short: "A database server with restartable cursors",
		Long: "Rowcache is a database server speaking the PostgreSQL wire protocol whose " +
			"cursors can restart from the first row when result caching is enabled.",
		PersistentPreRunE: rowcachePreRun,
		PersistentPostRun: rowcachePostRun,
		SilenceUsage:      true,
	}

	logFile   = "rowcache.log"
	logLevel  = "info"
	logStderr = false
	logWriter io.WriteCloser

	configFile = "rowcache.hcl"
	noConfig   = false

	cfgVars   = map[string]*pflag.Flag{}
	cfg       = map[string]interface{}{}
	usedFlags = map[string]struct{}{}
)

func init() {
	log.SetFormatter(&log.TextFormatter{
		DisableLevelTruncation: true,
	})

	fs := rowcacheCmd.PersistentFlags()

	fs.StringVar(&logFile, "log-file", logFile, "`file` to use for logging")
	cfgVars["log-file"] = fs.Lookup("log-file")

	fs.StringVar(&logLevel, "log-level", logLevel,
		"log level: trace, debug, info, warn, error, fatal, or panic")
	cfgVars["log-level"] = fs.Lookup("log-level")

	fs.BoolVarP(&logStderr, "log-stderr", "s", logStderr, "log to standard error")

	fs.StringVar(&configFile, "config-file", configFile, "`file` to load config from")
	fs.BoolVar(&noConfig, "no-config", noConfig, "don't load config file")
}

func Execute() error {
	return rowcacheCmd.Execute()
}

func rowcachePreRun(cmd *cobra.Command, args []string) error {
	cmd.Flags().Visit(
		func(flg *pflag.Flag) {
			usedFlags[flg.Name] = struct{}{}
		})

	if configFile != "" && !noConfig {
		err := loadConfig()
		if errors.Is(err, os.ErrNotExist) && !configGiven() {
			log.WithField("config-file", configFile).Debug("no config file")
		} else if err != nil {
			return fmt.Errorf("rowcache: %s", err)
		}
	}

	if !logStderr && logFile != "" {
		var err error
		logWriter, err = os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
		if err != nil {
			logWriter = nil
			return fmt.Errorf("rowcache: %s", err)
		}
		log.SetOutput(logWriter)
	}

	ll, err := log.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("rowcache: %s", err)
	}
	log.SetLevel(ll)

	log.WithField("pid", os.Getpid()).Info("rowcache starting")
	return nil
}

func configGiven() bool {
	_, ok := usedFlags["config-file"]
	return ok
}

func rowcachePostRun(cmd *cobra.Command, args []string) {
	log.WithField("pid", os.Getpid()).Info("rowcache done")

	if logWriter != nil {
		logWriter.Close()
	}
}

func loadConfig() error {
	b, err := os.ReadFile(configFile)
	if err != nil {
		return err
	}

	err = hcl.Decode(&cfg, string(b))
	if err != nil {
		return err
	}

	for name, val := range cfg {
		if flg, ok := cfgVars[name]; ok {
			if flg == nil {
				continue
			}
			if _, ok := usedFlags[flg.Name]; ok {
				continue
			}
			err := flg.Value.Set(fmt.Sprintf("%v", val))
			if err != nil {
				return fmt.Errorf("%s: %s", name, err)
			}
		} else {
			return fmt.Errorf("%s is not a config variable", name)
		}
	}

	return nil
}
