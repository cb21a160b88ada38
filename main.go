package main

import (
	"fmt"
	"io"
	"log/syslog"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	logrussyslog "github.com/sirupsen/logrus/hooks/syslog"
	"github.com/spf13/cobra"
)

const applicationName = "rosev_ircsystem"

// daemonEnv marks the re-executed child of --daemon.
const daemonEnv = "ROSEV_IRCSYSTEM_DAEMON"

var (
	flagDaemon  bool
	flagVerbose bool
	flagVersion bool
)

var rootCmd = &cobra.Command{
	Use:           applicationName + " [options] <configuration directory>",
	Short:         productName,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().BoolVar(&flagDaemon, "daemon", false,
		"Run the program as a daemon")
	rootCmd.Flags().BoolVar(&flagVerbose, "verbose", false,
		"Be verbose, ignored in daemon mode")
	rootCmd.Flags().BoolVar(&flagVersion, "version", false,
		"Prints the version number and exits")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if flagVersion {
		fmt.Println(productName)
		fmt.Println(versionCopyright)
		fmt.Println()
		fmt.Printf("This is %s built on %s\n", versionID, versionDate)
		return nil
	}

	if len(args) != 1 {
		_ = cmd.Usage()
		return errors.New("a configuration directory is required")
	}

	isDaemonChild := os.Getenv(daemonEnv) != ""

	if flagDaemon && !isDaemonChild {
		return detach(args[0])
	}

	setupLogging(isDaemonChild)

	return runServer(args[0])
}

// detach re-executes the server in its own session, the moral equivalent of
// the classic fork/setsid daemonization.
func detach(configPath string) error {
	child := exec.Command(os.Args[0], configPath)
	child.Env = append(os.Environ(), daemonEnv+"=1")
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := child.Start(); err != nil {
		return errors.Wrap(err, "unable to start the daemon process")
	}

	return nil
}

// setupLogging configures the global logger. A daemon has no terminal, so it
// logs to syslog instead. Verbosity is ignored in daemon mode.
func setupLogging(isDaemonChild bool) {
	if isDaemonChild {
		hook, err := logrussyslog.NewSyslogHook("", "",
			syslog.LOG_INFO|syslog.LOG_DAEMON, applicationName)
		if err == nil {
			log.AddHook(hook)
		}
		log.SetOutput(io.Discard)
		return
	}

	if flagVerbose {
		log.SetLevel(log.DebugLevel)
	}
}

func runServer(configPath string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}

	// Check if an instance of us is already running.
	if err := createPidFile(cfg.PidFile); err != nil {
		return err
	}
	defer func() {
		if err := os.Remove(cfg.PidFile); err != nil {
			log.Errorf("Unable to remove the pidfile: %s", err)
		}
	}()

	server := NewServer(cfg)
	if err := server.Listen(); err != nil {
		return err
	}

	// ChanServ must come first, joining a channel involves it.
	if err := server.AddService(NewChanServ(server)); err != nil {
		return err
	}
	if err := server.AddService(NewNickServ(server)); err != nil {
		return err
	}
	if err := server.AddService(NewLogBot(server)); err != nil {
		return err
	}
	if err := loadVoteBots(server); err != nil {
		return err
	}

	setSignals(server)

	server.Run()

	log.Info("Server shutdown cleanly.")
	return nil
}

func createPidFile(path string) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return errors.New("the process is already running")
		}
		return errors.Wrap(err, "could not create the pidfile")
	}

	fmt.Fprintf(file, "%d\n", os.Getpid())
	return file.Close()
}

func setSignals(server *Server) {
	// "service rosev_ircsystem reload" emits SIGHUP. Ignore it as long as
	// we don't implement reloading the configuration, this prevents
	// abnormal terminations at least.
	signal.Ignore(syscall.SIGHUP)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-signals
		server.Shutdown()
	}()
}
