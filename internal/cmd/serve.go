package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/formrunner/internal/control"
	"github.com/Iron-Ham/formrunner/internal/dispatch"
	"github.com/Iron-Ham/formrunner/internal/event"
	"github.com/Iron-Ham/formrunner/internal/poll"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the command loop on stdin and stdout",
	Long: `Serve reads one JSON command per line from stdin and writes one JSON
event per line to stdout until stdin is closed or a close command arrives.

Commands:
  {"action":"start","taskId":"t1","targetId":"r-1","sessions":3}
  {"action":"pause","taskId":"t1"}
  {"action":"resume","targetId":"r-1"}
  {"action":"stop","taskId":"t1"}
  {"action":"retry","targetId":"r-1"}
  {"action":"check","targetId":"r-1"}
  {"action":"status","taskId":"t1"}
  {"action":"close"}

Logs never go to stdout; set logging.dir to keep them in a file.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("driver", "", "form driver: chrome or noop")
	serveCmd.Flags().Int("max-sessions", 0, "maximum concurrent sessions per task")
	_ = viper.BindPFlag("driver.kind", serveCmd.Flags().Lookup("driver"))
	_ = viper.BindPFlag("sessions.max_sessions", serveCmd.Flags().Lookup("max-sessions"))
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, true)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	bus := event.NewBus(a.logger)
	out := event.NewNDJSONWriter(cmd.OutOrStdout(), a.logger)
	bus.SubscribeAll(out.Handle)

	tasks := control.NewTaskManager(control.WithPollOptions(poll.Options{
		Interval:    a.cfg.Control.PollInterval(),
		MaxInterval: a.cfg.Control.MaxPollInterval(),
	}))
	d := dispatch.New(tasks, a.orchestrator(bus), bus,
		dispatch.WithStore(a.store),
		dispatch.WithLogger(a.logger.With("component", "dispatch")),
	)

	a.logger.Info("serving commands", "driver", a.cfg.Driver.Kind, "store", a.cfg.Store.Kind,
		"max_sessions", a.cfg.Sessions.MaxSessions)
	if err := d.Serve(ctx, cmd.InOrStdin()); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	a.logger.Info("command loop finished")
	return nil
}
