package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	gwclient "github.com/Strob0t/MissionControl/internal/adapter/gateway"
	"github.com/Strob0t/MissionControl/internal/clock"
	"github.com/Strob0t/MissionControl/internal/config"
	"github.com/Strob0t/MissionControl/internal/domain/session"
	"github.com/Strob0t/MissionControl/internal/port/gateway"
)

// runGateway dispatches gateway subcommands (list, end, delete). They act on
// the Gateway's own session records, e.g. to settle a session logged as
// orphaned_gateway_session.
func runGateway(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printGatewayHelp()
		return nil
	}

	fs := flag.NewFlagSet("gateway "+args[0], flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultConfigFile, "path to YAML config file")
	url := fs.String("url", "", "Gateway base URL (overrides config)")
	status := fs.String("status", "", "session status (list filter, or terminal status for end)")
	sessionType := fs.String("type", "", "session type filter (list only)")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	cfg, err := config.LoadFrom(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *url != "" {
		cfg.Gateway.URL = *url
	}
	admin := gwclient.NewClient(cfg.Gateway.URL, cfg.Gateway.Token, cfg.Gateway.Timeout)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Gateway.Timeout+5*time.Second)
	defer cancel()
	return gatewayCommand(ctx, admin, clock.Real(), os.Stdout, args[0], gatewayOptions{
		status:      *status,
		sessionType: *sessionType,
		ids:         fs.Args(),
	})
}

type gatewayOptions struct {
	status      string
	sessionType string
	ids         []string
}

func gatewayCommand(ctx context.Context, admin gateway.SessionAdmin, clk clock.Clock, out io.Writer, cmd string, opts gatewayOptions) error {
	switch cmd {
	case "list":
		records, err := admin.ListSessions(ctx, gateway.ListFilter{SessionType: opts.sessionType, Status: opts.status})
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SESSION\tTASK\tAGENT\tTYPE\tSTATUS\tCREATED")
		for _, r := range records {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.SessionID, r.TaskID, r.AgentID, r.SessionType, r.Status, r.CreatedAt.Format(time.RFC3339))
		}
		return tw.Flush()

	case "end":
		st := session.Status(opts.status)
		if st == "" {
			st = session.StatusFailed
		}
		if !st.Terminal() {
			return fmt.Errorf("--status must be completed or failed, got %q", opts.status)
		}
		if len(opts.ids) == 0 {
			return fmt.Errorf("end requires at least one session id")
		}
		ended := clk.Now().UTC()
		for _, id := range opts.ids {
			if err := admin.UpdateSession(ctx, id, gateway.UpdateSessionRequest{Status: string(st), EndedAt: &ended}); err != nil {
				return fmt.Errorf("end %s: %w", id, err)
			}
			fmt.Fprintf(out, "%s %s\n", id, st)
		}
		return nil

	case "delete":
		if len(opts.ids) == 0 {
			return fmt.Errorf("delete requires at least one session id")
		}
		for _, id := range opts.ids {
			if err := admin.DeleteSession(ctx, id); err != nil {
				return fmt.Errorf("delete %s: %w", id, err)
			}
			fmt.Fprintf(out, "%s deleted\n", id)
		}
		return nil

	default:
		printGatewayHelp()
		return fmt.Errorf("unknown gateway command: %s", cmd)
	}
}

func printGatewayHelp() {
	fmt.Fprintf(os.Stderr, `Usage: missioncontrol gateway <command> [options] [session-id...]

Commands:
  list     List Gateway sessions (--status, --type)
  end      Mark Gateway sessions terminal (--status completed|failed, default failed)
  delete   Remove Gateway session records
  help     Show this help message

Examples:
  missioncontrol gateway list --status active
  missioncontrol gateway end --status failed gw-42
  missioncontrol gateway delete --url http://gateway:9000 gw-42
`)
}
