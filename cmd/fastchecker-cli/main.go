// fastchecker-cli checks a batch of item ids once and prints the export in
// input order. Items escalated for manual review are posted to the relay
// mailbox; with --wait the CLI stays connected until every verdict is in.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/vrsandeep/fastchecker/internal/core"
	"github.com/vrsandeep/fastchecker/internal/models"
	"github.com/vrsandeep/fastchecker/internal/panel"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	flagSet := pflag.NewFlagSet("fastchecker-cli", pflag.ContinueOnError)
	marketplace := flagSet.StringP("marketplace", "m", "", "marketplace code, e.g. US or DE (default from config)")
	format := flagSet.StringP("format", "f", "csv", "output format: csv or json")
	wait := flagSet.Duration("wait", 0, "how long to wait for pending manual verdicts after the automatic checks")
	flagSet.String("provider", "", "sellability provider: spapi or mock")
	flagSet.String("relay-url", "", "relay socket URL")
	flagSet.String("mailbox-url", "", "relay mailbox URL")
	flagSet.Duration("item-delay", 0, "delay between items")
	flagSet.String("log-level", "", "log level")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			printHelp(stdout, flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(stdout, flagSet)
		return nil
	}

	v := viper.New()
	for key, flag := range map[string]string{
		"sellability.provider": "provider",
		"agent.relay_url":      "relay-url",
		"agent.mailbox_url":    "mailbox-url",
		"agent.item_delay":     "item-delay",
		"log.level":            "log-level",
	} {
		if err := v.BindPFlag(key, flagSet.Lookup(flag)); err != nil {
			return err
		}
	}

	ids := models.ParseItemIDs(strings.Join(flagSet.Args(), " "))
	if len(ids) == 0 {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return fmt.Errorf("failed to read item ids: %w", err)
		}
		ids = models.ParseItemIDs(string(data))
	}

	app, err := core.NewWithViper(v)
	if err != nil {
		return err
	}
	defer app.Close()
	app.Start()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, _, err := app.Runner().Start(models.BatchInput{ItemIDs: ids, Marketplace: *marketplace}); err != nil {
		return err
	}
	if err := waitFor(ctx, app, *wait); err != nil {
		app.Runner().Stop()
		app.Runner().Wait()
	}

	rows := app.Panel().Export()
	if *format == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}
	return panel.WriteCSV(stdout, rows)
}

// waitFor polls until the automatic checks are done and, within grace,
// every manual verdict has arrived.
func waitFor(ctx context.Context, app *core.App, grace time.Duration) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	var deadline <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return nil
		case <-ticker.C:
		}

		snap := app.Panel().Snapshot()
		if !snap.APIDone {
			continue
		}
		if snap.Pending == 0 || grace <= 0 {
			return nil
		}
		if deadline == nil {
			deadline = time.After(grace)
		}
	}
}

func printHelp(w io.Writer, fs *pflag.FlagSet) {
	fmt.Fprintln(w, "Usage: fastchecker-cli [flags] [item ids...]")
	fmt.Fprintln(w, "Item ids are read from stdin when none are given.")
	fmt.Fprintln(w)
	fmt.Fprint(w, fs.FlagUsages())
}
