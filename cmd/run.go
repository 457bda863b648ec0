// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/aquaclean/pkg/api"
	"github.com/Thermoquad/aquaclean/pkg/client"
	"github.com/Thermoquad/aquaclean/pkg/errcodes"
	"github.com/Thermoquad/aquaclean/pkg/supervisor"
)

var runCooldown time.Duration

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Stay connected and print device events",
	Long: `Keep a session with the peripheral alive and print every state change.

The device state is polled at --poll-interval. When the peripheral stops
answering, the session waits for it to restart and reconnects. Connect
failures are retried after --cooldown.

Signals:
  SIGHUP          reconnect
  SIGINT/SIGTERM  disconnect and exit

Counters are printed on exit.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().DurationVar(&runCooldown, "cooldown", 30*time.Second, "Wait before retrying a failed connect")
}

func runRun(cmd *cobra.Command, args []string) error {
	addr, err := requireAddress()
	if err != nil {
		return err
	}

	factory, fallback, info, err := transportFactory()
	if err != nil {
		return err
	}

	cfg := supervisor.DefaultConfig(addr)
	cfg.PollInterval = pollInterval
	cfg.ConnectCooldown = runCooldown

	sink := &consoleSink{json: jsonOutput}
	sup := supervisor.New(cfg, factory, fallback, sink, log)

	if !jsonOutput {
		fmt.Println(titleStyle.Render("AQUACLEAN") + " " +
			headerStyle.Render(fmt.Sprintf("| %s | %s | Ctrl+C to exit", addr, info)))
		fmt.Println()
	}

	ctx, stop := signalNotifyContext()
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-hup:
				sup.Reconnect()
			case <-ctx.Done():
				return
			}
		}
	}()

	err = sup.Run(ctx)

	if !jsonOutput {
		printCounters(sup.Counters())
	}
	return err
}

func signalNotifyContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printCounters(c supervisor.Counters) {
	fmt.Println()
	fmt.Println("=== Session Statistics ===")
	fmt.Printf("Connects:         %8d\n", c.Connects)
	fmt.Printf("Connect Failures: %8d\n", c.ConnectFailures)
	fmt.Printf("Timeouts:         %8d\n", c.Timeouts)
	fmt.Printf("Link Losses:      %8d\n", c.LinkLosses)
	fmt.Printf("Recoveries:       %8d\n", c.Recoveries)
	fmt.Printf("Polls:            %8d\n", c.Polls)
	if c.PollErrors > 0 {
		fmt.Printf("Poll Errors:      %8d\n", c.PollErrors)
	}
	fmt.Println("==========================")
}

// consoleSink prints supervisor events, one line each
type consoleSink struct {
	mu   sync.Mutex
	json bool
}

type event struct {
	Time  time.Time `json:"time"`
	Event string    `json:"event"`
	Data  any       `json:"data"`
}

func (s *consoleSink) emit(name string, data any, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if s.json {
		b, err := json.Marshal(event{Time: now, Event: name, Data: data})
		if err != nil {
			return
		}
		fmt.Println(string(b))
		return
	}
	fmt.Printf("%s %s %s\n", headerStyle.Render(now.Format("15:04:05.000")), labelStyle.Render(fmt.Sprintf("%-14s", name)), text)
}

func (s *consoleSink) DeviceState(c client.DeviceStateChange) {
	s.emit("state", c, valueStyle.Render(c.String()))
}

func (s *consoleSink) Identification(id api.DeviceIdentification) {
	s.emit("identification", id, fmt.Sprintf("%s (SAP %s, serial %s, produced %s)",
		id.Description, id.SapNumber, id.SerialNumber, id.ProductionDate))
}

func (s *consoleSink) InitialOperationDate(date string) {
	s.emit("operation_date", date, date)
}

func (s *consoleSink) SOCVersions(v string) {
	s.emit("soc_versions", v, v)
}

func (s *consoleSink) Progress(msg string) {
	s.emit("progress", msg, msg)
}

func (s *consoleSink) Error(rec errcodes.Record) {
	s.emit("error", rec, renderRecord(rec))
}

func (s *consoleSink) ConnectionState(st supervisor.State) {
	text := st.String()
	if st == supervisor.StateRecovering || st == supervisor.StateBackoffRetry {
		text = warningStyle.Render(text)
	}
	s.emit("connection", st, text)
}
