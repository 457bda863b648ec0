// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/aquaclean/pkg/api"
	"github.com/Thermoquad/aquaclean/pkg/bridge"
	"github.com/Thermoquad/aquaclean/pkg/frame"
	"github.com/Thermoquad/aquaclean/pkg/message"
)

var decodeBridge bool

var decodeCmd = &cobra.Command{
	Use:   "decode [hex...]",
	Short: "Decode captured datagrams offline",
	Long: `Decode captured traffic given as hex strings, one datagram per argument
or per line on stdin.

20-byte datagrams are decoded as frames and reassembled; completed
transactions are parsed as messages and, when the procedure is known,
as API results. Longer input is parsed as a single envelope.

With --bridge the input is decoded as Bluetooth proxy link bytes instead.

Examples:
  aquaclean decode 170500004210690001010d3d0700000000000100 ...
  cat capture.txt | aquaclean decode`,
	RunE: runDecode,
}

func init() {
	rootCmd.AddCommand(decodeCmd)
	decodeCmd.Flags().BoolVar(&decodeBridge, "bridge", false, "Decode proxy link bytes")
}

// printWriter prints the flow control frames an Engine would send
type printWriter struct{}

func (printWriter) Write(_ context.Context, d []byte) error {
	if f, err := frame.Decode(d); err == nil {
		fmt.Printf("  -> %s\n", frame.Format(f))
	}
	return nil
}

func runDecode(cmd *cobra.Command, args []string) error {
	inputs := args
	if len(inputs) == 0 {
		lines, err := readLines(os.Stdin)
		if err != nil {
			return err
		}
		inputs = lines
	}

	if decodeBridge {
		return decodeBridgeBytes(inputs)
	}

	e := frame.NewEngine(printWriter{}, log)
	e.OnTransaction(printTransaction)

	for _, in := range inputs {
		data, err := hex.DecodeString(strings.ReplaceAll(in, " ", ""))
		if err != nil {
			fmt.Printf("[ERROR] %q: %v\n", in, err)
			continue
		}

		if len(data) != frame.DatagramSize {
			printTransaction(data)
			continue
		}

		f, err := frame.Decode(data)
		if err != nil {
			fmt.Printf("[ERROR] %s: %v\n", in, err)
			continue
		}
		fmt.Printf("%s  %s\n", in, frame.Format(f))

		if err := e.Process(data); err != nil {
			fmt.Printf("[ERROR] %v\n", err)
		}
	}

	stats := e.Stats()
	fmt.Printf("\n%s", stats.String())
	return nil
}

func printTransaction(data []byte) {
	fmt.Printf("\nTransaction (%d bytes): %s\n", len(data), hex.EncodeToString(data))

	mc, err := message.Parse(data, log)
	if err != nil {
		fmt.Printf("  [ERROR] %v\n", err)
		return
	}

	attr, known := api.Lookup(mc.Context, mc.Procedure)
	name := "unknown procedure"
	if known {
		name = attr.Name()
	}
	fmt.Printf("  %s: %s\n", name, mc.String())

	if !known {
		return
	}
	if v := decodeResult(attr, mc.Result); v != "" {
		fmt.Printf("  %s\n", v)
	}
}

// decodeResult renders the result of the calls with a typed decoder
func decodeResult(attr api.Attribute, result []byte) string {
	switch attr {
	case api.AttrGetSystemParameterList:
		list, err := api.ParseSystemParameterList(result)
		if err != nil {
			return err.Error()
		}
		var parts []string
		for _, p := range list.Parameters {
			parts = append(parts, fmt.Sprintf("%d=%d", p.ID, p.Value))
		}
		return strings.Join(parts, " ")

	case api.AttrGetDeviceIdentification:
		id, err := api.ParseDeviceIdentification(result)
		if err != nil {
			return err.Error()
		}
		return fmt.Sprintf("%+v", *id)

	case api.AttrGetDeviceInitialOperationDate:
		return api.ParseInitialOperationDate(result)

	case api.AttrGetSOCApplicationVersions:
		return api.FormatSOCVersions(result)

	case api.AttrGetStatisticsDescale:
		s, err := api.ParseStatisticsDescale(result)
		if err != nil {
			return err.Error()
		}
		return fmt.Sprintf("%+v", *s)

	case api.AttrGetStoredProfileSetting:
		v, err := api.ParseStoredProfileSetting(result)
		if err != nil {
			return err.Error()
		}
		return fmt.Sprintf("value=%d", v)
	}
	return ""
}

func decodeBridgeBytes(inputs []string) error {
	decoder := bridge.NewDecoder()

	for _, in := range inputs {
		data, err := hex.DecodeString(strings.ReplaceAll(in, " ", ""))
		if err != nil {
			fmt.Printf("[ERROR] %q: %v\n", in, err)
			continue
		}

		packets, errs := decoder.Decode(data)
		for _, err := range errs {
			fmt.Printf("[ERROR] %v\n", err)
		}
		for _, p := range packets {
			fmt.Println(bridge.FormatPacket(p))
		}
	}
	return nil
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}
