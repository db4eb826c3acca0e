package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/jangala-dev/tinygo-rvuart/rvuart"
)

var ratesCmd = &cobra.Command{
	Use:   "rates",
	Short: "List supported baud rates and FIFO thresholds",
	Long: "List the programmable baud rates with their BAUD register codes and, for the " +
		"profile's framing, the time the TX FIFO takes to drain to each threshold.",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadProfile()
		if err != nil {
			return err
		}
		cfg, err := p.Config()
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()

		codes := make(map[rvuart.BaudRate]int)
		for i, b := range rvuart.SupportedBaudRates() {
			codes[b] = i
		}
		rates := maps.Keys(codes)
		slices.Sort(rates)

		bits := frameBits(cfg)
		fmt.Fprintf(w, "framing %d%v%d: %d bits per character\n\n", cfg.DataBits, cfg.Parity, cfg.StopBits, bits)
		fmt.Fprintf(w, "%8s  %4s  %10s  %12s\n", "baud", "code", "char time", "16-byte FIFO")
		for _, b := range rates {
			ct := charTime(b, bits)
			fmt.Fprintf(w, "%8d  %4d  %10v  %12v\n", b, codes[b], ct, ct*rvuart.FIFODepth)
		}

		ct := charTime(cfg.Baud, bits)
		fmt.Fprintf(w, "\nthresholds at %v (time to shift that many characters):\n", cfg.Baud)
		for _, t := range rvuart.SupportedThresholds() {
			mark := ""
			if t == cfg.TxThreshold {
				mark += " tx"
			}
			if t == cfg.RxThreshold {
				mark += " rx"
			}
			fmt.Fprintf(w, "%4d  %10v%s\n", t, ct*time.Duration(t), mark)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ratesCmd)
}

// frameBits counts start, data, parity and stop bits.
func frameBits(c rvuart.Config) int {
	n := 1 + int(c.DataBits) + int(c.StopBits)
	if c.Parity != rvuart.ParityNone {
		n++
	}
	return n
}

func charTime(b rvuart.BaudRate, bits int) time.Duration {
	return time.Duration(bits) * time.Second / time.Duration(b)
}
