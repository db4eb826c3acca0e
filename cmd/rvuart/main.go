// Command rvuart is the host-side companion of the rvuart driver: it probes a
// mapped UART, runs the driver self-test against the simulator, checks link
// integrity from a host serial port and lists the supported settings.
package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/jangala-dev/tinygo-rvuart/internal/profile"
)

var (
	profilePath string

	rootCmd = &cobra.Command{
		Use:           "rvuart",
		Short:         "PicoRV32 UART driver tools",
		Long:          "Probe, self-test and link-test the PicoRV32 FIFO UART.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&profilePath, "profile", "p", "", "board profile (YAML); built-in default when empty")
}

func loadProfile() (*profile.Profile, error) {
	if profilePath == "" {
		return profile.Default(), nil
	}
	return profile.Load(profilePath)
}

func main() {
	log.SetFlags(0)
	log.SetPrefix("rvuart: ")
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
