package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/micrictor/cpnat/internal/rules"
)

// applyCmd represents the apply command
var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Install a gateway's NAT pipeline into the local firewall",
	Long: `Compiles the pipeline of one gateway and installs it as SNAT rules in the
nat table. The rules stay active until the process is interrupted.`,
	RunE: applyMain,
}

func init() {
	rootCmd.AddCommand(applyCmd)

	applyCmd.Flags().StringP("input", "i", "", "management export (JSON)")
	applyCmd.Flags().StringP("gateway", "g", "", "gateway name or uid")
	applyCmd.Flags().Bool("dry-run", false, "print the iptables rule specs instead of installing them")
}

func applyMain(cmd *cobra.Command, args []string) error {
	input, _ := cmd.Flags().GetString("input")
	gateway, _ := cmd.Flags().GetString("gateway")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	domain, err := loadDomain(input)
	if err != nil {
		return err
	}
	res, err := compileOne(context.Background(), domain, gateway)
	if err != nil {
		return err
	}

	if dryRun {
		out := cmd.OutOrStdout()
		for _, t := range res.Pipeline {
			specs, err := rules.IptablesSpecs(t)
			if err != nil {
				return err
			}
			for _, spec := range specs {
				fmt.Fprintf(out, "-t %s -A %s %s\n", rules.DEFAULT_TABLE, rules.DEFAULT_CHAIN, strings.Join(spec, " "))
			}
		}
		return nil
	}

	engine := rules.New()
	defer func() {
		if err := engine.Close(); err != nil {
			log.Errorf("failed to remove nat rules: %v", err)
		}
	}()
	if err := engine.ApplyPipeline(res.Pipeline); err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	log.Infof("nat pipeline of %s installed, waiting for interrupt", res.GatewayName)
	<-sig
	return nil
}
