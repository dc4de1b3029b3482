package cmd

import (
	"context"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/micrictor/cpnat/internal/nat"
	"github.com/micrictor/cpnat/internal/rules"
	"github.com/micrictor/cpnat/internal/transform"
)

// compileCmd represents the compile command
var compileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Compile NAT rulebases to transformation pipelines",
	Long:  `Reads a management export and prints the NAT pipeline and warnings of every gateway`,
	RunE:  compileMain,
}

func init() {
	rootCmd.AddCommand(compileCmd)

	compileCmd.Flags().StringP("input", "i", "", "management export (JSON)")
	compileCmd.Flags().StringSliceP("gateway", "g", nil, "only compile these gateways (name or uid)")
	compileCmd.Flags().StringP("format", "f", "", "output format, yaml or json")
	compileCmd.Flags().String("metrics-file", "", "write compile metrics to this textfile collector file")
	compileCmd.Flags().Bool("iptables", false, "include the iptables rule specs of every transformation")
	compileCmd.Flags().Bool("nft", false, "include the nftables expressions of every transformation")
	compileCmd.Flags().Bool("automatic-hide", false, "also compile hide NAT from object NAT settings")
}

type transformationReport struct {
	Rule     string     `json:"rule" yaml:"rule"`
	Match    string     `json:"match" yaml:"match"`
	Steps    []string   `json:"steps" yaml:"steps"`
	Iptables [][]string `json:"iptables,omitempty" yaml:"iptables,omitempty"`
	Nft      []string   `json:"nft,omitempty" yaml:"nft,omitempty"`
}

type gatewayReport struct {
	Gateway         string                 `json:"gateway" yaml:"gateway"`
	GatewayUID      string                 `json:"gatewayUid" yaml:"gatewayUid"`
	Rulebase        string                 `json:"rulebase" yaml:"rulebase"`
	Transformations []transformationReport `json:"transformations" yaml:"transformations"`
	Warnings        []nat.Warning          `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

func compileMain(cmd *cobra.Command, args []string) error {
	input, _ := cmd.Flags().GetString("input")
	gateways, _ := cmd.Flags().GetStringSlice("gateway")
	format, _ := cmd.Flags().GetString("format")
	metricsFile, _ := cmd.Flags().GetString("metrics-file")
	withIptables, _ := cmd.Flags().GetBool("iptables")
	withNft, _ := cmd.Flags().GetBool("nft")

	if cmd.Flags().Changed("automatic-hide") {
		appConfig.Compile.AutomaticHide, _ = cmd.Flags().GetBool("automatic-hide")
	}
	if format == "" {
		format = appConfig.Output.Format
	}
	if metricsFile == "" {
		metricsFile = appConfig.Output.MetricsFile
	}
	if len(gateways) == 0 {
		gateways = appConfig.Compile.Gateways
	}

	domain, err := loadDomain(input)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	results, err := newCompiler(reg, gateways...).CompileDomain(context.Background(), domain)
	if err != nil {
		return err
	}

	reports := make([]gatewayReport, 0, len(results))
	for _, res := range results {
		report, err := newGatewayReport(res, withIptables, withNft)
		if err != nil {
			return err
		}
		reports = append(reports, report)
	}

	if err := writeReports(cmd.OutOrStdout(), format, reports); err != nil {
		return err
	}
	if metricsFile != "" {
		if err := prometheus.WriteToTextfile(metricsFile, reg); err != nil {
			return errors.Wrap(err, "failed to write metrics")
		}
		log.Debugf("metrics written to %s", metricsFile)
	}
	return nil
}

func newGatewayReport(res nat.GatewayResult, withIptables, withNft bool) (gatewayReport, error) {
	report := gatewayReport{
		Gateway:         res.GatewayName,
		GatewayUID:      res.GatewayUID.String(),
		Rulebase:        res.RulebaseUID.String(),
		Transformations: make([]transformationReport, 0, len(res.Pipeline)),
		Warnings:        res.Warnings,
	}
	for _, t := range res.Pipeline {
		tr := transformationReport{
			Rule:  t.RuleUID,
			Match: t.Guard.String(),
			Steps: stepStrings(t),
		}
		if withIptables {
			specs, err := rules.IptablesSpecs(t)
			if err != nil {
				return gatewayReport{}, err
			}
			tr.Iptables = specs
		}
		if withNft {
			exprs, err := rules.NftRules(t)
			if err != nil {
				return gatewayReport{}, err
			}
			tr.Nft = exprs
		}
		report.Transformations = append(report.Transformations, tr)
	}
	return report, nil
}

func stepStrings(t transform.Transformation) []string {
	out := make([]string, len(t.Steps))
	for i, s := range t.Steps {
		out[i] = s.String()
	}
	return out
}

func writeReports(w io.Writer, format string, reports []gatewayReport) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	case "yaml":
		data, err := yaml.Marshal(reports)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	default:
		return errors.Errorf("unsupported output format %s", format)
	}
}
