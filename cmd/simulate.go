package cmd

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/netip"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/micrictor/cpnat/internal/match"
)

// simulateCmd represents the simulate command
var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Trace a flow through a gateway's NAT pipeline",
	Long: `Compiles the pipeline of one gateway and shows which transformation a flow
hits and how it is rewritten. The flow is given either field by field or as a
hex encoded IP packet.`,
	RunE: simulateMain,
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().StringP("input", "i", "", "management export (JSON)")
	simulateCmd.Flags().StringP("gateway", "g", "", "gateway name or uid")
	simulateCmd.Flags().String("src", "", "source address")
	simulateCmd.Flags().String("dst", "", "destination address")
	simulateCmd.Flags().String("proto", "tcp", "tcp, udp or icmp")
	simulateCmd.Flags().Uint16("sport", 0, "source port")
	simulateCmd.Flags().Uint16("dport", 0, "destination port")
	simulateCmd.Flags().String("packet", "", "hex encoded IPv4/IPv6 packet, replaces the flow flags")
}

func simulateMain(cmd *cobra.Command, args []string) error {
	input, _ := cmd.Flags().GetString("input")
	gateway, _ := cmd.Flags().GetString("gateway")

	flow, err := flowFromFlags(cmd)
	if err != nil {
		return err
	}

	domain, err := loadDomain(input)
	if err != nil {
		return err
	}
	res, err := compileOne(context.Background(), domain, gateway)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "gateway: %s (%d transformations)\n", res.GatewayName, len(res.Pipeline))
	fmt.Fprintf(out, "in:  %s\n", flow)
	translated, idx := res.Pipeline.Apply(flow)
	if idx < 0 {
		fmt.Fprintln(out, "no transformation matched")
		return nil
	}
	t := res.Pipeline[idx]
	fmt.Fprintf(out, "hit: #%d rule %s %s\n", idx+1, t.RuleUID, t)
	fmt.Fprintf(out, "out: %s\n", translated)
	return nil
}

func flowFromFlags(cmd *cobra.Command) (match.Flow, error) {
	packet, _ := cmd.Flags().GetString("packet")
	if packet != "" {
		data, err := hex.DecodeString(strings.TrimSpace(packet))
		if err != nil {
			return match.Flow{}, errors.Wrap(err, "packet is not hex")
		}
		return match.FlowFromPacket(data)
	}

	src, _ := cmd.Flags().GetString("src")
	dst, _ := cmd.Flags().GetString("dst")
	proto, _ := cmd.Flags().GetString("proto")
	sport, _ := cmd.Flags().GetUint16("sport")
	dport, _ := cmd.Flags().GetUint16("dport")

	var (
		flow match.Flow
		err  error
	)
	if flow.Src, err = netip.ParseAddr(src); err != nil {
		return match.Flow{}, errors.Wrap(err, "source address")
	}
	if flow.Dst, err = netip.ParseAddr(dst); err != nil {
		return match.Flow{}, errors.Wrap(err, "destination address")
	}
	switch strings.ToLower(proto) {
	case "tcp":
		flow.Protocol = match.ProtocolTCP
	case "udp":
		flow.Protocol = match.ProtocolUDP
	case "icmp":
		flow.Protocol = match.ProtocolICMP
	default:
		return match.Flow{}, errors.Errorf("unsupported protocol %s", proto)
	}
	flow.Protocol = flow.Protocol.ForFamily(flow.Src.Is6())
	if flow.Protocol.HasPorts() {
		flow.SrcPort = sport
		flow.DstPort = dport
	}
	return flow, nil
}
