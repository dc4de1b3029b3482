package rules

import (
	"fmt"
	"strings"

	"github.com/google/nftables"
	"github.com/google/nftables/binaryutil"
	"github.com/google/nftables/expr"

	"github.com/micrictor/cpnat/internal/match"
	"github.com/micrictor/cpnat/internal/transform"
)

// Header offsets of the fields a term matches on.
const (
	ipv4SrcOffset = 12
	ipv4DstOffset = 16
	ipv6SrcOffset = 8
	ipv6DstOffset = 24
	dportOffset   = 2
)

// NftExprs renders t as the expressions of one nftables rule per term, for a
// source NAT (postrouting) chain.
func NftExprs(t transform.Transformation) ([][]expr.Any, error) {
	terms, err := Terms(t)
	if err != nil {
		return nil, err
	}
	out := make([][]expr.Any, len(terms))
	for i, term := range terms {
		out[i] = convertTermNft(term)
	}
	return out, nil
}

// NftRules renders t like NftExprs, one line per rule in the register
// notation of `nft --debug=netlink`.
func NftRules(t transform.Transformation) ([]string, error) {
	rules, err := NftExprs(t)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(rules))
	for i, exprs := range rules {
		parts := make([]string, len(exprs))
		for j, e := range exprs {
			parts[j] = "[ " + formatExpr(e) + " ]"
		}
		out[i] = strings.Join(parts, " ")
	}
	return out, nil
}

func formatExpr(e expr.Any) string {
	switch e := e.(type) {
	case *expr.Meta:
		key := "l4proto"
		if e.Key != expr.MetaKeyL4PROTO {
			key = fmt.Sprintf("key %d", e.Key)
		}
		return fmt.Sprintf("meta load %s => reg %d", key, e.Register)
	case *expr.Cmp:
		return fmt.Sprintf("cmp %s reg %d 0x%x", cmpOpName(e.Op), e.Register, e.Data)
	case *expr.Range:
		return fmt.Sprintf("range %s reg %d 0x%x 0x%x", cmpOpName(e.Op), e.Register, e.FromData, e.ToData)
	case *expr.Payload:
		base := "network"
		switch e.Base {
		case expr.PayloadBaseTransportHeader:
			base = "transport"
		case expr.PayloadBaseLLHeader:
			base = "link"
		}
		return fmt.Sprintf("payload load %db @ %s header + %d => reg %d", e.Len, base, e.Offset, e.DestRegister)
	case *expr.Counter:
		return "counter"
	case *expr.Immediate:
		return fmt.Sprintf("immediate reg %d 0x%x", e.Register, e.Data)
	case *expr.NAT:
		kind := "snat"
		if e.Type == expr.NATTypeDestNAT {
			kind = "dnat"
		}
		family := "ip"
		if e.Family == uint32(nftables.TableFamilyIPv6) {
			family = "ip6"
		}
		s := fmt.Sprintf("nat %s %s addr_min reg %d addr_max reg %d", kind, family, e.RegAddrMin, e.RegAddrMax)
		if e.RegProtoMin != 0 {
			s += fmt.Sprintf(" proto_min reg %d proto_max reg %d", e.RegProtoMin, e.RegProtoMax)
		}
		return s
	default:
		return fmt.Sprintf("%T", e)
	}
}

func cmpOpName(op expr.CmpOp) string {
	switch op {
	case expr.CmpOpEq:
		return "eq"
	case expr.CmpOpNeq:
		return "neq"
	default:
		return fmt.Sprintf("op %d", op)
	}
}

// TableFamily returns the nftables family a term belongs to.
func (t Term) TableFamily() nftables.TableFamily {
	if t.Is6() {
		return nftables.TableFamilyIPv6
	}
	return nftables.TableFamilyIPv4
}

func convertTermNft(term Term) []expr.Any {
	var exprs []expr.Any
	if term.Protocol != 0 {
		exprs = append(exprs,
			&expr.Meta{Key: expr.MetaKeyL4PROTO, Register: 1},
			&expr.Cmp{
				Op:       expr.CmpOpEq,
				Register: 1,
				Data:     []byte{byte(term.Protocol)},
			},
		)
	}

	srcOffset, dstOffset := uint32(ipv4SrcOffset), uint32(ipv4DstOffset)
	addrLen := uint32(4)
	if term.Is6() {
		srcOffset, dstOffset = ipv6SrcOffset, ipv6DstOffset
		addrLen = 16
	}
	if term.Source != nil {
		exprs = append(exprs, addrRangeExprs(*term.Source, srcOffset, addrLen)...)
	}
	if term.Destination != nil {
		exprs = append(exprs, addrRangeExprs(*term.Destination, dstOffset, addrLen)...)
	}

	if term.DestinationPorts != nil {
		exprs = append(exprs, &expr.Payload{
			DestRegister: 1,
			Base:         expr.PayloadBaseTransportHeader,
			Offset:       dportOffset,
			Len:          2,
		})
		if term.DestinationPorts.First == term.DestinationPorts.Last {
			exprs = append(exprs, &expr.Cmp{
				Op:       expr.CmpOpEq,
				Register: 1,
				Data:     binaryutil.BigEndian.PutUint16(term.DestinationPorts.First),
			})
		} else {
			exprs = append(exprs, &expr.Range{
				Op:       expr.CmpOpEq,
				Register: 1,
				FromData: binaryutil.BigEndian.PutUint16(term.DestinationPorts.First),
				ToData:   binaryutil.BigEndian.PutUint16(term.DestinationPorts.Last),
			})
		}
	}

	exprs = append(exprs,
		&expr.Counter{},
		&expr.Immediate{
			Register: 1,
			Data:     term.ToSource.AsSlice(),
		},
	)
	nat := &expr.NAT{
		Type:       expr.NATTypeSourceNAT,
		Family:     uint32(term.TableFamily()),
		RegAddrMin: 1,
		RegAddrMax: 1,
	}
	if term.ToPorts != nil {
		exprs = append(exprs,
			&expr.Immediate{
				Register: 2,
				Data:     binaryutil.BigEndian.PutUint16(term.ToPorts.First),
			},
			&expr.Immediate{
				Register: 3,
				Data:     binaryutil.BigEndian.PutUint16(term.ToPorts.Last),
			},
		)
		nat.RegProtoMin = 2
		nat.RegProtoMax = 3
	}
	return append(exprs, nat)
}

func addrRangeExprs(r match.AddrRange, offset, length uint32) []expr.Any {
	exprs := []expr.Any{
		&expr.Payload{
			DestRegister: 1,
			Base:         expr.PayloadBaseNetworkHeader,
			Offset:       offset,
			Len:          length,
		},
	}
	if r.First == r.Last {
		return append(exprs, &expr.Cmp{
			Op:       expr.CmpOpEq,
			Register: 1,
			Data:     r.First.AsSlice(),
		})
	}
	return append(exprs, &expr.Range{
		Op:       expr.CmpOpEq,
		Register: 1,
		FromData: r.First.AsSlice(),
		ToData:   r.Last.AsSlice(),
	})
}
