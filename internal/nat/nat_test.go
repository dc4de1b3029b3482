package nat

import (
	"context"
	"net/netip"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/micrictor/cpnat/internal/match"
	"github.com/micrictor/cpnat/internal/mgmt"
	"github.com/micrictor/cpnat/internal/transform"
)

const (
	ruleUID mgmt.Uid = "1001"
	ptUID   mgmt.Uid = "1002"
	anyUID  mgmt.Uid = "1003"
	origUID mgmt.Uid = "1004"
	gwUID   mgmt.Uid = "1005"
	hostUID mgmt.Uid = "1"
)

var (
	policyTargets = mgmt.NewPolicyTargets(ptUID)
	anyObj        = mgmt.NewCpmiAnyObject(anyUID)
	orig          = mgmt.NewOriginal(origUID)
	hostIP        = netip.MustParseAddr("1.1.1.1")
	natSettings   = mgmt.NewNatSettings(true, mgmt.NatHideBehindGateway, mgmt.NatInstallOnAll, mgmt.NatMethodHide)
	host          = mgmt.NewHost(hostIP, natSettings, "host", hostUID)
	gateway       = mgmt.NewSimpleGateway(netip.MustParseAddr("192.0.2.1"), "gw", mgmt.GatewayOrServerPolicy{}, gwUID)
	hideSteps1    = []transform.Step{
		transform.AssignSourceIP{Addr: hostIP},
		transform.AssignSourcePort{First: NATPortFirst, Last: NATPortLast},
	}
)

func directory(t *testing.T, objects ...mgmt.TypedObject) mgmt.Directory {
	t.Helper()
	dir, err := mgmt.NewDirectory(objects...)
	require.NoError(t, err)
	return dir
}

// hideRule is a manual hide rule installed on every gateway, hiding
// everything behind the host.
func hideRule(uid mgmt.Uid, number int, enabled bool) *mgmt.NatRule {
	return &mgmt.NatRule{
		UID:                   uid,
		Enabled:               enabled,
		InstallOn:             []mgmt.Uid{ptUID},
		Method:                mgmt.NatMethodHide,
		OriginalSource:        anyUID,
		OriginalDestination:   anyUID,
		OriginalService:       anyUID,
		RuleNumber:            number,
		TranslatedSource:      hostUID,
		TranslatedDestination: origUID,
		TranslatedService:     origUID,
	}
}

func TestApplicableRules(t *testing.T) {
	other := mgmt.NewSimpleGateway(netip.Addr{}, "other", mgmt.GatewayOrServerPolicy{}, "2000")
	enabled := hideRule("a", 1, true)
	disabled := hideRule("b", 2, false)
	onGateway := hideRule("c", 3, true)
	onGateway.InstallOn = []mgmt.Uid{gwUID}
	onOther := hideRule("d", 4, true)
	onOther.InstallOn = []mgmt.Uid{"2000"}
	nowhere := hideRule("e", 5, true)
	nowhere.InstallOn = nil

	rb := mgmt.NewNatRulebase(directory(t, policyTargets), []*mgmt.NatRule{onOther, onGateway, disabled, enabled, nowhere}, "rb")

	assert.Equal(t, []*mgmt.NatRule{enabled, onGateway}, ApplicableRules(rb, gateway))
	assert.Equal(t, []*mgmt.NatRule{enabled, onOther}, ApplicableRules(rb, other))
}

func TestApplicableRulesDropsDisabled(t *testing.T) {
	for _, installOn := range [][]mgmt.Uid{{ptUID}, {gwUID}, {ptUID, gwUID}} {
		rule := hideRule("r", 1, false)
		rule.InstallOn = installOn
		rb := mgmt.NewNatRulebase(directory(t, policyTargets), []*mgmt.NatRule{rule}, "rb")
		assert.Empty(t, ApplicableRules(rb, gateway))
	}
}

func TestPartition(t *testing.T) {
	auto1 := hideRule("a1", 1, true)
	auto1.AutoGenerated = true
	manual1 := hideRule("m1", 2, true)
	auto2 := hideRule("a2", 3, true)
	auto2.AutoGenerated = true
	manual2 := hideRule("m2", 4, true)
	rules := []*mgmt.NatRule{auto1, manual1, auto2, manual2}

	manual, auto := Partition(rules)
	assert.Equal(t, []*mgmt.NatRule{manual1, manual2}, manual)
	assert.Equal(t, []*mgmt.NatRule{auto1, auto2}, auto)
	assert.Equal(t, manual, ManualRules(rules))
	assert.Equal(t, auto, AutomaticRules(rules))
}

func TestCheckValidManualHide(t *testing.T) {
	service := mgmt.NewServiceTcp("foo", "1", "1")
	addressSpace := mgmt.NewHost(netip.IPv4Unspecified(), natSettings, "foo", "1")

	assert.False(t, IsValidManualHide(service, orig, orig))
	assert.False(t, IsValidManualHide(addressSpace, addressSpace, orig))
	assert.False(t, IsValidManualHide(addressSpace, orig, service))
	assert.True(t, IsValidManualHide(addressSpace, orig, orig))
	assert.True(t, IsValidManualHide(addressSpace, anyObj, anyObj))
	assert.True(t, IsValidManualHide(anyObj, orig, anyObj))

	// Every failing precondition is reported.
	rejections := Rejections(CheckValidManualHide(service, addressSpace, service))
	require.Len(t, rejections, 3)
	assert.Equal(t, ReasonTypeMismatch, rejections[0].Reason)
	assert.Equal(t, "translated-source", rejections[0].Field)
	assert.Contains(t, rejections[0].Detail, "service 1 cannot hide traffic")
	assert.Equal(t, ReasonUnsupportedRestriction, rejections[1].Reason)
	assert.Equal(t, "original-destination", rejections[1].Field)
	assert.Equal(t, ReasonUnsupportedRestriction, rejections[2].Reason)
	assert.Equal(t, "original-service", rejections[2].Field)
}

func TestHideSteps(t *testing.T) {
	pool := DefaultPortPool()

	_, err := HideSteps(policyTargets, policyTargets, policyTargets, pool)
	assert.Error(t, err)

	_, err = HideSteps(anyObj, orig, orig, pool)
	require.Error(t, err)
	rejections := Rejections(err)
	require.Len(t, rejections, 1)
	assert.Equal(t, ReasonUnsupportedHideTarget, rejections[0].Reason)

	wide := &mgmt.AddressRange{
		Object:    mgmt.Object{UID: "r", Name: "r"},
		IPv4First: netip.MustParseAddr("1.1.1.1"),
		IPv4Last:  netip.MustParseAddr("1.1.1.8"),
	}
	_, err = HideSteps(wide, orig, orig, pool)
	assert.Equal(t, ReasonUnsupportedHideTarget, Rejections(err)[0].Reason)

	steps, err := HideSteps(host, orig, orig, pool)
	require.NoError(t, err)
	assert.Equal(t, hideSteps1, steps)
}

func TestHideRuleTransformation(t *testing.T) {
	builder := match.NewBuilder()
	pool := DefaultPortPool()

	t.Run("invalid original fields", func(t *testing.T) {
		rule := &mgmt.NatRule{
			UID:                   ruleUID,
			Enabled:               true,
			Method:                mgmt.NatMethodHide,
			OriginalDestination:   ptUID,
			OriginalService:       ptUID,
			OriginalSource:        ptUID,
			RuleNumber:            1,
			TranslatedDestination: origUID,
			TranslatedService:     origUID,
			TranslatedSource:      hostUID,
		}
		rb := mgmt.NewNatRulebase(directory(t, host, policyTargets, orig), []*mgmt.NatRule{rule}, ruleUID)
		_, err := HideRuleTransformation(rb, rule, pool, builder)
		assert.Error(t, err)
	})

	t.Run("invalid translated fields", func(t *testing.T) {
		rule := &mgmt.NatRule{
			UID:                   ruleUID,
			Enabled:               true,
			Method:                mgmt.NatMethodHide,
			OriginalDestination:   anyUID,
			OriginalService:       anyUID,
			OriginalSource:        anyUID,
			RuleNumber:            1,
			TranslatedDestination: ptUID,
			TranslatedService:     ptUID,
			TranslatedSource:      ptUID,
		}
		rb := mgmt.NewNatRulebase(directory(t, anyObj, policyTargets), []*mgmt.NatRule{rule}, ruleUID)
		_, err := HideRuleTransformation(rb, rule, pool, builder)
		assert.Error(t, err)
	})

	t.Run("valid", func(t *testing.T) {
		rule := hideRule(ruleUID, 1, true)
		rb := mgmt.NewNatRulebase(directory(t, anyObj, orig, host), []*mgmt.NatRule{rule}, ruleUID)
		got, err := HideRuleTransformation(rb, rule, pool, builder)
		require.NoError(t, err)
		want := transform.Transformation{
			RuleUID: ruleUID.String(),
			Guard:   match.HeaderSpace{},
			Steps:   hideSteps1,
		}
		if diff := cmp.Diff(want, got, cmp.Comparer(func(a, b netip.Addr) bool { return a == b })); diff != "" {
			t.Errorf("transformation mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("constrained source", func(t *testing.T) {
		inside := &mgmt.Network{Object: mgmt.Object{UID: "net", Name: "inside"}, Subnet4: netip.MustParsePrefix("10.0.0.0/8")}
		rule := hideRule(ruleUID, 1, true)
		rule.OriginalSource = "net"
		rb := mgmt.NewNatRulebase(directory(t, anyObj, orig, host, inside), []*mgmt.NatRule{rule}, ruleUID)
		got, err := HideRuleTransformation(rb, rule, pool, builder)
		require.NoError(t, err)
		assert.Equal(t, []match.AddrRange{match.RangeOf(inside.Subnet4)}, got.Guard.SrcIPs)

		out, ok := got.Apply(match.Flow{
			Src:      netip.MustParseAddr("10.1.2.3"),
			Dst:      netip.MustParseAddr("8.8.8.8"),
			Protocol: match.ProtocolTCP,
			SrcPort:  33333,
			DstPort:  443,
		})
		assert.True(t, ok)
		assert.Equal(t, hostIP, out.Src)
		assert.Equal(t, NATPortFirst, out.SrcPort)
	})
}

func TestHideRuleTransformationMissingReference(t *testing.T) {
	fields := []struct {
		name string
		set  func(*mgmt.NatRule)
	}{
		{"original-source", func(r *mgmt.NatRule) { r.OriginalSource = "missing" }},
		{"original-destination", func(r *mgmt.NatRule) { r.OriginalDestination = "missing" }},
		{"original-service", func(r *mgmt.NatRule) { r.OriginalService = "missing" }},
		{"translated-source", func(r *mgmt.NatRule) { r.TranslatedSource = "missing" }},
		{"translated-destination", func(r *mgmt.NatRule) { r.TranslatedDestination = "missing" }},
		{"translated-service", func(r *mgmt.NatRule) { r.TranslatedService = "missing" }},
	}
	for _, f := range fields {
		t.Run(f.name, func(t *testing.T) {
			rule := hideRule(ruleUID, 1, true)
			f.set(rule)
			rb := mgmt.NewNatRulebase(directory(t, anyObj, orig, host), []*mgmt.NatRule{rule}, "rb")
			_, err := HideRuleTransformation(rb, rule, DefaultPortPool(), match.NewBuilder())
			rejections := Rejections(err)
			require.Len(t, rejections, 1)
			assert.Equal(t, ReasonUnresolvedReference, rejections[0].Reason)
			assert.Equal(t, f.name, rejections[0].Field)
		})
	}
}

func TestCompileGatewaySwapEnabled(t *testing.T) {
	dir := directory(t, anyObj, orig, host, policyTargets)
	compiler := NewCompiler()

	first := hideRule("first", 1, true)
	second := hideRule("second", 2, false)
	res := compiler.CompileGateway(mgmt.NewNatRulebase(dir, []*mgmt.NatRule{first, second}, "rb"), gateway)
	require.Len(t, res.Pipeline, 1)
	assert.Equal(t, "first", res.Pipeline[0].RuleUID)
	assert.Empty(t, res.Warnings)

	first = hideRule("first", 1, false)
	second = hideRule("second", 2, true)
	res = compiler.CompileGateway(mgmt.NewNatRulebase(dir, []*mgmt.NatRule{first, second}, "rb"), gateway)
	require.Len(t, res.Pipeline, 1)
	assert.Equal(t, "second", res.Pipeline[0].RuleUID)
	assert.Empty(t, res.Warnings)
}

func TestCompileGatewayWarnings(t *testing.T) {
	svc := mgmt.NewServiceTcp("http", "80", "svc")
	dir := directory(t, anyObj, orig, host, policyTargets, svc)

	valid := hideRule("valid", 10, true)
	static := hideRule("static", 20, true)
	static.Method = mgmt.NatMethodStatic
	restricted := hideRule("restricted", 30, true)
	restricted.OriginalDestination = hostUID
	restricted.OriginalService = "svc"
	dangling := hideRule("dangling", 40, true)
	dangling.TranslatedSource = "gone"
	auto := hideRule("auto", 50, true)
	auto.AutoGenerated = true
	last := hideRule("last", 60, true)

	rb := mgmt.NewNatRulebase(dir, []*mgmt.NatRule{last, auto, dangling, restricted, static, valid}, "rb")
	res := NewCompiler().CompileGateway(rb, gateway)

	require.Len(t, res.Pipeline, 2)
	assert.Equal(t, "valid", res.Pipeline[0].RuleUID)
	assert.Equal(t, "last", res.Pipeline[1].RuleUID)

	got := make([]Reason, len(res.Warnings))
	for i, w := range res.Warnings {
		got[i] = w.Reason
		assert.Equal(t, gwUID, w.Gateway)
	}
	assert.Equal(t, []Reason{
		ReasonUnsupportedMethod,
		ReasonUnsupportedRestriction,
		ReasonUnsupportedRestriction,
		ReasonUnresolvedReference,
	}, got)
	assert.Equal(t, mgmt.Uid("restricted"), res.Warnings[1].Rule)
	assert.Equal(t, 30, res.Warnings[1].RuleNumber)
}

func TestCompileUnsupportedMatch(t *testing.T) {
	rule := hideRule("r", 1, true)
	rule.OriginalSource = ptUID
	rb := mgmt.NewNatRulebase(directory(t, anyObj, orig, host, policyTargets), []*mgmt.NatRule{rule}, "rb")

	res := NewCompiler().CompileGateway(rb, gateway)
	assert.Empty(t, res.Pipeline)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, ReasonUnsupportedMatch, res.Warnings[0].Reason)
}

func TestCompileDuplicateRuleNumber(t *testing.T) {
	rb := mgmt.NewNatRulebase(directory(t, anyObj, orig, host, policyTargets),
		[]*mgmt.NatRule{hideRule("a", 1, true), hideRule("b", 1, true)}, "rb")

	_, err := NewCompiler().Compile(context.Background(), rb, []mgmt.Gateway{gateway})
	assert.True(t, errors.Is(err, ErrDuplicateRuleNumber))
}

func TestCompileGateways(t *testing.T) {
	var gateways []mgmt.Gateway
	for i := 0; i < 16; i++ {
		uid := mgmt.Uid(rune('a' + i))
		gateways = append(gateways, mgmt.NewSimpleGateway(netip.AddrFrom4([4]byte{192, 0, 2, byte(i)}), string(uid), mgmt.GatewayOrServerPolicy{}, uid))
	}
	onOne := hideRule("only-c", 2, true)
	onOne.InstallOn = []mgmt.Uid{"c"}
	rb := mgmt.NewNatRulebase(directory(t, anyObj, orig, host, policyTargets),
		[]*mgmt.NatRule{hideRule("all", 1, true), onOne}, "rb")

	reg := prometheus.NewRegistry()
	compiler := NewCompiler(WithWorkers(3), WithMetrics(NewMetrics(reg)))
	results, err := compiler.Compile(context.Background(), rb, gateways)
	require.NoError(t, err)
	require.Len(t, results, len(gateways))
	for i, res := range results {
		assert.Equal(t, gateways[i].ObjectUID(), res.GatewayUID)
		assert.NoError(t, res.Err)
		if res.GatewayUID == "c" {
			assert.Len(t, res.Pipeline, 2)
		} else {
			assert.Len(t, res.Pipeline, 1)
		}
	}
	assert.Equal(t, float64(16), testutil.ToFloat64(compiler.metrics.gatewaysTotal))
	assert.Equal(t, float64(2), testutil.ToFloat64(compiler.metrics.transformationsTotal.WithLabelValues("c")))
	assert.Equal(t, float64(0), testutil.ToFloat64(compiler.metrics.rejectionsTotal.WithLabelValues(string(ReasonTypeMismatch))))
}

func TestCompileCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rb := mgmt.NewNatRulebase(directory(t, anyObj, orig, host, policyTargets), []*mgmt.NatRule{hideRule("a", 1, true)}, "rb")

	results, err := NewCompiler().Compile(ctx, rb, []mgmt.Gateway{gateway})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, errors.Is(results[0].Err, context.Canceled))
	assert.Empty(t, results[0].Pipeline)
}

func TestAutomaticHide(t *testing.T) {
	inside := &mgmt.Network{
		Object:      mgmt.Object{UID: "n1", Name: "inside"},
		Subnet4:     netip.MustParsePrefix("10.0.0.0/8"),
		NatSettings: mgmt.NewNatSettings(true, mgmt.NatHideBehindGateway, mgmt.NatInstallOnAll, mgmt.NatMethodHide),
	}
	ipSettings := mgmt.NewNatSettings(true, mgmt.NatHideBehindIPAddress, "gw", mgmt.NatMethodHide)
	ipSettings.IPv4Address = netip.MustParseAddr("198.51.100.7")
	dmz := &mgmt.AddressRange{
		Object:      mgmt.Object{UID: "r1", Name: "dmz"},
		IPv4First:   netip.MustParseAddr("172.16.0.10"),
		IPv4Last:    netip.MustParseAddr("172.16.0.20"),
		NatSettings: ipSettings,
	}
	elsewhere := mgmt.NewHost(netip.MustParseAddr("10.9.9.9"),
		mgmt.NewNatSettings(true, mgmt.NatHideBehindGateway, "other-gw", mgmt.NatMethodHide), "elsewhere", "h2")
	static := mgmt.NewHost(netip.MustParseAddr("10.8.8.8"),
		mgmt.NewNatSettings(true, mgmt.NatHideBehindGateway, mgmt.NatInstallOnAll, mgmt.NatMethodStatic), "static", "h3")
	broken := mgmt.NewHost(netip.MustParseAddr("10.7.7.7"),
		mgmt.NewNatSettings(true, mgmt.NatHideBehindIPAddress, mgmt.NatInstallOnAll, mgmt.NatMethodHide), "broken", "h4")

	rb := mgmt.NewNatRulebase(directory(t, anyObj, orig, host, policyTargets, inside, dmz, elsewhere, static, broken),
		[]*mgmt.NatRule{hideRule("manual", 1, true)}, "rb")

	res := NewCompiler().CompileGateway(rb, gateway)
	require.Len(t, res.Pipeline, 1)

	res = NewCompiler(WithAutomaticHide(true)).CompileGateway(rb, gateway)
	// manual first, then objects by name: dmz, host, inside
	require.Len(t, res.Pipeline, 4)
	assert.Equal(t, "manual", res.Pipeline[0].RuleUID)
	assert.Equal(t, AutoRuleUID("r1").String(), res.Pipeline[1].RuleUID)
	assert.Equal(t, AutoRuleUID(hostUID).String(), res.Pipeline[2].RuleUID)
	assert.Equal(t, AutoRuleUID("n1").String(), res.Pipeline[3].RuleUID)

	addr, _ := res.Pipeline[1].SourceIP()
	assert.Equal(t, netip.MustParseAddr("198.51.100.7"), addr)
	addr, _ = res.Pipeline[3].SourceIP()
	assert.Equal(t, gateway.IPv4Address, addr)

	require.Len(t, res.Warnings, 1)
	assert.Equal(t, AutoRuleUID("h4"), res.Warnings[0].Rule)
	assert.Equal(t, ReasonUnsupportedHideTarget, res.Warnings[0].Reason)

	assert.Equal(t, AutoRuleUID("n1"), AutoRuleUID("n1"))
	assert.NotEqual(t, AutoRuleUID("n1"), AutoRuleUID("n2"))
}

func TestCompileDomain(t *testing.T) {
	installed := mgmt.GatewayOrServerPolicy{AccessPolicyInstalled: true, AccessPolicyName: "Standard"}
	gw1 := mgmt.NewSimpleGateway(netip.MustParseAddr("192.0.2.1"), "gw1", installed, "gw1")
	gw2 := mgmt.NewSimpleGateway(netip.MustParseAddr("192.0.2.2"), "gw2", mgmt.GatewayOrServerPolicy{}, "gw2")
	gw3 := mgmt.NewSimpleGateway(netip.MustParseAddr("192.0.2.3"), "gw3",
		mgmt.GatewayOrServerPolicy{AccessPolicyInstalled: true, AccessPolicyName: "Missing"}, "gw3")
	gw4 := mgmt.NewSimpleGateway(netip.MustParseAddr("192.0.2.4"), "gw4", installed, "gw4")

	rb := mgmt.NewNatRulebase(directory(t, anyObj, orig, host, policyTargets), []*mgmt.NatRule{hideRule("a", 1, true)}, "rb")
	d := &mgmt.Domain{
		Gateways: []mgmt.Gateway{gw1, gw2, gw3, gw4},
		Packages: []*mgmt.Package{{UID: "p1", Name: "Standard", NatRulebase: rb}},
	}

	results, err := NewCompiler().CompileDomain(context.Background(), d)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, mgmt.Uid("gw1"), results[0].GatewayUID)
	assert.Equal(t, mgmt.Uid("gw4"), results[1].GatewayUID)
	assert.Len(t, results[0].Pipeline, 1)

	results, err = NewCompiler(WithGateways("gw4")).CompileDomain(context.Background(), d)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "gw4", results[0].GatewayName)
}

func TestWarningString(t *testing.T) {
	w := Warning{Gateway: "gw", Rule: "r", RuleNumber: 3, Reason: ReasonUnsupportedMethod, Field: "method", Message: `nat method "static" is not supported`}
	assert.Equal(t, `gateway gw rule 3 (r): unsupported-method: method: nat method "static" is not supported`, w.String())
}

func TestPortPoolValidate(t *testing.T) {
	assert.NoError(t, DefaultPortPool().Validate())
	assert.Error(t, PortPool{First: 0, Last: 10}.Validate())
	assert.Error(t, PortPool{First: 20, Last: 10}.Validate())
}

func TestWithPortPool(t *testing.T) {
	custom := PortPool{First: 20000, Last: 30000}
	assert.Equal(t, custom, NewCompiler(WithPortPool(custom)).pool)
	assert.Equal(t, DefaultPortPool(), NewCompiler(WithPortPool(PortPool{First: 20, Last: 10})).pool)
	assert.Equal(t, DefaultPortPool(), NewCompiler(WithPortPool(PortPool{})).pool)
}
