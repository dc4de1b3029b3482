package nat

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/micrictor/cpnat/internal/match"
	"github.com/micrictor/cpnat/internal/mgmt"
	"github.com/micrictor/cpnat/internal/transform"
)

const defaultWorkers = 4

// GatewayResult is the compiled pipeline of one gateway plus every rule that
// was left out of it.
type GatewayResult struct {
	Gateway     mgmt.Gateway       `json:"-" yaml:"-"`
	GatewayUID  mgmt.Uid           `json:"gatewayUid" yaml:"gatewayUid"`
	GatewayName string             `json:"gatewayName" yaml:"gatewayName"`
	RulebaseUID mgmt.Uid           `json:"rulebaseUid" yaml:"rulebaseUid"`
	Pipeline    transform.Pipeline `json:"-" yaml:"-"`
	Warnings    []Warning          `json:"warnings" yaml:"warnings"`
	// Err is set when compilation of this gateway was abandoned.
	Err error `json:"-" yaml:"-"`
}

type Option func(*Compiler)

// WithPortPool sets the hide NAT port pool. An invalid pool is logged and the
// default pool is kept.
func WithPortPool(pool PortPool) Option {
	return func(c *Compiler) {
		if err := pool.Validate(); err != nil {
			log.Warnf("%v, keeping %d-%d", err, c.pool.First, c.pool.Last)
			return
		}
		c.pool = pool
	}
}

func WithWorkers(n int) Option {
	return func(c *Compiler) {
		if n > 0 {
			c.workers = n
		}
	}
}

func WithAutomaticHide(enabled bool) Option {
	return func(c *Compiler) { c.automaticHide = enabled }
}

func WithMetrics(m *Metrics) Option {
	return func(c *Compiler) { c.metrics = m }
}

func WithMatchBuilder(b match.Builder) Option {
	return func(c *Compiler) { c.builder = b }
}

// WithGateways restricts CompileDomain to gateways with one of the given
// names or uids. No names means every gateway.
func WithGateways(names ...string) Option {
	return func(c *Compiler) {
		c.gateways = make(map[string]bool, len(names))
		for _, n := range names {
			c.gateways[n] = true
		}
	}
}

// Compiler turns NAT rulebases into per gateway transformation pipelines.
// It holds no mutable state and is safe for concurrent use.
type Compiler struct {
	pool          PortPool
	workers       int
	automaticHide bool
	metrics       *Metrics
	builder       match.Builder
	gateways      map[string]bool
}

func NewCompiler(opts ...Option) *Compiler {
	c := &Compiler{
		pool:    DefaultPortPool(),
		workers: defaultWorkers,
		builder: match.NewBuilder(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CompileGateway compiles rb for gw. It never fails: rules that cannot be
// compiled are reported as warnings and left out of the pipeline.
func (c *Compiler) CompileGateway(rb *mgmt.NatRulebase, gw mgmt.Gateway) GatewayResult {
	start := time.Now()
	res := GatewayResult{
		Gateway:     gw,
		GatewayUID:  gw.ObjectUID(),
		GatewayName: gw.ObjectName(),
		RulebaseUID: rb.UID(),
	}
	logger := log.WithFields(log.Fields{
		"gateway":  gw.ObjectName(),
		"rulebase": rb.UID(),
	})

	manual, auto := Partition(ApplicableRules(rb, gw))
	for _, rule := range auto {
		logger.WithField("rule", rule.UID).Debug("skipping auto-generated rule")
	}
	for _, rule := range manual {
		t, err := c.compileManualRule(rb, rule)
		if err != nil {
			for _, w := range warningsFor(gw, rule, err) {
				logWarning(logger, w)
				res.Warnings = append(res.Warnings, w)
			}
			continue
		}
		res.Pipeline = append(res.Pipeline, t)
	}

	if c.automaticHide {
		pipeline, warnings := AutomaticHideTransformations(rb, gw, c.pool)
		for _, w := range warnings {
			logWarning(logger, w)
		}
		res.Pipeline = append(res.Pipeline, pipeline...)
		res.Warnings = append(res.Warnings, warnings...)
	}

	logger.WithFields(log.Fields{
		"transformations": len(res.Pipeline),
		"warnings":        len(res.Warnings),
	}).Info("compiled nat pipeline")
	c.metrics.observe(res, time.Since(start))
	return res
}

func (c *Compiler) compileManualRule(rb *mgmt.NatRulebase, rule *mgmt.NatRule) (transform.Transformation, error) {
	switch rule.Method {
	case mgmt.NatMethodHide:
		return HideRuleTransformation(rb, rule, c.pool, c.builder)
	default:
		return transform.Transformation{}, reject(ReasonUnsupportedMethod, "method",
			"nat method %q is not supported", rule.Method)
	}
}

func logWarning(logger *log.Entry, w Warning) {
	logger.WithFields(log.Fields{
		"rule":   w.Rule,
		"reason": w.Reason,
		"field":  w.Field,
	}).Warn(w.Message)
}

type job struct {
	rb *mgmt.NatRulebase
	gw mgmt.Gateway
}

// Compile compiles rb for every gateway, in parallel. Results are in gateway
// order. The only error is ErrDuplicateRuleNumber; a cancelled ctx marks the
// gateways not yet compiled with Err instead.
func (c *Compiler) Compile(ctx context.Context, rb *mgmt.NatRulebase, gateways []mgmt.Gateway) ([]GatewayResult, error) {
	if err := CheckRuleNumbers(rb); err != nil {
		return nil, err
	}
	jobs := make([]job, len(gateways))
	for i, gw := range gateways {
		jobs[i] = job{rb: rb, gw: gw}
	}
	return c.run(ctx, jobs), nil
}

// CompileDomain compiles every gateway of d against the package its installed
// access policy names. Gateways without one are skipped.
func (c *Compiler) CompileDomain(ctx context.Context, d *mgmt.Domain) ([]GatewayResult, error) {
	checked := make(map[*mgmt.NatRulebase]bool)
	var jobs []job
	for _, gw := range d.Gateways {
		if len(c.gateways) > 0 && !c.gateways[gw.ObjectName()] && !c.gateways[gw.ObjectUID().String()] {
			continue
		}
		logger := log.WithField("gateway", gw.ObjectName())
		policy := gw.Policy()
		if !policy.AccessPolicyInstalled {
			logger.Info("skipping gateway without an installed access policy")
			continue
		}
		pkg, ok := d.PackageByName(policy.AccessPolicyName)
		if !ok || pkg.NatRulebase == nil {
			logger.WithField("package", policy.AccessPolicyName).Warn("skipping gateway, policy package has no nat rulebase")
			continue
		}
		if !checked[pkg.NatRulebase] {
			if err := CheckRuleNumbers(pkg.NatRulebase); err != nil {
				return nil, err
			}
			checked[pkg.NatRulebase] = true
		}
		jobs = append(jobs, job{rb: pkg.NatRulebase, gw: gw})
	}
	return c.run(ctx, jobs), nil
}

func (c *Compiler) run(ctx context.Context, jobs []job) []GatewayResult {
	results := make([]GatewayResult, len(jobs))
	var g errgroup.Group
	g.SetLimit(c.workers)
	for i, j := range jobs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = GatewayResult{
					Gateway:     j.gw,
					GatewayUID:  j.gw.ObjectUID(),
					GatewayName: j.gw.ObjectName(),
					RulebaseUID: j.rb.UID(),
					Err:         err,
				}
				return nil
			}
			results[i] = c.CompileGateway(j.rb, j.gw)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
