package throttle

import (
	"fmt"
	"log/slog"
)

import (
	sentinel "github.com/alibaba/sentinel-golang/api"
	"github.com/alibaba/sentinel-golang/core/base"
	sentinelcfg "github.com/alibaba/sentinel-golang/core/config"
	"github.com/alibaba/sentinel-golang/core/flow"
)

// ResourcePatternWrite guards pattern replacement.
const ResourcePatternWrite = "pattern_write"

// Limiter admits or rejects calls on a named resource.
// exit must be called once for every admitted call.
type Limiter interface {
	Enter(resource string) (exit func(), ok bool)
}

// Nop admits everything.
type Nop struct{}

func (Nop) Enter(string) (func(), bool) { return func() {}, true }

// Sentinel rejects calls above a per-second threshold using sentinel flow rules.
type Sentinel struct {
	log *slog.Logger
}

// NewSentinel initializes sentinel and loads one reject-on-excess flow rule
// per resource. qps <= 0 returns Nop.
func NewSentinel(appName, logDir string, qps float64, logger *slog.Logger, resources ...string) (Limiter, error) {
	if qps <= 0 {
		return Nop{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	conf := sentinelcfg.NewDefaultConfig()
	conf.Sentinel.App.Name = appName
	if logDir != "" {
		conf.Sentinel.Log.Dir = logDir
	}
	if err := sentinel.InitWithConfig(conf); err != nil {
		return nil, fmt.Errorf("sentinel init failed: %w", err)
	}

	rules := make([]*flow.Rule, 0, len(resources))
	for _, res := range resources {
		rules = append(rules, &flow.Rule{
			Resource:               res,
			TokenCalculateStrategy: flow.Direct,
			ControlBehavior:        flow.Reject,
			Threshold:              qps,
			StatIntervalInMs:       1000,
		})
	}
	if _, err := flow.LoadRules(rules); err != nil {
		return nil, fmt.Errorf("sentinel load rules failed: %w", err)
	}
	logger.Info("write throttle enabled", "qps", qps, "resources", resources)
	return &Sentinel{log: logger}, nil
}

func (s *Sentinel) Enter(resource string) (func(), bool) {
	e, b := sentinel.Entry(resource, sentinel.WithTrafficType(base.Inbound))
	if b != nil {
		s.log.Debug("throttled", "resource", resource, "reason", b.BlockMsg())
		return nil, false
	}
	return func() { e.Exit() }, true
}
