package main

import (
	"go.uber.org/zap"

	"github.com/sells-group/solarmap/internal/config"
	"github.com/sells-group/solarmap/internal/geometry"
	"github.com/sells-group/solarmap/internal/monitoring"
	"github.com/sells-group/solarmap/internal/pipeline"
	"github.com/sells-group/solarmap/pkg/pvwatts"
)

func newValidator(c *config.Config) *geometry.Validator {
	return geometry.NewValidator(c.Solar.ModuleEfficiency, geometry.Bounds{
		MinKW: c.Solar.MinCapacityKW,
		MaxKW: c.Solar.MaxCapacityKW,
	})
}

func newEstimateClient(c *config.Config) pvwatts.Client {
	p := c.PVWatts
	return pvwatts.NewClient(p.Key,
		pvwatts.WithBaseURL(p.BaseURL),
		pvwatts.WithTimeout(p.Timeout()),
		pvwatts.WithSiting(pvwatts.Siting{
			ModuleType: p.ModuleType,
			ArrayType:  p.ArrayType,
			Losses:     p.Losses,
			Tilt:       p.Tilt,
			Azimuth:    p.Azimuth,
			Dataset:    p.Dataset,
		}),
	)
}

// newPipelineFactory builds per-session pipelines sharing one validator,
// client and stats collector.
func newPipelineFactory(c *config.Config, client pvwatts.Client, stats *monitoring.Collector) func(*zap.Logger) *pipeline.Pipeline {
	validator := newValidator(c)
	return func(log *zap.Logger) *pipeline.Pipeline {
		return pipeline.New(validator, client,
			pipeline.WithWindow(c.Solar.Debounce()),
			pipeline.WithFetchTimeout(c.PVWatts.Timeout()),
			pipeline.WithStats(stats),
			pipeline.WithLogger(log),
		)
	}
}
