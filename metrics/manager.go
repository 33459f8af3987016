package metrics

import (
	"sync"

	"github.com/saiset-co/sai-newscache/types"
)

var customMetricsCreators = sync.Map{}

func RegisterMetricsManager(metricsManagerName string, creator types.MetricsManagerCreator) {
	customMetricsCreators.Store(metricsManagerName, creator)
}

func NewManager(logger types.Logger, config *types.MetricsConfig) (types.MetricsManager, error) {
	if config == nil || !config.Enabled {
		return nil, types.ErrMetricsIsDisabled
	}

	switch config.Type {
	case "", "memory":
		return NewMemoryMetrics(logger, config)
	case "prometheus":
		return NewPrometheusMetrics(logger, config)
	default:
		if creator, exists := customMetricsCreators.Load(config.Type); exists {
			return creator.(types.MetricsManagerCreator)(config)
		}
		return nil, types.Errorf(types.ErrMetricsTypeUnknown, "type: %s", config.Type)
	}
}
