package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/quantforge/tradebot/internal/domain"
)

// StrategyFile is the YAML shape of a declarative strategy definition.
type StrategyFile struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	Symbol       string `yaml:"symbol"`
	Timeframe    string `yaml:"timeframe"`
	MaxPositions int    `yaml:"max_positions"`

	Sizing struct {
		Policy string  `yaml:"policy"` // fixed_percent | kelly | risk_parity
		Value  float64 `yaml:"value"`
	} `yaml:"sizing"`

	MinPositionSize     float64 `yaml:"min_position_size"`
	MaxPositionSize     float64 `yaml:"max_position_size"`
	StopLossPercent     float64 `yaml:"stop_loss_percent"`
	TakeProfitPercent   float64 `yaml:"take_profit_percent"`
	TrailingStopPercent float64 `yaml:"trailing_stop_percent"`

	Indicators []struct {
		Name   string             `yaml:"name"`
		Type   string             `yaml:"type"`
		Params map[string]float64 `yaml:"params"`
	} `yaml:"indicators"`

	Entry []ConditionGroupFile `yaml:"entry"`
	Exit  []ConditionGroupFile `yaml:"exit"`
}

// ConditionGroupFile is the YAML shape of one condition group.
type ConditionGroupFile struct {
	Logic     string `yaml:"logic"`     // AND | OR
	Direction string `yaml:"direction"` // buy | sell, entry groups only
	Rules     []struct {
		Indicator string  `yaml:"indicator"`
		Operator  string  `yaml:"operator"` // gt | gte | lt | lte | eq | neq
		Value     float64 `yaml:"value"`
		Weight    float64 `yaml:"weight"`
	} `yaml:"rules"`
}

// LoadStrategy reads a strategy definition file and converts it to the
// domain form. Validation is left to domain.Strategy.Validate.
func LoadStrategy(path string) (domain.Strategy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Strategy{}, fmt.Errorf("config.LoadStrategy: read %q: %w", path, err)
	}

	var file StrategyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return domain.Strategy{}, fmt.Errorf("config.LoadStrategy: parse YAML: %w", err)
	}
	return file.ToDomain(), nil
}

// ToDomain converts the YAML shape into the domain strategy.
func (f StrategyFile) ToDomain() domain.Strategy {
	s := domain.Strategy{
		ID:           f.ID,
		Name:         f.Name,
		Symbol:       f.Symbol,
		Timeframe:    f.Timeframe,
		MaxPositions: f.MaxPositions,

		Sizing: domain.SizingConfig{
			Policy: domain.SizingPolicy(f.Sizing.Policy),
			Value:  f.Sizing.Value,
		},
		MinPositionSize:     f.MinPositionSize,
		MaxPositionSize:     f.MaxPositionSize,
		StopLossPercent:     f.StopLossPercent,
		TakeProfitPercent:   f.TakeProfitPercent,
		TrailingStopPercent: f.TrailingStopPercent,
	}

	for _, ind := range f.Indicators {
		s.Indicators = append(s.Indicators, domain.IndicatorConfig{
			Name:   ind.Name,
			Type:   ind.Type,
			Params: ind.Params,
		})
	}
	s.Entry = toGroups(f.Entry)
	s.Exit = toGroups(f.Exit)
	return s
}

func toGroups(files []ConditionGroupFile) []domain.ConditionGroup {
	var groups []domain.ConditionGroup
	for _, g := range files {
		group := domain.ConditionGroup{
			Logic:     domain.GroupLogic(g.Logic),
			Direction: domain.SignalType(g.Direction),
		}
		for _, r := range g.Rules {
			group.Rules = append(group.Rules, domain.ConditionRule{
				Indicator: r.Indicator,
				Operator:  domain.Operator(r.Operator),
				Value:     r.Value,
				Weight:    r.Weight,
			})
		}
		groups = append(groups, group)
	}
	return groups
}
