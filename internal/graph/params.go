package graph

import (
	"fmt"
	"strconv"
	"strings"

	"signal-core/internal/decision"
)

// params reads node parameters decoded from JSON or YAML.
type params map[string]any

func (p params) num(key string, def float64) float64 {
	v, ok := p[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case uint64:
		return float64(t)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return f
		}
	}
	return def
}

func (p params) integer(key string, def int) int {
	return int(p.num(key, float64(def)))
}

func (p params) text(key, def string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return def
	}
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fmt.Sprint(v)
}

func (p params) has(key string) bool {
	v, ok := p[key]
	return ok && v != nil
}

func direction(p params) decision.Decision {
	d, err := decision.Parse(p.text("direction", ""))
	if err != nil {
		return decision.Hold
	}
	return d
}

func positive(keys ...string) func(params) error {
	return func(p params) error {
		for _, k := range keys {
			if p.has(k) && p.num(k, 0) <= 0 {
				return fmt.Errorf("param %s must be positive", k)
			}
		}
		return nil
	}
}
