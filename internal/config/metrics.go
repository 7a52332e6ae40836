package config

import (
	"context"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var validationCounter = struct {
	once    sync.Once
	counter metric.Int64Counter
}{}

// recordConfigValidationEvent counts one Load outcome. The counter is
// created lazily so tests that never install a meter provider still work.
func recordConfigValidationEvent(ctx context.Context, profile, outcome, errorClass string) {
	validationCounter.once.Do(func() {
		c, err := otel.Meter("owlby-backend").Int64Counter("config.validation.events")
		if err != nil {
			return
		}
		validationCounter.counter = c
	})
	c := validationCounter.counter
	if c == nil {
		return
	}
	c.Add(ctx, 1, metric.WithAttributes(
		attribute.String("profile", normalizeConfigProfile(profile)),
		attribute.String("outcome", outcome),
		attribute.String("error_class", errorClass),
	))
}

func normalizeConfigProfile(profile string) string {
	p := strings.ToLower(strings.TrimSpace(profile))
	if p == "" {
		return "unknown"
	}
	return p
}

// classifyConfigLoadError buckets Load failures by the error prefixes
// validateConfig and the duration/int parsers attach.
func classifyConfigLoadError(err error) string {
	if err == nil {
		return "none"
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "validate config:") {
		return "validation"
	}
	if strings.Contains(msg, "parse ") {
		return "parse"
	}
	return "load"
}
