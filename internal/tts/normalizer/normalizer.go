// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package normalizer implements the D2 text-normalization pipeline (§4.3):
// a configurable chain of text rewrites for TTS input. Nothing in the TTS
// path calls it; agent text reaches the TTS stream unnormalized.
package normalizer

import (
	"context"
	"strings"

	"github.com/rapidaai/voicebridge/internal/commons"
)

// Normalizer transforms text for optimal TTS output. Each one handles a
// narrow concern (currency, dates, abbreviations, ...) so the pipeline can
// be composed per-agent from a name list.
type Normalizer interface {
	Normalize(ctx context.Context, text string) string
}

// Config mirrors internal/type/normalizer.go's NormalizerConfig. Only
// Abbreviations is read (by the abbreviation normalizer); no stage uses
// Conjunctions or PauseDurationMs.
type Config struct {
	Abbreviations   []string
	Conjunctions    []string
	PauseDurationMs uint64
}

// DefaultConfig returns the stock normalizer settings.
func DefaultConfig() Config {
	return Config{
		Abbreviations:   []string{},
		Conjunctions:    []string{},
		PauseDurationMs: 240,
	}
}

// BuildPipeline resolves a list of normalizer names into concrete
// Normalizer instances, in order.
// Unknown names are logged and skipped rather than failing the whole
// pipeline.
func BuildPipeline(logger commons.Logger, cfg Config, names []string) []Normalizer {
	out := make([]Normalizer, 0, len(names))
	for _, raw := range names {
		name := strings.TrimSpace(strings.ToLower(raw))
		var n Normalizer
		switch name {
		case "url":
			n = NewURLNormalizer(logger)
		case "currency":
			n = NewCurrencyNormalizer(logger)
		case "date":
			n = NewDateNormalizer(logger)
		case "time":
			n = NewTimeNormalizer(logger)
		case "number", "number-to-word":
			n = NewNumberToWordNormalizer(logger)
		case "symbol":
			n = NewSymbolNormalizer(logger)
		case "general-abbreviation", "general":
			n = NewAbbreviationNormalizer(logger, cfg.Abbreviations)
		default:
			logger.Warnf("normalizer: unknown normalizer '%s', skipping", name)
			continue
		}
		out = append(out, n)
	}
	return out
}

// Pipeline runs every configured Normalizer over text, in order.
type Pipeline struct {
	stages []Normalizer
}

// NewPipeline wraps a resolved stage list.
func NewPipeline(stages []Normalizer) *Pipeline { return &Pipeline{stages: stages} }

func (p *Pipeline) Normalize(ctx context.Context, text string) string {
	for _, stage := range p.stages {
		text = stage.Normalize(ctx, text)
	}
	return text
}
