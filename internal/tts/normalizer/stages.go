// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package normalizer

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	numbertowords "moul.io/number-to-words"

	"github.com/rapidaai/voicebridge/internal/commons"
)

// urlNormalizer rewrites bare URLs into a spoken form TTS engines don't
// stumble over ("rapida.ai/docs" -> "rapida dot ai slash docs").
type urlNormalizer struct {
	logger  commons.Logger
	pattern *regexp.Regexp
}

func NewURLNormalizer(logger commons.Logger) Normalizer {
	return &urlNormalizer{
		logger:  logger,
		pattern: regexp.MustCompile(`\b([a-zA-Z0-9-]+\.)+[a-zA-Z]{2,}(/[^\s]*)?\b`),
	}
}

func (n *urlNormalizer) Normalize(ctx context.Context, text string) string {
	return n.pattern.ReplaceAllStringFunc(text, func(match string) string {
		spoken := strings.ReplaceAll(match, ".", " dot ")
		spoken = strings.ReplaceAll(spoken, "/", " slash ")
		spoken = strings.ReplaceAll(spoken, "-", " dash ")
		return spoken
	})
}

// currencyNormalizer expands "$42.50" into "42 dollars and 50 cents".
type currencyNormalizer struct {
	logger  commons.Logger
	pattern *regexp.Regexp
}

func NewCurrencyNormalizer(logger commons.Logger) Normalizer {
	return &currencyNormalizer{
		logger:  logger,
		pattern: regexp.MustCompile(`\$(\d+)(?:\.(\d{2}))?`),
	}
}

func (n *currencyNormalizer) Normalize(ctx context.Context, text string) string {
	return n.pattern.ReplaceAllStringFunc(text, func(match string) string {
		groups := n.pattern.FindStringSubmatch(match)
		dollars := groups[1]
		word := dollars + " dollars"
		if len(groups) > 2 && groups[2] != "" {
			word += " and " + groups[2] + " cents"
		}
		return word
	})
}

// dateNormalizer rewrites ISO dates ("2024-03-05") into a spoken form
// ("March 5, 2024"), leaving matches with an out-of-range month as they
// are; kept as its own pipeline stage so date handling can be included or
// left out independently of the rest of the pipeline.
type dateNormalizer struct {
	logger  commons.Logger
	pattern *regexp.Regexp
}

func NewDateNormalizer(logger commons.Logger) Normalizer {
	return &dateNormalizer{
		logger:  logger,
		pattern: regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`),
	}
}

var monthNames = [...]string{"", "January", "February", "March", "April", "May", "June",
	"July", "August", "September", "October", "November", "December"}

func (n *dateNormalizer) Normalize(ctx context.Context, text string) string {
	return n.pattern.ReplaceAllStringFunc(text, func(match string) string {
		groups := n.pattern.FindStringSubmatch(match)
		month, err := strconv.Atoi(groups[2])
		if err != nil || month < 1 || month > 12 {
			return match
		}
		day := strings.TrimPrefix(groups[3], "0")
		return monthNames[month] + " " + day + ", " + groups[1]
	})
}

// timeNormalizer expands "14:30" into "2:30 PM".
type timeNormalizer struct {
	logger  commons.Logger
	pattern *regexp.Regexp
}

func NewTimeNormalizer(logger commons.Logger) Normalizer {
	return &timeNormalizer{
		logger:  logger,
		pattern: regexp.MustCompile(`\b([01]?\d|2[0-3]):([0-5]\d)\b`),
	}
}

func (n *timeNormalizer) Normalize(ctx context.Context, text string) string {
	return n.pattern.ReplaceAllStringFunc(text, func(match string) string {
		groups := n.pattern.FindStringSubmatch(match)
		hour, _ := strconv.Atoi(groups[1])
		minute := groups[2]
		suffix := "AM"
		if hour >= 12 {
			suffix = "PM"
		}
		hour12 := hour % 12
		if hour12 == 0 {
			hour12 = 12
		}
		return strconv.Itoa(hour12) + ":" + minute + " " + suffix
	})
}

// numberToWordNormalizer spells out standalone integers using
// moul.io/number-to-words.
type numberToWordNormalizer struct {
	logger  commons.Logger
	pattern *regexp.Regexp
}

func NewNumberToWordNormalizer(logger commons.Logger) Normalizer {
	return &numberToWordNormalizer{
		logger:  logger,
		pattern: regexp.MustCompile(`\b\d{1,9}\b`),
	}
}

func (n *numberToWordNormalizer) Normalize(ctx context.Context, text string) string {
	return n.pattern.ReplaceAllStringFunc(text, func(match string) string {
		val, err := strconv.Atoi(match)
		if err != nil {
			return match
		}
		words, err := numbertowords.IntegerToString(val)
		if err != nil {
			n.logger.Warnf("normalizer: number-to-words failed for %q: %v", match, err)
			return match
		}
		return words
	})
}

// symbolNormalizer expands the handful of symbols that otherwise read
// oddly out loud ("&" -> "and", "%" -> "percent").
type symbolNormalizer struct {
	logger    commons.Logger
	replacer  *strings.Replacer
}

func NewSymbolNormalizer(logger commons.Logger) Normalizer {
	return &symbolNormalizer{
		logger: logger,
		replacer: strings.NewReplacer(
			"&", " and ",
			"%", " percent ",
			"#", " number ",
			"@", " at ",
			"+", " plus ",
			"=", " equals ",
		),
	}
}

func (n *symbolNormalizer) Normalize(ctx context.Context, text string) string {
	return n.replacer.Replace(text)
}

// abbreviationNormalizer expands a configured set of abbreviations,
// e.g. "Dr." -> "Doctor", one configurable stage covering the general,
// role, and technical abbreviation families.
type abbreviationNormalizer struct {
	logger commons.Logger
	pairs  map[string]string
}

func NewAbbreviationNormalizer(logger commons.Logger, configured []string) Normalizer {
	pairs := map[string]string{
		"Dr.":  "Doctor",
		"Mr.":  "Mister",
		"Mrs.": "Misses",
		"Ms.":  "Miss",
		"vs.":  "versus",
		"etc.": "et cetera",
		"e.g.": "for example",
		"i.e.": "that is",
	}
	for _, entry := range configured {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) == 2 {
			pairs[parts[0]] = parts[1]
		}
	}
	return &abbreviationNormalizer{logger: logger, pairs: pairs}
}

func (n *abbreviationNormalizer) Normalize(ctx context.Context, text string) string {
	for abbr, expanded := range n.pairs {
		text = strings.ReplaceAll(text, abbr, expanded)
	}
	return text
}
