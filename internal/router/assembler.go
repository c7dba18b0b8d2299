// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package router implements C7, the Turn Router (§4.7): a finite queue
// of finalized transcripts served one at a time, driving the
// orchestrator and pushing synthesized audio back out.
package router

import (
	"strings"
	"time"
)

// AssemblerType selects a sentence-assembly strategy by name.
type AssemblerType string

const (
	AssemblerDefault AssemblerType = "default"
)

// sentenceBoundaries is the set of punctuation the default assembler
// treats as a flushable sentence end.
var sentenceBoundaries = []byte{'.', '!', '?', '\n'}

// TextAssembler buffers streamed TextChunks and yields complete
// sentences (or a max-buffer timeout flush) rather than handing
// individual tokens straight to TTS, avoiding choppy, too-short
// synthesis calls (§4.7: "passed through a sentence assembler that
// buffers partial tokens until a sentence boundary").
type TextAssembler interface {
	// Push appends a streamed chunk and returns any complete sentences
	// now ready to synthesize.
	Push(chunk string) []string

	// Flush returns any remaining buffered text (used at Done), even if
	// it does not end on a sentence boundary.
	Flush() string
}

// GetTextAssembler returns the TextAssembler for typ, defaulting to the
// sentence-boundary assembler when typ is empty or unrecognized.
func GetTextAssembler(typ AssemblerType, maxBuffer time.Duration) TextAssembler {
	switch typ {
	default:
		return newDefaultAssembler(maxBuffer)
	}
}

type defaultAssembler struct {
	buf          strings.Builder
	maxBuffer    time.Duration
	lastFlushed  time.Time
}

func newDefaultAssembler(maxBuffer time.Duration) *defaultAssembler {
	if maxBuffer <= 0 {
		maxBuffer = 2 * time.Second
	}
	return &defaultAssembler{maxBuffer: maxBuffer, lastFlushed: time.Now()}
}

func (a *defaultAssembler) Push(chunk string) []string {
	a.buf.WriteString(chunk)
	var out []string

	for {
		text := a.buf.String()
		idx := strings.IndexAny(text, string(sentenceBoundaries))
		if idx < 0 {
			break
		}
		sentence := strings.TrimSpace(text[:idx+1])
		rest := text[idx+1:]
		a.buf.Reset()
		a.buf.WriteString(rest)
		if sentence != "" {
			out = append(out, sentence)
			a.lastFlushed = time.Now()
		}
	}

	if a.buf.Len() > 0 && time.Since(a.lastFlushed) >= a.maxBuffer {
		out = append(out, strings.TrimSpace(a.buf.String()))
		a.buf.Reset()
		a.lastFlushed = time.Now()
	}

	return out
}

func (a *defaultAssembler) Flush() string {
	rest := strings.TrimSpace(a.buf.String())
	a.buf.Reset()
	return rest
}
