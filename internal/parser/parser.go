// Package parser extracts event markers and the completion sentinel from a
// live agent output stream.
//
// The parser is a silent observer: the executor forwards every byte to the
// output sink itself, and feeds the same bytes here. Markers and the
// sentinel may span read boundaries, so the parser keeps a rolling buffer
// and resumes partial matches as more bytes arrive.
package parser

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"
)

const (
	openToken  = "<event"
	closeToken = "</event>"
)

// ExtractedEvent is one well-formed marker pulled from the stream, in
// source byte order.
type ExtractedEvent struct {
	Topic   string
	Target  string
	Payload string
}

// Parser scans one iteration's output stream. Create a fresh Parser per
// executor invocation; it is not reusable.
type Parser struct {
	sentinel    string
	costPattern *regexp.Regexp

	// marker scanning state
	buf           []byte
	inBody        bool // saw a well-formed open tag, waiting for closeToken
	pendingTopic  string
	pendingTarget string

	// sentinel state: carry holds the last len(sentinel)-1 bytes so a
	// sentinel split across writes is still seen.
	carry         []byte
	sentinelFound bool

	// cost state: line-oriented match against costPattern.
	lineBuf []byte
	costUSD float64

	events   []ExtractedEvent
	warnings []string
	finished bool
}

// Option customizes Parser construction.
type Option func(*Parser)

// WithCostPattern installs a line-oriented regexp whose first capture group
// is a per-invocation USD cost reported by the backend.
func WithCostPattern(pattern *regexp.Regexp) Option {
	return func(p *Parser) {
		p.costPattern = pattern
	}
}

// New returns a parser watching for the given completion sentinel.
func New(sentinel string, opts ...Option) *Parser {
	p := &Parser{sentinel: sentinel}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Write feeds a chunk of agent output to the parser. It always succeeds;
// the signature matches io.Writer so the executor can fan out bytes.
func (p *Parser) Write(chunk []byte) (int, error) {
	if len(chunk) == 0 || p.finished {
		return len(chunk), nil
	}
	p.scanSentinel(chunk)
	p.scanCost(chunk)
	p.buf = append(p.buf, chunk...)
	p.extract(false)
	return len(chunk), nil
}

// Finish flushes the parser at end of stream. Unterminated markers become
// warnings; the raw text was never withheld from the sink.
func (p *Parser) Finish() {
	if p.finished {
		return
	}
	p.finished = true
	p.flushCostLine()
	p.extract(true)
}

// Events returns extracted events in source order.
func (p *Parser) Events() []ExtractedEvent {
	return p.events
}

// Warnings returns parse diagnostics. Warnings never fail the iteration.
func (p *Parser) Warnings() []string {
	return p.warnings
}

// CompletionDetected reports whether the sentinel appeared in the stream.
func (p *Parser) CompletionDetected() bool {
	return p.sentinelFound
}

// CostUSD returns the cost reported by the backend, zero when the backend
// reports none.
func (p *Parser) CostUSD() float64 {
	return p.costUSD
}

func (p *Parser) scanSentinel(chunk []byte) {
	if p.sentinelFound || p.sentinel == "" {
		return
	}
	window := append(append([]byte{}, p.carry...), chunk...)
	if bytes.Contains(window, []byte(p.sentinel)) {
		p.sentinelFound = true
		return
	}
	keep := len(p.sentinel) - 1
	if keep > len(window) {
		keep = len(window)
	}
	p.carry = append(p.carry[:0], window[len(window)-keep:]...)
}

func (p *Parser) scanCost(chunk []byte) {
	if p.costPattern == nil {
		return
	}
	for _, b := range chunk {
		if b != '\n' {
			p.lineBuf = append(p.lineBuf, b)
			continue
		}
		p.matchCostLine()
		p.lineBuf = p.lineBuf[:0]
	}
}

func (p *Parser) flushCostLine() {
	if p.costPattern == nil || len(p.lineBuf) == 0 {
		return
	}
	p.matchCostLine()
	p.lineBuf = p.lineBuf[:0]
}

func (p *Parser) matchCostLine() {
	m := p.costPattern.FindSubmatch(p.lineBuf)
	if len(m) < 2 {
		return
	}
	if v, err := strconv.ParseFloat(string(m[1]), 64); err == nil {
		p.costUSD += v
	}
}

// extract consumes as many complete markers as the buffer holds. When eof
// is false, incomplete structures are left in the buffer for later writes;
// when true, they are reported as warnings and recovery resumes past the
// offending openToken.
func (p *Parser) extract(eof bool) {
	for {
		if p.inBody {
			end := bytes.Index(p.buf, []byte(closeToken))
			if end < 0 {
				if eof {
					p.warnings = append(p.warnings, "unterminated <event> marker")
					p.inBody = false
					p.buf = nil
				}
				return
			}
			payload := strings.TrimSpace(string(p.buf[:end]))
			p.events = append(p.events, ExtractedEvent{
				Topic:   p.pendingTopic,
				Target:  p.pendingTarget,
				Payload: payload,
			})
			p.buf = p.buf[end+len(closeToken):]
			p.inBody = false
			continue
		}

		idx := bytes.Index(p.buf, []byte(openToken))
		if idx < 0 {
			p.trimNonMarker()
			return
		}
		p.buf = p.buf[idx:]
		if len(p.buf) == len(openToken) {
			if eof {
				p.warnings = append(p.warnings, "unterminated <event> open tag")
				p.buf = nil
			}
			return // "<event" may continue in the next write
		}
		next := p.buf[len(openToken)]
		if next != ' ' && next != '\t' && next != '\n' && next != '\r' {
			// Not a marker ("<eventual", "<events>", ...); skip the token.
			p.buf = p.buf[len(openToken):]
			continue
		}
		gt := bytes.IndexByte(p.buf, '>')
		if gt < 0 {
			if eof {
				p.warnings = append(p.warnings, "unterminated <event> open tag")
				p.buf = p.buf[len(openToken):]
				continue
			}
			return
		}
		topic, topicOK := extractAttr(p.buf[:gt+1], "topic")
		target, _ := extractAttr(p.buf[:gt+1], "target")
		if !topicOK || topic == "" {
			p.warnings = append(p.warnings, "event marker missing topic attribute")
			p.buf = p.buf[len(openToken):]
			continue
		}
		p.buf = p.buf[gt+1:]
		p.inBody = true
		p.pendingTopic = topic
		p.pendingTarget = target
	}
}

// trimNonMarker discards buffered bytes that can no longer start a marker,
// keeping a tail that might be a split openToken.
func (p *Parser) trimNonMarker() {
	keep := len(openToken) - 1
	if len(p.buf) > keep {
		p.buf = append(p.buf[:0], p.buf[len(p.buf)-keep:]...)
	}
}

// extractAttr pulls a double-quoted attribute value out of an open tag.
// Attribute order is free and whitespace around "=" is tolerated.
func extractAttr(tag []byte, name string) (string, bool) {
	search := tag
	for {
		idx := bytes.Index(search, []byte(name))
		if idx < 0 {
			return "", false
		}
		rest := search[idx+len(name):]
		// Require a word boundary before the name so "target" never
		// matches inside a longer attribute.
		if idx > 0 {
			prev := search[idx-1]
			if prev != ' ' && prev != '\t' && prev != '\n' && prev != '\r' {
				search = rest
				continue
			}
		}
		i := 0
		for i < len(rest) && (rest[i] == ' ' || rest[i] == '\t') {
			i++
		}
		if i >= len(rest) || rest[i] != '=' {
			search = rest
			continue
		}
		i++
		for i < len(rest) && (rest[i] == ' ' || rest[i] == '\t') {
			i++
		}
		if i >= len(rest) || rest[i] != '"' {
			search = rest
			continue
		}
		i++
		end := bytes.IndexByte(rest[i:], '"')
		if end < 0 {
			return "", false
		}
		return string(rest[i : i+end]), true
	}
}
