// Package meshparser implements the incremental mesh-block parser (C4):
// it observes a token stream one token at a time and emits index ranges
// identifying embedded mesh content, without ever backtracking more than a
// fixed window or copying token contents.
//
// Grounded on _examples/original_source/src/assistant/parser.py's
// OBJParser, the "later, more careful" of the two strategies the source
// carries (backtrack window + newline-before-non-content close rule), per
// spec.md §4.4 and §9's open question.
package meshparser

import (
	"strings"

	"github.com/meshchat/meshchat-service/internal/chatmodel"
)

// backtrackWindow is the number of most-recent tokens the parser keeps
// around to recognize a fenced-block opener.
const backtrackWindow = 4

// meshStarters are the lexemes that, stripped of surrounding whitespace,
// mark the first line of an OBJ mesh statement.
var meshStarters = map[string]struct{}{
	"v": {}, "vt": {}, "vn": {}, "f": {}, "g": {},
	"o": {}, "mtllib": {}, "s": {}, "usemtl": {}, "#": {},
}

func isMeshStarter(token string) bool {
	_, ok := meshStarters[strings.TrimSpace(token)]
	return ok
}

// isMeshContent reports whether a token, while a block is open, still
// belongs to that block: either it is blank/whitespace-only, or it starts
// a new mesh statement line.
func isMeshContent(token string) bool {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return true
	}
	return isMeshStarter(token)
}

// Parser holds the live state of one in-flight token stream: a bounded
// backtrack window, the currently-open block's markers (if any), and the
// list of completed blocks.
type Parser struct {
	window  []string // last backtrackWindow tokens, most recent last
	counter int

	open         bool
	objStart     int
	excludeStart int

	records []chatmodel.OutputIndexes
}

// New returns a fresh parser with no history and no open block.
func New() *Parser {
	return &Parser{}
}

// ProcessToken feeds one token into the parser, possibly opening or closing
// a mesh block and appending a completed OutputIndexes record.
func (p *Parser) ProcessToken(token string) {
	p.pushWindow(token)

	switch {
	case !p.open && isMeshStarter(token):
		p.openBlock()
	case p.open && p.prevEndsWithNewline() && !isMeshContent(token):
		p.closeBlock(token)
	}

	p.counter++
}

func (p *Parser) pushWindow(token string) {
	p.window = append(p.window, token)
	if len(p.window) > backtrackWindow {
		p.window = p.window[len(p.window)-backtrackWindow:]
	}
}

// prevEndsWithNewline reports whether the token immediately before the
// current one (i.e. the second-to-last entry of the window, since the
// current token was already pushed) ends with a newline.
func (p *Parser) prevEndsWithNewline() bool {
	if len(p.window) < 2 {
		return false
	}
	prev := p.window[len(p.window)-2]
	return strings.HasSuffix(prev, "\n")
}

func (p *Parser) openBlock() {
	p.open = true
	p.objStart = p.counter

	if p.hasFencedPrefix() {
		p.excludeStart = p.counter - 3
	} else {
		p.excludeStart = p.counter
	}
}

// hasFencedPrefix reports whether the three tokens preceding the current
// one are exactly the fenced-block opener: "```", "obj", "\n".
func (p *Parser) hasFencedPrefix() bool {
	if len(p.window) < backtrackWindow {
		return false
	}
	return p.window[len(p.window)-4] == "```" && p.window[len(p.window)-3] == "obj" && p.window[len(p.window)-2] == "\n"
}

func (p *Parser) closeBlock(closingToken string) {
	objEnd := p.counter

	var excludeEnd int
	if closingToken == "```" {
		excludeEnd = p.counter + 2
	} else {
		excludeEnd = p.counter
	}

	p.records = append(p.records, chatmodel.OutputIndexes{
		ObjStart:     p.objStart,
		ObjEnd:       objEnd,
		ExcludeStart: p.excludeStart,
		ExcludeEnd:   excludeEnd,
	})

	p.open = false
	p.objStart = 0
	p.excludeStart = 0
}

// Finalize closes any still-open block at end-of-stream, using the current
// token count for both obj_end and exclude_end, and returns the completed
// records.
func (p *Parser) Finalize() []chatmodel.OutputIndexes {
	if p.open {
		p.records = append(p.records, chatmodel.OutputIndexes{
			ObjStart:     p.objStart,
			ObjEnd:       p.counter,
			ExcludeStart: p.excludeStart,
			ExcludeEnd:   p.counter,
		})
		p.open = false
	}
	return p.records
}

// Extracted holds the separated prose and mesh contents produced by
// Extract.
type Extracted struct {
	MessageContent string
	ObjContents    []string
}

// Extract reconstructs prose and mesh contents from the full token list and
// a completed, ordered, non-overlapping list of OutputIndexes. It performs
// exactly one additional pass over tokens and copies each token's content
// at most once, into either the prose builder or one mesh-content builder.
func Extract(tokens []string, records []chatmodel.OutputIndexes) Extracted {
	var prose strings.Builder
	objContents := make([]string, 0, len(records))

	prevExcludeEnd := 0
	for _, r := range records {
		prose.WriteString(joinTokens(tokens, prevExcludeEnd, r.ExcludeStart))
		objContents = append(objContents, joinTokens(tokens, r.ObjStart, r.ObjEnd))
		prevExcludeEnd = r.ExcludeEnd
	}
	prose.WriteString(joinTokens(tokens, prevExcludeEnd, len(tokens)))

	return Extracted{MessageContent: prose.String(), ObjContents: objContents}
}

func joinTokens(tokens []string, start, end int) string {
	if start < 0 {
		start = 0
	}
	if end > len(tokens) {
		end = len(tokens)
	}
	if start >= end {
		return ""
	}
	var b strings.Builder
	for _, t := range tokens[start:end] {
		b.WriteString(t)
	}
	return b.String()
}
