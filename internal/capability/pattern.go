package capability

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/text/unicode/norm"
)

// Wildcard tokens.
const (
	// WildcardSingle matches exactly one non-empty segment.
	WildcardSingle = "*"

	// WildcardMulti matches zero or more segments.
	WildcardMulti = "**"
)

// maxSegments bounds the number of segments a subject may have. Longer
// subjects never match anything.
const maxSegments = 64

type segKind uint8

const (
	segLiteral segKind = iota
	segStar
	segAny
	segGlob
)

type segment struct {
	kind segKind
	text string
}

func (s segment) matches(tok string) bool {
	switch s.kind {
	case segLiteral:
		return s.text == tok
	case segStar:
		return tok != ""
	case segGlob:
		ok, _ := doublestar.Match(s.text, tok)
		return ok
	default:
		return false
	}
}

// pattern is one compiled allow or deny entry.
type pattern struct {
	raw      string
	segs     []segment
	hostOnly bool
}

// tokens is a fixed-capacity segment list living on the caller's stack.
type tokens struct {
	n   int
	buf [maxSegments]string
}

func (t *tokens) list() []string { return t.buf[:t.n] }

func (t *tokens) push(s string) bool {
	if t.n == maxSegments {
		return false
	}
	t.buf[t.n] = s
	t.n++
	return true
}

// split appends the segments of s to t. It reports false on overflow.
func (t *tokens) split(s string, sep byte) bool {
	if sep == 0 {
		return t.push(s)
	}
	for {
		i := strings.IndexByte(s, sep)
		if i < 0 {
			return t.push(s)
		}
		if !t.push(s[:i]) {
			return false
		}
		s = s[i+1:]
	}
}

// splitHostPort appends host and, when present, port. Bracketed IPv6
// literals keep their colons.
func (t *tokens) splitHostPort(s string) bool {
	host, port, hasPort := cutHostPort(s)
	if !t.push(host) {
		return false
	}
	if hasPort {
		return t.push(port)
	}
	return true
}

func cutHostPort(s string) (host, port string, hasPort bool) {
	if strings.HasPrefix(s, "[") {
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return s, "", false
		}
		host = s[1:end]
		rest := s[end+1:]
		if strings.HasPrefix(rest, ":") {
			return host, rest[1:], true
		}
		return host, "", false
	}
	i := strings.LastIndexByte(s, ':')
	if i < 0 || strings.IndexByte(s, ':') != i {
		// No port, or a bare IPv6 literal.
		return s, "", false
	}
	return s[:i], s[i+1:], true
}

// tokenize splits a subject according to the class rules, expanding a
// leading "~" against home. Path subjects are compared in NFC; only
// subjects that are not already NFC allocate.
func tokenize(t *tokens, info ClassInfo, home, subject string) bool {
	if info.Path && !isASCII(subject) && !norm.NFC.IsNormalString(subject) {
		subject = norm.NFC.String(subject)
	}
	if info.HostPort {
		return t.splitHostPort(subject)
	}
	if info.Path && home != "" && (subject == "~" || strings.HasPrefix(subject, "~/")) {
		if !t.split(home, info.Separator) {
			return false
		}
		rest := subject[1:]
		if rest == "" {
			return true
		}
		return t.split(rest[1:], info.Separator)
	}
	return t.split(subject, info.Separator)
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

func compilePattern(info ClassInfo, home, raw string) (pattern, error) {
	p := pattern{raw: raw}
	if raw == "" {
		return p, &CompileError{Class: string(info.Class), Pattern: raw, Message: "empty pattern"}
	}

	expanded := raw
	if info.Path {
		expanded = norm.NFC.String(raw)
	}
	if info.Path && (raw == "~" || strings.HasPrefix(raw, "~/")) {
		if home == "" {
			return p, &CompileError{Class: string(info.Class), Pattern: raw, Message: "home directory is unknown"}
		}
		expanded = home + expanded[1:]
	}
	if !doublestar.ValidatePattern(expanded) {
		return p, &CompileError{Class: string(info.Class), Pattern: raw, Message: "malformed glob"}
	}

	var toks tokens
	var ok bool
	if info.HostPort {
		_, _, hasPort := cutHostPort(expanded)
		p.hostOnly = !hasPort
		ok = toks.splitHostPort(expanded)
	} else {
		ok = toks.split(expanded, info.Separator)
	}
	if !ok {
		return p, &CompileError{Class: string(info.Class), Pattern: raw, Message: "too many segments"}
	}

	p.segs = make([]segment, 0, toks.n)
	for _, s := range toks.list() {
		p.segs = append(p.segs, classify(s))
	}
	return p, nil
}

func classify(s string) segment {
	switch {
	case s == WildcardMulti:
		return segment{kind: segAny}
	case s == WildcardSingle:
		return segment{kind: segStar}
	case strings.ContainsAny(s, "*?[{\\"):
		return segment{kind: segGlob, text: nonEmptyStars(s)}
	default:
		return segment{kind: segLiteral, text: s}
	}
}

// nonEmptyStars rewrites every run of unescaped "*" outside a character
// class as "?*", so an in-segment star matches one or more characters.
func nonEmptyStars(glob string) string {
	var b strings.Builder
	b.Grow(len(glob) + 4)
	inClass := false
	for i := 0; i < len(glob); i++ {
		c := glob[i]
		switch {
		case c == '\\' && i+1 < len(glob):
			b.WriteByte(c)
			i++
			b.WriteByte(glob[i])
			continue
		case inClass:
			if c == ']' {
				inClass = false
			}
		case c == '[':
			inClass = true
		case c == '*':
			b.WriteString("?*")
			for i+1 < len(glob) && glob[i+1] == '*' {
				i++
			}
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// match reports whether the compiled pattern accepts the subject segments.
// "**" backtracks over whole segments; every other segment consumes exactly
// one subject segment.
func (p *pattern) match(subj []string) bool {
	if p.hostOnly && len(subj) > 1 {
		subj = subj[:1]
	}

	pi, si := 0, 0
	anyP, anyS := -1, 0
	for si < len(subj) {
		if pi < len(p.segs) && p.segs[pi].kind == segAny {
			anyP, anyS = pi, si
			pi++
			continue
		}
		if pi < len(p.segs) && p.segs[pi].matches(subj[si]) {
			pi++
			si++
			continue
		}
		if anyP >= 0 {
			pi = anyP + 1
			anyS++
			si = anyS
			continue
		}
		return false
	}
	for pi < len(p.segs) && p.segs[pi].kind == segAny {
		pi++
	}
	return pi == len(p.segs)
}
