package main

import (
	"regexp"

	"github.com/pkg/errors"
)

// DialectPatterns is the uncompiled join/part/message triple of one console format.
//
// Patterns must match a whole line. The player is captured by a group named
// "actor" (or the first group) and the chat text by a group named "body" (or
// the second group).
type DialectPatterns struct {
	Join    string `yaml:"join"`
	Part    string `yaml:"part"`
	Message string `yaml:"message"`
}

// Dialect classifies console lines of one server log format into Events.
// It holds no state besides its compiled patterns and is safe for concurrent use.
type Dialect struct {
	name    string
	join    matcher
	part    matcher
	message matcher
}

type matcher struct {
	re    *regexp.Regexp
	actor int
	body  int
}

var builtinDialects = map[string]DialectPatterns{
	"vanilla": {
		Join:    `\[[^\]]*\] \[Server thread/INFO\]: (?P<actor>.*) joined the game`,
		Part:    `\[[^\]]*\] \[Server thread/INFO\]: (?P<actor>.*) left the game`,
		Message: `\[[^\]]*\] \[Server thread/INFO\]: <(?P<actor>.*?)> (?P<body>.*)`,
	},
	"cobblemon": {
		Join:    `\[[^\]]*\] \[Server thread/INFO\]: (?P<actor>.*) joined the game`,
		Part:    `\[[^\]]*\] \[Server thread/INFO\]: (?P<actor>.*) left the game`,
		Message: `\[[^\]]*\] \[Server thread/INFO\]: \[[^\]]*\] (?P<actor>.*?) (?:»|Â») (?P<body>.*)`,
	},
	"mechanical": {
		Join:    `\[[^\]]*\] \[Server thread/INFO\] \[minecraft/DedicatedServer\]: (?P<actor>.*) joined the game`,
		Part:    `\[[^\]]*\] \[Server thread/INFO\] \[minecraft/DedicatedServer\]: (?P<actor>.*) left the game`,
		Message: `\[[^\]]*\] \[Server thread/INFO\] \[minecraft/DedicatedServer\]: \[[^\]]*\] <(?P<actor>.*?)> (?P<body>.*)`,
	},
	"atm": {
		Join:    `\[[^\]]*\] \[Server thread/INFO\] \[minecraft/MinecraftServer\]: \[[^\]]*\] <(?P<actor>.*?)> joined the game`,
		Part:    `\[[^\]]*\] \[Server thread/INFO\] \[minecraft/MinecraftServer\]: \[[^\]]*\] <(?P<actor>.*?)> left the game`,
		Message: `\[[^\]]*\] \[Server thread/INFO\] \[minecraft/MinecraftServer\]: <\[[^\]]*\] <(?P<actor>.*?)>> (?P<body>.*)`,
	},
	// Bukkit-era console with ANSI resets around the player name.
	"rr3": {
		Join:    `\[[^\]]* INFO\]: (?P<actor>[^\[]*)\[.*\] logged in.*`,
		Part:    `\[[^\]]* INFO\]: (?P<actor>.*) left the game\.?`,
		Message: `\[[^\]]* INFO\]: (?:\x1b|\\u\{1b\})\[m<(?P<actor>.*?)(?:\x1b|\\u\{1b\})\[m> (?P<body>.*)`,
	},
}

// CompileDialect compiles a pattern triple. Malformed patterns and missing
// capture groups are reported here so they fail at startup, not per line.
func CompileDialect(name string, p DialectPatterns) (*Dialect, error) {
	join, err := compileMatcher(p.Join, false)
	if err != nil {
		return nil, errors.Wrapf(err, "dialect %s: join", name)
	}
	part, err := compileMatcher(p.Part, false)
	if err != nil {
		return nil, errors.Wrapf(err, "dialect %s: part", name)
	}
	message, err := compileMatcher(p.Message, true)
	if err != nil {
		return nil, errors.Wrapf(err, "dialect %s: message", name)
	}
	return &Dialect{name: name, join: join, part: part, message: message}, nil
}

func compileMatcher(pattern string, withBody bool) (matcher, error) {
	if pattern == "" {
		return matcher{}, errors.New("empty pattern")
	}
	re, err := regexp.Compile(`^(?:` + pattern + `)$`)
	if err != nil {
		return matcher{}, errors.WithStack(err)
	}

	m := matcher{re: re, actor: re.SubexpIndex("actor"), body: -1}
	if m.actor < 0 {
		if re.NumSubexp() < 1 {
			return matcher{}, errors.Errorf("pattern %q has no actor group", pattern)
		}
		m.actor = 1
	}
	if !withBody {
		return m, nil
	}

	m.body = re.SubexpIndex("body")
	if m.body < 0 {
		if re.NumSubexp() < 2 {
			return matcher{}, errors.Errorf("pattern %q has no body group", pattern)
		}
		m.body = 2
	}
	if m.body == m.actor {
		return matcher{}, errors.Errorf("pattern %q captures actor and body with the same group", pattern)
	}
	return m, nil
}

func (d *Dialect) Name() string { return d.name }

// Classify turns one console line into an Event. Patterns are tried in the
// order join, part, message and the first full-line match wins. Lines that
// match nothing are not events and return false.
//
// Captured text is returned verbatim; sanitizing is the renderer's job.
func (d *Dialect) Classify(line, source string) (Event, bool) {
	if m := d.join.re.FindStringSubmatch(line); m != nil {
		return NewJoin(source, m[d.join.actor]), true
	}
	if m := d.part.re.FindStringSubmatch(line); m != nil {
		return NewPart(source, m[d.part.actor]), true
	}
	if m := d.message.re.FindStringSubmatch(line); m != nil {
		return NewMessage(source, m[d.message.actor], m[d.message.body]), true
	}
	return Event{}, false
}
