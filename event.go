package main

import "github.com/pkg/errors"

// Kind is the closed set of things an endpoint can report.
type Kind int

const (
	KindJoin Kind = iota
	KindPart
	KindMessage
)

func (k Kind) String() string {
	switch k {
	case KindJoin:
		return "join"
	case KindPart:
		return "part"
	case KindMessage:
		return "message"
	default:
		return "unknown"
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "join":
		return KindJoin, nil
	case "part":
		return KindPart, nil
	case "message":
		return KindMessage, nil
	}
	return 0, errors.Errorf("unknown event kind %q", s)
}

// Event is a join, part or chat message tagged with the endpoint it came from.
// Events are values: they are built once and only read afterwards.
type Event struct {
	Source string // endpoint identity, e.g. a server display name or "Discord"
	Kind   Kind
	Actor  string // player name or chat username
	Body   string // message text, empty for join/part
}

func NewJoin(source, actor string) Event {
	return Event{Source: source, Kind: KindJoin, Actor: actor}
}

func NewPart(source, actor string) Event {
	return Event{Source: source, Kind: KindPart, Actor: actor}
}

func NewMessage(source, actor, body string) Event {
	return Event{Source: source, Kind: KindMessage, Actor: actor, Body: body}
}

// kindFilter is a set of kinds built from a config list where "all" matches everything.
type kindFilter map[Kind]bool

func newKindFilter(names []string) (kindFilter, error) {
	f := kindFilter{}
	for _, n := range names {
		if n == "all" {
			return kindFilter{KindJoin: true, KindPart: true, KindMessage: true}, nil
		}
		k, err := ParseKind(n)
		if err != nil {
			return nil, err
		}
		f[k] = true
	}
	return f, nil
}

func (f kindFilter) allows(k Kind) bool { return f[k] }
