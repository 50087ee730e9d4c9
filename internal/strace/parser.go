package strace

import (
	"strconv"
	"strings"
)

const (
	unfinishedMarker = "<unfinished ...>"
	resumedMarker    = "resumed>"
	resumedPrefix    = "<... "
	resumedSuffix    = " resumed>"
)

// ParseLine parses any supported strace line.
// It returns nil when the line matches none of the known shapes.
//
// Unfinished and resumed lines are tried first: both carry literal markers,
// and the regular grammar can spuriously match a truncated line.
func ParseLine(line string) *Event {
	if ev := ParseUnfinished(line); ev != nil {
		return ev
	}
	if ev := ParseResumed(line); ev != nil {
		return ev
	}
	return ParseRegular(line)
}

// ParseRegular parses a complete call line:
//
//	HH:MM:SS.ffffff name(args) = ret [CODE (message)] <seconds>
//
// The first ')' after the opening parenthesis terminates the argument list.
// Nesting is not tracked, so an argument containing an unbalanced ')' is
// mis-split.
func ParseRegular(line string) *Event {
	timestamp, rest, ok := strings.Cut(line, " ")
	if !ok {
		return nil
	}

	open := strings.IndexByte(rest, '(')
	if open < 0 {
		return nil
	}
	name := strings.TrimSpace(rest[:open])

	fromParen := rest[open+1:]
	closing := strings.IndexByte(fromParen, ')')
	if closing < 0 {
		return nil
	}

	// ") = " with flexible whitespace before the '='
	afterParen := strings.TrimLeft(fromParen[closing+1:], " \t")
	if !strings.HasPrefix(afterParen, "= ") {
		return nil
	}
	tail := strings.TrimLeft(afterParen[1:], " \t")

	out, ok := parseOutcome(tail)
	if !ok {
		return nil
	}

	return &Event{
		Timestamp:    timestamp,
		Name:         name,
		Args:         fromParen[:closing],
		ReturnValue:  out.ret,
		ErrorCode:    out.code,
		ErrorMessage: out.message,
		Duration:     out.duration,
	}
}

// ParseUnfinished parses a call interrupted before completion:
//
//	HH:MM:SS.ffffff name(args <unfinished ...>) = ?
//
// Return, error and duration fields are always nil.
func ParseUnfinished(line string) *Event {
	if !strings.Contains(line, unfinishedMarker) {
		return nil
	}

	timestamp, rest, ok := strings.Cut(line, " ")
	if !ok {
		return nil
	}

	open := strings.IndexByte(rest, '(')
	if open < 0 {
		return nil
	}
	name := strings.TrimSpace(rest[:open])

	fromParen := rest[open+1:]
	marker := strings.Index(fromParen, unfinishedMarker)
	if marker < 0 {
		return nil
	}

	return &Event{
		Timestamp:  timestamp,
		Name:       name,
		Args:       strings.TrimSpace(fromParen[:marker]),
		Unfinished: true,
	}
}

// ParseResumed parses the completion of a previously unfinished call:
//
//	HH:MM:SS.ffffff <... name resumed>args) = ret <seconds>
//
// Each resumed line yields an independent event; it is not merged with the
// unfinished line it completes.
func ParseResumed(line string) *Event {
	if !strings.Contains(line, resumedMarker) {
		return nil
	}

	timestamp, rest, ok := strings.Cut(line, " ")
	if !ok {
		return nil
	}

	start := strings.Index(rest, resumedPrefix)
	end := strings.Index(rest, resumedSuffix)
	if start < 0 || end < start+len(resumedPrefix) {
		return nil
	}
	name := rest[start+len(resumedPrefix) : end]

	after := rest[end+len(resumedSuffix):]
	closing := strings.IndexByte(after, ')')
	if closing < 0 {
		return nil
	}

	eq := strings.Index(after, " = ")
	if eq < 0 {
		return nil
	}

	out, ok := parseOutcome(after[eq+3:])
	if !ok {
		return nil
	}

	return &Event{
		Timestamp:    timestamp,
		Name:         name,
		Args:         after[:closing],
		ReturnValue:  out.ret,
		ErrorCode:    out.code,
		ErrorMessage: out.message,
		Duration:     out.duration,
		Resumed:      true,
	}
}

// outcome holds the fields found after "= " on a completed call.
type outcome struct {
	ret      *int64
	code     *string
	message  *string
	duration *float64
}

// parseOutcome parses the return/error region and the optional trailing
// duration, e.g. "-1 ENOENT (No such file or directory) <0.000030>".
// It reports false when the region is structurally broken (a '<' without a
// closing '>', or an error message with '(' but no ')').
func parseOutcome(s string) (outcome, bool) {
	var out outcome

	before := s
	if lt := strings.LastIndexByte(s, '<'); lt >= 0 {
		gt := strings.LastIndexByte(s, '>')
		if gt < lt {
			return outcome{}, false
		}
		if d, err := strconv.ParseFloat(s[lt+1:gt], 64); err == nil {
			out.duration = &d
		}
		before = s[:lt]
	}
	before = strings.TrimSpace(before)

	retToken, errPart, hasErr := strings.Cut(before, " ")
	out.ret = parseReturnValue(retToken)

	if hasErr {
		if open := strings.IndexByte(errPart, '('); open >= 0 {
			closing := strings.LastIndexByte(errPart, ')')
			if closing < open {
				return outcome{}, false
			}
			if code := strings.TrimSpace(errPart[:open]); code != "" {
				out.code = &code
			}
			msg := errPart[open+1 : closing]
			out.message = &msg
		} else {
			code := errPart
			out.code = &code
		}
	}

	return out, true
}

// parseReturnValue converts a return token: "0x.." is a hexadecimal
// magnitude, "-0x.." its negation, anything else a signed decimal.
// Values that do not fit in an int64 are treated as absent.
func parseReturnValue(tok string) *int64 {
	var (
		v   int64
		err error
	)
	switch {
	case strings.HasPrefix(tok, "0x"):
		v, err = strconv.ParseInt(tok[2:], 16, 64)
	case strings.HasPrefix(tok, "-0x"):
		v, err = strconv.ParseInt(tok[3:], 16, 64)
		v = -v
	default:
		v, err = strconv.ParseInt(tok, 10, 64)
	}
	if err != nil {
		return nil
	}
	return &v
}
