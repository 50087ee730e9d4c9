package testutil

import "fmt"

// callData holds the pieces of one completed call line.
type callData struct {
	ret      string
	errCode  string
	errMsg   string
	duration string
}

// CallOption configures a call line written by FileBuilder.
type CallOption func(*callData)

// Failed renders the call as "-1 CODE (msg)". An empty msg omits the parentheses.
func Failed(code, msg string) CallOption {
	return func(c *callData) {
		c.ret = "-1"
		c.errCode = code
		c.errMsg = msg
	}
}

// Took sets the trailing <seconds> marker.
func Took(seconds float64) CallOption {
	return func(c *callData) {
		c.duration = fmt.Sprintf("%.6f", seconds)
	}
}

// NoDuration omits the trailing <seconds> marker.
func NoDuration() CallOption {
	return func(c *callData) {
		c.duration = ""
	}
}

// HexReturn renders the return value in hexadecimal.
func HexReturn(v uint64) CallOption {
	return func(c *callData) {
		c.ret = fmt.Sprintf("%#x", v)
	}
}

func (c callData) outcome() string {
	s := c.ret
	if c.errCode != "" {
		s += " " + c.errCode
		if c.errMsg != "" {
			s += " (" + c.errMsg + ")"
		}
	}
	if c.duration != "" {
		s += " <" + c.duration + ">"
	}
	return s
}
