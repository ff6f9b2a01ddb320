// Package protocol implements the line-oriented text wire format spoken
// between clients and the coordinator: one line, TYPE CMD [key=value ...].
package protocol

import (
	"strings"
)

// Type is the first token of a protocol line.
type Type int

const (
	// Unknown marks a line whose type token did not match a known Type.
	Unknown Type = iota
	REQ
	RESP
	EVT
	ERR
)

func (t Type) String() string {
	switch t {
	case REQ:
		return "REQ"
	case RESP:
		return "RESP"
	case EVT:
		return "EVT"
	case ERR:
		return "ERR"
	default:
		return "?"
	}
}

// Protocol caps. These are wire limits, not incidental buffer sizes.
const (
	MaxCmd = 31
	MaxKey = 31
	MaxVal = 127
	MaxKV  = 32
)

// Message is a parsed protocol line.
type Message struct {
	Type Type
	Cmd  string
	kv   []kv
}

type kv struct {
	key, val string
}

// Get returns the value of the first key-value pair matching key.
func (m Message) Get(key string) (string, bool) {
	for _, p := range m.kv {
		if p.key == key {
			return p.val, true
		}
	}
	return "", false
}

// GetOr returns Get's value or def if the key is absent.
func (m Message) GetOr(key, def string) string {
	if v, ok := m.Get(key); ok {
		return v
	}
	return def
}

// Parse parses one protocol line. It fails only if the type or command
// tokens are missing, or the type token does not match REQ/RESP/EVT/ERR.
// A line with only a type and a command, and no key=value pairs, is valid.
func Parse(line string) (Message, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return Message{}, false
	}

	var t Type
	switch fields[0] {
	case "REQ":
		t = REQ
	case "RESP":
		t = RESP
	case "EVT":
		t = EVT
	case "ERR":
		t = ERR
	default:
		return Message{}, false
	}

	m := Message{Type: t, Cmd: truncate(fields[1], MaxCmd)}

	for _, tok := range fields[2:] {
		if len(m.kv) >= MaxKV {
			break
		}
		eq := strings.IndexByte(tok, '=')
		if eq < 0 {
			continue
		}
		key := tok[:eq]
		val := tok[eq+1:]
		if len(key) == 0 || len(key) > MaxKey {
			continue
		}
		if len(val) > MaxVal {
			val = val[:MaxVal]
		}
		m.kv = append(m.kv, kv{key: key, val: val})
	}

	return m, true
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// FormatResp builds a "RESP cmd k=v ..." line from alternating key/value pairs.
func FormatResp(cmd string, pairs ...string) string {
	return format("RESP", cmd, pairs)
}

// FormatEvt builds an "EVT cmd k=v ..." line from alternating key/value pairs.
func FormatEvt(cmd string, pairs ...string) string {
	return format("EVT", cmd, pairs)
}

// FormatErr builds an "ERR cmd code=<code> msg=<msg>" line. cmd may be "?"
// when the failing command could not be determined (e.g. a framing error).
func FormatErr(cmd, code, msg string) string {
	return format("ERR", cmd, []string{"code", code, "msg", msg})
}

func format(typ, cmd string, pairs []string) string {
	var b strings.Builder
	b.WriteString(typ)
	b.WriteByte(' ')
	b.WriteString(cmd)
	for i := 0; i+1 < len(pairs); i += 2 {
		b.WriteByte(' ')
		b.WriteString(pairs[i])
		b.WriteByte('=')
		b.WriteString(pairs[i+1])
	}
	return b.String()
}

