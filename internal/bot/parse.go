package bot

import (
	"math/rand/v2"
	"strings"
	"sync/atomic"
	"time"
)

var ridSeq atomic.Uint64

// newReqID returns a short request id: base36 time, sequence and two random
// chars.
func newReqID() string {
	n := ridSeq.Add(1)
	return base36(time.Now().UnixNano()) + "-" + base36(int64(n)) + randSuffix(2)
}

func randSuffix(n int) string {
	const alpha = "abcdefghijklmnopqrstuvwxyz0123456789"
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteByte(alpha[rand.IntN(len(alpha))])
	}
	return b.String()
}

func base36(v int64) string {
	const chars = "0123456789abcdefghijklmnopqrstuvwxyz"
	if v < 0 {
		v = -v
	}
	if v == 0 {
		return "0"
	}
	var out [32]byte
	i := len(out)
	for v > 0 {
		i--
		out[i] = chars[v%36]
		v /= 36
	}
	return string(out[i:])
}

// tokenize splits command text into tokens. Single or double quotes group
// words and a backslash escapes the next byte.
//
//	/send user 62811 "hello there" --duration=60
func tokenize(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var (
		out    []string
		buf    strings.Builder
		inQ    bool
		qChar  byte
		esc    bool
		quoted bool
	)
	flush := func() {
		if buf.Len() > 0 || quoted {
			out = append(out, buf.String())
			buf.Reset()
		}
		quoted = false
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if esc {
			buf.WriteByte(ch)
			esc = false
			continue
		}
		if ch == '\\' {
			esc = true
			continue
		}
		if inQ {
			if ch == qChar {
				inQ = false
				continue
			}
			buf.WriteByte(ch)
			continue
		}
		switch ch {
		case '"', '\'':
			inQ = true
			quoted = true
			qChar = ch
		case ' ', '\t', '\n', '\r':
			flush()
		default:
			buf.WriteByte(ch)
		}
	}
	flush()
	return out
}

// Args is a parsed argument list.
type Args struct {
	Pos   []string
	Flags map[string]string
	Bools map[string]bool
}

// Flag returns the value of --key, or "" when absent.
func (a Args) Flag(key string) string { return a.Flags[key] }

// Has reports whether --key was given in either form.
func (a Args) Has(key string) bool {
	if a.Bools[key] {
		return true
	}
	_, ok := a.Flags[key]
	return ok
}

// parseArgs splits raw args into positionals and flags.
//
// Supported:
//
//	--k=v, --k v, --flag
//	-k=v, -k v, -abc (bool flags a,b,c)
//	--  (everything after is positional)
//
// Keys listed in boolKeys never consume the following token, so
// "--forward hello" keeps "hello" positional.
func parseArgs(args []string, boolKeys ...string) Args {
	isBool := make(map[string]bool, len(boolKeys))
	for _, k := range boolKeys {
		isBool[k] = true
	}
	a := Args{Flags: map[string]string{}, Bools: map[string]bool{}}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			a.Pos = append(a.Pos, args[i+1:]...)
			break
		}
		if strings.HasPrefix(arg, "--") && len(arg) > 2 {
			key := strings.TrimPrefix(arg, "--")
			if eq := strings.IndexByte(key, '='); eq >= 0 {
				a.Flags[key[:eq]] = key[eq+1:]
				continue
			}
			if !isBool[key] && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				a.Flags[key] = args[i+1]
				i++
				continue
			}
			a.Bools[key] = true
			continue
		}
		if strings.HasPrefix(arg, "-") && len(arg) > 1 && !isNumber(arg[1:]) {
			key := strings.TrimPrefix(arg, "-")
			if eq := strings.IndexByte(key, '='); eq >= 0 {
				a.Flags[key[:eq]] = key[eq+1:]
				continue
			}
			if len(key) == 1 {
				if !isBool[key] && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
					a.Flags[key] = args[i+1]
					i++
					continue
				}
				a.Bools[key] = true
				continue
			}
			for j := 0; j < len(key); j++ {
				a.Bools[string(key[j])] = true
			}
			continue
		}
		a.Pos = append(a.Pos, arg)
	}
	return a
}

func isNumber(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if (s[i] < '0' || s[i] > '9') && s[i] != '.' {
			return false
		}
	}
	return true
}

// commandWord returns the command name of text without the leading slash
// and any @botname suffix, or "" when text is not a command.
func commandWord(token string) string {
	if !strings.HasPrefix(token, "/") {
		return ""
	}
	word := strings.TrimPrefix(token, "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	return strings.ToLower(word)
}
