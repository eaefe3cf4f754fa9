package bot

import (
	"strings"
	"unicode"
)

// tokenize splits a command line on whitespace. Single or double quotes group
// words and a backslash escapes the next character:
//
//	/addschedule 2024-03-11 20:30 "CH 1" 'Evening News'
//
// An unterminated quote runs to the end of the line.
func tokenize(s string) []string {
	var (
		out   []string
		buf   strings.Builder
		quote rune
		esc   bool
		open  bool // buf holds a token, possibly an empty quoted one
	)
	for _, r := range strings.TrimSpace(s) {
		switch {
		case esc:
			buf.WriteRune(r)
			esc = false
		case r == '\\':
			esc, open = true, true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				buf.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote, open = r, true
		case unicode.IsSpace(r):
			if open {
				out = append(out, buf.String())
				buf.Reset()
				open = false
			}
		default:
			buf.WriteRune(r)
			open = true
		}
	}
	if open {
		out = append(out, buf.String())
	}
	return out
}

// commandWord extracts "name" from "/name@botname".
func commandWord(tok string) (string, bool) {
	if !strings.HasPrefix(tok, "/") {
		return "", false
	}
	w := strings.TrimPrefix(tok, "/")
	if i := strings.IndexByte(w, '@'); i >= 0 {
		w = w[:i]
	}
	w = strings.ToLower(w)
	return w, w != ""
}

// splitFlags separates positionals from --key=value, --key value and --flag.
// A bare "--" ends flag parsing.
func splitFlags(args []string) (pos []string, flags map[string]string) {
	flags = map[string]string{}
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			pos = append(pos, args[i+1:]...)
			break
		}
		if !strings.HasPrefix(a, "--") || len(a) == 2 {
			pos = append(pos, a)
			continue
		}
		key := a[2:]
		if k, v, ok := strings.Cut(key, "="); ok {
			flags[k] = v
			continue
		}
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "--") {
			flags[key] = args[i+1]
			i++
			continue
		}
		flags[key] = "true"
	}
	return pos, flags
}
