package shell

import (
	"fmt"
	"strings"
)

// Shell tokenizes and dispatches one line at a time against a Kernel.
type Shell struct {
	k *Kernel
}

func NewShell(k *Kernel) *Shell {
	return &Shell{k: k}
}

// Dispatch tokenizes line and runs it through a fresh command tree,
// returning everything the command wrote to stdout (METRIC/[TRACE]
// lines, or JSON when --json is recognized).
func (s *Shell) Dispatch(line string) (string, error) {
	tokens, err := tokenize(line)
	if err != nil {
		return "", err
	}
	if len(tokens) == 0 {
		return "", nil
	}

	root := newRootCommand(s.k)
	var out strings.Builder
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(tokens)

	if err := root.Execute(); err != nil {
		return out.String(), err
	}
	return out.String(), nil
}

// tokenize splits line on whitespace, honoring double-quoted spans so
// prompts like `graphctl add-operator a --in "c1,c2"` split cleanly.
func tokenize(line string) ([]string, error) {
	var tokens []string
	var cur strings.Builder
	inQuotes := false
	hasCur := false

	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '"':
			inQuotes = !inQuotes
			hasCur = true
		case c == ' ' || c == '\t':
			if inQuotes {
				cur.WriteByte(c)
			} else if hasCur {
				tokens = append(tokens, cur.String())
				cur.Reset()
				hasCur = false
			}
		default:
			cur.WriteByte(c)
			hasCur = true
		}
	}
	if inQuotes {
		return nil, fmt.Errorf("shell: unterminated quoted string")
	}
	if hasCur {
		tokens = append(tokens, cur.String())
	}
	return tokens, nil
}
