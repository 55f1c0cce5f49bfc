package prompt

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// MaxAttempts is how many invalid answers are tolerated before the question
// is treated as answered "no"
const MaxAttempts = 10

// Prompter asks the operator a yes/no question
type Prompter interface {
	YesNo(question string) bool
}

// Terminal reads answers from in and writes questions to out
type Terminal struct {
	in  *bufio.Reader
	out io.Writer
}

func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{in: bufio.NewReader(in), out: out}
}

// YesNo asks until the answer is "y" or "n". End of input counts as "n".
func (t *Terminal) YesNo(question string) bool {
	for range MaxAttempts {
		fmt.Fprintf(t.out, "%s ", question)
		line, err := t.in.ReadString('\n')
		ans := strings.ToLower(strings.TrimSpace(line))
		switch ans {
		case "y":
			return true
		case "n":
			return false
		}
		if err != nil {
			return false
		}
		fmt.Fprintf(t.out, "%s is invalid.  Please try again.\n", ans)
	}
	return false
}

// Fixed always gives the same answer; used for unattended runs
type Fixed bool

func (f Fixed) YesNo(string) bool {
	return bool(f)
}
