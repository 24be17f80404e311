package repl

import (
	"bufio"
	"io"
	"strings"

	"github.com/chzyer/readline"
)

// LineReader yields one input line per call.
type LineReader interface {
	ReadLine(prompt string) (string, error)
}

type plainReader struct {
	in  *bufio.Reader
	out io.Writer
}

// NewLineReader reads lines from in and echoes prompts to out.
func NewLineReader(in io.Reader, out io.Writer) LineReader {
	return &plainReader{in: bufio.NewReader(in), out: out}
}

func (r *plainReader) ReadLine(prompt string) (string, error) {
	_, _ = io.WriteString(r.out, prompt)
	line, err := r.in.ReadString('\n')
	return strings.TrimRight(line, "\r\n"), err
}

// Terminal is an interactive LineReader with history.
type Terminal struct {
	rl *readline.Instance
}

// NewTerminal opens the controlling terminal. An empty historyFile disables history.
func NewTerminal(historyFile string) (*Terminal, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, err
	}
	return &Terminal{rl: rl}, nil
}

func (t *Terminal) ReadLine(p string) (string, error) {
	t.rl.SetPrompt(p)
	return t.rl.Readline()
}

func (t *Terminal) Close() error {
	return t.rl.Close()
}
