// Copyright 2026 The Warden Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package review implements the interactive operator prompt used in
// review mode. Prompts go to the controlling terminal so they work
// even when the monitored program owns stdin and stdout.
package review

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/peg/warden/internal/classify"
	"github.com/peg/warden/internal/engine"
	"github.com/peg/warden/internal/policy"
)

var (
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	categoryStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	targetStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
	choiceStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// TTYPrompter asks the operator about a blocked operation on the
// controlling terminal and maps single-key answers onto review
// decisions. It is not safe for concurrent use; the engine serializes
// review escalations.
type TTYPrompter struct {
	in    io.Reader
	out   io.Writer
	close func() error
}

// NewTTYPrompter opens /dev/tty for prompting. When no controlling
// terminal is available it falls back to stdin and stderr, which keeps
// review usable under test harnesses and simple pipelines.
func NewTTYPrompter() *TTYPrompter {
	tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		return &TTYPrompter{in: os.Stdin, out: os.Stderr}
	}
	return &TTYPrompter{in: tty, out: tty, close: tty.Close}
}

// NewPrompter builds a prompter over explicit streams, for tests.
func NewPrompter(in io.Reader, out io.Writer) *TTYPrompter {
	return &TTYPrompter{in: in, out: out}
}

// Close releases the terminal if one was opened.
func (p *TTYPrompter) Close() error {
	if p.close != nil {
		return p.close()
	}
	return nil
}

// Review presents one operation and blocks for a decision. EOF on the
// input stream is an error: with no operator attached, review mode
// cannot make allow decisions.
func (p *TTYPrompter) Review(op classify.Operation) (engine.ReviewDecision, error) {
	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, headerStyle.Render("warden: operation requires approval"))
	fmt.Fprintf(p.out, "  %s %s\n",
		categoryStyle.Render(describeCategory(op)),
		targetStyle.Render(op.Target()),
	)
	if op.Event != "" {
		fmt.Fprintf(p.out, "  %s\n", choiceStyle.Render("raised by "+op.Event))
	}

	reader := bufio.NewReader(p.in)
	for {
		fmt.Fprintf(p.out, "%s ",
			choiceStyle.Render("[y] allow once  [r] allow and remember  [n] deny  [d] deny always:"))

		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF && line == "" {
				return 0, fmt.Errorf("review: prompt input closed")
			}
			if err != io.EOF {
				return 0, fmt.Errorf("review: read answer: %w", err)
			}
		}

		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return engine.ApproveOnce, nil
		case "r", "remember":
			return engine.ApproveRemember, nil
		case "n", "no", "":
			return engine.DenyOnce, nil
		case "d", "never":
			return engine.DenyAlways, nil
		}

		if err == io.EOF {
			return 0, fmt.Errorf("review: prompt input closed")
		}
	}
}

func describeCategory(op classify.Operation) string {
	switch op.Category {
	case policy.CategoryRead:
		return "read file"
	case policy.CategoryCreate:
		return "create file"
	case policy.CategoryModify:
		return "modify file"
	case policy.CategoryDelete:
		return "delete file"
	case policy.CategoryDomain:
		return "connect to domain"
	case policy.CategoryIP:
		return "connect to address"
	case policy.CategoryExecutable:
		return "launch executable"
	case policy.CategoryShell:
		return "run shell command"
	case policy.CategoryEnvRead:
		return "read environment variable"
	case policy.CategoryEnvWrite:
		return "write environment variable"
	case policy.CategoryNativeLib:
		return "load native library"
	default:
		return string(op.Category)
	}
}
