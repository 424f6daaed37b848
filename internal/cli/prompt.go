package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/g960059/brigadeboard/internal/model"
)

// linePrompter asks questions on the terminal, one line per answer. End of
// input counts as a dismissal.
type linePrompter struct {
	in        *bufio.Reader
	out       io.Writer
	assumeYes bool
}

func newLinePrompter(in *bufio.Reader, out io.Writer, assumeYes bool) *linePrompter {
	return &linePrompter{in: in, out: out, assumeYes: assumeYes}
}

func (p *linePrompter) readLine() (string, bool) {
	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		return "", false
	}
	return strings.TrimSpace(line), true
}

func (p *linePrompter) Confirm(_ context.Context, message string) bool {
	if p.assumeYes {
		return true
	}
	_, _ = fmt.Fprintf(p.out, "%s [y/N]: ", message)
	answer, ok := p.readLine()
	if !ok {
		return false
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

func (p *linePrompter) ChooseDisposition(_ context.Context, set model.DispositionSet, message string) (model.DispositionCode, bool, bool) {
	if message != "" {
		_, _ = fmt.Fprintln(p.out, message)
	}
	codes := make([]string, 0, len(set.Codes()))
	for _, c := range set.Codes() {
		codes = append(codes, string(c))
	}
	_, _ = fmt.Fprintf(p.out, "Disposition (%s) or HOLD: ", strings.Join(codes, ", "))
	answer, ok := p.readLine()
	if !ok || answer == "" {
		return "", false, false
	}
	switch strings.ToUpper(answer) {
	case "H", "HOLD":
		return "", true, true
	}
	code, known := set.Normalize(answer)
	if !known {
		_, _ = fmt.Fprintf(p.out, "unknown disposition %q\n", answer)
		return "", false, false
	}
	return code, false, true
}

func (p *linePrompter) PromptReason(_ context.Context, message string) (string, bool) {
	_, _ = fmt.Fprintf(p.out, "%s: ", message)
	answer, ok := p.readLine()
	if !ok || answer == "" {
		return "", false
	}
	return answer, true
}

func (p *linePrompter) ChooseUnit(_ context.Context, message string, candidates []string) (string, bool) {
	_, _ = fmt.Fprintln(p.out, message)
	for i, c := range candidates {
		_, _ = fmt.Fprintf(p.out, "  %d) %s\n", i+1, c)
	}
	_, _ = fmt.Fprint(p.out, "Unit: ")
	answer, ok := p.readLine()
	if !ok || answer == "" {
		return "", false
	}
	if n, err := strconv.Atoi(answer); err == nil && n >= 1 && n <= len(candidates) {
		return candidates[n-1], true
	}
	for _, c := range candidates {
		if strings.EqualFold(c, answer) {
			return c, true
		}
	}
	return "", false
}

// dispositionNotice tells the operator the incident now needs closing.
type dispositionNotice struct {
	out io.Writer
}

func (d dispositionNotice) OpenIncidentDisposition(_ context.Context, incidentID int64) {
	_, _ = fmt.Fprintf(d.out, "incident %d has no units left; close it with: boardsync close %d --disposition <code>\n", incidentID, incidentID)
}

type bell struct {
	out io.Writer
}

func (b bell) Play(_ context.Context, sound string) error {
	_, err := fmt.Fprint(b.out, "\a")
	return err
}

type incidentOpener struct {
	out io.Writer
}

func (o incidentOpener) OpenIncident(_ context.Context, incidentID int64) {
	_, _ = fmt.Fprintf(o.out, "open incident %d\n", incidentID)
}
