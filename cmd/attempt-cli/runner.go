package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/stemsi/exstem-attempt/internal/attempt"
)

// eventFeed carries orchestrator events to the runner. Progress events are
// best effort; expiry and submission each happen once per attempt and have
// reserved room, so the runner always learns that the attempt ended.
type eventFeed struct {
	events   chan attempt.Event
	terminal chan attempt.Event
}

func newEventFeed() *eventFeed {
	return &eventFeed{
		events:   make(chan attempt.Event, 32),
		terminal: make(chan attempt.Event, 2),
	}
}

func (f *eventFeed) observe(ev attempt.Event) {
	switch ev.Kind {
	case attempt.EventExpired, attempt.EventSubmitted:
		f.terminal <- ev
	default:
		select {
		case f.events <- ev:
		default:
		}
	}
}

// runner is the line-based attempt UI. It reads commands from in and renders
// to out.
type runner struct {
	orch *attempt.Orchestrator
	in   *bufio.Scanner
	out  io.Writer
	feed *eventFeed
}

const help = `Perintah:
  n        soal berikutnya      p        soal sebelumnya
  g <no>   ke soal nomor <no>   a <huruf> pilih jawaban (A, B, ...)
  x        hapus jawaban        f        tandai / batal tandai
  s        kumpulkan            q        keluar (jawaban tetap tersimpan)`

func newRunner(orch *attempt.Orchestrator, in io.Reader, out io.Writer, feed *eventFeed) *runner {
	return &runner{orch: orch, in: bufio.NewScanner(in), out: out, feed: feed}
}

// run drives the attempt until it is submitted, the user quits or input ends.
func (r *runner) run(ctx context.Context) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		for r.in.Scan() {
			lines <- r.in.Text()
		}
	}()

	fmt.Fprintln(r.out, help)
	r.render()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev := <-r.feed.terminal:
			if r.onEvent(ev) {
				return nil
			}

		case ev := <-r.feed.events:
			if r.onEvent(ev) {
				return nil
			}

		case line, ok := <-lines:
			if !ok {
				return nil
			}
			done, err := r.exec(ctx, strings.TrimSpace(line), lines)
			if err != nil {
				fmt.Fprintf(r.out, "! %v\n", err)
			}
			if done || r.orch.State() == attempt.StateSubmitted {
				return nil
			}
			r.render()
		}
	}
}

// onEvent reports whether the attempt is over.
func (r *runner) onEvent(ev attempt.Event) bool {
	switch ev.Kind {
	case attempt.EventExpired:
		fmt.Fprintln(r.out, "\nWaktu habis. Jawaban dikumpulkan otomatis...")
	case attempt.EventPersistFailed:
		fmt.Fprintf(r.out, "! jawaban belum tersimpan, akan dicoba lagi (%v)\n", ev.Err)
	case attempt.EventSubmitFailed:
		fmt.Fprintf(r.out, "! gagal mengumpulkan: %v\n", ev.Err)
	case attempt.EventSubmitted:
		r.printOutcome(ev.Outcome)
		return true
	}
	return false
}

func (r *runner) exec(ctx context.Context, line string, lines <-chan string) (bool, error) {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	nav := r.orch.Navigation()

	switch strings.ToLower(cmd) {
	case "":
		return false, nil
	case "n":
		nav.Next()
	case "p":
		nav.Prev()
	case "g":
		n, err := strconv.Atoi(arg)
		if err != nil {
			return false, fmt.Errorf("nomor soal tidak valid: %q", arg)
		}
		nav.GoTo(n - 1)
	case "a":
		q, ok := r.orch.CurrentQuestion()
		if !ok {
			return false, nil
		}
		pos, err := choicePosition(arg)
		if err != nil {
			return false, err
		}
		return false, r.orch.SelectDisplayed(q.ID, pos)
	case "x":
		if q, ok := r.orch.CurrentQuestion(); ok {
			return false, r.orch.SetSelection(q.ID, nil)
		}
	case "f":
		if q, ok := r.orch.CurrentQuestion(); ok {
			nav.ToggleFlag(q.ID)
		}
	case "s":
		return r.confirmSubmit(ctx, lines)
	case "q":
		return true, nil
	case "h", "?":
		fmt.Fprintln(r.out, help)
	default:
		return false, fmt.Errorf("perintah tidak dikenal: %q", cmd)
	}
	return false, nil
}

func (r *runner) confirmSubmit(ctx context.Context, lines <-chan string) (bool, error) {
	sum := r.orch.Summary()
	fmt.Fprintf(r.out, "Terjawab %d dari %d soal, %d belum dijawab, %d ditandai.\n",
		sum.Answered, sum.Total, sum.Unanswered, sum.Flagged)
	fmt.Fprint(r.out, "Kumpulkan sekarang? (y/n) ")

	answer, ok := <-lines
	if !ok || !strings.EqualFold(strings.TrimSpace(answer), "y") {
		return false, nil
	}

	err := r.orch.HandleSubmit(ctx)
	var subErr *attempt.SubmitError
	if errors.As(err, &subErr) {
		return false, fmt.Errorf("gagal mengumpulkan, silakan coba lagi: %s", subErr.Reason)
	}
	if err != nil {
		return false, err
	}
	if r.orch.State() == attempt.StateSubmitted {
		r.printOutcome(r.orch.Outcome())
		return true, nil
	}
	return false, nil
}

func (r *runner) render() {
	q, ok := r.orch.CurrentQuestion()
	if !ok {
		fmt.Fprintln(r.out, "(tidak ada soal)")
		return
	}
	nav := r.orch.Navigation()
	timer := r.orch.Timer()

	flag := ""
	if nav.IsFlagged(q.ID) {
		flag = " [ditandai]"
	}
	fmt.Fprintf(r.out, "\n[%s%s] Soal %d/%d%s  (terjawab %d)\n%s\n",
		timer.Format(), phaseMark(timer.Phase()), nav.Current()+1, nav.Count(), flag,
		r.orch.AnsweredCount(), q.Content)

	perm, _ := r.orch.ShuffleMap(q.ID)
	selected, hasSel := r.orch.DisplayedAnswer(q.ID)
	for pos, canonical := range perm {
		mark := " "
		if hasSel && pos == selected {
			mark = "*"
		}
		fmt.Fprintf(r.out, " %s %c. %s\n", mark, 'A'+pos, q.Choices[canonical])
	}
	fmt.Fprint(r.out, "> ")
}

func (r *runner) printOutcome(out *attempt.SubmitOutcome) {
	if out != nil && out.Score != nil {
		fmt.Fprintf(r.out, "\nUjian dikumpulkan. Nilai: %.1f\n", *out.Score)
		return
	}
	fmt.Fprintln(r.out, "\nUjian dikumpulkan.")
}

func phaseMark(p attempt.Phase) string {
	switch p {
	case attempt.PhaseCritical:
		return " !!"
	case attempt.PhaseWarning:
		return " !"
	default:
		return ""
	}
}

// choicePosition parses "A".."Z" or a 1-based number into a display position.
func choicePosition(arg string) (int, error) {
	if n, err := strconv.Atoi(arg); err == nil {
		return n - 1, nil
	}
	if len(arg) == 1 {
		c := strings.ToUpper(arg)[0]
		if c >= 'A' && c <= 'Z' {
			return int(c - 'A'), nil
		}
	}
	return 0, fmt.Errorf("pilihan tidak valid: %q", arg)
}
