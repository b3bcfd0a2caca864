package main

// Fake Genie binary for engine tests. Without -p it behaves like genie-app
// (persistent, prompts on stdin); with -p like genie-t2t-run. Behaviour is
// selected by FAKE_GENIE_MODE and FAKE_GENIE_ONESHOT.

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	userHeader  = "<|start_header_id|>user<|end_header_id|>\n\n"
	eot         = "<|eot_id|>"
	replyHeader = "<|start_header_id|>assistant<|end_header_id|>"
)

func main() {
	var cfg, prompt string
	flag.StringVar(&cfg, "c", "", "config path")
	flag.StringVar(&prompt, "p", "", "prompt")
	flag.Parse()
	if cfg == "" {
		fmt.Fprintln(os.Stderr, "ERROR: missing -c")
		os.Exit(2)
	}
	if prompt != "" {
		oneShot(prompt)
		return
	}
	persistent()
}

func userText(envelope string) string {
	s := envelope
	if i := strings.Index(s, userHeader); i >= 0 {
		s = s[i+len(userHeader):]
	}
	if i := strings.Index(s, eot); i >= 0 {
		s = s[:i]
	}
	return s
}

func oneShot(prompt string) {
	text := userText(prompt)
	switch os.Getenv("FAKE_GENIE_ONESHOT") {
	case "diag":
		fmt.Fprintln(os.Stderr, "ERROR: failed to load model")
		os.Exit(2)
	case "empty":
		os.Exit(4)
	case "slow":
		fmt.Println("[BEGIN]: thinking")
		time.Sleep(30 * time.Second)
	default:
		fmt.Println("Using libGenie")
		fmt.Printf("[BEGIN]: one-shot %s[END]\n", text)
		fmt.Println("[KPIS]: done")
	}
}

func persistent() {
	mode := os.Getenv("FAKE_GENIE_MODE")
	out := bufio.NewWriter(os.Stdout)
	say := func(format string, args ...any) {
		fmt.Fprintf(out, format+"\n", args...)
		out.Flush()
	}
	say("Loading model")
	switch mode {
	case "fatal":
		say("FATAL: no HTP device")
		time.Sleep(30 * time.Second)
		return
	case "silent":
		time.Sleep(30 * time.Second)
		return
	case "exit":
		fmt.Fprintln(os.Stderr, "cannot open genie_config.json")
		os.Exit(1)
	}
	say("Allocated 512 MB")
	say(">>")

	in := bufio.NewScanner(os.Stdin)
	for n := 1; ; n++ {
		var b strings.Builder
		for in.Scan() {
			line := in.Text()
			b.WriteString(line)
			if strings.HasSuffix(line, replyHeader) {
				break
			}
			b.WriteString("\n")
		}
		if in.Err() != nil || b.Len() == 0 {
			return
		}
		text := userText(b.String())
		switch mode {
		case "die":
			fmt.Fprintln(os.Stderr, "segfault in backend")
			os.Exit(3)
		case "nobegin":
			say("garbage")
			say("[END]")
			continue
		case "midexit":
			say("[BEGIN]: partial")
			os.Exit(3)
		case "slow":
			if n == 1 {
				say("[BEGIN]: first")
				time.Sleep(500 * time.Millisecond)
				say("late [END]")
				continue
			}
		case "hold":
			say("[BEGIN]: thinking")
			time.Sleep(30 * time.Second)
			return
		}
		say("noise before reply")
		say("[BEGIN]: you said")
		say("%s [END] ignored", text)
	}
}
