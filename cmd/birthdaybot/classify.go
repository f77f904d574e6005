package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/stellarlinkco/birthdaybot/internal/birthday"
	"github.com/stellarlinkco/birthdaybot/internal/gateway"
	"github.com/stellarlinkco/birthdaybot/internal/logging"
)

const replHelp = `Commands:
  <text>            classify text with the current context
  /context <text>   add a context line without classifying
  /clear            drop the context
  /generate [name]  generate and validate a reply
  /help             show this help
  exit              quit`

// runClassifyWithOptions classifies args as one message, or runs the REPL
// when args is empty.
func runClassifyWithOptions(ctx context.Context, opts CLIOptions, args []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(opts.stderr())
	if err != nil {
		return err
	}
	completer, err := opts.completer(cfg)
	if err != nil {
		return err
	}

	cls := birthday.NewLLMClassifier(completer, cfg.Models.Classify, logging.Named("classifier"))
	out := opts.stdout()

	if text := strings.TrimSpace(strings.Join(args, " ")); text != "" {
		printClassification(out, text, cls.Classify(ctx, text, nil), cfg.Birthday.ConfidenceThreshold)
		return nil
	}

	composer := gateway.NewComposer(cfg, completer)
	var history []string

	fmt.Fprintln(out, "birthdaybot classify (type /help for commands, 'exit' to quit)")
	scanner := bufio.NewScanner(opts.stdin())
	for {
		fmt.Fprint(out, "\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		cmd, rest, _ := strings.Cut(input, " ")
		rest = strings.TrimSpace(rest)

		switch cmd {
		case "exit", "quit":
			return nil
		case "/help":
			fmt.Fprintln(out, replHelp)
		case "/clear":
			history = nil
			fmt.Fprintln(out, "context cleared")
		case "/context":
			if rest == "" {
				for i, line := range history {
					fmt.Fprintf(out, "%2d. %s\n", i+1, line)
				}
				continue
			}
			history = appendHistory(history, rest, cfg.Birthday.ContextWindowSize)
			fmt.Fprintf(out, "context: %d lines\n", len(history))
		case "/generate":
			if err := generateReply(ctx, out, composer, rest); err != nil {
				fmt.Fprintf(opts.stderr(), "Error: %v\n", err)
			}
		default:
			res := cls.Classify(ctx, input, history)
			printClassification(out, input, res, cfg.Birthday.ConfidenceThreshold)
			history = appendHistory(history, input, cfg.Birthday.ContextWindowSize)
		}
	}
	return scanner.Err()
}

func appendHistory(history []string, line string, size int) []string {
	history = append(history, line)
	if size > 0 && len(history) > size {
		history = history[len(history)-size:]
	}
	return history
}

func printClassification(w io.Writer, text string, res birthday.ClassificationResult, threshold float64) {
	fmt.Fprintf(w, "prefilter:   %v\n", birthday.MightBeRelevant(text))
	fmt.Fprintf(w, "birthday:    %v (initial wish: %v)\n", res.IsBirthday, res.IsInitialWish)
	fmt.Fprintf(w, "name:        %s", valueOr(res.PersonName, "-"))
	if res.PersonName != "" && !birthday.IsUsableName(birthday.CleanName(res.PersonName)) {
		fmt.Fprint(w, " (not usable)")
	}
	fmt.Fprintln(w)
	if fallback := birthday.ExtractCandidateName(text); fallback != "" {
		fmt.Fprintf(w, "extracted:   %s\n", fallback)
	}
	verdict := "below threshold"
	if res.Confidence >= threshold {
		verdict = "ok"
	}
	fmt.Fprintf(w, "confidence:  %.2f (%s)\n", res.Confidence, verdict)
	fmt.Fprintf(w, "marker:      %v\n", birthday.HasAdditionalBirthdayMarker(text))
	if res.Reasoning != "" {
		fmt.Fprintf(w, "reasoning:   %s\n", res.Reasoning)
	}
}

func generateReply(ctx context.Context, w io.Writer, composer *birthday.Composer, name string) error {
	reply, err := composer.Compose(ctx, name)
	if err != nil {
		var exhausted *birthday.ValidationExhaustedError
		if errors.As(err, &exhausted) {
			return fmt.Errorf("no valid reply after %d attempts", exhausted.Attempts)
		}
		return err
	}
	fmt.Fprintf(w, "%s\n", reply.Text)
	fmt.Fprintf(w, "-- language=%s display=%s\n", reply.Language, valueOr(reply.DisplayName, "(generic)"))
	return nil
}
