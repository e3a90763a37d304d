package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ent0n29/vtutor/internal/observability"
)

var defaultBenchUtterances = []string{
	"Сәлеметсіз бе!",
	"Бүгін ауа райы жақсы.",
	"Сабақты бастайық.",
	"Рахмет, сау болыңыз.",
}

type benchOptions struct {
	baseURL        string
	turns          int
	texts          string
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	verbose        bool
}

// newBenchCmd replays utterances against a running server and prints the
// server's stage latencies.
func newBenchCmd() *cobra.Command {
	opts := &benchOptions{}
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Replay utterances against a running server and report latency",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			texts, err := opts.validate()
			if err != nil {
				return err
			}
			return runBench(cmd.Context(), cmd.OutOrStdout(), opts, texts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.baseURL, "base-url", "http://127.0.0.1:8080", "vtutor base URL")
	f.IntVar(&opts.turns, "turns", 4, "number of utterances to replay")
	f.StringVar(&opts.texts, "texts", "", "utterances separated by '|' (optional)")
	f.DurationVar(&opts.interTurnDelay, "inter-turn", 200*time.Millisecond, "delay between utterances")
	f.DurationVar(&opts.turnTimeout, "turn-timeout", 60*time.Second, "timeout per utterance")
	f.BoolVar(&opts.verbose, "verbose", true, "print replay progress")
	return cmd
}

func (o *benchOptions) validate() ([]string, error) {
	o.baseURL = strings.TrimRight(strings.TrimSpace(o.baseURL), "/")
	if o.baseURL == "" {
		return nil, fmt.Errorf("base-url is required")
	}
	if o.turns <= 0 {
		return nil, fmt.Errorf("turns must be > 0")
	}
	if o.turnTimeout < time.Second {
		o.turnTimeout = time.Second
	}
	if strings.TrimSpace(o.texts) == "" {
		return append([]string(nil), defaultBenchUtterances...), nil
	}
	var texts []string
	for _, part := range strings.Split(o.texts, "|") {
		if t := strings.TrimSpace(part); t != "" {
			texts = append(texts, t)
		}
	}
	if len(texts) == 0 {
		return nil, fmt.Errorf("texts produced no non-empty utterances")
	}
	return texts, nil
}

func runBench(ctx context.Context, out io.Writer, opts *benchOptions, texts []string) error {
	client := &http.Client{Timeout: opts.turnTimeout + 5*time.Second}
	for i := 0; i < opts.turns; i++ {
		text := texts[i%len(texts)]
		start := time.Now()
		if err := benchSpeak(ctx, client, opts, text); err != nil {
			return fmt.Errorf("turn %d: %w", i+1, err)
		}
		if opts.verbose {
			fmt.Fprintf(out, "bench: turn %d/%d %q took %s\n", i+1, opts.turns, text, time.Since(start).Round(time.Millisecond))
		}
		if opts.interTurnDelay > 0 && i < opts.turns-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(opts.interTurnDelay):
			}
		}
	}

	snap, err := fetchLatency(ctx, client, opts.baseURL)
	if err != nil {
		return fmt.Errorf("fetch latency: %w", err)
	}
	writeStages(out, snap)
	return nil
}

func benchSpeak(ctx context.Context, client *http.Client, opts *benchOptions, text string) error {
	ctx, cancel := context.WithTimeout(ctx, opts.turnTimeout)
	defer cancel()
	payload, err := json.Marshal(map[string]any{"text": text, "wait": true})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, opts.baseURL+"/v1/speak", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func fetchLatency(ctx context.Context, client *http.Client, baseURL string) (observability.StageSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/perf/latency", nil)
	if err != nil {
		return observability.StageSnapshot{}, err
	}
	res, err := client.Do(req)
	if err != nil {
		return observability.StageSnapshot{}, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return observability.StageSnapshot{}, fmt.Errorf("HTTP %d", res.StatusCode)
	}
	var snap observability.StageSnapshot
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&snap); err != nil {
		return observability.StageSnapshot{}, err
	}
	return snap, nil
}

func writeStages(out io.Writer, snap observability.StageSnapshot) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STAGE\tSAMPLES\tP50_MS\tP95_MS\tP99_MS\tTARGET_P95_MS")
	for _, s := range snap.Stages {
		target := "-"
		if s.TargetP95MS > 0 {
			target = fmt.Sprintf("%g", s.TargetP95MS)
		}
		fmt.Fprintf(tw, "%s\t%d\t%g\t%g\t%g\t%s\n", s.Stage, s.Samples, s.P50MS, s.P95MS, s.P99MS, target)
	}
	_ = tw.Flush()
	for _, ind := range snap.Indicators {
		fmt.Fprintf(out, "indicator %s: %d\n", ind.Name, ind.Count)
	}
}
