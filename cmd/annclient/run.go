/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v7"
	"github.com/vbauerster/mpb/v7/decor"

	"github.com/Juice-Labs/annserver/pkg/infcom"
)

var (
	runInput      string
	runOutput     string
	runDevices    int32
	runTopK       int
	runNoProgress bool
)

var runCmd = &cobra.Command{
	Use:   "run MODEL DIRECTORY",
	Short: "Classifies every image of a directory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		input, err := parseDims(runInput)
		if err != nil {
			return err
		}
		output, err := parseDims(runOutput)
		if err != nil {
			return err
		}

		source, err := newDirectorySource(args[1])
		if err != nil {
			return err
		}

		config := infcom.RunConfig{
			Model:   args[0],
			Devices: runDevices,
			Input:   input,
			Output:  output,
		}
		if runTopK > 0 {
			config.Options = append(config.Options, fmt.Sprintf("topk=%d", runTopK))
		}

		client, err := dial(cmd)
		if err != nil {
			return err
		}
		defer client.Close()

		progressOut := io.Writer(os.Stderr)
		if runNoProgress {
			progressOut = io.Discard
		}

		config.Progress = func(percent int32, text string) {
			fmt.Fprintf(progressOut, "initializing %d%% %s\n", percent, text)
		}

		// The bars start once initialization has been reported.
		bars := newRunBars(progressOut, int64(source.Len()))
		config.Sent = bars.sentImages

		out := cmd.OutOrStdout()
		last := time.Now()
		err = client.Run(config, source, func(result infcom.Result) {
			bars.result(time.Since(last))
			last = time.Now()
			fmt.Fprintln(out, formatResult(source.Path(result.Tag), result))
		})

		bars.wait()

		return err
	},
}

type runBars struct {
	out   io.Writer
	total int64

	progress *mpb.Progress
	sent     *mpb.Bar
	received *mpb.Bar
}

func newRunBars(out io.Writer, total int64) *runBars {
	return &runBars{
		out:   out,
		total: total,
	}
}

func (bars *runBars) start() {
	if bars.progress != nil {
		return
	}

	bars.progress = mpb.New(
		mpb.WithOutput(bars.out),
		mpb.WithWidth(60),
		mpb.WithRefreshRate(180*time.Millisecond),
	)

	bars.sent = bars.progress.AddBar(bars.total,
		mpb.PrependDecorators(
			decor.Name("sent", decor.WC{W: 10, C: decor.DidentRight}),
			decor.CountersNoUnit("%d / %d"),
		),
		mpb.AppendDecorators(decor.Percentage()),
	)
	bars.received = bars.progress.AddBar(bars.total,
		mpb.PrependDecorators(
			decor.Name("results", decor.WC{W: 10, C: decor.DidentRight}),
			decor.CountersNoUnit("%d / %d"),
		),
		mpb.AppendDecorators(
			decor.EwmaETA(decor.ET_STYLE_GO, 90),
			decor.Name(" ] "),
			decor.AverageSpeed(0, "%.1f/s"),
		),
	)
}

func (bars *runBars) sentImages(count int) {
	bars.start()
	bars.sent.IncrBy(count)
}

// result counts one result, elapsed feeds the ETA average.
func (bars *runBars) result(elapsed time.Duration) {
	bars.start()
	bars.received.Increment()
	bars.received.DecoratorEwmaUpdate(elapsed)
}

// wait stops the bars. Bars left incomplete would keep Wait blocked.
func (bars *runBars) wait() {
	if bars.progress == nil {
		return
	}

	bars.sent.Abort(false)
	bars.received.Abort(false)
	bars.progress.Wait()
}

func formatResult(path string, result infcom.Result) string {
	if len(result.Labels) == 0 {
		return fmt.Sprintf("%s,%d", path, result.Label)
	}

	fields := []string{path}
	for k := range result.Labels {
		fields = append(fields, fmt.Sprintf("%d,%.4f", result.Labels[k], result.Probabilities[k]))
	}
	return strings.Join(fields, ",")
}

func init() {
	flags := runCmd.Flags()
	flags.StringVar(&runInput, "input", "", "Input dims WxHxC, empty uses the model's")
	flags.StringVar(&runOutput, "output", "", "Output dims WxHxC, empty uses the model's")
	flags.Int32Var(&runDevices, "devices", 1, "Devices to lease for the session")
	flags.IntVar(&runTopK, "topk", 0, fmt.Sprintf("Reports the best K labels, 1..%d", infcom.MaxTopK))
	flags.BoolVar(&runNoProgress, "no-progress", false, "Hides the progress bars")
}
