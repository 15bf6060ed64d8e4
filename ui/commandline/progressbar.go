// Copyright 2023-2026 The Analyzer Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/analyzer-lab/analyzer/pkg/session"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/exp/constraints"
)

// ProgressbarStyle to use. Defaults to the ASCII version.
// Consider "progressbar.ThemeUnicode" for a prettier version.
// But it requires some of the graphical symbols to be supported.
var ProgressbarStyle = progressbar.ThemeASCII

// NumBatchesFn returns how many batches a pass is expected to have, or -1 if unknown.
type NumBatchesFn func(pass session.Pass) int

// progressBar displays the progress of the current pass of a session.
type progressBar struct {
	w          io.Writer
	termenv    *termenv.Output
	numBatches NumBatchesFn

	bar         *progressbar.ProgressBar
	pass        session.Pass
	epoch       int
	numExamples int
	lossSum     float64
}

// AttachProgressBar displays a progress bar on stderr for every pass of sess, with the running
// mean loss of the pass. numBatches may be nil, in which case a spinner is shown.
func AttachProgressBar(sess *session.Session, numBatches NumBatchesFn) {
	attachProgressBar(sess, os.Stderr, numBatches)
}

func attachProgressBar(sess *session.Session, w io.Writer, numBatches NumBatchesFn) *progressBar {
	pBar := &progressBar{
		w:          w,
		termenv:    termenv.NewOutput(w),
		numBatches: numBatches,
	}
	sess.OnPassStart(pBar.onStart)
	sess.OnBatch(pBar.onBatch)
	sess.OnPassEnd(pBar.onEnd)
	return pBar
}

func (pBar *progressBar) onStart(pass session.Pass, epoch int) error {
	pBar.pass, pBar.epoch = pass, epoch
	pBar.numExamples, pBar.lossSum = 0, 0
	total := -1
	if pBar.numBatches != nil {
		total = pBar.numBatches(pass)
	}
	pBar.termenv.HideCursor()
	pBar.bar = progressbar.NewOptions(total,
		progressbar.OptionSetDescription(pBar.description()),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("steps"),
		progressbar.OptionSetTheme(ProgressbarStyle),
		progressbar.OptionSetWriter(pBar.w),
	)
	return nil
}

func (pBar *progressBar) onBatch(_ session.Pass, batchSize int, loss float64) error {
	pBar.numExamples += batchSize
	pBar.lossSum += loss * float64(batchSize)
	pBar.bar.Describe(pBar.description())
	return pBar.bar.Add(1)
}

func (pBar *progressBar) onEnd(_ session.PassResult) error {
	err := pBar.bar.Finish()
	pBar.termenv.ShowCursor()
	_, _ = fmt.Fprintln(pBar.w)
	return err
}

func (pBar *progressBar) description() string {
	desc := fmt.Sprintf("[bold]%-10s[reset] epoch %d", pBar.pass, pBar.epoch)
	if pBar.numExamples > 0 {
		desc += fmt.Sprintf(", %s examples, loss=%.4f", humanizeInt(pBar.numExamples),
			pBar.lossSum/float64(pBar.numExamples))
	}
	return desc
}

// humanizeInt formats n with "_" separating groups of thousands, like Go number literals.
func humanizeInt[I constraints.Integer](n I) string {
	str := strconv.FormatInt(int64(n), 10)
	sign := ""
	if str[0] == '-' {
		sign, str = "-", str[1:]
	}
	result := make([]byte, 0, len(str)+len(str)/3)
	for ii := range len(str) {
		if ii > 0 && (len(str)-ii)%3 == 0 {
			result = append(result, '_')
		}
		result = append(result, str[ii])
	}
	return sign + string(result)
}
