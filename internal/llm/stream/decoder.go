package stream

import (
	"bytes"
	"strings"
	"time"

	"github.com/netoneko/meow/internal/llm"
	"github.com/netoneko/meow/internal/llm/providers/ollama"
	"github.com/netoneko/meow/internal/llm/providers/openai"
)

// lineDecoder accumulates raw body bytes, splits them into lines and decodes
// each line with the provider dialect.
type lineDecoder struct {
	decode  func(string) llm.Frame
	onDelta func(string)
	now     func() time.Time

	pending []byte
	text    strings.Builder
	bytes   int
	started time.Time
	ttft    time.Duration
	first   bool
	done    bool
}

func newLineDecoder(dialect llm.Dialect, started time.Time, now func() time.Time, onDelta func(string)) *lineDecoder {
	d := &lineDecoder{
		decode:  ollama.DecodeLine,
		onDelta: onDelta,
		now:     now,
		started: started,
	}
	if dialect == llm.DialectOpenAI {
		d.decode = openai.DecodeLine
	}
	return d
}

// feed appends a chunk and decodes every complete line in the buffer. It
// reports whether the dialect's completion signal was seen.
func (d *lineDecoder) feed(chunk []byte) (bool, error) {
	d.bytes += len(chunk)
	d.pending = append(d.pending, chunk...)
	for !d.done {
		i := bytes.IndexByte(d.pending, '\n')
		if i < 0 {
			break
		}
		line := string(d.pending[:i])
		d.pending = d.pending[i+1:]
		if err := d.line(line); err != nil {
			return false, err
		}
	}
	return d.done, nil
}

// finish decodes whatever is left after the transport ended.
func (d *lineDecoder) finish() (bool, error) {
	if !d.done && len(d.pending) > 0 {
		line := string(d.pending)
		d.pending = nil
		if err := d.line(line); err != nil {
			return false, err
		}
	}
	return d.done, nil
}

func (d *lineDecoder) line(line string) error {
	f := d.decode(line)
	if f.Err != "" {
		return llm.Errorf(llm.KindServerError, "stream", "server reported: %s", f.Err)
	}
	if f.Content != "" {
		if !d.first {
			d.first = true
			d.ttft = d.now().Sub(d.started)
		}
		d.text.WriteString(f.Content)
		if d.onDelta != nil {
			d.onDelta(f.Content)
		}
	}
	if f.Done {
		d.done = true
	}
	return nil
}

func (d *lineDecoder) outcome() llm.StreamOutcome {
	return llm.StreamOutcome{
		Complete: d.done,
		Text:     d.text.String(),
		Stats: llm.StreamStats{
			TimeToFirstToken: d.ttft,
			Duration:         d.now().Sub(d.started),
			Bytes:            d.bytes,
		},
	}
}
