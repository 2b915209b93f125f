package encoder

import (
	"bytes"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// progressWriter consumes ffmpeg's "-progress pipe:1" key=value stream and
// logs the encoded position, throttled to one line per interval.
type progressWriter struct {
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	buf     []byte
	lastLog time.Time
	logged  int
}

func newProgressWriter(logger *slog.Logger, interval time.Duration) *progressWriter {
	return &progressWriter{logger: logger, interval: interval, now: time.Now}
}

// Write never fails so ffmpeg is not blocked by logging.
func (w *progressWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.handleLine(strings.TrimSpace(string(w.buf[:i])))
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

func (w *progressWriter) handleLine(line string) {
	key, value, ok := strings.Cut(line, "=")
	if !ok {
		return
	}

	var position time.Duration
	switch key {
	case "out_time_us", "out_time_ms":
		// Both carry microseconds.
		us, err := strconv.ParseInt(value, 10, 64)
		if err != nil || us < 0 {
			return
		}
		position = time.Duration(us) * time.Microsecond
	case "out_time":
		d, ok := parseTimestamp(value)
		if !ok {
			return
		}
		position = d
	default:
		return
	}

	now := w.now()
	if w.logged > 0 && now.Sub(w.lastLog) < w.interval {
		return
	}
	w.lastLog = now
	w.logged++
	w.logger.Info("encode progress", "position", position.Truncate(time.Millisecond).String())
}
