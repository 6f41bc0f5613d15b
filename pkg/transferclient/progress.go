package transferclient

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

const (
	progressBarWidth     = 32
	progressRenderPeriod = 120 * time.Millisecond
)

// progressBar рисует ASCII-индикатор загрузки файла; чанки идут параллельно,
// поэтому счётчик общий и защищён мьютексом.
type progressBar struct {
	out           io.Writer
	prefix        string
	total         int64
	current       int64
	lastRender    time.Time
	lastLineWidth int
	finished      bool
	mu            sync.Mutex
}

// newProgressBar возвращает nil, если вывод не задан; методы nil-бара ничего не делают.
func newProgressBar(out io.Writer, prefix string, total int64) *progressBar {
	if out == nil {
		return nil
	}
	return &progressBar{
		out:    out,
		prefix: prefix,
		total:  total,
	}
}

func (p *progressBar) AddBytes(n int64) {
	if p == nil || n <= 0 {
		return
	}
	p.mu.Lock()
	if p.finished {
		p.mu.Unlock()
		return
	}
	p.current += n
	p.mu.Unlock()
	p.render(false)
}

func (p *progressBar) render(force bool) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finished {
		return
	}
	now := time.Now()
	if !force && now.Sub(p.lastRender) < progressRenderPeriod {
		return
	}
	p.lastRender = now
	p.writeLocked(p.lineLocked(), "")
}

func (p *progressBar) writeLocked(line, tail string) {
	width := len(line)
	padding := ""
	if p.lastLineWidth > width {
		padding = strings.Repeat(" ", p.lastLineWidth-width)
	}
	p.lastLineWidth = width
	fmt.Fprintf(p.out, "\r%s%s%s", line, padding, tail)
}

func (p *progressBar) lineLocked() string {
	var b strings.Builder
	b.WriteString(p.prefix)
	b.WriteByte(' ')

	if p.total <= 0 {
		b.WriteString(humanBytes(p.current))
		b.WriteString(" sent")
		return b.String()
	}

	ratio := min(float64(p.current)/float64(p.total), 1)
	filled := min(int(ratio*progressBarWidth+0.5), progressBarWidth)
	b.WriteByte('[')
	b.WriteString(strings.Repeat("=", filled))
	b.WriteString(strings.Repeat(" ", progressBarWidth-filled))
	fmt.Fprintf(&b, "] %3d%% %s/%s", int(ratio*100+0.5), humanBytes(p.current), humanBytes(p.total))
	return b.String()
}

// Finish завершает строку; err != nil помечает загрузку как неудачную.
func (p *progressBar) Finish(err error) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finished {
		return
	}
	p.finished = true

	mark := " ok"
	if err != nil {
		mark = fmt.Sprintf(" failed: %v", err)
	}
	p.writeLocked(p.lineLocked()+mark, "\n")
}

func humanBytes(v int64) string {
	units := []string{"B", "KB", "MB", "GB", "TB", "PB"}
	value := float64(v)
	unit := 0
	for value >= 1024 && unit < len(units)-1 {
		value /= 1024
		unit++
	}
	if unit == 0 {
		return fmt.Sprintf("%d %s", v, units[unit])
	}
	return fmt.Sprintf("%.1f %s", value, units[unit])
}
