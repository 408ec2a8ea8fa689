package console

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrinterPlainOutput(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf, true)

	p.Info("start", "0001-auth.md | implement attempt %d/%d", 2, 10)
	p.Warn("wait", "backing off %.1fs before retry", 4.0)
	p.Success("done", "0001-auth.md (verified commit: %s)", "49cd4de0")
	p.Muted("skip", "already done: %s", "0002-webhooks.md")
	p.Error("failed", "max attempts exceeded for 0003-invoices.md")
	p.Println("")
	p.Println("=== Summary ===")

	want := "[start] 0001-auth.md | implement attempt 2/10\n" +
		"[wait] backing off 4.0s before retry\n" +
		"[done] 0001-auth.md (verified commit: 49cd4de0)\n" +
		"[skip] already done: 0002-webhooks.md\n" +
		"[failed] max attempts exceeded for 0003-invoices.md\n" +
		"\n" +
		"=== Summary ===\n"
	assert.Equal(t, want, buf.String())
}

func TestPrinterLabelsDoNotLeakFormatVerbs(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf, true)

	p.Progress("candidate", "%s -> %s", "0001-auth.md", "49cd4de0")
	assert.Equal(t, "[candidate] 0001-auth.md -> 49cd4de0\n", buf.String())
}
