package spawn

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildFor(t *testing.T) {
	t.Run("python script gets an interpreter", func(t *testing.T) {
		inv := buildFor("linux", "/opt/sqlmap/sqlmap.py", []string{"-u", "http://x"})
		assert.Equal(t, "python3", inv.Name)
		assert.Equal(t, []string{"/opt/sqlmap/sqlmap.py", "-u", "http://x"}, inv.Args)
	})

	t.Run("python script on windows uses python", func(t *testing.T) {
		inv := buildFor("windows", `C:\tools\sqlmap.PY`, nil)
		assert.Equal(t, "python", inv.Name)
	})

	t.Run("bare name on windows goes through cmd", func(t *testing.T) {
		inv := buildFor("windows", "dalfox", []string{"version"})
		assert.Equal(t, "cmd", inv.Name)
		assert.Equal(t, []string{"/C", "dalfox", "version"}, inv.Args)
	})

	t.Run("bare name on linux runs directly", func(t *testing.T) {
		inv := buildFor("linux", "dalfox", []string{"version"})
		assert.Equal(t, "dalfox", inv.Name)
		assert.Equal(t, []string{"version"}, inv.Args)
	})

	t.Run("explicit path runs directly on windows", func(t *testing.T) {
		inv := buildFor("windows", `C:\tools\dalfox.exe`, nil)
		assert.Equal(t, `C:\tools\dalfox.exe`, inv.Name)
	})
}

func TestCommandCancelTerminatesGracefully(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs sh signal handling")
	}

	marker := filepath.Join(t.TempDir(), "term")
	inv := Invocation{Name: "sh", Args: []string{"-c",
		"trap 'touch " + marker + "; exit 0' TERM; while :; do sleep 0.05; done"}}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := inv.Command(ctx)
	assert.Equal(t, KillGrace, cmd.WaitDelay)
	require.NoError(t, cmd.Start())

	time.Sleep(100 * time.Millisecond)
	cancel()
	_ = cmd.Wait()

	// The trap only fires on SIGTERM; a straight SIGKILL leaves no marker.
	assert.FileExists(t, marker)
}

func TestFallbackFor(t *testing.T) {
	t.Run("quotes arguments with shell metacharacters", func(t *testing.T) {
		inv := fallbackFor("linux", "sqlmap", []string{"-u", "http://x/?id=1&cat=2"})
		assert.Equal(t, "sh", inv.Name)
		assert.Equal(t, []string{"-c", "sqlmap -u 'http://x/?id=1&cat=2'"}, inv.Args)
	})

	t.Run("escapes embedded single quotes", func(t *testing.T) {
		inv := fallbackFor("linux", "tool", []string{"it's"})
		assert.Equal(t, []string{"-c", `tool 'it'\''s'`}, inv.Args)
	})

	t.Run("windows fallback goes through cmd", func(t *testing.T) {
		inv := fallbackFor("windows", "sqlmap", []string{"--version"})
		assert.Equal(t, "cmd", inv.Name)
		assert.Equal(t, []string{"/C", "sqlmap --version"}, inv.Args)
	})
}
