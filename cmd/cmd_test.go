package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf16"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jandubois/dchealth/internal/watcher"
)

func TestExitCode(t *testing.T) {
	assert.Equal(t, 2, ExitCode(&exitError{code: 2}))
	assert.Equal(t, 1, ExitCode(fmt.Errorf("wrapped: %w", &exitError{code: 1})))
	assert.Equal(t, 3, ExitCode(errors.New("invalid configuration")))
}

func TestRenderTask(t *testing.T) {
	out, err := renderTask(taskData{
		User:       `CORP\svc-dchealth`,
		Executable: `C:\Program Files\dchealth\dchealth.exe`,
		Arguments:  `serve --config "C:\dchealth\a&b.yaml"`,
		WorkDir:    `C:\dchealth`,
	})
	require.NoError(t, err)
	require.True(t, len(out) > 2 && len(out)%2 == 0)
	assert.Equal(t, []byte{0xFF, 0xFE}, out[:2])

	units := make([]uint16, 0, len(out)/2)
	for i := 2; i < len(out); i += 2 {
		units = append(units, uint16(out[i])|uint16(out[i+1])<<8)
	}
	text := string(utf16.Decode(units))

	assert.True(t, strings.HasPrefix(text, `<?xml version="1.0" encoding="UTF-16"?>`))
	assert.Contains(t, text, `<UserId>CORP\svc-dchealth</UserId>`)
	assert.Contains(t, text, `<Command>C:\Program Files\dchealth\dchealth.exe</Command>`)
	assert.Contains(t, text, `a&amp;b.yaml`)
	assert.NotContains(t, text, `a&b.yaml`)
}

func TestQuoteArg(t *testing.T) {
	assert.Equal(t, `C:\dchealth\config.yaml`, quoteArg(`C:\dchealth\config.yaml`))
	assert.Equal(t, `"C:\Program Files\config.yaml"`, quoteArg(`C:\Program Files\config.yaml`))
}

func TestRootCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"check", "serve", "migrate", "install", "uninstall", "dns", "ping", "services", "system", "timesync", "dcdiag"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}

func TestVersionFlag(t *testing.T) {
	saved := watcher.Version
	watcher.Version = "1.4.2"
	defer func() { watcher.Version = saved }()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"--version"})
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	}()

	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "dchealth version 1.4.2\n", out.String())
}

func TestTimesyncSamplesHelp(t *testing.T) {
	flag := timesyncCmd.Flags().Lookup("samples")
	require.NotNil(t, flag)
	assert.Contains(t, flag.Usage, "the worst offset is reported")
}
