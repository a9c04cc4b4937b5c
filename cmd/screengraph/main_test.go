// File: cmd/screengraph/main_test.go
package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetMocks() {
	osWriteFile = os.WriteFile
	osExit = os.Exit
}

func TestHandlePanic_WritesLog(t *testing.T) {
	defer resetMocks()

	var written string
	var code int
	osWriteFile = func(name string, data []byte, perm os.FileMode) error {
		assert.Equal(t, panicLogFile, name)
		written = string(data)
		return nil
	}
	osExit = func(c int) { code = c }

	func() {
		defer handlePanic()
		panic("device driver exploded")
	}()

	assert.Equal(t, 2, code)
	assert.Contains(t, written, "panic: device driver exploded")
	assert.Contains(t, written, "goroutine")
}

func TestHandlePanic_LogWriteFails(t *testing.T) {
	defer resetMocks()

	var code int
	osWriteFile = func(string, []byte, os.FileMode) error { return errors.New("read-only filesystem") }
	osExit = func(c int) { code = c }

	func() {
		defer handlePanic()
		panic("boom")
	}()
	assert.Equal(t, 2, code)
}

func TestHandlePanic_NoPanic(t *testing.T) {
	defer resetMocks()
	osExit = func(int) { t.Fatal("exit must not be called without a panic") }

	func() {
		defer handlePanic()
	}()
}

func TestInteractive(t *testing.T) {
	var out bytes.Buffer
	in := strings.NewReader("\nversion\nbogus\nexit\nversion\n")

	err := interactive(context.Background(), in, &out)
	require.NoError(t, err)

	s := out.String()
	assert.Equal(t, 1, strings.Count(s, "screengraph 0.1.0\n"), "commands after exit are not run")
	assert.Contains(t, s, `Error: unknown command "bogus"`)
	assert.Contains(t, s, "Exiting screengraph.")
}
