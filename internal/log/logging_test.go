// Copyright (C) 2017 Librato, Inc. All rights reserved.

package log

import (
	"bytes"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *safeBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Reset()
}

func TestLogLevelFromEnv(t *testing.T) {
	tests := []struct {
		val      string
		expected LogLevel
	}{
		{"DEBUG", DEBUG},
		{"Info", INFO},
		{"warn", WARNING},
		{"erroR", ERROR},
		{"erroR  ", ERROR},
		{"HelloWorld", DefaultLevel},
		{"0", DEBUG},
		{"1", INFO},
		{"2", WARNING},
		{"3", ERROR},
		{"4", DefaultLevel},
		{"-1", DefaultLevel},
	}

	for _, test := range tests {
		t.Setenv(EnvLogLevel, test.val)
		SetLevelFromStr(os.Getenv(EnvLogLevel))
		assert.EqualValues(t, test.expected, Level(), "Test-"+test.val)
	}

	SetLevelFromStr("")
	assert.EqualValues(t, DefaultLevel, Level())
}

func TestLog(t *testing.T) {
	var buffer safeBuffer
	SetOutput(&buffer)
	defer SetOutput(os.Stderr)
	SetLevel(DEBUG)
	defer SetLevel(DefaultLevel)

	tests := map[string]string{
		"hello world": "hello world\n",
		"":            "\n",
		"hello %s":    "hello %!s(MISSING)\n",
	}

	for str, expected := range tests {
		buffer.Reset()
		Logf(INFO, str)
		assert.True(t, strings.HasSuffix(buffer.String(), expected))
	}

	buffer.Reset()
	Log(INFO, 1, 2, 3)
	assert.True(t, strings.HasSuffix(buffer.String(), "1 2 3\n"))

	buffer.Reset()
	Debug(1, "abc", 3)
	assert.True(t, strings.HasSuffix(buffer.String(), "1abc3\n"))
	assert.Contains(t, buffer.String(), "logging_test.go:")

	buffer.Reset()
	Error(errors.New("hello"))
	assert.True(t, strings.HasSuffix(buffer.String(), "hello\n"))
	assert.Contains(t, buffer.String(), "ERROR [otlp] ")

	buffer.Reset()
	Warning("Áú")
	assert.True(t, strings.HasSuffix(buffer.String(), "Áú\n"))

	buffer.Reset()
	Warningf("hello %s", "world")
	assert.True(t, strings.HasSuffix(buffer.String(), "hello world\n"))

	buffer.Reset()
	Infof("show me the %v", "code")
	assert.True(t, strings.HasSuffix(buffer.String(), "show me the code\n"))
}

func TestToLogLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"DEBUG":   DEBUG,
		"Debug":   DEBUG,
		" dEbUg ": DEBUG,
		"INFO":    INFO,
		"WARN":    WARNING,
		"ERROR":   ERROR,
		"ABC":     DefaultLevel,
	}
	for str, lvl := range tests {
		l, _ := ToLogLevel(str)
		assert.Equal(t, lvl, l)
	}

	_, ok := ToLogLevel("ABC")
	assert.False(t, ok)
}

func TestSetLevel(t *testing.T) {
	var buf safeBuffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)
	defer SetLevel(DefaultLevel)

	SetLevel(INFO)
	var wg sync.WaitGroup
	wg.Add(50)
	for i := 0; i < 50; i++ {
		go func() {
			defer wg.Done()
			Debug("hello world")
		}()
	}
	wg.Wait()
	assert.Equal(t, "", buf.String())

	SetLevel(DEBUG)
	Debug("test")
	assert.Contains(t, buf.String(), "test")

	buf.Reset()
	Error("", "one", "two", "three")
	assert.Equal(t, DEBUG, Level())
	assert.Contains(t, buf.String(), "onetwothree")
}
