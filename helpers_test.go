package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// capturedOutput 记录 run 期间写入 stdOut/stdErr 的内容。
type capturedOutput struct {
	out bytes.Buffer
	err bytes.Buffer
}

// captureOutput 在测试期间替换 CLI 输出，结束时还原。
func captureOutput(t *testing.T) *capturedOutput {
	t.Helper()
	captured := &capturedOutput{}
	prevOut, prevErr := stdOut, stdErr
	stdOut, stdErr = &captured.out, &captured.err
	t.Cleanup(func() {
		stdOut, stdErr = prevOut, prevErr
	})
	return captured
}

// configFixture 返回 internal/config/testdata 下的样例配置，测试工作目录即模块根目录。
func configFixture(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join("internal", "config", "testdata", name)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("样例配置不存在: %v", err)
	}
	return path
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(file, []byte(strings.TrimSpace(content)), 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	return file
}
