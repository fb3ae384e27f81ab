package util

import "testing"

func TestCompactOneLine(t *testing.T) {
	cases := []struct {
		in    string
		limit int
		want  string
	}{
		{"  hello   world  ", 0, "hello world"},
		{"line1\nline2\tline3", 0, "line1 line2 line3"},
		{"abcdef", 4, "abc…"},
		{"abcd", 4, "abcd"},
		{"   ", 10, ""},
		{"中文字符截断测试", 5, "中文字符…"},
	}
	for _, tc := range cases {
		if got := CompactOneLine(tc.in, tc.limit); got != tc.want {
			t.Fatalf("CompactOneLine(%q, %d) = %q, want %q", tc.in, tc.limit, got, tc.want)
		}
	}
}

func TestClampInt(t *testing.T) {
	if got := ClampInt(5, 0, 10); got != 5 {
		t.Fatalf("ClampInt(5,0,10) = %d", got)
	}
	if got := ClampInt(-1, 0, 10); got != 0 {
		t.Fatalf("ClampInt(-1,0,10) = %d", got)
	}
	if got := ClampInt(99, 0, 10); got != 10 {
		t.Fatalf("ClampInt(99,0,10) = %d", got)
	}
}

func TestLoadFromEnv(t *testing.T) {
	type cfg struct {
		Name    string  `env:"TEST_LOAD_NAME" default:"fallback"`
		Count   int     `env:"TEST_LOAD_COUNT" default:"5" min:"1"`
		Ratio   float64 `env:"TEST_LOAD_RATIO" default:"0.5" min:"0"`
		Enabled bool    `env:"TEST_LOAD_ENABLED" default:"true"`
		Skipped string  // 无 env tag, 保持零值
	}

	t.Setenv("TEST_LOAD_NAME", "from-env")
	t.Setenv("TEST_LOAD_COUNT", "0") // 低于 min, 应被抬到 1

	var c cfg
	LoadFromEnv(&c)

	if c.Name != "from-env" {
		t.Fatalf("Name = %q", c.Name)
	}
	if c.Count != 1 {
		t.Fatalf("Count = %d, want 1 (min clamp)", c.Count)
	}
	if c.Ratio != 0.5 {
		t.Fatalf("Ratio = %v, want default 0.5", c.Ratio)
	}
	if !c.Enabled {
		t.Fatalf("Enabled = false, want default true")
	}
	if c.Skipped != "" {
		t.Fatalf("Skipped = %q, want zero value", c.Skipped)
	}
}

func TestEnvBool(t *testing.T) {
	t.Setenv("TEST_BOOL", "yes")
	if !EnvBool("TEST_BOOL", false) {
		t.Fatalf("yes should parse true")
	}
	t.Setenv("TEST_BOOL", "garbage")
	if !EnvBool("TEST_BOOL", true) {
		t.Fatalf("garbage should fall back to default")
	}
}
