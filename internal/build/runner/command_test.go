package runner

import (
	"reflect"
	"testing"
)

func TestBuildCommand(t *testing.T) {
	cases := []struct {
		name string
		tpl  string
		vars map[string]string
		want []string
	}{
		{
			name: "plain",
			tpl:  "forge build --json",
			want: []string{"forge", "build", "--json"},
		},
		{
			name: "value with spaces stays one field",
			tpl:  "forge test --json --match-test {test}",
			vars: map[string]string{"test": "test Transfer"},
			want: []string{"forge", "test", "--json", "--match-test", "test Transfer"},
		},
		{
			name: "empty value drops flag",
			tpl:  "git clone --depth 1 --branch {version} {url} {dest}",
			vars: map[string]string{"version": "", "url": "https://example.com/a.git", "dest": "lib/a"},
			want: []string{"git", "clone", "--depth", "1", "https://example.com/a.git", "lib/a"},
		},
		{
			name: "quoted template",
			tpl:  `sh -c "echo {msg}"`,
			vars: map[string]string{"msg": "hi"},
			want: []string{"sh", "-c", "echo hi"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := BuildCommand(tc.tpl, tc.vars)
			if err != nil {
				t.Fatalf("BuildCommand failed: %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}
}

func TestBuildCommandRejectsEmpty(t *testing.T) {
	if _, err := BuildCommand("  ", nil); err == nil {
		t.Fatalf("expected error for empty template")
	}
	if _, err := BuildCommand("{x}", map[string]string{"x": ""}); err == nil {
		t.Fatalf("expected error when nothing is left after expansion")
	}
}

func TestCappedBuffer(t *testing.T) {
	b := newCappedBuffer(5)
	n, err := b.Write([]byte("abc"))
	if err != nil || n != 3 {
		t.Fatalf("unexpected write result %d %v", n, err)
	}
	n, _ = b.Write([]byte("defgh"))
	if n != 5 {
		t.Fatalf("writer must report full length, got %d", n)
	}
	if b.String() != "abcde" || !b.Truncated() {
		t.Fatalf("unexpected buffer state %q truncated=%v", b.String(), b.Truncated())
	}
}
