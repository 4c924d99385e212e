package filterrules

import (
	"errors"
	"strings"
	"testing"
	"testing/fstest"
)

func compileString(t *testing.T, rules string) *Set {
	t.Helper()
	set, err := Compile(strings.NewReader(rules), "rules", nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return set
}

func TestFloatingPatternMatchesAnywhere(t *testing.T) {
	set := compileString(t, "-*.o\n")
	for _, p := range []string{"main.o", "src/main.o", "deep/nested/dir/util.o"} {
		if action, _ := set.Matches(p); action != ActionExclude {
			t.Fatalf("expected %q excluded by floating *.o pattern", p)
		}
	}
	if action, _ := set.Matches("main.c"); action != ActionInclude {
		t.Fatalf("expected main.c to fall through to default include")
	}
}

func TestAnchoredPatternMatchesOnlyFromRoot(t *testing.T) {
	set := compileString(t, "-/build/*\n")
	if action, _ := set.Matches("build/out.bin"); action != ActionExclude {
		t.Fatalf("expected anchored pattern to match at root")
	}
	if action, _ := set.Matches("src/build/out.bin"); action == ActionExclude {
		// anchored pattern must NOT match nested occurrences
		t.Fatalf("anchored pattern incorrectly matched nested path")
	}
}

func TestDoubleStarCrossesSlash(t *testing.T) {
	set := compileString(t, "-/vendor/**\n")
	if action, _ := set.Matches("vendor/a/b/c.go"); action != ActionExclude {
		t.Fatalf("expected ** to cross directory boundaries")
	}
}

func TestFirstMatchWins(t *testing.T) {
	set := compileString(t, "+*.txt\n-*.txt\n")
	if action, _ := set.Matches("readme.txt"); action != ActionInclude {
		t.Fatalf("expected first rule (include) to win over the later exclude")
	}
}

func TestQuestionMarkMatchesSingleChar(t *testing.T) {
	set := compileString(t, "-file?.log\n")
	if action, _ := set.Matches("file1.log"); action != ActionExclude {
		t.Fatalf("expected file1.log to match file?.log")
	}
	if action, _ := set.Matches("file12.log"); action == ActionExclude {
		t.Fatalf("expected file12.log to NOT match single-char wildcard")
	}
}

func TestEscapedWildcard(t *testing.T) {
	set := compileString(t, `-literal\*star.txt` + "\n")
	if action, _ := set.Matches("literal*star.txt"); action != ActionExclude {
		t.Fatalf("expected escaped * to match literally")
	}
	if action, _ := set.Matches("literalXstar.txt"); action == ActionExclude {
		t.Fatalf("escaped wildcard should not behave like an unescaped one")
	}
}

func TestMergeDirectiveRecursionDetected(t *testing.T) {
	mapFS := fstest.MapFS{
		"a.rules": {Data: []byte(".b.rules\n")},
		"b.rules": {Data: []byte(".a.rules\n")},
	}
	loader := FSLoader{FS: mapFS}
	f, err := loader.Open("a.rules")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_, err = Compile(f, "a.rules", loader)
	if !errors.Is(err, ErrRecursiveInclude) {
		t.Fatalf("expected ErrRecursiveInclude, got %v", err)
	}
}

func TestMergeDirectiveInlinesRules(t *testing.T) {
	mapFS := fstest.MapFS{
		"common.rules": {Data: []byte("-*.tmp\n")},
		"top.rules":    {Data: []byte(".common.rules\n-*.bak\n")},
	}
	loader := FSLoader{FS: mapFS}
	f, err := loader.Open("top.rules")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	set, err := Compile(f, "top.rules", loader)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if action, _ := set.Matches("a.tmp"); action != ActionExclude {
		t.Fatalf("expected merged rule to exclude a.tmp")
	}
	if action, _ := set.Matches("a.bak"); action != ActionExclude {
		t.Fatalf("expected top-level rule to exclude a.bak")
	}
}
