package env

import (
	"strconv"
	"strings"
	"sync"
	"testing"
)

func findVal(t *testing.T, out []string, key string) (string, bool) {
	t.Helper()
	for _, kv := range out {
		if strings.HasPrefix(kv, key+"=") {
			return kv[len(key)+1:], true
		}
	}
	return "", false
}

func TestComposePrecedence(t *testing.T) {
	e := New()
	e.base = Vars{"A": "os", "B": "os"}
	e.Set("B", "override")
	out := e.Compose([]string{"B=spawn", "C=spawn"})

	if v, _ := findVal(t, out, "A"); v != "os" {
		t.Fatalf("base lost: %v", out)
	}
	if v, _ := findVal(t, out, "B"); v != "spawn" {
		t.Fatalf("per-spawn must win: %v", out)
	}
	if v, _ := findVal(t, out, "C"); v != "spawn" {
		t.Fatalf("per-spawn var missing: %v", out)
	}
}

func TestComposeExpandsReferences(t *testing.T) {
	e := New()
	e.base = Vars{"HOME": "/home/u"}
	out := e.Compose([]string{"CACHE=${HOME}/.cache"})
	if v, _ := findVal(t, out, "CACHE"); v != "/home/u/.cache" {
		t.Fatalf("expansion failed: %v", out)
	}
}

func TestComposeSkipsMalformedPairs(t *testing.T) {
	e := New()
	e.base = Vars{}
	out := e.Compose([]string{"=oops", "novalue", "OK=1"})
	if _, found := findVal(t, out, "OK"); !found {
		t.Fatalf("valid pair dropped: %v", out)
	}
	for _, kv := range out {
		if strings.HasPrefix(kv, "=") {
			t.Fatalf("empty key leaked: %v", out)
		}
	}
}

func TestComposeUsesOSEnvironmentByDefault(t *testing.T) {
	t.Setenv("CODEHYDRA_ENV_TEST", "present")
	e := New()
	out := e.Compose(nil)
	if v, _ := findVal(t, out, "CODEHYDRA_ENV_TEST"); v != "present" {
		t.Fatalf("OS base missing: %v", out)
	}
}

func TestComposeIsConcurrencySafe(t *testing.T) {
	t.Setenv("CODEHYDRA_ENV_CONC", "1")
	e := New()
	e.Set("X", "${CODEHYDRA_ENV_CONC}")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			out := e.Compose([]string{"N=" + strconv.Itoa(i)})
			if v, _ := findVal(t, out, "X"); v != "1" {
				t.Errorf("override lost: %v", out)
			}
		}()
	}
	wg.Wait()
}

func FuzzCompose(f *testing.F) {
	f.Add([]byte("A=1\nB=${A}-x"), []byte("C=${B}-y"))
	f.Add([]byte("FOO=bar"), []byte("FOO=${FOO}"))

	f.Fuzz(func(t *testing.T, overridesB, perB []byte) {
		e := New()
		e.base = Vars{}
		for _, kv := range strings.Split(string(overridesB), "\n") {
			if i := strings.IndexByte(kv, '='); i > 0 {
				e.Set(kv[:i], kv[i+1:])
			}
		}
		per := strings.Split(string(perB), "\n")
		if len(per) > 20 {
			per = per[:20]
		}
		out := e.Compose(per)
		for _, kv := range out {
			if !strings.Contains(kv, "=") {
				t.Fatalf("bad pair: %q", kv)
			}
			if strings.HasPrefix(kv, "=") {
				t.Fatalf("empty key: %q", kv)
			}
		}
	})
}
