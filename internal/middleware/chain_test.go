package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func tagMiddleware(tag string, log *[]string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			*log = append(*log, tag)
			next.ServeHTTP(w, r)
		})
	}
}

func TestChainOrder(t *testing.T) {
	var log []string
	chain := NewChain(
		tagMiddleware("outer", &log),
		tagMiddleware("inner", &log),
	)
	h := chain.Then(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log = append(log, "handler")
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	want := []string{"outer", "inner", "handler"}
	if len(log) != len(want) {
		t.Fatalf("log = %v, want %v", log, want)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("log = %v, want %v", log, want)
		}
	}
}

func TestChainAppend(t *testing.T) {
	var log []string
	base := NewChain(tagMiddleware("a", &log))
	extended := base.Append(tagMiddleware("b", &log))

	if base.Len() != 1 {
		t.Errorf("base len = %d, want 1 (Append must not mutate)", base.Len())
	}
	if extended.Len() != 2 {
		t.Errorf("extended len = %d, want 2", extended.Len())
	}
}

func TestBuilderUseIf(t *testing.T) {
	var log []string
	h := NewBuilder().
		Use(tagMiddleware("always", &log)).
		UseIf(false, tagMiddleware("never", &log)).
		UseIf(true, tagMiddleware("sometimes", &log)).
		Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if len(log) != 2 || log[0] != "always" || log[1] != "sometimes" {
		t.Errorf("log = %v, want [always sometimes]", log)
	}
}
