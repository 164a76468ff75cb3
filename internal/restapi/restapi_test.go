package restapi

import (
	"testing"

	"github.com/valyala/fasthttp"

	"github.com/rucio-go/rucio/cmn/errs"
)

func TestSplitPath(t *testing.T) {
	cases := map[string][]string{
		"/dids/u/ds1":      {"dids", "u", "ds1"},
		"/dids/u/ds1/dids": {"dids", "u", "ds1", "dids"},
		"/":                nil,
		"":                 nil,
	}
	for in, want := range cases {
		got := splitPath(in)
		if len(got) != len(want) {
			t.Fatalf("splitPath(%q) = %v, want %v", in, got, want)
		}
		for i := range got {
			if got[i] != want[i] {
				t.Fatalf("splitPath(%q) = %v, want %v", in, got, want)
			}
		}
	}
}

func TestWriteErrorMapsStatusAndHeaders(t *testing.T) {
	var ctx fasthttp.RequestCtx
	writeError(&ctx, errs.New(errs.DataIdentifierNotFound, "u:missing"))

	if got := ctx.Response.StatusCode(); got != fasthttp.StatusNotFound {
		t.Fatalf("status = %d, want 404", got)
	}
	if got := string(ctx.Response.Header.Peek("ExceptionClass")); got != string(errs.DataIdentifierNotFound) {
		t.Fatalf("ExceptionClass = %q", got)
	}
}
