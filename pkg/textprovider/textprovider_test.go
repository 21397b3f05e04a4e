package textprovider

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/yossefc/studio/pkg/apperr"
)

func TestFetchText_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ref":"Shulchan Arukh, Orach Chayim 24:1","he":["פסקה"]}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	tr, err := c.FetchText(t.Context(), "Shulchan Arukh, Orach Chayim 24:1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Ref != "Shulchan Arukh, Orach Chayim 24:1" {
		t.Errorf("got ref %q", tr.Ref)
	}
}

func TestFetchText_SchemaDriftMissingFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ref":""}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	_, err := c.FetchText(t.Context(), "ref")
	if !apperr.Is(err, apperr.KindUpstreamSchemaDrift) {
		t.Errorf("expected KindUpstreamSchemaDrift, got %v", err)
	}
}

func TestFetchText_4xxIsPermanentNotFound(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	_, err := c.FetchText(t.Context(), "ref")
	if !apperr.Is(err, apperr.KindUpstreamNotFound) {
		t.Errorf("expected KindUpstreamNotFound, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected exactly 1 attempt for a 4xx, got %d", attempts)
	}
}

func TestFetchText_5xxRetriesThenFails(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	_, err := c.FetchText(t.Context(), "ref")
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if attempts != maxAttempts {
		t.Errorf("expected %d attempts, got %d", maxAttempts, attempts)
	}
}

func TestFetchLinks_BareArrayShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"ref":"Tur, Orach Chayim 24"}]`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	resp, err := c.FetchLinks(t.Context(), "ref")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Links) != 1 || resp.Links[0].Ref != "Tur, Orach Chayim 24" {
		t.Errorf("got %+v", resp.Links)
	}
}

func TestFetchLinks_WrappedObjectShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"links":[{"ref":"Beit Yosef, Orach Chayim 24"}]}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	resp, err := c.FetchLinks(t.Context(), "ref")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Links) != 1 || resp.Links[0].Ref != "Beit Yosef, Orach Chayim 24" {
		t.Errorf("got %+v", resp.Links)
	}
}

func TestFetchIndex_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"schema":{"lengths":[697,241,178,427]}}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	resp, err := c.FetchIndex(t.Context(), "Shulchan Arukh, Orach Chayim")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Schema.Lengths) != 4 {
		t.Errorf("got %v", resp.Schema.Lengths)
	}
}

func TestFetchIndex_SchemaDriftMissingLengths(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"schema":{}}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	_, err := c.FetchIndex(t.Context(), "book")
	if !apperr.Is(err, apperr.KindUpstreamSchemaDrift) {
		t.Errorf("expected KindUpstreamSchemaDrift, got %v", err)
	}
}
