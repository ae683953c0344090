package fts

import (
	"reflect"
	"testing"
)

func TestTokenizeFoldsDropsSingleChars(t *testing.T) {
	got := Tokenize("Usr/Local/Bin.sh a_b-c x")
	want := []string{"usr/local/bin.sh", "a_b-c"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestTokenizeDropsPunctuation(t *testing.T) {
	got := Tokenize("hello, world!")
	want := []string{"hello", "world"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestNewPicksShimByDialect(t *testing.T) {
	if _, ok := New("sqlite").(sqliteShim); !ok {
		t.Fatal("expected sqliteShim")
	}
	if _, ok := New("mysql").(mysqlShim); !ok {
		t.Fatal("expected mysqlShim")
	}
	if _, ok := New("dolt").(doltShim); !ok {
		t.Fatal("expected doltShim")
	}
}
