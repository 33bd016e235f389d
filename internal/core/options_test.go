package core

import (
	"errors"
	"reflect"
	"testing"
)

func TestParseOptions(t *testing.T) {
	opts, err := ParseOptions([]string{
		"-Djava.class.path=lib/a.js:lib/b",
		"-Xmx512m",
		"-Xdebug",
		"-Xnoagent",
		"-Djava.compiler=NONE",
		"-Xrunjdwp:transport=dt_socket,server=y,suspend=y,address=8000",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(opts.ClassPath, []string{"lib/a.js", "lib/b"}) {
		t.Errorf("ClassPath = %v", opts.ClassPath)
	}
	if opts.HeapBytes != 512<<20 {
		t.Errorf("HeapBytes = %d", opts.HeapBytes)
	}
	if !opts.Debug || !opts.NoAgent || !opts.DisableJIT {
		t.Errorf("flags = %+v", opts)
	}
	want := &Transport{Kind: TransportSocket, Server: true, Suspend: true, Address: "8000"}
	if !reflect.DeepEqual(opts.Transport, want) {
		t.Errorf("Transport = %+v", opts.Transport)
	}
}

func TestParseOptions_Invalid(t *testing.T) {
	tests := map[string][]string{
		"unknown option":        {"-verbose:gc"},
		"empty class path":      {"-Djava.class.path="},
		"bad heap":              {"-Xmx12"},
		"transport no debug":    {"-Xrunjdwp:transport=dt_socket,server=y,suspend=n,address=1"},
		"bad transport kind":    {"-Xdebug", "-Xrunjdwp:transport=dt_shmem,address=x"},
		"transport no address":  {"-Xdebug", "-Xrunjdwp:transport=dt_socket,server=y"},
		"malformed descriptor":  {"-Xdebug", "-Xrunjdwp:transport"},
		"unknown transport key": {"-Xdebug", "-Xrunjdwp:transport=dt_socket,address=1,quiet=y"},
	}
	for name, in := range tests {
		_, err := ParseOptions(in)
		if StatusOf(err) != StatusInvalid {
			t.Errorf("%s: status = %v (%v), want invalid", name, StatusOf(err), err)
		}
	}
}

func TestParseHeap(t *testing.T) {
	tests := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"64k", 64 << 10, true},
		{"512m", 512 << 20, true},
		{"512M", 512 << 20, true},
		{"2g", 2 << 30, true},
		{"1024", 0, false},
		{"", 0, false},
		{"-1m", 0, false},
		{"abc", 0, false},
	}
	for _, tt := range tests {
		got, err := ParseHeap(tt.in)
		if (err == nil) != tt.ok {
			t.Errorf("ParseHeap(%q) err = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseHeap(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestTransportString(t *testing.T) {
	tr := Transport{Kind: TransportSocket, Server: true, Address: "5005"}
	if got, want := tr.String(), "transport=dt_socket,server=y,suspend=n,address=5005"; got != want {
		t.Fatalf("String = %q, want %q", got, want)
	}
	back, err := ParseTransport(tr.String())
	if err != nil || *back != tr {
		t.Fatalf("round trip = %+v, %v", back, err)
	}
}

func TestStatusOf(t *testing.T) {
	if StatusOf(nil) != StatusOK {
		t.Error("nil error is not StatusOK")
	}
	if StatusOf(errors.New("x")) != StatusErr {
		t.Error("plain error is not StatusErr")
	}
	err := Errorf("attach", StatusDetached, "thread %d", 4)
	wrapped := errors.Join(errors.New("context"), err)
	if StatusOf(wrapped) != StatusDetached {
		t.Errorf("StatusOf(wrapped) = %v", StatusOf(wrapped))
	}
	if got := err.Error(); got != "attach: detached (-2): thread 4" {
		t.Errorf("Error() = %q", got)
	}
}
