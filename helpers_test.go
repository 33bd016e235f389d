package vmhost

import (
	"os"
	"path/filepath"
	"testing"
)

// transcriberJS stands in for the managed application the CLI launches.
const transcriberJS = `
var demo = {};
demo.Transcriber = class Transcriber {
	constructor() { Transcriber.constructed++; }
	static main(args) {
		if (args.length > 0 && args[0] === 'explode') throw new Error('cannot open ' + args[1]);
		Transcriber.lastArgs = Array.prototype.slice.call(args);
	}
	static lastArgCount() { return Transcriber.lastArgs ? Transcriber.lastArgs.length : -1; }
	static constructedCount() { return Transcriber.constructed; }
	static add(a, b) { return a + b; }
	static digest(b) { var s = 0; for (var i = 0; i < b.length; i++) s += b[i]; return s; }
	static frame(n) { var out = new Uint8Array(n); for (var i = 0; i < n; i++) out[i] = i * 3; return out; }
	static scale(xs, k) { return xs.map(function(x) { return x * k; }); }
	static initial(s) { return s.charAt(0); }
	static ratio(a, b) { return a / b; }
	static big() { return 2 ** 70; }
	static label(w) { return w === null ? 'none' : w.label(); }
	static word(text) { return new Word(text); }
};
demo.Transcriber.constructed = 0;

class Word {
	constructor(text) {
		if (text === '') throw new TypeError('empty word');
		this.text = text;
	}
	label() { return '<' + this.text + '>'; }
	length() { return this.text.length; }
}
`

func writeScript(t *testing.T, name, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := NewConfig([]string{writeScript(t, "transcriber.js", transcriberJS)}, "64m", nil)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	return cfg
}

// startRuntime starts a runtime on the test goroutine and shuts it down
// when the test ends. The returned Env is pinned to that goroutine's OS
// thread: it must not cross into a t.Run subtest, which runs on its own
// goroutine. Subtests that need the runtime call rt.Attach themselves.
func startRuntime(t *testing.T, opts ...StartOption) (*Runtime, *Env) {
	t.Helper()
	rt, env, err := Start(testConfig(t), opts...)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { rt.Shutdown() })
	return rt, env
}
