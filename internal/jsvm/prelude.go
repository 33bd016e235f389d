package jsvm

// preludeJS installs globalThis.__vmhost, the managed half of the embedding
// API. Every call script produced by the VM goes through it:
//
//   - put/get/del keep the reference table that backs core.Ref values,
//     with class entries interned;
//   - findClass/findMethod implement lookups;
//   - ret converts a managed return value to a JSON envelope according to
//     the descriptor's return type, and thrown converts a caught exception.
//
// Envelopes: {"t":"v"} void, {"t":"val","v":...} value, {"t":"bin"} byte
// array left in globalThis.__vmhost_out, {"t":"throw",...} exception.
const preludeJS = `
(function() {
'use strict';
if (globalThis.__vmhost) return;

function defError(name) {
	var C = class extends Error {
		constructor(msg) { super(msg); this.name = name; }
	};
	Object.defineProperty(C, 'name', { value: name });
	return C;
}
var NoClassDefFoundError = defError('NoClassDefFoundError');
var NoSuchMethodError = defError('NoSuchMethodError');
var ClassCastException = defError('ClassCastException');
var IllegalStateException = defError('IllegalStateException');

var refs = new Map();
var next = 1;

function put(v) {
	var id = next++;
	refs.set(id, v);
	return id;
}
// Classes are interned: resolving the same class again yields the same
// id for as long as that id stays in the table.
var classIds = new Map();
function intern(c) {
	var id = classIds.get(c);
	if (id !== undefined && refs.get(id) === c) return id;
	id = put(c);
	classIds.set(c, id);
	return id;
}
function get(id) {
	if (!refs.has(id)) throw new IllegalStateException('stale reference ' + id);
	return refs.get(id);
}

function lookup(segs) {
	var v;
	try { v = (0, eval)(segs[0]); } catch (e) { v = undefined; }
	if (v === undefined) v = globalThis[segs[0]];
	for (var i = 1; i < segs.length; i++) {
		if (v === null || v === undefined) return undefined;
		v = v[segs[i]];
	}
	return v;
}

function typeName(e) {
	if (e !== null && typeof e === 'object') {
		var c = e.constructor;
		if (c && typeof c.name === 'string' && c.name !== '' && c.name !== 'Object' && c.name !== 'Error') {
			return c.name;
		}
		if (typeof e.name === 'string' && e.name !== '') return e.name;
	}
	return 'Error';
}

function bad(v, s) {
	var got = v === null ? 'null' : Array.isArray(v) ? 'array' : typeof v;
	throw new ClassCastException(got + ' cannot be converted to ' + s);
}

function conv(v, s) {
	switch (s.charAt(0)) {
	case 'V':
		return null;
	case 'Z':
		if (typeof v !== 'boolean') bad(v, s);
		return v;
	case 'B': case 'S': case 'I': case 'J': case 'F': case 'D':
		if (typeof v === 'bigint') v = Number(v);
		if (typeof v !== 'number') bad(v, s);
		switch (s) {
		case 'B': return (v << 24) >> 24;
		case 'S': return (v << 16) >> 16;
		case 'I': return v | 0;
		case 'J':
			if (!isFinite(v)) bad(v, s);
			return Math.trunc(v);
		}
		if (!isFinite(v)) return String(v);
		return v;
	case 'C':
		if (typeof v === 'number') return String.fromCharCode(v);
		if (typeof v !== 'string' || v.length !== 1) bad(v, s);
		return v;
	case 'L':
		if (v === null || v === undefined) return null;
		if (s === 'Ljava/lang/String;') {
			if (typeof v !== 'string') bad(v, s);
			return v;
		}
		return { r: put(v) };
	case '[':
		if (v === null || v === undefined) return null;
		if (v instanceof ArrayBuffer) v = new Int8Array(v);
		if (!Array.isArray(v) && !ArrayBuffer.isView(v)) bad(v, s);
		var e = s.slice(1), out = [];
		for (var i = 0; i < v.length; i++) out.push(conv(v[i], e));
		return out;
	}
	bad(v, s);
}

function toBytes(v) {
	if (v instanceof ArrayBuffer) return new Uint8Array(v);
	if (ArrayBuffer.isView(v)) return new Uint8Array(v.buffer, v.byteOffset, v.byteLength);
	if (Array.isArray(v)) return Uint8Array.from(v, function(x) { return conv(x, 'B') & 255; });
	bad(v, '[B');
}

var H = {
	mode: '',
	put: put,
	get: get,
	del: function(id) { refs.delete(id); },
	size: function() { return refs.size; },
	take: function(name) {
		var v = globalThis[name];
		delete globalThis[name];
		return v;
	},
	bytes: function(buf) { return new Int8Array(new Uint8Array(buf)); },
	findClass: function(segs, name) {
		var c = lookup(segs);
		if (typeof c !== 'function') throw new NoClassDefFoundError(name);
		return intern(c);
	},
	findMethod: function(id, name, kind, nparams) {
		var c = get(id), f;
		if (kind === 'constructor') f = c;
		else if (kind === 'static') f = c[name];
		else f = c.prototype ? c.prototype[name] : undefined;
		var label = (c.name || '?') + '.' + name;
		if (typeof f !== 'function') throw new NoSuchMethodError(label);
		if (f.length > nparams) {
			throw new NoSuchMethodError(label + ' declares ' + f.length + ' parameters, descriptor supplies ' + nparams);
		}
		return true;
	},
	ret: function(r, s) {
		if (s === 'V') return '{"t":"v"}';
		if (s === '[B' && H.mode !== '' && r !== null && r !== undefined) {
			var src = toBytes(r);
			var buf = H.mode === 'sab' ? new SharedArrayBuffer(src.length) : new ArrayBuffer(src.length);
			new Uint8Array(buf).set(src);
			globalThis.__vmhost_out = buf;
			return '{"t":"bin"}';
		}
		return JSON.stringify({ t: 'val', v: conv(r, s) });
	},
	thrown: function(e) {
		var msg, stack = '';
		if (e !== null && typeof e === 'object') {
			msg = e.message === undefined ? String(e) : String(e.message);
			if (typeof e.stack === 'string') stack = e.stack;
		} else {
			msg = String(e);
		}
		return JSON.stringify({ t: 'throw', cls: typeName(e), msg: msg, stack: stack });
	}
};

Object.defineProperty(globalThis, '__vmhost', { value: H, enumerable: false });
})();
`

// consoleJS routes managed console output to the host logger through the
// registered __vmhost_console function.
const consoleJS = `
(function() {
var sink = globalThis.__vmhost_console;
delete globalThis.__vmhost_console;
function fmt(args) {
	var parts = [];
	for (var i = 0; i < args.length; i++) {
		var a = args[i];
		if (typeof a === 'string') { parts.push(a); continue; }
		if (a instanceof Error) { parts.push(a.name + ': ' + a.message); continue; }
		try {
			var j = JSON.stringify(a);
			parts.push(j === undefined ? String(a) : j);
		} catch (e) {
			parts.push(String(a));
		}
	}
	return parts.join(' ');
}
var c = {};
['log', 'info', 'warn', 'error', 'debug', 'trace'].forEach(function(level) {
	c[level] = function() { sink(level, fmt(arguments)); };
});
c.assert = function(cond) {
	if (cond) return;
	var rest = Array.prototype.slice.call(arguments, 1);
	sink('error', 'Assertion failed' + (rest.length ? ': ' + fmt(rest) : ''));
};
globalThis.console = c;
})();
`
