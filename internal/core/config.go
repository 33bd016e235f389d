package core

// EngineOptions holds the engine-level subset of the startup options.
type EngineOptions struct {
	HeapLimitBytes int64 // 0 means the engine default
	DisableJIT     bool  // interpreter-only execution where the engine supports it
}
