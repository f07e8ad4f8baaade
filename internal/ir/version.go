package ir

// EngineVersion is the sensord engine version, reported by `sensord --version`.
const EngineVersion = "0.1.0"
