package model

// EngineType identifies the snapshot engine used.
type EngineType string

const (
	EngineJuiceFSClone EngineType = "juicefs-clone"
	EngineReflinkCopy  EngineType = "reflink-copy"
	EngineCopy         EngineType = "copy"
)

// HashValue is a SHA-256 hash stored as hex string.
type HashValue string
