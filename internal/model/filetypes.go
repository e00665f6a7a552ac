package model

// On-disk file types carried in every YAML schema header.
const (
	FileTypeBenchConfig    = "bench_config"
	FileTypeProtocol       = "protocol"
	FileTypeLabwareLibrary = "labware_library"
	FileTypeRunState       = "run_state"
)

// CurrentSchemaVersion is the schema_version written to new files. Loaders
// reject anything newer; older versions are migrated in place when possible.
const CurrentSchemaVersion = 1
