package consts

import "os"

const (
	// ModeDir is the standard file mode for creating directories
	ModeDir = os.FileMode(0o755)

	// ModeFile is the standard file mode for creating files
	ModeFile = os.FileMode(0o644)

	// DefaultStateDir is the directory backfill plans, runs, and event logs
	// are persisted under when state_dir is not configured
	DefaultStateDir = ".groundskeeper"

	// DefaultChunkHours is the default size of a backfill chunk window
	DefaultChunkHours = 6

	// DefaultMaxParallelChunks bounds concurrent chunk executions
	DefaultMaxParallelChunks = 4

	// DefaultMaxRetriesPerChunk is the number of attempts a chunk gets
	// before it is left in the failed state
	DefaultMaxRetriesPerChunk = 3

	// DefaultTimeColumn is the column backfill windows filter on when no
	// override is configured
	DefaultTimeColumn = "event_time"

	// DefaultMaxWindowHours caps the overall backfill window (30 days)
	// unless the window is explicitly forced
	DefaultMaxWindowHours = 720

	// DefaultMinChunkMinutes is the smallest permitted chunk size
	DefaultMinChunkMinutes = 30
)
