package common

// DiskFileNum identifies a file or object that exists on disk. File
// numbers are allocated monotonically by the version set and are unique
// across table, WAL, and manifest files.
type DiskFileNum uint64
