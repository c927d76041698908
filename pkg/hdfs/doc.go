// Package hdfs is a client for a Hadoop-compatible distributed filesystem.
//
// A Session is opened against a name-node URI and performs namespace
// operations (Mkdirs, Delete, Rename, ListStatus, ListFiles) and transfers
// between the local filesystem and the service (CopyIn, CopyOut) as one
// identity. The URI scheme selects the transport: webhdfs://, swebhdfs://,
// http:// and https:// use the WebHDFS REST API, hdfs:// speaks the native
// RPC protocol.
//
// Every failure is an *Error carrying a Kind and whether it originated on the
// local or the remote side; match kinds with errors.Is against ErrNotFound,
// ErrPermission and the other sentinels. The client never retries on its own.
package hdfs
