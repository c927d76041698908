// Package hdfs_sdk selects how a program reaches the filesystem from its
// environment: a real cluster over WebHDFS or native RPC, or an in-memory
// namespace for local development and tests.
package hdfs_sdk
